// Package historymcp exposes the conversation store to MCP clients as
// read-only tools.
package historymcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
)

const (
	serverName   = "koziky-history"
	defaultLimit = 50
	maxLimit     = 500
	listToolName = "list_conversations"
	getToolName  = "get_conversation"
	listToolDesc = "List stored chat conversations, most recent first. Optionally filter by title."
	getToolDesc  = "Get the messages of one stored chat conversation by id or unique id prefix."
)

// ListInput filters list_conversations.
type ListInput struct {
	Query string `json:"query,omitempty" jsonschema:"only return conversations whose title contains this text (case-insensitive)"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of conversations to return (default 50)"`
}

// Summary is one listed conversation.
type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

// ListOutput is the result of list_conversations.
type ListOutput struct {
	Conversations []Summary `json:"conversations"`
	Total         int       `json:"total"`
}

// GetInput selects the conversation for get_conversation.
type GetInput struct {
	ID string `json:"id" jsonschema:"conversation id or a unique prefix of it"`
}

// Message is one message of a fetched conversation.
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// GetOutput is the result of get_conversation.
type GetOutput struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// Server serves the history tools.
type Server struct {
	store  conversation.Storer
	logger *zap.Logger
	server *mcp.Server
}

// New creates a Server over store.
func New(store conversation.Storer, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		store:  store,
		logger: logger,
		server: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{Name: listToolName, Description: listToolDesc}, s.listConversations)
	mcp.AddTool(s.server, &mcp.Tool{Name: getToolName, Description: getToolDesc}, s.getConversation)

	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Run serves over stdin/stdout until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving conversation history over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) listConversations(ctx context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, ListOutput, error) {
	convs, err := s.store.LoadAll(ctx)
	if err != nil {
		s.logger.Error("failed to list conversations", zap.Error(err))
		return nil, ListOutput{}, fmt.Errorf("could not list conversations: %w", err)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)
	query := strings.ToLower(strings.TrimSpace(in.Query))

	out := ListOutput{Conversations: []Summary{}}
	for _, c := range convs {
		if query != "" && !strings.Contains(strings.ToLower(c.Title), query) {
			continue
		}
		out.Total++
		if len(out.Conversations) < limit {
			out.Conversations = append(out.Conversations, Summary{
				ID:        c.ID,
				Title:     c.Title,
				UpdatedAt: c.LastUpdated.UTC().Format(time.RFC3339),
			})
		}
	}

	s.logger.Debug("listed conversations", zap.Int("total", out.Total), zap.String("query", query))
	return textResult(out), out, nil
}

func (s *Server) getConversation(ctx context.Context, _ *mcp.CallToolRequest, in GetInput) (*mcp.CallToolResult, GetOutput, error) {
	convs, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, GetOutput{}, fmt.Errorf("could not list conversations: %w", err)
	}

	conv, err := find(convs, strings.TrimSpace(in.ID))
	if err != nil {
		return nil, GetOutput{}, err
	}

	msgs := conv.Messages
	if msgs == nil {
		msgs, err = s.store.LoadMessages(ctx, conv.ID)
		if err != nil {
			return nil, GetOutput{}, fmt.Errorf("could not load messages: %w", err)
		}
	}

	out := GetOutput{ID: conv.ID, Title: conv.Title, Messages: make([]Message, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, Message{Role: string(m.Role), Content: m.Content, ImageURL: m.ImageRef})
	}
	return textResult(out), out, nil
}

func find(convs []model.Conversation, id string) (model.Conversation, error) {
	if id == "" {
		return model.Conversation{}, fmt.Errorf("id is required")
	}

	var match *model.Conversation
	for i := range convs {
		if convs[i].ID == id {
			return convs[i], nil
		}
		if strings.HasPrefix(convs[i].ID, id) {
			if match != nil {
				return model.Conversation{}, fmt.Errorf("id prefix %q is ambiguous", id)
			}
			match = &convs[i]
		}
	}
	if match == nil {
		return model.Conversation{}, conversation.ErrNotFound{ID: id}
	}
	return *match, nil
}

func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(err.Error())
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
}
