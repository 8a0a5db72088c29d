package proxy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/llm"
	"github.com/papercomputeco/koziky/pkg/model"
)

// ConversationSummary is one entry of the conversation list.
type ConversationSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastUpdated time.Time `json:"updated_at"`
}

// handleListConversations returns the stored conversations in list order.
func (p *Proxy) handleListConversations(c *fiber.Ctx) error {
	convs, err := p.history.LoadAll(c.UserContext())
	if err != nil {
		p.logger.Error("failed to list conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list conversations"})
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, ConversationSummary{ID: conv.ID, Title: conv.Title, LastUpdated: conv.LastUpdated})
	}

	return c.JSON(map[string]any{
		"count":         len(summaries),
		"conversations": summaries,
	})
}

// handleGetConversation returns one conversation with its messages.
func (p *Proxy) handleGetConversation(c *fiber.Ctx) error {
	conv, err := p.loadConversation(c.UserContext(), c.Params("id"))
	if err != nil {
		return p.historyError(c, err)
	}
	return c.JSON(conv)
}

// handleGetMessages returns the messages of one conversation.
func (p *Proxy) handleGetMessages(c *fiber.Ctx) error {
	id := c.Params("id")
	msgs, err := p.history.LoadMessages(c.UserContext(), id)
	if err != nil {
		return p.historyError(c, err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(msgs)
}

func (p *Proxy) loadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	convs, err := p.history.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, conv := range convs {
		if conv.ID != id {
			continue
		}
		if conv.Messages == nil {
			msgs, err := p.history.LoadMessages(ctx, id)
			if err != nil {
				return nil, err
			}
			conv.Messages = msgs
		}
		return &conv, nil
	}
	return nil, conversation.ErrNotFound{ID: id}
}

func (p *Proxy) historyError(c *fiber.Ctx, err error) error {
	if conversation.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "conversation not found"})
	}
	p.logger.Error("failed to read conversation", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to read conversation"})
}

// ImportResponse reports the outcome of an import batch.
type ImportResponse struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
}

// handleImportConversations merges a batch of conversations into the store.
// Conversations whose id is already stored are left untouched.
func (p *Proxy) handleImportConversations(c *fiber.Ctx) error {
	var batch []model.Conversation
	if err := json.Unmarshal(c.Body(), &batch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	for _, conv := range batch {
		if conv.ID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "conversation id is required"})
		}
	}

	p.importMu.Lock()
	defer p.importMu.Unlock()

	ctx := c.UserContext()
	existing, err := p.history.LoadAll(ctx)
	if err != nil {
		p.logger.Error("failed to load conversations for import", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to import conversations"})
	}

	for i := range batch {
		if batch[i].Messages == nil {
			batch[i].Messages = []model.Message{}
		}
	}

	merged, added, skipped := conversation.Merge(existing, batch)
	if added > 0 {
		if err := p.history.SaveAll(ctx, merged); err != nil {
			p.logger.Error("failed to save imported conversations", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to import conversations"})
		}
	}

	p.logger.Info("imported conversations",
		zap.Int("new", added),
		zap.Int("duplicate", skipped),
	)
	return c.JSON(ImportResponse{New: added, Duplicate: skipped})
}
