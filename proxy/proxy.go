// Package proxy provides the chat relay: it accepts the client's chat and
// image-generation requests, forwards them to an OpenAI-compatible upstream
// and streams the reply back as server-sent events.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sashabaranov/go-openai"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/llm"
)

// Headers the browser client is allowed to send.
const allowedHeaders = "authorization,x-client-info,apikey,content-type"

const missingKeyMessage = "GROK_API_KEY is not configured"

// Proxy is the chat relay server. It holds no conversation state of its own;
// when a history store is attached it also serves read-only views of it.
type Proxy struct {
	config  Config
	client  *openai.Client
	history conversation.Storer
	logger  *zap.Logger
	server  *fiber.App

	// importMu serializes imports so two batches cannot lose each other's
	// read-merge-write.
	importMu sync.Mutex
}

// New creates a new Proxy. history may be nil, in which case the
// conversation endpoints are not registered.
func New(config Config, history conversation.Storer, logger *zap.Logger) (*Proxy, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = strings.TrimRight(config.UpstreamURL, "/")
	clientConfig.HTTPClient = &http.Client{
		// LLM requests can be slow, especially long generations
		Timeout: 5 * time.Minute,
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	p := &Proxy{
		config:  config,
		client:  openai.NewClientWithConfig(clientConfig),
		history: history,
		logger:  logger,
		server:  app,
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: allowedHeaders,
	}))

	// Register routes
	app.Post("/api/chat", p.handleChat)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	app.Get("/debug/vars", adaptor.HTTPHandler(expvar.Handler()))

	if history != nil {
		app.Get("/conversations", p.handleListConversations)
		app.Get("/conversations/:id", p.handleGetConversation)
		app.Get("/conversations/:id/messages", p.handleGetMessages)
		app.Post("/conversations", p.handleImportConversations)
	}

	return p, nil
}

// App returns the underlying fiber application.
func (p *Proxy) App() *fiber.App {
	return p.server
}

// Run starts the proxy server on the given listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting relay server",
		zap.String("listen", p.config.ListenAddr),
		zap.String("upstream", p.config.UpstreamURL),
		zap.String("model", p.config.ChatModel),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// Shutdown stops the server, waiting for active streams up to ctx.
func (p *Proxy) Shutdown(ctx context.Context) error {
	return p.server.ShutdownWithContext(ctx)
}

// Close releases the history store, if any.
func (p *Proxy) Close() error {
	if p.history == nil {
		return nil
	}
	return p.history.Close()
}

// handleChat relays one request. The chat shape is streamed back as SSE;
// the image-generation shape is answered with a single JSON document.
func (p *Proxy) handleChat(c *fiber.Ctx) error {
	if p.config.APIKey == "" {
		p.logger.Error("upstream API key is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: missingKeyMessage})
	}

	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		p.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "messages are required"})
	}

	p.logger.Debug("received chat request",
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("generate_image", req.GenerateImage),
	)

	if req.GenerateImage {
		return p.handleImage(c, &req)
	}
	return p.handleStreamingChat(c, &req, time.Now())
}

// handleImage forwards an image-generation request.
func (p *Proxy) handleImage(c *fiber.Ctx, req *llm.ChatRequest) error {
	count(metricImages)

	prompt := req.Prompt()
	if strings.TrimSpace(prompt) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "prompt is required"})
	}

	resp, err := p.client.CreateImage(c.UserContext(), openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.config.ImageModel,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return p.upstreamFailure(c, err)
	}

	out := llm.ImageResponse{Created: resp.Created, Data: make([]llm.ImageData, 0, len(resp.Data))}
	for _, d := range resp.Data {
		out.Data = append(out.Data, llm.ImageData{URL: d.URL, RevisedPrompt: d.RevisedPrompt})
	}

	p.logger.Info("image generated",
		zap.String("prompt_preview", truncate(prompt, 50)),
		zap.Int("images", len(out.Data)),
	)
	return c.JSON(out)
}

// handleStreamingChat opens the upstream stream and relays each chunk as a
// "data:" line, ending with the [DONE] sentinel. An upstream failure in the
// middle of the stream ends the body without the sentinel so the client
// sees an interrupted stream.
func (p *Proxy) handleStreamingChat(c *fiber.Ctx, req *llm.ChatRequest, startTime time.Time) error {
	count(metricChats)

	stream, err := p.client.CreateChatCompletionStream(c.UserContext(), openai.ChatCompletionRequest{
		Model:       p.config.ChatModel,
		Messages:    toUpstreamMessages(req.Messages),
		Temperature: p.config.Temperature,
		Stream:      true,
	})
	if err != nil {
		return p.upstreamFailure(c, err)
	}

	// Set up streaming response headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer stream.Close()

		var fullContent strings.Builder
		chunks := 0

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				count(metricStreamErr)
				p.logger.Error("error reading upstream stream",
					zap.Int("chunks", chunks),
					zap.Error(err),
				)
				return
			}

			chunk := toStreamChunk(resp)
			fullContent.WriteString(chunk.Content())

			data, err := json.Marshal(chunk)
			if err != nil {
				p.logger.Warn("failed to encode chunk", zap.Error(err))
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			if err := w.Flush(); err != nil {
				p.logger.Debug("client went away", zap.Error(err))
				return
			}
			chunks++
			count(metricChunks)
		}

		fmt.Fprintf(w, "data: %s\n\n", llm.StreamSentinel)
		w.Flush()

		p.logger.Debug("streaming complete",
			zap.Int("chunks", chunks),
			zap.String("full_content_preview", truncate(fullContent.String(), 200)),
			zap.Duration("duration", time.Since(startTime)),
		)
	}))

	return nil
}

// upstreamFailure maps an upstream error to the relay's error body. HTTP
// failures keep their status; transport failures become 502.
func (p *Proxy) upstreamFailure(c *fiber.Ctx, err error) error {
	count(metricFailures)

	status := fiber.StatusBadGateway
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0:
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0:
		status = reqErr.HTTPStatusCode
	}

	p.logger.Error("upstream returned error", zap.Int("status", status), zap.Error(err))
	return c.Status(status).JSON(llm.ErrorResponse{Error: fmt.Sprintf("Grok API error: %d", status)})
}

// toUpstreamMessages converts client messages, keeping the per-message
// choice between plain and multi-part content.
func toUpstreamMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.Content.HasImage() {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content.Text()})
			continue
		}

		out = append(out, openai.ChatCompletionMessage{
			Role: m.Role,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: m.Content.Text()},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    m.Content.ImageRef(),
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		})
	}
	return out
}

func toStreamChunk(resp openai.ChatCompletionStreamResponse) llm.StreamChunk {
	chunk := llm.StreamChunk{ID: resp.ID, Model: resp.Model, Choices: make([]llm.StreamChoice, 0, len(resp.Choices))}
	for _, ch := range resp.Choices {
		chunk.Choices = append(chunk.Choices, llm.StreamChoice{
			Index:        ch.Index,
			Delta:        llm.StreamDelta{Role: ch.Delta.Role, Content: ch.Delta.Content},
			FinishReason: string(ch.FinishReason),
		})
	}
	return chunk
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
