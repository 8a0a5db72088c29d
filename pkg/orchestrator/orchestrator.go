// Package orchestrator runs chat turns against the inference endpoint: it
// builds the outbound request, pumps the response stream through the
// decoder, parser and accumulator, and hands the result to the reconciler.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/accumulator"
	"github.com/papercomputeco/koziky/pkg/delta"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/llm"
	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/pkg/sse"
)

// DefaultIdleTimeout is how long a stream may stay silent before it is
// treated as interrupted.
const DefaultIdleTimeout = 60 * time.Second

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Turns is the part of the conversation reconciler a turn needs.
type Turns interface {
	StartTurn(ctx context.Context, conversationID, userText, imageRef string) (string, error)
	CompleteTurn(ctx context.Context, conversationID string, msg model.Message) error
	AbortTurn(conversationID, reason string)
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Config is the orchestrator configuration.
type Config struct {
	// Endpoint is the URL of the chat relay.
	Endpoint string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// IdleTimeout is how long the stream may go without a byte before it
	// is treated as interrupted. Zero disables the watchdog.
	IdleTimeout time.Duration

	// MaxConsecutiveDecodeErrors ends a stream as interrupted once more
	// than this many payloads in a row fail to decode. Zero means no limit.
	MaxConsecutiveDecodeErrors int

	// CommitOnCancel commits the partial reply of a canceled turn.
	CommitOnCancel bool

	// HTTPClient is used for requests. Nil means a client without a
	// global timeout, since streams are bounded by IdleTimeout instead.
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with the default timeouts and policies.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		IdleTimeout:    DefaultIdleTimeout,
		CommitOnCancel: true,
	}
}

// Request is one user submission.
type Request struct {
	// ConversationID selects the conversation; empty starts a new one.
	ConversationID string
	Text           string
	// ImageURL attaches an image (URL or data URL) to the user message.
	ImageURL string
	// GenerateImage asks for an image instead of a chat reply.
	GenerateImage bool
}

// Result describes a committed turn.
type Result struct {
	ConversationID string
	Message        model.Message
	// Interrupted is set when the stream ended without its terminator and
	// the partial reply was committed as-is.
	Interrupted  bool
	Fragments    int
	DecodeErrors int
	Duration     time.Duration
}

// Session is a snapshot of the in-flight turn.
type Session struct {
	ConversationID     string
	AssistantMessageID string
	AccumulatedText    string
	State              State
	Terminal           bool
}

// session is the mutable state of the active turn, guarded by
// Orchestrator.mu.
type session struct {
	conversationID string
	acc            *accumulator.Accumulator
	cancel         context.CancelFunc
	canceled       bool
	terminal       bool
}

// Orchestrator sequences one turn at a time.
type Orchestrator struct {
	config Config
	client *http.Client
	turns  Turns
	sink   events.Sink
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	session *session
}

// New creates an Orchestrator.
func New(config Config, turns Turns, sink events.Sink, logger *zap.Logger) *Orchestrator {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		config: config,
		client: client,
		turns:  turns,
		sink:   events.OrNop(sink),
		logger: logger,
	}
}

// State returns the current phase of the state machine.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns a snapshot of the active turn. ok is false when idle.
func (o *Orchestrator) Session() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return Session{}, false
	}
	s := Session{
		ConversationID: o.session.conversationID,
		State:          o.state,
		Terminal:       o.session.terminal,
	}
	if o.session.acc != nil {
		s.AssistantMessageID = o.session.acc.MessageID()
		s.AccumulatedText = o.session.acc.Text()
	}
	return s, true
}

// Cancel abandons the active turn. It is a no-op when idle.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil || o.session.terminal {
		return
	}
	o.session.canceled = true
	o.session.cancel()
}

// Send runs one turn. It blocks until the turn is committed or has failed,
// publishing streaming deltas to the sink as they arrive. A second Send
// while a turn is active returns ErrTurnInProgress immediately.
func (o *Orchestrator) Send(ctx context.Context, req Request) (*Result, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	sess := &session{cancel: cancel}
	o.session = sess
	o.state = StateSending
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.session = nil
		o.state = StateIdle
		o.mu.Unlock()
	}()

	startTime := time.Now()

	conversationID, err := o.turns.StartTurn(ctx, req.ConversationID, req.Text, req.ImageURL)
	if err != nil {
		return nil, err
	}
	acc := accumulator.New(conversationID, o.sink)

	o.mu.Lock()
	sess.conversationID = conversationID
	sess.acc = acc
	o.mu.Unlock()

	t := &turn{
		o:              o,
		ctx:            ctx,
		sess:           sess,
		conversationID: conversationID,
		acc:            acc,
		start:          startTime,
	}

	body, err := o.buildRequest(ctx, conversationID, req)
	if err != nil {
		return nil, t.fail(err)
	}

	o.logger.Debug("sending turn",
		zap.String("conversation_id", conversationID),
		zap.Bool("generate_image", req.GenerateImage),
		zap.Bool("has_image", req.ImageURL != ""),
		zap.Int("body_size", len(body)),
	)

	resp, err := o.post(turnCtx, body, !req.GenerateImage)
	if err != nil {
		if t.wasCanceled() {
			return nil, t.abandon()
		}
		return nil, t.fail(&TransportError{Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, t.fail(upstreamError(resp))
	}

	if req.GenerateImage {
		return t.receiveImage(resp.Body)
	}
	return t.receiveStream(resp.Body)
}

// buildRequest serializes the outbound body. Chat requests carry the full
// history with the content shape chosen per message; image requests carry
// only the prompt.
func (o *Orchestrator) buildRequest(ctx context.Context, conversationID string, req Request) ([]byte, error) {
	if req.GenerateImage {
		return json.Marshal(llm.NewImageRequest(req.Text))
	}

	history, err := o.turns.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	chat := llm.ChatRequest{Messages: make([]llm.Message, 0, len(history))}
	for _, m := range history {
		content := llm.TextOnly(m.Content)
		if m.HasImage() {
			content = llm.TextWithImage(m.Content, m.ImageRef)
		}
		chat.Messages = append(chat.Messages, llm.Message{Role: string(m.Role), Content: content})
	}
	return json.Marshal(chat)
}

func (o *Orchestrator) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}

	return o.client.Do(httpReq)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// upstreamError reads the relay's {"error": "..."} body when there is one.
func upstreamError(resp *http.Response) *UpstreamError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body llm.ErrorResponse
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Message: truncate(msg, 200)}
}

// turn carries the per-Send state through the receive paths.
type turn struct {
	o              *Orchestrator
	ctx            context.Context
	sess           *session
	conversationID string
	acc            *accumulator.Accumulator
	start          time.Time
	decodeErrors   int
}

func (t *turn) wasCanceled() bool {
	t.o.mu.Lock()
	canceled := t.sess.canceled
	t.o.mu.Unlock()
	return canceled || t.ctx.Err() != nil
}

// cancelCause is the error returned for a canceled turn.
func (t *turn) cancelCause() error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return ErrCanceled
}

func (t *turn) markTerminal() {
	t.o.mu.Lock()
	t.sess.terminal = true
	t.o.mu.Unlock()
}

// fail aborts the turn: the user message stays, observers get turn-failed.
func (t *turn) fail(err error) error {
	t.markTerminal()
	t.o.setState(StateFailed)
	t.o.turns.AbortTurn(t.conversationID, err.Error())
	t.o.sink.Publish(events.NewTurnFailed(t.conversationID, err.Error()))
	t.o.logger.Error("turn failed",
		zap.String("conversation_id", t.conversationID),
		zap.Duration("duration", time.Since(t.start)),
		zap.Error(err),
	)
	return err
}

// abandon ends a canceled turn that has nothing to commit.
func (t *turn) abandon() error {
	t.markTerminal()
	cause := t.cancelCause()
	t.o.turns.AbortTurn(t.conversationID, cause.Error())
	t.o.logger.Info("turn canceled", zap.String("conversation_id", t.conversationID))
	return cause
}

// commit hands the assistant message to the reconciler. The commit runs
// detached from cancellation so a canceled turn can still be saved.
func (t *turn) commit(interrupted bool) (*Result, error) {
	t.markTerminal()
	t.o.setState(StateCommitting)

	msg := t.acc.Message()
	result := &Result{
		ConversationID: t.conversationID,
		Message:        msg,
		Interrupted:    interrupted,
		Fragments:      t.acc.Fragments(),
		DecodeErrors:   t.decodeErrors,
	}

	if err := t.o.turns.CompleteTurn(context.WithoutCancel(t.ctx), t.conversationID, msg); err != nil {
		t.o.sink.Publish(events.NewTurnFailed(t.conversationID, err.Error()))
		t.o.logger.Error("failed to commit turn",
			zap.String("conversation_id", t.conversationID),
			zap.Error(err),
		)
		result.Duration = time.Since(t.start)
		return result, err
	}

	result.Duration = time.Since(t.start)
	t.o.logger.Debug("turn complete",
		zap.String("conversation_id", t.conversationID),
		zap.String("message_id", msg.ID),
		zap.Bool("interrupted", interrupted),
		zap.Int("fragments", result.Fragments),
		zap.Int("decode_errors", result.DecodeErrors),
		zap.String("content_preview", truncate(msg.Content, 100)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// receiveImage handles the non-streamed image-generation response.
func (t *turn) receiveImage(body io.Reader) (*Result, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		if t.wasCanceled() {
			return nil, t.abandon()
		}
		return nil, t.fail(&TransportError{Err: err})
	}

	frag, err := delta.ParseImageResponse(data)
	if err != nil {
		return nil, t.fail(err)
	}

	t.acc.Apply(frag)
	return t.commit(false)
}

// receiveStream pumps the SSE body until the terminator, an interruption or
// cancellation.
func (t *turn) receiveStream(body io.Reader) (*Result, error) {
	t.o.setState(StateStreaming)

	var idle *idleReader
	if t.o.config.IdleTimeout > 0 {
		idle = newIdleReader(body, t.o.config.IdleTimeout, t.sess.cancel)
		defer idle.stop()
		body = idle
	}

	dec := sse.NewDecoder(body)
	consecutive := 0
	var streamErr error

	for {
		payload, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}

		frag, err := delta.Parse(payload)
		if err != nil {
			t.decodeErrors++
			consecutive++
			t.o.logger.Warn("skipping undecodable chunk",
				zap.String("conversation_id", t.conversationID),
				zap.Error(err),
			)
			if limit := t.o.config.MaxConsecutiveDecodeErrors; limit > 0 && consecutive > limit {
				streamErr = fmt.Errorf("%d consecutive undecodable chunks: %w", consecutive, sse.ErrInterrupted)
				break
			}
			continue
		}
		consecutive = 0
		t.acc.Apply(frag)
	}

	if streamErr == nil {
		return t.commit(false)
	}

	timedOut := idle != nil && idle.TimedOut()
	switch {
	case !timedOut && t.wasCanceled():
		if !t.o.config.CommitOnCancel {
			return nil, t.abandon()
		}
		result, err := t.commit(true)
		if err != nil {
			return result, err
		}
		t.o.logger.Info("turn canceled, partial reply committed",
			zap.String("conversation_id", t.conversationID),
			zap.Int("content_length", len(result.Message.Content)),
		)
		return result, t.cancelCause()

	case dec.BytesRead() == 0:
		return nil, t.fail(&TransportError{Err: fmt.Errorf("stream closed before any data: %w", streamErr)})

	default:
		t.o.logger.Warn("stream interrupted, committing partial reply",
			zap.String("conversation_id", t.conversationID),
			zap.Bool("idle_timeout", timedOut),
			zap.Int64("bytes_read", dec.BytesRead()),
			zap.Error(streamErr),
		)
		return t.commit(true)
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
