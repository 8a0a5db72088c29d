// Package conversation owns the working copies of every conversation and
// folds finished turns back into persisted history.
package conversation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/model"
)

const (
	// DefaultTitle is the provisional title of a conversation that has not
	// completed its first exchange.
	DefaultTitle = "New Chat"

	// ImageTitle is the title of a conversation whose first exchange
	// generated an image.
	ImageTitle = "Image generation"

	// TitleMaxRunes bounds a title derived from the user's first message.
	TitleMaxRunes = 50
)

// entry is the working copy of one conversation. Conversations minted by
// StartTurn stay out of the listed order until their first commit.
type entry struct {
	conv      model.Conversation
	loaded    bool
	committed bool

	// pending holds the messages appended since the last commit. They
	// survive a Load.
	pending []model.Message
}

// Reconciler holds the in-memory conversation list and commits it through a
// Storer. The mutex only guards in-memory mutation; persistence runs outside
// it, serialized by saveMu so that snapshots land in mutation order.
type Reconciler struct {
	storer Storer
	sink   events.Sink
	logger *zap.Logger

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	active  string
	seq     uint64

	saveMu   sync.Mutex
	savedSeq uint64
}

// NewReconciler creates a Reconciler over storer. Call Load to read the
// stored list.
func NewReconciler(storer Storer, sink events.Sink, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		storer:  storer,
		sink:    events.OrNop(sink),
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Load replaces the in-memory list with the stored one. Conversations that
// were never committed, and messages of failed turns not yet committed, are
// kept.
func (r *Reconciler) Load(ctx context.Context) error {
	convs, err := r.storer.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	r.mu.Lock()
	previous := r.entries
	r.order = make([]string, 0, len(convs))
	r.entries = make(map[string]*entry, len(convs))
	for _, c := range convs {
		if _, dup := r.entries[c.ID]; dup {
			r.logger.Warn("skipping duplicate conversation", zap.String("conversation_id", c.ID))
			continue
		}
		e := &entry{
			conv:      c.Clone(),
			loaded:    c.Messages != nil,
			committed: true,
		}
		if old, ok := previous[c.ID]; ok && len(old.pending) > 0 {
			e.pending = slices.Clone(old.pending)
			if e.loaded {
				e.conv.Messages = appendMissing(e.conv.Messages, e.pending)
			}
		}
		r.order = append(r.order, c.ID)
		r.entries[c.ID] = e
	}
	for id, old := range previous {
		if _, ok := r.entries[id]; !ok && !old.committed {
			r.entries[id] = old
		}
	}
	if _, ok := r.entries[r.active]; !ok {
		r.active = ""
	}
	r.mu.Unlock()

	r.logger.Debug("loaded conversations", zap.Int("count", len(convs)))
	r.sink.Publish(events.NewConversationsChanged())
	return nil
}

// appendMissing appends the messages of tail whose ids are not in msgs.
func appendMissing(msgs, tail []model.Message) []model.Message {
	for _, m := range tail {
		if !slices.ContainsFunc(msgs, func(have model.Message) bool { return have.ID == m.ID }) {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// Conversations returns the committed conversations in list order, most
// recently created first. Messages are nil for conversations whose
// messages have not been fetched yet.
func (r *Reconciler) Conversations() []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Conversation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].conv.Clone())
	}
	return out
}

// Active returns the id of the selected conversation, or "" for a new chat.
func (r *Reconciler) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Select makes id the active conversation, fetching its messages if needed.
func (r *Reconciler) Select(ctx context.Context, id string) error {
	if err := r.ensureLoaded(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	r.active = id
	r.mu.Unlock()

	r.sink.Publish(events.NewMessageListChanged(id))
	return nil
}

// NewChat clears the selection. The next turn mints a fresh conversation.
func (r *Reconciler) NewChat() {
	r.mu.Lock()
	r.active = ""
	r.mu.Unlock()

	r.sink.Publish(events.NewMessageListChanged(""))
}

// Conversation returns a copy of one conversation with its messages.
func (r *Reconciler) Conversation(ctx context.Context, id string) (model.Conversation, error) {
	if err := r.ensureLoaded(ctx, id); err != nil {
		return model.Conversation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.Conversation{}, ErrNotFound{ID: id}
	}
	return e.conv.Clone(), nil
}

// Messages returns a copy of the messages of one conversation.
func (r *Reconciler) Messages(ctx context.Context, id string) ([]model.Message, error) {
	c, err := r.Conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

// StartTurn appends the user's message to the working copy of the
// conversation and returns its id. An empty conversationID mints a new
// conversation titled DefaultTitle. Nothing is persisted here: the message
// is committed with the assistant reply in CompleteTurn.
func (r *Reconciler) StartTurn(ctx context.Context, conversationID, userText, imageRef string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", ErrEmptyMessage
	}

	if conversationID != "" {
		if err := r.ensureLoaded(ctx, conversationID); err != nil {
			return "", err
		}
	}

	msg := model.Message{
		ID:       model.NewID(),
		Role:     model.RoleUser,
		Content:  userText,
		ImageRef: imageRef,
	}

	r.mu.Lock()
	var e *entry
	if conversationID == "" {
		conversationID = model.NewID()
		e = &entry{
			conv: model.Conversation{
				ID:          conversationID,
				Title:       DefaultTitle,
				Messages:    []model.Message{},
				LastUpdated: time.Now(),
			},
			loaded: true,
		}
		r.entries[conversationID] = e
	} else {
		var ok bool
		e, ok = r.entries[conversationID]
		if !ok {
			r.mu.Unlock()
			return "", ErrNotFound{ID: conversationID}
		}
	}
	e.conv.Messages = append(e.conv.Messages, msg)
	e.pending = append(e.pending, msg)
	r.active = conversationID
	r.mu.Unlock()

	r.logger.Debug("turn started",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.String("content_preview", truncate(userText, 50)),
	)
	r.sink.Publish(events.NewMessageListChanged(conversationID))
	return conversationID, nil
}

// CompleteTurn appends the assistant message and commits the whole list.
// Completing with a message id that is already present is a no-op, so a
// turn commits at most once. On a persistence failure the in-memory state
// keeps the message and a *PersistenceError is returned.
func (r *Reconciler) CompleteTurn(ctx context.Context, conversationID string, msg model.Message) error {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound{ID: conversationID}
	}
	if e.conv.HasMessage(msg.ID) {
		r.mu.Unlock()
		r.logger.Debug("turn already committed",
			zap.String("conversation_id", conversationID),
			zap.String("message_id", msg.ID),
		)
		return nil
	}

	msg.Role = model.RoleAssistant
	e.conv.Messages = append(e.conv.Messages, msg)
	if e.conv.Title == DefaultTitle && e.conv.CountRole(model.RoleAssistant) == 1 {
		e.conv.Title = titleFor(e.conv, msg)
	}
	e.conv.LastUpdated = time.Now()
	e.pending = nil
	created := !e.committed
	if created {
		e.committed = true
		r.order = slices.Insert(r.order, 0, conversationID)
	}
	seq, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.sink.Publish(events.NewMessageListChanged(conversationID))
	if created {
		r.sink.Publish(events.NewConversationsChanged())
	}

	if err := r.commit(ctx, "complete turn", seq, snapshot); err != nil {
		return err
	}

	r.logger.Info("turn committed",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.Int("content_length", len(msg.Content)),
	)
	return nil
}

// AbortTurn records a failed turn. The user message stays in the working
// copy so it is not lost.
func (r *Reconciler) AbortTurn(conversationID, reason string) {
	r.logger.Warn("turn aborted",
		zap.String("conversation_id", conversationID),
		zap.String("reason", reason),
	)
}

// Rename sets the title of a committed conversation.
func (r *Reconciler) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("renaming %s: title is empty", id)
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || !e.committed {
		r.mu.Unlock()
		return ErrNotFound{ID: id}
	}
	e.conv.Title = title
	seq, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.sink.Publish(events.NewConversationsChanged())
	return r.commit(ctx, "rename", seq, snapshot)
}

// Delete removes a conversation. Deleting the active conversation starts a
// new chat.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound{ID: id}
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(o string) bool { return o == id })
	wasActive := r.active == id
	if wasActive {
		r.active = ""
	}
	seq, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.sink.Publish(events.NewConversationsChanged())
	if wasActive {
		r.sink.Publish(events.NewMessageListChanged(""))
	}
	return r.commit(ctx, "delete", seq, snapshot)
}

// ClearAll removes every conversation and starts a new chat.
func (r *Reconciler) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	r.order = nil
	r.entries = make(map[string]*entry)
	r.active = ""
	seq, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.sink.Publish(events.NewConversationsChanged())
	r.sink.Publish(events.NewMessageListChanged(""))
	return r.commit(ctx, "clear", seq, snapshot)
}

// ensureLoaded fetches the messages of a stored conversation the first time
// they are needed. The fetch runs without holding the mutex.
func (r *Reconciler) ensureLoaded(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound{ID: id}
	}
	loaded := e.loaded
	r.mu.Unlock()
	if loaded {
		return nil
	}

	msgs, err := r.storer.LoadMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("loading messages of %s: %w", id, err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok = r.entries[id]
	if !ok {
		return ErrNotFound{ID: id}
	}
	if !e.loaded {
		e.conv.Messages = appendMissing(msgs, e.pending)
		e.loaded = true
	}
	return nil
}

// snapshotLocked copies the committed list and stamps it with the next
// mutation sequence number. r.mu must be held.
func (r *Reconciler) snapshotLocked() (uint64, []model.Conversation) {
	r.seq++
	out := make([]model.Conversation, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		c := e.conv.Clone()
		if !e.loaded {
			c.Messages = nil
		}
		out = append(out, c)
	}
	return r.seq, out
}

// commit writes a snapshot. A snapshot older than one already written is
// skipped, since the newer one contains its changes.
func (r *Reconciler) commit(ctx context.Context, op string, seq uint64, snapshot []model.Conversation) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	if seq <= r.savedSeq {
		r.logger.Debug("skipping superseded save", zap.String("op", op), zap.Uint64("seq", seq))
		return nil
	}

	if err := r.storer.SaveAll(ctx, snapshot); err != nil {
		r.logger.Error("failed to save conversations", zap.String("op", op), zap.Error(err))
		return &PersistenceError{Op: op, Err: err}
	}
	r.savedSeq = seq
	return nil
}

// titleFor derives the title of a conversation from its first exchange.
func titleFor(c model.Conversation, reply model.Message) string {
	if reply.HasImage() {
		return ImageTitle
	}
	for _, m := range c.Messages {
		if m.Role == model.RoleUser {
			if t := Title(m.Content); t != "" {
				return t
			}
			break
		}
	}
	return DefaultTitle
}

// Title returns the first TitleMaxRunes runes of text with surrounding
// whitespace removed.
func Title(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= TitleMaxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:TitleMaxRunes]))
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
