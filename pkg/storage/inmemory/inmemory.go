// Package inmemory provides an in-memory conversation store.
package inmemory

import (
	"context"
	"sync"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
)

// Ensure Driver implements conversation.Storer
var _ conversation.Storer = (*Driver)(nil)

// Driver keeps the conversation list in memory. It is safe for concurrent
// use and suited to tests and ephemeral sessions.
type Driver struct {
	mu    sync.RWMutex
	convs []model.Conversation
	saves int
}

// NewDriver creates an empty in-memory store, optionally seeded.
func NewDriver(seed ...model.Conversation) *Driver {
	return &Driver{convs: model.CloneAll(seed)}
}

// LoadAll returns a copy of every stored conversation.
func (d *Driver) LoadAll(_ context.Context) ([]model.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return model.CloneAll(d.convs), nil
}

// SaveAll replaces the stored list.
func (d *Driver) SaveAll(_ context.Context, convs []model.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	previous := make(map[string][]model.Message, len(d.convs))
	for _, c := range d.convs {
		previous[c.ID] = c.Messages
	}

	next := model.CloneAll(convs)
	for i := range next {
		if next[i].Messages == nil {
			next[i].Messages = previous[next[i].ID]
		}
	}
	d.convs = next
	d.saves++
	return nil
}

// LoadMessages returns the messages of one conversation.
func (d *Driver) LoadMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, c := range d.convs {
		if c.ID == conversationID {
			return c.Clone().Messages, nil
		}
	}
	return nil, conversation.ErrNotFound{ID: conversationID}
}

// Saves returns how many times SaveAll was called.
func (d *Driver) Saves() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.saves
}

// Close is a no-op for the in-memory store.
func (d *Driver) Close() error {
	return nil
}
