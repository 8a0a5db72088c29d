package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/papercomputeco/koziky/pkg/model"
)

// Storer is the narrow persistence contract the Reconciler commits through.
// The whole conversation list is read and written as one unit.
type Storer interface {
	// LoadAll returns every stored conversation in list order. Backends that
	// keep messages apart from conversations may leave Messages nil; the
	// Reconciler fetches them with LoadMessages on first use.
	LoadAll(ctx context.Context) ([]model.Conversation, error)

	// SaveAll replaces the stored list with convs in one atomic write.
	// Conversations absent from convs are removed. A conversation whose
	// Messages is nil keeps the messages already stored for it.
	SaveAll(ctx context.Context, convs []model.Conversation) error

	// LoadMessages returns the messages of one conversation in order.
	// Returns ErrNotFound if the conversation doesn't exist.
	LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// Close closes the store and releases any resources.
	Close() error
}

// ErrNotFound is returned when a conversation doesn't exist.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return "conversation not found"
	}

	return "conversation not found: " + e.ID
}

// IsNotFound reports whether err is, or wraps, an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// ErrEmptyMessage is returned when a turn is started with blank text.
var ErrEmptyMessage = errors.New("message is empty")

// PersistenceError reports a failed commit. The in-memory working copy is
// kept as it was before the failure surfaced.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist conversations (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// LoadFull returns every stored conversation with its messages filled in.
func LoadFull(ctx context.Context, s Storer) ([]model.Conversation, error) {
	convs, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		if convs[i].Messages != nil {
			continue
		}
		msgs, err := s.LoadMessages(ctx, convs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("loading messages of %s: %w", convs[i].ID, err)
		}
		if msgs == nil {
			msgs = []model.Message{}
		}
		convs[i].Messages = msgs
	}
	return convs, nil
}
