// Package accumulator assembles streamed fragments into the in-flight
// assistant message of a turn.
package accumulator

import (
	"strings"
	"sync"

	"github.com/papercomputeco/koziky/pkg/delta"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/model"
)

// ImageCaption is the fixed content of an assistant message that carries a
// generated image.
const ImageCaption = "Here is the image you asked for."

// Accumulator holds the single mutable assistant message of one turn. The
// message id is minted once, when the accumulator is created, and content
// only ever grows.
type Accumulator struct {
	mu             sync.Mutex
	conversationID string
	messageID      string
	text           strings.Builder
	imageRef       string
	started        bool
	fragments      int
	sink           events.Sink
}

// New creates an accumulator for a turn in the given conversation.
func New(conversationID string, sink events.Sink) *Accumulator {
	return &Accumulator{
		conversationID: conversationID,
		messageID:      model.NewID(),
		sink:           events.OrNop(sink),
	}
}

// Apply merges a fragment into the message and republishes it. Empty
// fragments are no-ops. An image fragment replaces nothing: it attaches the
// reference and the fixed caption.
func (a *Accumulator) Apply(f delta.Fragment) {
	if f.IsEmpty() {
		return
	}

	a.mu.Lock()
	a.started = true
	a.fragments++
	if f.IsImage() {
		a.imageRef = f.ImageURL
		if a.text.Len() == 0 {
			a.text.WriteString(ImageCaption)
		}
	}
	a.text.WriteString(f.Text)
	msg := a.messageLocked()
	a.mu.Unlock()

	a.sink.Publish(events.NewStreamingDelta(a.conversationID, msg))
}

// Message returns the current assistant message. It is valid before any
// fragment arrived, with empty content.
func (a *Accumulator) Message() model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messageLocked()
}

// MessageID returns the id minted for this turn's assistant message.
func (a *Accumulator) MessageID() string {
	return a.messageID
}

// Text returns the accumulated text.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// Started reports whether at least one non-empty fragment was applied.
func (a *Accumulator) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// Fragments returns the number of non-empty fragments applied.
func (a *Accumulator) Fragments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fragments
}

func (a *Accumulator) messageLocked() model.Message {
	return model.Message{
		ID:       a.messageID,
		Role:     model.RoleAssistant,
		Content:  a.text.String(),
		ImageRef: a.imageRef,
	}
}
