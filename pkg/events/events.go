// Package events defines the notifications the chat core emits for user
// interfaces and the sinks that deliver them.
package events

import (
	"time"

	"github.com/papercomputeco/koziky/pkg/model"
)

// Type names an event.
type Type string

const (
	// MessageListChanged fires when a conversation's message list changes.
	MessageListChanged Type = "message-list-changed"
	// StreamingDelta carries the growing assistant message.
	StreamingDelta Type = "streaming-delta"
	// TurnFailed reports a turn that could not be completed or committed.
	TurnFailed Type = "turn-failed"
	// ConversationsChanged fires when the stored conversation list changes.
	ConversationsChanged Type = "conversations-changed"
)

// Event is a single notification. Message is set for StreamingDelta and
// Reason for TurnFailed.
type Event struct {
	Type           Type           `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Message        *model.Message `json:"message,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Time           time.Time      `json:"time"`
}

// NewMessageListChanged builds a MessageListChanged event.
func NewMessageListChanged(conversationID string) Event {
	return Event{Type: MessageListChanged, ConversationID: conversationID, Time: time.Now()}
}

// NewStreamingDelta builds a StreamingDelta event carrying a copy of msg.
func NewStreamingDelta(conversationID string, msg model.Message) Event {
	return Event{Type: StreamingDelta, ConversationID: conversationID, Message: &msg, Time: time.Now()}
}

// NewTurnFailed builds a TurnFailed event.
func NewTurnFailed(conversationID, reason string) Event {
	return Event{Type: TurnFailed, ConversationID: conversationID, Reason: reason, Time: time.Now()}
}

// NewConversationsChanged builds a ConversationsChanged event.
func NewConversationsChanged() Event {
	return Event{Type: ConversationsChanged, Time: time.Now()}
}

// Sink receives events. Publish is called synchronously on the emitting
// goroutine and must not block for long.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(e Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
type Multi []Sink

// Publish delivers e to every sink.
func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}
