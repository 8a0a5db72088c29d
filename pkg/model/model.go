// Package model holds the conversation data model shared by the streaming
// core, the stores and the front ends.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation.
type Message struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	ImageRef string `json:"image_url,omitempty"` // Opaque image reference (URL or data URL)
}

// HasImage reports whether the message carries an image reference.
func (m Message) HasImage() bool {
	return m.ImageRef != ""
}

// Conversation is an ordered, append-only list of messages with a title.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	LastUpdated time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return out
}

// HasMessage reports whether a message with the given id is present.
func (c Conversation) HasMessage(id string) bool {
	for _, m := range c.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// CountRole returns the number of messages with the given role.
func (c Conversation) CountRole(role Role) int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// NewID mints an opaque identifier for conversations and messages.
func NewID() string {
	return uuid.NewString()
}

// CloneAll deep copies a list of conversations.
func CloneAll(convs []Conversation) []Conversation {
	out := make([]Conversation, len(convs))
	for i, c := range convs {
		out[i] = c.Clone()
	}
	return out
}
