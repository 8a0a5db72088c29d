package sqlstore

import (
	"time"

	"github.com/papercomputeco/koziky/pkg/model"
)

// conversationRow is one conversation. Position is its index in the list.
type conversationRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Title       string    `gorm:"not null"`
	Position    int       `gorm:"index;not null"`
	LastUpdated time.Time `gorm:"column:updated_at;not null"`
}

func (conversationRow) TableName() string { return "conversations" }

// messageRow is one message, keyed by conversation and sequence number.
type messageRow struct {
	ConversationID string `gorm:"primaryKey;size:64"`
	Seq            int    `gorm:"primaryKey;autoIncrement:false"`
	ID             string `gorm:"size:64;not null;index"`
	Role           string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text;not null"`
	ImageRef       string `gorm:"column:image_url;type:text"`
}

func (messageRow) TableName() string { return "messages" }

func toConversationRow(c model.Conversation, position int) conversationRow {
	return conversationRow{
		ID:          c.ID,
		Title:       c.Title,
		Position:    position,
		LastUpdated: c.LastUpdated.UTC(),
	}
}

func (r conversationRow) toModel() model.Conversation {
	return model.Conversation{
		ID:          r.ID,
		Title:       r.Title,
		LastUpdated: r.LastUpdated,
	}
}

func toMessageRow(conversationID string, seq int, m model.Message) messageRow {
	return messageRow{
		ConversationID: conversationID,
		Seq:            seq,
		ID:             m.ID,
		Role:           string(m.Role),
		Content:        m.Content,
		ImageRef:       m.ImageRef,
	}
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:       r.ID,
		Role:     model.Role(r.Role),
		Content:  r.Content,
		ImageRef: r.ImageRef,
	}
}
