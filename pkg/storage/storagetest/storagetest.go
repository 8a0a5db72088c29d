// Package storagetest holds the behaviors every conversation.Storer must
// satisfy, as shared Ginkgo specs.
package storagetest

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
)

// NewConversation builds a conversation with n user/assistant exchanges.
func NewConversation(title string, exchanges int) model.Conversation {
	c := model.Conversation{
		ID:          model.NewID(),
		Title:       title,
		Messages:    []model.Message{},
		LastUpdated: time.Now().UTC().Truncate(time.Second),
	}
	for i := 0; i < exchanges; i++ {
		c.Messages = append(c.Messages,
			model.Message{ID: model.NewID(), Role: model.RoleUser, Content: "question"},
			model.Message{ID: model.NewID(), Role: model.RoleAssistant, Content: "answer"},
		)
	}
	return c
}

// messagesOf returns the messages of c, fetching them when the backend
// leaves them out of LoadAll.
func messagesOf(ctx context.Context, s conversation.Storer, c model.Conversation) []model.Message {
	if c.Messages != nil {
		return c.Messages
	}
	msgs, err := s.LoadMessages(ctx, c.ID)
	Expect(err).NotTo(HaveOccurred())
	return msgs
}

// StorerBehaviors registers the shared specs. newStorer is called before
// every spec and the returned store is closed after it.
func StorerBehaviors(newStorer func() conversation.Storer) {
	var (
		ctx context.Context
		s   conversation.Storer
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStorer()
	})

	AfterEach(func() {
		if s != nil {
			Expect(s.Close()).To(Succeed())
		}
	})

	It("starts empty", func() {
		convs, err := s.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs).To(BeEmpty())
	})

	It("round-trips the list in order", func() {
		a := NewConversation("first", 1)
		b := NewConversation("second", 2)
		b.Messages[0].ImageRef = "data:image/png;base64,AAAA"

		Expect(s.SaveAll(ctx, []model.Conversation{a, b})).To(Succeed())

		convs, err := s.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs).To(HaveLen(2))
		Expect(convs[0].ID).To(Equal(a.ID))
		Expect(convs[0].Title).To(Equal("first"))
		Expect(convs[1].ID).To(Equal(b.ID))
		Expect(convs[1].LastUpdated.Equal(b.LastUpdated)).To(BeTrue())

		msgs := messagesOf(ctx, s, convs[1])
		Expect(msgs).To(HaveLen(4))
		Expect(msgs[0].ID).To(Equal(b.Messages[0].ID))
		Expect(msgs[0].ImageRef).To(Equal("data:image/png;base64,AAAA"))
		Expect(msgs[1].Role).To(Equal(model.RoleAssistant))
	})

	It("replaces the whole list on save", func() {
		a := NewConversation("a", 1)
		b := NewConversation("b", 1)
		Expect(s.SaveAll(ctx, []model.Conversation{a, b})).To(Succeed())
		Expect(s.SaveAll(ctx, []model.Conversation{b})).To(Succeed())

		convs, err := s.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs).To(HaveLen(1))
		Expect(convs[0].ID).To(Equal(b.ID))

		_, err = s.LoadMessages(ctx, a.ID)
		Expect(conversation.IsNotFound(err)).To(BeTrue())
	})

	It("keeps stored messages for a conversation saved without them", func() {
		a := NewConversation("a", 2)
		Expect(s.SaveAll(ctx, []model.Conversation{a})).To(Succeed())

		renamed := a
		renamed.Title = "renamed"
		renamed.Messages = nil
		Expect(s.SaveAll(ctx, []model.Conversation{renamed})).To(Succeed())

		convs, err := s.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs[0].Title).To(Equal("renamed"))
		Expect(messagesOf(ctx, s, convs[0])).To(HaveLen(4))
	})

	It("appends new messages to an existing conversation", func() {
		a := NewConversation("a", 1)
		Expect(s.SaveAll(ctx, []model.Conversation{a})).To(Succeed())

		a.Messages = append(a.Messages,
			model.Message{ID: model.NewID(), Role: model.RoleUser, Content: "again"},
			model.Message{ID: model.NewID(), Role: model.RoleAssistant, Content: ""},
		)
		Expect(s.SaveAll(ctx, []model.Conversation{a})).To(Succeed())

		msgs, err := s.LoadMessages(ctx, a.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(4))
		Expect(msgs[2].Content).To(Equal("again"))
		Expect(msgs[3].Content).To(BeEmpty())
	})

	It("clears everything when saving an empty list", func() {
		Expect(s.SaveAll(ctx, []model.Conversation{NewConversation("a", 1)})).To(Succeed())
		Expect(s.SaveAll(ctx, nil)).To(Succeed())

		convs, err := s.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs).To(BeEmpty())
	})

	It("reports unknown conversations as not found", func() {
		_, err := s.LoadMessages(ctx, "missing")
		Expect(err).To(HaveOccurred())
		Expect(conversation.IsNotFound(err)).To(BeTrue())
	})
}
