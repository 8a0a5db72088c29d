package conversation_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/pkg/storage/inmemory"
	"github.com/papercomputeco/koziky/pkg/storage/storagetest"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// failingStorer wraps a driver and fails SaveAll while fail is set.
type failingStorer struct {
	*inmemory.Driver
	fail bool
}

func (f *failingStorer) SaveAll(ctx context.Context, convs []model.Conversation) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Driver.SaveAll(ctx, convs)
}

// lazyStorer hides messages from LoadAll, like a relational backend.
type lazyStorer struct {
	*inmemory.Driver
	messageLoads int
}

func (l *lazyStorer) LoadAll(ctx context.Context) ([]model.Conversation, error) {
	convs, err := l.Driver.LoadAll(ctx)
	for i := range convs {
		convs[i].Messages = nil
	}
	return convs, err
}

func (l *lazyStorer) LoadMessages(ctx context.Context, id string) ([]model.Message, error) {
	l.messageLoads++
	return l.Driver.LoadMessages(ctx, id)
}

func assistant(content string) model.Message {
	return model.Message{ID: model.NewID(), Role: model.RoleAssistant, Content: content}
}

var _ = Describe("Reconciler", func() {
	var (
		ctx   context.Context
		store *inmemory.Driver
		rec   *recorder
		recon *conversation.Reconciler
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		rec = &recorder{}
		recon = conversation.NewReconciler(store, rec, nil)
		Expect(recon.Load(ctx)).To(Succeed())
	})

	Describe("StartTurn", func() {
		It("mints a new conversation with the provisional title", func() {
			id, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).NotTo(BeEmpty())
			Expect(recon.Active()).To(Equal(id))

			c, err := recon.Conversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Title).To(Equal(conversation.DefaultTitle))
			Expect(c.Messages).To(HaveLen(1))
			Expect(c.Messages[0].Role).To(Equal(model.RoleUser))
			Expect(c.Messages[0].Content).To(Equal("Hello"))
		})

		It("does not list or persist the conversation before a commit", func() {
			_, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())

			Expect(recon.Conversations()).To(BeEmpty())
			Expect(store.Saves()).To(Equal(0))
		})

		It("keeps the image reference on the user message", func() {
			id, err := recon.StartTurn(ctx, "", "What is this?", "data:image/png;base64,AAAA")
			Expect(err).NotTo(HaveOccurred())

			msgs, err := recon.Messages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[0].ImageRef).To(Equal("data:image/png;base64,AAAA"))
		})

		It("rejects blank text", func() {
			_, err := recon.StartTurn(ctx, "", "   \n", "")
			Expect(err).To(MatchError(conversation.ErrEmptyMessage))
		})

		It("rejects unknown conversations", func() {
			_, err := recon.StartTurn(ctx, "missing", "Hello", "")
			Expect(conversation.IsNotFound(err)).To(BeTrue())
		})

		It("publishes a message-list change", func() {
			id, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())

			last := rec.events[len(rec.events)-1]
			Expect(last.Type).To(Equal(events.MessageListChanged))
			Expect(last.ConversationID).To(Equal(id))
		})
	})

	Describe("CompleteTurn", func() {
		It("commits the first exchange with a title from the user's text", func() {
			id, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, id, assistant("Hi there"))).To(Succeed())

			convs, err := store.LoadAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(HaveLen(1))
			Expect(convs[0].ID).To(Equal(id))
			Expect(convs[0].Title).To(Equal("Hello"))
			Expect(convs[0].Messages).To(HaveLen(2))
			Expect(convs[0].Messages[0].Content).To(Equal("Hello"))
			Expect(convs[0].Messages[1].Content).To(Equal("Hi there"))
			Expect(convs[0].LastUpdated.IsZero()).To(BeFalse())
		})

		It("limits the derived title to fifty runes", func() {
			text := "  " + strings.Repeat("ж", 60)
			id, err := recon.StartTurn(ctx, "", text, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, id, assistant("ok"))).To(Succeed())

			c, err := recon.Conversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Title).To(Equal(strings.Repeat("ж", 50)))
		})

		It("titles image-generation turns with the fixed label", func() {
			id, err := recon.StartTurn(ctx, "", "a red fox", "")
			Expect(err).NotTo(HaveOccurred())
			reply := assistant("Here you go")
			reply.ImageRef = "https://img.example/fox.png"
			Expect(recon.CompleteTurn(ctx, id, reply)).To(Succeed())

			c, err := recon.Conversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Title).To(Equal(conversation.ImageTitle))
		})

		It("keeps the title after the first exchange", func() {
			id, err := recon.StartTurn(ctx, "", "first", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, id, assistant("one"))).To(Succeed())
			_, err = recon.StartTurn(ctx, id, "second", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, id, assistant("two"))).To(Succeed())

			c, err := recon.Conversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Title).To(Equal("first"))
		})

		It("commits at most once per assistant message", func() {
			id, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())
			reply := assistant("Hi")

			Expect(recon.CompleteTurn(ctx, id, reply)).To(Succeed())
			Expect(recon.CompleteTurn(ctx, id, reply)).To(Succeed())

			msgs, err := recon.Messages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))
			Expect(store.Saves()).To(Equal(1))
		})

		It("holds 2N alternating messages after N turns", func() {
			const turns = 7
			id := ""
			for i := 0; i < turns; i++ {
				var err error
				id, err = recon.StartTurn(ctx, id, "question", "")
				Expect(err).NotTo(HaveOccurred())
				Expect(recon.CompleteTurn(ctx, id, assistant("answer"))).To(Succeed())
			}

			msgs, err := store.LoadMessages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2 * turns))
			for i, m := range msgs {
				if i%2 == 0 {
					Expect(m.Role).To(Equal(model.RoleUser))
				} else {
					Expect(m.Role).To(Equal(model.RoleAssistant))
				}
			}
		})

		It("prepends new conversations and keeps existing positions", func() {
			first, err := recon.StartTurn(ctx, "", "first", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, first, assistant("1"))).To(Succeed())

			recon.NewChat()
			second, err := recon.StartTurn(ctx, "", "second", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, second, assistant("2"))).To(Succeed())

			_, err = recon.StartTurn(ctx, first, "more", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, first, assistant("3"))).To(Succeed())

			convs := recon.Conversations()
			Expect(convs).To(HaveLen(2))
			Expect(convs[0].ID).To(Equal(second))
			Expect(convs[1].ID).To(Equal(first))
		})

		It("surfaces persistence failures without rolling back memory", func() {
			failing := &failingStorer{Driver: inmemory.NewDriver(), fail: true}
			r := conversation.NewReconciler(failing, nil, nil)
			Expect(r.Load(ctx)).To(Succeed())

			id, err := r.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())
			err = r.CompleteTurn(ctx, id, assistant("Hi"))

			var perr *conversation.PersistenceError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Op).To(Equal("complete turn"))

			msgs, err := r.Messages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))

			failing.fail = false
			Expect(r.Rename(ctx, id, "saved")).To(Succeed())
			stored, err := failing.LoadMessages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(2))
		})

		It("rejects unknown conversations", func() {
			err := recon.CompleteTurn(ctx, "missing", assistant("x"))
			Expect(conversation.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("AbortTurn", func() {
		It("keeps the user message in the working copy", func() {
			id, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())

			recon.AbortTurn(id, "connection refused")

			msgs, err := recon.Messages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Content).To(Equal("Hello"))
		})

		It("keeps a failed first turn across a reload", func() {
			id, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())
			recon.AbortTurn(id, "connection refused")

			Expect(recon.Load(ctx)).To(Succeed())

			Expect(recon.Active()).To(Equal(id))
			msgs, err := recon.Messages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Content).To(Equal("Hello"))
			Expect(recon.Conversations()).To(BeEmpty())
		})

		It("keeps the failed message of a stored conversation across a reload", func() {
			id, err := recon.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, id, assistant("Hi there"))).To(Succeed())

			_, err = recon.StartTurn(ctx, id, "Still there?", "")
			Expect(err).NotTo(HaveOccurred())
			recon.AbortTurn(id, "connection refused")

			Expect(recon.Load(ctx)).To(Succeed())

			msgs, err := recon.Messages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[2].Content).To(Equal("Still there?"))
		})

		It("keeps the failed message when the store loads messages lazily", func() {
			lazy := &lazyStorer{Driver: inmemory.NewDriver()}
			r := conversation.NewReconciler(lazy, nil, nil)
			Expect(r.Load(ctx)).To(Succeed())

			id, err := r.StartTurn(ctx, "", "Hello", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.CompleteTurn(ctx, id, assistant("Hi there"))).To(Succeed())
			_, err = r.StartTurn(ctx, id, "Still there?", "")
			Expect(err).NotTo(HaveOccurred())
			r.AbortTurn(id, "connection refused")

			Expect(r.Load(ctx)).To(Succeed())

			msgs, err := r.Messages(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[2].Content).To(Equal("Still there?"))
		})
	})

	Describe("stored conversations", func() {
		var (
			lazy   *lazyStorer
			stored model.Conversation
			r      *conversation.Reconciler
		)

		BeforeEach(func() {
			stored = storagetest.NewConversation("stored", 2)
			lazy = &lazyStorer{Driver: inmemory.NewDriver(stored)}
			r = conversation.NewReconciler(lazy, rec, nil)
			Expect(r.Load(ctx)).To(Succeed())
		})

		It("fetches messages on first use only", func() {
			Expect(r.Conversations()[0].Messages).To(BeNil())

			Expect(r.Select(ctx, stored.ID)).To(Succeed())
			msgs, err := r.Messages(ctx, stored.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(4))
			Expect(lazy.messageLoads).To(Equal(1))
		})

		It("continues a stored conversation in order", func() {
			_, err := r.StartTurn(ctx, stored.ID, "follow up", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.CompleteTurn(ctx, stored.ID, assistant("reply"))).To(Succeed())

			msgs, err := lazy.LoadMessages(ctx, stored.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(6))
			Expect(msgs[4].Content).To(Equal("follow up"))
			Expect(msgs[5].Content).To(Equal("reply"))
		})

		It("keeps unfetched messages when another conversation commits", func() {
			id, err := r.StartTurn(ctx, "", "new", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.CompleteTurn(ctx, id, assistant("ok"))).To(Succeed())

			msgs, err := lazy.Driver.LoadMessages(ctx, stored.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(4))
		})
	})

	Describe("management", func() {
		var first, second string

		BeforeEach(func() {
			var err error
			first, err = recon.StartTurn(ctx, "", "first", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, first, assistant("1"))).To(Succeed())
			recon.NewChat()
			second, err = recon.StartTurn(ctx, "", "second", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(recon.CompleteTurn(ctx, second, assistant("2"))).To(Succeed())
		})

		It("renames a conversation", func() {
			Expect(recon.Rename(ctx, first, "  Renamed ")).To(Succeed())

			convs, err := store.LoadAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(convs[1].Title).To(Equal("Renamed"))
			Expect(rec.types()).To(ContainElement(events.ConversationsChanged))
		})

		It("rejects an empty title", func() {
			Expect(recon.Rename(ctx, first, " ")).NotTo(Succeed())
		})

		It("starts a new chat when the active conversation is deleted", func() {
			Expect(recon.Active()).To(Equal(second))
			Expect(recon.Delete(ctx, second)).To(Succeed())

			Expect(recon.Active()).To(BeEmpty())
			convs, err := store.LoadAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(HaveLen(1))
			Expect(convs[0].ID).To(Equal(first))
		})

		It("keeps the selection when another conversation is deleted", func() {
			Expect(recon.Delete(ctx, first)).To(Succeed())
			Expect(recon.Active()).To(Equal(second))
		})

		It("clears everything", func() {
			Expect(recon.ClearAll(ctx)).To(Succeed())

			Expect(recon.Conversations()).To(BeEmpty())
			Expect(recon.Active()).To(BeEmpty())
			convs, err := store.LoadAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(BeEmpty())
		})

		It("selects a conversation", func() {
			Expect(recon.Select(ctx, first)).To(Succeed())
			Expect(recon.Active()).To(Equal(first))
			Expect(recon.Select(ctx, "missing")).NotTo(Succeed())
		})

		It("reloads what it saved", func() {
			other := conversation.NewReconciler(store, nil, nil)
			Expect(other.Load(ctx)).To(Succeed())

			convs := other.Conversations()
			Expect(convs).To(HaveLen(2))
			Expect(convs[0].Title).To(Equal("second"))
			Expect(convs[1].Title).To(Equal("first"))
		})
	})

	It("serializes concurrent commits without losing turns", func() {
		ids := make([]string, 8)
		for i := range ids {
			recon.NewChat()
			id, err := recon.StartTurn(ctx, "", "q", "")
			Expect(err).NotTo(HaveOccurred())
			ids[i] = id
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(recon.CompleteTurn(ctx, id, assistant("a"))).To(Succeed())
			}(id)
		}
		wg.Wait()

		convs, err := store.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs).To(HaveLen(len(ids)))
		for _, c := range convs {
			Expect(c.Messages).To(HaveLen(2))
		}
	})
})

var _ = Describe("Title", func() {
	DescribeTable("derives titles",
		func(in, want string) {
			Expect(conversation.Title(in)).To(Equal(want))
		},
		Entry("short text", "Hello", "Hello"),
		Entry("surrounding whitespace", "  Hello \n", "Hello"),
		Entry("long text", strings.Repeat("a", 80), strings.Repeat("a", 50)),
		Entry("trailing space at the cut", strings.Repeat("a", 49)+" tail", strings.Repeat("a", 49)),
	)
})

var _ = Describe("Merge", func() {
	It("adds unseen conversations and skips known ids", func() {
		a := storagetest.NewConversation("a", 1)
		b := storagetest.NewConversation("b", 1)
		c := storagetest.NewConversation("c", 1)

		merged, added, skipped := conversation.Merge(
			[]model.Conversation{a, b},
			[]model.Conversation{b, c},
		)

		Expect(added).To(Equal(1))
		Expect(skipped).To(Equal(1))
		Expect(merged).To(HaveLen(3))
		Expect(merged[2].ID).To(Equal(c.ID))
	})
})

var _ = Describe("LoadFull", func() {
	It("fills in messages a backend leaves out of LoadAll", func() {
		a := storagetest.NewConversation("a", 2)
		store := &lazyStorer{Driver: inmemory.NewDriver(a)}

		convs, err := conversation.LoadFull(context.Background(), store)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs).To(HaveLen(1))
		Expect(convs[0].Messages).To(HaveLen(4))
		Expect(store.messageLoads).To(Equal(1))
	})
})
