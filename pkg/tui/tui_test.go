package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/llm"
	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/pkg/orchestrator"
	"github.com/papercomputeco/koziky/pkg/storage/inmemory"
	"github.com/papercomputeco/koziky/pkg/storage/storagetest"
)

// run executes cmd and every command batched inside it, returning the
// messages produced. Spinner and cursor ticks are dropped.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, run(c)...)
		}
		return out
	case nil:
		return nil
	default:
		return []tea.Msg{msg}
	}
}

// harness drives a Model the way the program loop does, delivering the
// events published by the reconciler and orchestrator as EventMsgs.
type harness struct {
	m       *Model
	pending []events.Event
}

func (h *harness) Publish(e events.Event) {
	h.pending = append(h.pending, e)
}

// feed delivers msgs, following the commands each update returns except
// for those of timer messages. Events published while a command ran are
// delivered before the command's result.
func (h *harness) feed(msgs ...tea.Msg) {
	for _, msg := range msgs {
		for len(h.pending) > 0 {
			e := h.pending[0]
			h.pending = h.pending[1:]
			h.feed(EventMsg{Event: e})
		}

		switch msg.(type) {
		case loadedMsg, messagesMsg, turnDoneMsg, opDoneMsg, EventMsg, tea.KeyMsg:
			_, cmd := h.m.Update(msg)
			h.feed(run(cmd)...)
		default:
			h.m.Update(msg)
		}
	}
	for len(h.pending) > 0 {
		e := h.pending[0]
		h.pending = h.pending[1:]
		h.feed(EventMsg{Event: e})
	}
}

func (h *harness) press(s string) {
	h.feed(key(s))
}

func (h *harness) submit(text string) {
	h.m.input.SetValue(text)
	h.press("enter")
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+g":
		return tea.KeyMsg{Type: tea.KeyCtrlG}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var _ = Describe("Chat Screen", func() {
	var (
		ctx        context.Context
		server     *httptest.Server
		store      *inmemory.Driver
		reconciler *conversation.Reconciler
		h          *harness
		m          *Model
		seeded     model.Conversation
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = &harness{}

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, frag := range []string{"Hi", " there"} {
				data, _ := json.Marshal(llm.NewTextChunk(frag))
				fmt.Fprintf(w, "data: %s\n\n", data)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		DeferCleanup(server.Close)

		seeded = storagetest.NewConversation("Gardening tips", 1)
		store = inmemory.NewDriver(seeded)

		reconciler = conversation.NewReconciler(store, h, nil)
		orch := orchestrator.New(orchestrator.DefaultConfig(server.URL), reconciler, h, nil)

		m = New(ctx, reconciler, orch, styles.NoTTYStyle, nil)
		h.m = m
		h.feed(tea.WindowSizeMsg{Width: 120, Height: 40})
		h.feed(run(m.load())...)
	})

	It("lists the stored conversations", func() {
		Expect(m.convs).To(HaveLen(1))
		Expect(m.View()).To(ContainSubstring("Gardening tips"))
	})

	It("sends a message and shows the committed reply", func() {
		h.submit("hello")

		Expect(m.sending).To(BeFalse())
		Expect(m.err).To(BeEmpty())
		Expect(m.active).NotTo(BeEmpty())
		Expect(m.messages).To(HaveLen(2))
		Expect(m.messages[1].Content).To(Equal("Hi there"))
		Expect(m.View()).To(ContainSubstring("Hi there"))

		convs := reconciler.Conversations()
		Expect(convs).To(HaveLen(2))
		Expect(convs[0].Title).To(Equal("hello"))
	})

	It("continues the selected conversation", func() {
		h.press("tab")
		h.press("enter")
		Expect(m.active).To(Equal(seeded.ID))
		Expect(m.messages).To(HaveLen(2))

		h.submit("and roses?")
		Expect(m.messages).To(HaveLen(4))
		Expect(reconciler.Conversations()).To(HaveLen(1))
	})

	It("draws a streaming delta for the active conversation", func() {
		m.active = seeded.ID
		h.feed(EventMsg{Event: events.NewStreamingDelta(seeded.ID, model.Message{
			ID:      "partial",
			Role:    model.RoleAssistant,
			Content: "Half an ans",
		})})
		Expect(m.View()).To(ContainSubstring("Half an ans"))

		h.feed(EventMsg{Event: events.NewStreamingDelta("elsewhere", model.Message{Content: "ignored"})})
		Expect(m.View()).NotTo(ContainSubstring("ignored"))
	})

	It("shows turn failures", func() {
		h.feed(EventMsg{Event: events.NewTurnFailed("", "Grok API error: 500")})
		Expect(m.View()).To(ContainSubstring("Grok API error: 500"))
	})

	It("reports an image that cannot be attached", func() {
		h.submit("/image " + filepath.Join(GinkgoT().TempDir(), "missing.png"))
		Expect(m.err).NotTo(BeEmpty())
		Expect(m.pendingImage).To(BeEmpty())
	})

	It("attaches image URLs", func() {
		h.submit("/image https://img.example/cat.png")
		Expect(m.err).To(BeEmpty())
		Expect(m.pendingImage).To(Equal("https://img.example/cat.png"))
		Expect(m.View()).To(ContainSubstring("[image: https://img.example/cat.png]"))
	})

	It("toggles image generation", func() {
		h.press("ctrl+g")
		Expect(m.generateImage).To(BeTrue())
		Expect(m.View()).To(ContainSubstring("[image mode]"))

		h.press("ctrl+g")
		Expect(m.generateImage).To(BeFalse())
	})

	It("renames from the sidebar", func() {
		h.press("tab")
		h.press("r")
		Expect(m.mode).To(Equal(modeRename))

		h.submit("Roses")
		Expect(m.mode).To(Equal(modeChat))
		Expect(reconciler.Conversations()[0].Title).To(Equal("Roses"))
	})

	It("deletes from the sidebar", func() {
		h.press("tab")
		h.press("d")

		Expect(m.status).To(Equal("conversation deleted"))
		Expect(reconciler.Conversations()).To(BeEmpty())
	})

	It("asks before clearing every conversation", func() {
		h.submit("/clear")
		Expect(m.mode).To(Equal(modeConfirmClear))

		h.submit("n")
		Expect(m.status).To(Equal("clear canceled"))
		Expect(reconciler.Conversations()).To(HaveLen(1))

		h.submit("/clear")
		h.submit("y")
		Expect(reconciler.Conversations()).To(BeEmpty())
	})

	It("starts a new chat", func() {
		h.press("tab")
		h.press("enter")
		Expect(m.active).To(Equal(seeded.ID))

		h.submit("/new")
		Expect(reconciler.Active()).To(BeEmpty())
	})

	It("reloads a store changed during a turn once the turn ends", func() {
		other := storagetest.NewConversation("Written elsewhere", 1)
		Expect(store.SaveAll(ctx, []model.Conversation{other, seeded})).To(Succeed())

		m.sending = true
		h.feed(StoreChangedMsg{})
		Expect(m.convs).To(HaveLen(1))

		h.feed(turnDoneMsg{err: orchestrator.ErrCanceled})
		Expect(m.reloadPending).To(BeFalse())
		Expect(m.convs).To(HaveLen(2))
		Expect(m.View()).To(ContainSubstring("Written elsewhere"))
	})

	It("rejects unknown commands", func() {
		h.submit("/frobnicate")
		Expect(m.err).To(Equal("unknown command /frobnicate"))
	})
})
