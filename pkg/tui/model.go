// Package tui is the interactive chat front end: a conversation sidebar, a
// scrolling transcript that shows the reply as it streams, and an input
// line. It never mutates conversations itself; it drives the Reconciler and
// Orchestrator and redraws on the events they publish.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/attach"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/pkg/orchestrator"
	"github.com/papercomputeco/koziky/pkg/render"
)

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

type inputMode int

const (
	modeChat inputMode = iota
	modeRename
	modeConfirmClear
)

const placeholder = "Type a message, /image <path>, /new, /clear or /help"

const helpText = "enter send · esc cancel reply · tab sidebar · ctrl+n new chat · ctrl+g image mode · ctrl+c quit"

// EventMsg carries a chat event into the program.
type EventMsg struct {
	Event events.Event
}

// StoreChangedMsg reports that the store was changed by another process.
type StoreChangedMsg struct{}

type loadedMsg struct{ err error }

type messagesMsg struct {
	id   string
	msgs []model.Message
	err  error
}

type turnDoneMsg struct {
	res *orchestrator.Result
	err error
}

type opDoneMsg struct {
	status string
	err    error
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx        context.Context
	reconciler *conversation.Reconciler
	orch       *orchestrator.Orchestrator
	logger     *zap.Logger

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	md       *glamour.TermRenderer
	mdStyle  string

	width  int
	height int
	ready  bool
	focus  focus
	mode   inputMode

	convs     []model.Conversation
	cursor    int
	active    string
	messages  []model.Message
	streaming *model.Message

	sending       bool
	reloadPending bool
	generateImage bool
	pendingImage  string
	status        string
	err           string
}

// New creates the chat model. mdStyle is a glamour style name.
func New(ctx context.Context, reconciler *conversation.Reconciler, orch *orchestrator.Orchestrator, mdStyle string, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}

	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "› "
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		ctx:        ctx,
		reconciler: reconciler,
		orch:       orch,
		logger:     logger,
		input:      ti,
		spinner:    sp,
		mdStyle:    mdStyle,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.load())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case EventMsg:
		return m, m.handleEvent(msg.Event)

	case StoreChangedMsg:
		if m.sending {
			m.reloadPending = true
			return m, nil
		}
		m.logger.Debug("store changed on disk, reloading")
		return m, m.load()

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
		}
		m.refreshConversations()
		m.active = m.reconciler.Active()
		return m, m.loadMessages(m.active)

	case messagesMsg:
		if msg.id != m.active {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.messages = msg.msgs
		m.renderTranscript()
		return m, nil

	case turnDoneMsg:
		return m, m.finishTurn(msg)

	case opDoneMsg:
		m.status = msg.status
		if msg.err != nil {
			m.err = msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.sending {
			m.orch.Cancel()
		}
		return m, tea.Quit

	case "esc":
		switch {
		case m.sending:
			m.orch.Cancel()
			m.status = "canceling reply"
		case m.mode != modeChat:
			m.resetInput()
		case m.pendingImage != "":
			m.pendingImage = ""
			m.status = "image removed"
		}
		return m, nil

	case "tab":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil

	case "ctrl+n":
		return m, m.newChat()

	case "ctrl+g":
		m.generateImage = !m.generateImage
		if m.generateImage {
			m.status = "image mode: the next message asks for an image"
		} else {
			m.status = "chat mode"
		}
		return m, nil

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.focus == focusSidebar {
		return m, m.handleSidebarKey(msg)
	}

	if msg.Type == tea.KeyEnter {
		return m, m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.convs)-1 {
			m.cursor++
		}
	case "enter":
		if c, ok := m.selected(); ok {
			m.focus = focusInput
			m.input.Focus()
			return m.selectConversation(c.ID)
		}
	case "d", "delete":
		if c, ok := m.selected(); ok {
			return m.deleteConversation(c.ID)
		}
	case "r":
		if c, ok := m.selected(); ok {
			m.mode = modeRename
			m.focus = focusInput
			m.input.Focus()
			m.input.Prompt = "rename › "
			m.input.SetValue(c.Title)
			m.input.CursorEnd()
		}
	}
	return nil
}

// submit acts on the input line according to the current mode.
func (m *Model) submit() tea.Cmd {
	value := m.input.Value()
	text := strings.TrimSpace(value)

	switch m.mode {
	case modeRename:
		c, ok := m.selected()
		m.resetInput()
		if !ok {
			return nil
		}
		return m.rename(c.ID, text)

	case modeConfirmClear:
		m.resetInput()
		if strings.EqualFold(text, "y") || strings.EqualFold(text, "yes") {
			return m.clearAll()
		}
		m.status = "clear canceled"
		return nil
	}

	if text == "" {
		return nil
	}
	m.err = ""

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}

	if m.sending {
		m.err = orchestrator.ErrTurnInProgress.Error()
		return nil
	}

	m.input.SetValue("")
	m.sending = true
	m.status = ""
	return tea.Batch(m.send(orchestrator.Request{
		ConversationID: m.active,
		Text:           text,
		ImageURL:       m.pendingImage,
		GenerateImage:  m.generateImage,
	}), m.spinner.Tick)
}

func (m *Model) command(text string) tea.Cmd {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	m.input.SetValue("")

	switch name {
	case "/image":
		ref, err := attach.ImageRef(arg)
		if err != nil {
			m.err = err.Error()
			return nil
		}
		if ref == "" {
			m.err = "usage: /image <path or url>"
			return nil
		}
		m.pendingImage = ref
		m.status = "attached " + render.ImageLine(ref)
	case "/new":
		return m.newChat()
	case "/clear":
		m.mode = modeConfirmClear
		m.input.Prompt = "delete every conversation? (y/N) › "
	case "/help":
		m.status = helpText
	default:
		m.err = "unknown command " + name
	}
	return nil
}

func (m *Model) handleEvent(e events.Event) tea.Cmd {
	switch e.Type {
	case events.ConversationsChanged:
		m.refreshConversations()

	case events.MessageListChanged:
		m.active = m.reconciler.Active()
		if e.ConversationID == "" || e.ConversationID == m.active {
			if m.active == "" {
				m.messages = nil
				m.streaming = nil
				m.renderTranscript()
				return nil
			}
			return m.loadMessages(m.active)
		}

	case events.StreamingDelta:
		if e.Message != nil && e.ConversationID == m.active {
			m.streaming = e.Message
			m.renderTranscript()
		}

	case events.TurnFailed:
		m.err = e.Reason
	}
	return nil
}

func (m *Model) finishTurn(msg turnDoneMsg) tea.Cmd {
	m.sending = false
	m.streaming = nil

	switch {
	case errors.Is(msg.err, orchestrator.ErrCanceled):
		m.status = "reply canceled"
	case errors.Is(msg.err, conversation.ErrEmptyMessage):
	case msg.err != nil:
		m.err = msg.err.Error()
	default:
		m.pendingImage = ""
		m.generateImage = false
		m.status = ""
		if msg.res.Interrupted {
			m.status = "reply interrupted; partial text saved"
		}
		m.active = msg.res.ConversationID
	}
	if m.reloadPending {
		m.reloadPending = false
		return m.load()
	}
	return m.loadMessages(m.active)
}

func (m *Model) resetInput() {
	m.mode = modeChat
	m.input.Prompt = "› "
	m.input.SetValue("")
}

func (m *Model) refreshConversations() {
	m.convs = m.reconciler.Conversations()
	if m.cursor >= len(m.convs) {
		m.cursor = max(0, len(m.convs)-1)
	}
}

func (m *Model) selected() (model.Conversation, bool) {
	if m.cursor < 0 || m.cursor >= len(m.convs) {
		return model.Conversation{}, false
	}
	return m.convs[m.cursor], true
}

func (m *Model) title() string {
	for _, c := range m.convs {
		if c.ID == m.active {
			return c.Title
		}
	}
	return conversation.DefaultTitle
}
