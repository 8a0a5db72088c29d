package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/papercomputeco/koziky/pkg/orchestrator"
)

// Everything that can publish an event runs as a command, off the update
// loop: publishing waits for the event to be delivered to this program.

func (m *Model) load() tea.Cmd {
	r, ctx := m.reconciler, m.ctx
	return func() tea.Msg {
		return loadedMsg{err: r.Load(ctx)}
	}
}

func (m *Model) loadMessages(id string) tea.Cmd {
	if id == "" {
		return func() tea.Msg { return messagesMsg{} }
	}
	r, ctx := m.reconciler, m.ctx
	return func() tea.Msg {
		msgs, err := r.Messages(ctx, id)
		return messagesMsg{id: id, msgs: msgs, err: err}
	}
}

func (m *Model) send(req orchestrator.Request) tea.Cmd {
	orch, ctx := m.orch, m.ctx
	return func() tea.Msg {
		res, err := orch.Send(ctx, req)
		return turnDoneMsg{res: res, err: err}
	}
}

func (m *Model) newChat() tea.Cmd {
	r := m.reconciler
	return func() tea.Msg {
		r.NewChat()
		return opDoneMsg{}
	}
}

func (m *Model) selectConversation(id string) tea.Cmd {
	r, ctx := m.reconciler, m.ctx
	return func() tea.Msg {
		return opDoneMsg{err: r.Select(ctx, id)}
	}
}

func (m *Model) rename(id, title string) tea.Cmd {
	r, ctx := m.reconciler, m.ctx
	return func() tea.Msg {
		if err := r.Rename(ctx, id, title); err != nil {
			return opDoneMsg{err: err}
		}
		return opDoneMsg{status: "renamed"}
	}
}

func (m *Model) deleteConversation(id string) tea.Cmd {
	r, ctx := m.reconciler, m.ctx
	return func() tea.Msg {
		if err := r.Delete(ctx, id); err != nil {
			return opDoneMsg{err: err}
		}
		return opDoneMsg{status: "conversation deleted"}
	}
}

func (m *Model) clearAll() tea.Cmd {
	r, ctx := m.reconciler, m.ctx
	return func() tea.Msg {
		if err := r.ClearAll(ctx); err != nil {
			return opDoneMsg{err: err}
		}
		return opDoneMsg{status: "all conversations deleted"}
	}
}
