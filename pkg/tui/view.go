package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/pkg/render"
)

// Rows taken by the header, status line and input box.
const chromeHeight = 5

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	mainWidth := max(20, width-sidebarWidth-2)
	vpHeight := max(3, height-chromeHeight)

	if !m.ready {
		m.viewport = viewport.New(mainWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = mainWidth
		m.viewport.Height = vpHeight
	}
	m.input.Width = mainWidth - 4

	md, err := render.NewMarkdown(m.mdStyle, mainWidth-2)
	if err != nil {
		m.logger.Debug("markdown renderer unavailable")
		md = nil
	}
	m.md = md
	m.renderTranscript()
}

// renderTranscript redraws the viewport from the committed messages plus
// the in-flight reply, keeping the view pinned to the bottom if it was.
func (m *Model) renderTranscript() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()

	var b strings.Builder
	for _, msg := range m.messages {
		b.WriteString(m.formatMessage(msg))
		b.WriteString("\n")
	}
	if m.streaming != nil {
		b.WriteString(m.formatMessage(*m.streaming))
	}

	m.viewport.SetContent(b.String())
	if atBottom || m.streaming != nil {
		m.viewport.GotoBottom()
	}
}

func (m *Model) formatMessage(msg model.Message) string {
	label := botLabel.Render(render.RoleLabel(msg.Role))
	if msg.Role == model.RoleUser {
		label = userLabel.Render(render.RoleLabel(msg.Role))
	}

	body := msg.Content
	if msg.Role == model.RoleAssistant && m.md != nil && body != "" {
		if out, err := m.md.Render(body); err == nil {
			body = strings.Trim(out, "\n")
		}
	} else {
		body = ansi.Wrap(body, m.viewport.Width, "")
	}
	if msg.HasImage() {
		body = strings.TrimSpace(body + "\n" + helpStyle.Render(render.ImageLine(msg.ImageRef)))
	}
	return label + "\n" + body + "\n"
}

func (m *Model) View() string {
	if !m.ready {
		return "loading…"
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), m.mainView())
}

func (m *Model) sidebarView() string {
	style := sidebarStyle
	if m.focus == focusSidebar {
		style = sidebarFocusedStyle
	}

	lines := []string{headerStyle.Render("Conversations"), ""}
	if len(m.convs) == 0 {
		lines = append(lines, helpStyle.Render("no conversations yet"))
	}
	for i, c := range m.convs {
		title := ansi.Truncate(c.Title, sidebarWidth-4, "…")
		line := itemStyle.Render(title)
		if c.ID == m.active {
			line = activeStyle.Render(title)
		}
		if i == m.cursor && m.focus == focusSidebar {
			line = cursorStyle.Render(title)
		}
		lines = append(lines, line)
	}
	if m.focus == focusSidebar {
		lines = append(lines, "", helpStyle.Render("enter open · r rename · d delete"))
	}

	return style.Height(max(1, m.height-2)).Render(strings.Join(lines, "\n"))
}

func (m *Model) mainView() string {
	header := headerStyle.Render(ansi.Truncate(m.title(), m.viewport.Width-2, "…"))
	if m.generateImage {
		header += statusStyle.Render("[image mode]")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.statusView(),
		inputBoxStyle.Width(m.viewport.Width).Render(m.input.View()),
	)
}

func (m *Model) statusView() string {
	switch {
	case m.err != "":
		return errorStyle.Render("error: " + m.err)
	case m.sending:
		return statusStyle.Render(fmt.Sprintf("%s waiting for reply · esc to cancel", m.spinner.View()))
	case m.pendingImage != "":
		return statusStyle.Render("attached " + render.ImageLine(m.pendingImage))
	case m.status != "":
		return statusStyle.Render(m.status)
	}
	return statusStyle.Render(helpText)
}
