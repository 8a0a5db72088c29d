// Package render formats conversation text for terminals: markdown through
// glamour when the output is a terminal, plain text otherwise.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/papercomputeco/koziky/pkg/model"
)

const defaultWidth = 80

// Renderer turns markdown into terminal output.
type Renderer struct {
	tty   bool
	width int
	md    *glamour.TermRenderer
}

// New returns a Renderer for w. Non-terminal writers get plain text.
func New(w io.Writer) (*Renderer, error) {
	r := &Renderer{width: defaultWidth}

	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return r, nil
	}
	r.tty = true
	if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
		r.width = width
	}

	md, err := NewMarkdown(StyleFor(termenv.NewOutput(f)), r.width)
	if err != nil {
		return nil, err
	}
	r.md = md
	return r, nil
}

// NewMarkdown builds a glamour renderer wrapping at width.
func NewMarkdown(style string, width int) (*glamour.TermRenderer, error) {
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create markdown renderer: %w", err)
	}
	return md, nil
}

// StyleFor picks a glamour style matching the terminal's capabilities.
func StyleFor(out *termenv.Output) string {
	switch {
	case out.Profile == termenv.Ascii:
		return styles.NoTTYStyle
	case out.HasDarkBackground():
		return styles.DarkStyle
	default:
		return styles.LightStyle
	}
}

// TTY reports whether the Renderer writes to a terminal.
func (r *Renderer) TTY() bool {
	return r.tty
}

// Width is the wrap width.
func (r *Renderer) Width() int {
	return r.width
}

// Markdown renders text, or returns it unchanged off a terminal.
func (r *Renderer) Markdown(text string) string {
	if r.md == nil {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// Message formats one message with a role header.
func (r *Renderer) Message(m model.Message) string {
	var b strings.Builder
	b.WriteString(RoleLabel(m.Role))
	b.WriteString("\n")

	body := m.Content
	if m.HasImage() {
		body = strings.TrimSpace(body + "\n\n" + ImageLine(m.ImageRef))
	}
	if m.Role == model.RoleAssistant {
		body = strings.TrimRight(r.Markdown(body), "\n")
	}
	b.WriteString(body)
	b.WriteString("\n")
	return b.String()
}

// RoleLabel is the header printed above a message.
func RoleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "You:"
	case model.RoleAssistant:
		return "Assistant:"
	default:
		return string(role) + ":"
	}
}

// ImageLine describes an image reference without dumping data URLs.
func ImageLine(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		kind := strings.TrimPrefix(ref, "data:")
		if i := strings.IndexAny(kind, ";,"); i >= 0 {
			kind = kind[:i]
		}
		return fmt.Sprintf("[image: inline %s, %d bytes]", kind, len(ref))
	}
	return "[image: " + ref + "]"
}
