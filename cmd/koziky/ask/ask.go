package askcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/koziky/cmd/koziky/settings"
	"github.com/papercomputeco/koziky/pkg/attach"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/orchestrator"
	"github.com/papercomputeco/koziky/pkg/render"
)

const askLongDesc string = `Send one message and stream the reply.

The message is taken from the arguments, or from standard input when no
arguments are given. The exchange is stored like any other turn, so it
can be continued later with --conversation or --continue.

On a terminal the reply is streamed as it arrives and then re-rendered
as markdown.

Examples:
  koziky ask "What is the capital of Peru?"
  koziky ask --continue "And its population?"
  koziky ask --image ./receipt.png "What is the total?"
  koziky ask --generate-image "a lighthouse at dusk, watercolor"
  git diff | koziky ask`

const askShortDesc string = "Send one message and stream the reply"

type askCommander struct {
	conversationID string
	continueLast   bool
	image          string
	generateImage  bool
}

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: askShortDesc,
		Long:  askLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.conversationID, "conversation", "c", "", "Continue the conversation with this id")
	cmd.Flags().BoolVar(&cmder.continueLast, "continue", false, "Continue the most recent conversation")
	cmd.Flags().StringVarP(&cmder.image, "image", "i", "", "Attach an image (file path or URL)")
	cmd.Flags().BoolVarP(&cmder.generateImage, "generate-image", "g", false, "Ask for an image instead of a text reply")
	cmd.MarkFlagsMutuallyExclusive("conversation", "continue")
	cmd.MarkFlagsMutuallyExclusive("image", "generate-image")
	settings.AddStoreFlags(cmd)

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, args []string) error {
	text, err := readMessage(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	imageRef, err := attach.ImageRef(c.image)
	if err != nil {
		return err
	}

	cfg, err := settings.Load(cmd)
	if err != nil {
		return err
	}
	logger := settings.Logger(cfg, true)
	defer logger.Sync()

	store, err := settings.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := render.New(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	printer := newStreamPrinter(cmd.OutOrStdout(), r)

	reconciler, orch, err := settings.NewChatCore(ctx, cfg, store, events.SinkFunc(printer.publish), logger)
	if err != nil {
		return err
	}

	conversationID, err := c.target(reconciler)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orch.Send(ctx, orchestrator.Request{
		ConversationID: conversationID,
		Text:           text,
		ImageURL:       imageRef,
		GenerateImage:  c.generateImage,
	})
	if err != nil {
		printer.abort()
		return err
	}

	printer.finish(res)
	if res.Interrupted {
		fmt.Fprintln(cmd.ErrOrStderr(), "(reply interrupted; partial text saved)")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s\n", res.ConversationID)
	return nil
}

// target resolves which conversation the message goes to; "" starts a new one.
func (c *askCommander) target(r *conversation.Reconciler) (string, error) {
	convs := r.Conversations()
	if c.continueLast {
		if len(convs) == 0 {
			return "", errors.New("no conversation to continue")
		}
		return convs[0].ID, nil
	}
	if c.conversationID == "" {
		return "", nil
	}

	var match string
	for _, conv := range convs {
		if conv.ID == c.conversationID {
			return conv.ID, nil
		}
		if strings.HasPrefix(conv.ID, c.conversationID) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", c.conversationID)
			}
			match = conv.ID
		}
	}
	if match == "" {
		return "", conversation.ErrNotFound{ID: c.conversationID}
	}
	return match, nil
}

func readMessage(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("could not read message from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", conversation.ErrEmptyMessage
	}
	return text, nil
}

// streamPrinter writes the growing assistant message as it streams. On a
// terminal the raw text is replaced by the rendered markdown at the end.
type streamPrinter struct {
	out io.Writer
	r   *render.Renderer

	mu      sync.Mutex
	printed string
}

func newStreamPrinter(out io.Writer, r *render.Renderer) *streamPrinter {
	return &streamPrinter{out: out, r: r}
}

func (p *streamPrinter) publish(e events.Event) {
	if e.Type != events.StreamingDelta || e.Message == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	text := e.Message.Content
	if !strings.HasPrefix(text, p.printed) {
		return
	}
	io.WriteString(p.out, text[len(p.printed):])
	p.printed = text
}

func (p *streamPrinter) finish(res *orchestrator.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := res.Message
	if p.r.TTY() && p.printed != "" {
		io.WriteString(p.out, clearLines(p.printed, p.r.Width()))
		io.WriteString(p.out, p.r.Markdown(msg.Content))
	} else if p.printed != "" {
		io.WriteString(p.out, "\n")
	}
	if msg.HasImage() {
		fmt.Fprintln(p.out, msg.ImageRef)
	}
	p.printed = ""
}

func (p *streamPrinter) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed != "" {
		io.WriteString(p.out, "\n")
	}
}

// clearLines moves the cursor back over text as a terminal of the given
// width wrapped it, and erases from there down.
func clearLines(text string, width int) string {
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		w := ansi.StringWidth(line)
		rows += max(1, (w+width-1)/width)
	}

	var b strings.Builder
	b.WriteString("\r")
	if rows > 1 {
		b.WriteString(ansi.CursorUp(rows - 1))
	}
	b.WriteString(ansi.EraseScreenBelow)
	return b.String()
}
