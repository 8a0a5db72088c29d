package convcmder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/cmd/koziky/settings"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/pkg/render"
)

const conversationsLongDesc string = `List and manage stored conversations.

Conversation ids may be abbreviated to any unique prefix.

Examples:
  koziky conversations list
  koziky conversations show 3f2a
  koziky conversations rename 3f2a "Trip planning"
  koziky conversations delete 3f2a
  koziky conversations clear --yes`

const conversationsShortDesc string = "Manage stored conversations"

// session is an opened store with a loaded reconciler.
type session struct {
	reconciler *conversation.Reconciler
	store      conversation.Storer
	logger     *zap.Logger
}

func (s *session) close() {
	s.store.Close()
	s.logger.Sync()
}

func open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := settings.Load(cmd)
	if err != nil {
		return nil, err
	}
	logger := settings.Logger(cfg, true)

	store, err := settings.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	r := conversation.NewReconciler(store, nil, logger)
	if err := r.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return &session{reconciler: r, store: store, logger: logger}, nil
}

func NewConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   conversationsShortDesc,
		Long:    conversationsLongDesc,
	}

	settings.AddPersistentStoreFlags(cmd)

	cmd.AddCommand(
		newListCmd(),
		newShowCmd(),
		newRenameCmd(),
		newDeleteCmd(),
		newClearCmd(),
	)
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.close()

			convs := s.reconciler.Conversations()
			if len(convs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "TITLE", "UPDATED")
			for _, c := range convs {
				t.Row(shortID(c.ID), c.Title, c.LastUpdated.Local().Format(time.DateTime))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id, err := resolveID(s.reconciler.Conversations(), args[0])
			if err != nil {
				return err
			}
			conv, err := s.reconciler.Conversation(ctx, id)
			if err != nil {
				return err
			}

			r, err := render.New(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n\n", conv.Title)
			for _, m := range conv.Messages {
				fmt.Fprintln(out, r.Message(m))
			}
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id, err := resolveID(s.reconciler.Conversations(), args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			if err := s.reconciler.Rename(ctx, id, title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", shortID(id), strings.TrimSpace(title))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id, err := resolveID(s.reconciler.Conversations(), args[0])
			if err != nil {
				return err
			}
			if err := s.reconciler.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", shortID(id))
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete every conversation without --yes")
			}

			ctx := cmd.Context()
			s, err := open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			n := len(s.reconciler.Conversations())
			if err := s.reconciler.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d conversations\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting everything")
	return cmd
}

// resolveID expands a unique id prefix.
func resolveID(convs []model.Conversation, prefix string) (string, error) {
	var matches []string
	for _, c := range convs {
		if c.ID == prefix {
			return c.ID, nil
		}
		if strings.HasPrefix(c.ID, prefix) {
			matches = append(matches, c.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", conversation.ErrNotFound{ID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
