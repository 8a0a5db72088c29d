package chatcmder

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/cmd/koziky/settings"
	"github.com/papercomputeco/koziky/pkg/tui"
)

const chatLongDesc string = `Open the interactive chat screen.

The sidebar lists stored conversations; the main pane shows the selected
transcript and streams replies as they arrive. Press tab to move between
the sidebar and the input line.

Input commands:
  /image <path or url>  attach an image to the next message
  /new                  start a new conversation
  /clear                delete every conversation (asks first)

Logs are only written when --log-file is set, so they do not tear the
screen.`

const chatShortDesc string = "Open the interactive chat screen"

type chatCommander struct{}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	settings.AddStoreFlags(cmd)

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
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
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	logger.Info("starting chat", zap.String("endpoint", cfg.Orchestrator().Endpoint))
	return tui.Run(ctx, cfg.Orchestrator(), store, logger)
}
