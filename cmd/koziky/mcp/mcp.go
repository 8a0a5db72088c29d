package mcpcmder

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/koziky/cmd/koziky/settings"
	"github.com/papercomputeco/koziky/pkg/historymcp"
)

const mcpLongDesc string = `Serve the conversation store to MCP clients over stdio.

Exposes two read-only tools: list_conversations and get_conversation.
Logs never go to stdout, which carries the protocol; use --log-file to
keep them.

Example client configuration:
  {"command": "koziky", "args": ["mcp"]}`

const mcpShortDesc string = "Serve conversation history over MCP"

type mcpCommander struct {
	version string
}

func NewMCPCmd(version string) *cobra.Command {
	cmder := &mcpCommander{version: version}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	settings.AddStoreFlags(cmd)

	return cmd
}

func (c *mcpCommander) run(ctx context.Context, cmd *cobra.Command) error {
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

	return historymcp.New(store, c.version, logger).Run(ctx)
}
