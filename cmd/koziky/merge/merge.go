package mergecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/koziky/cmd/koziky/settings"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/storage"
)

const mergeLongDesc string = `Merge one or more conversation stores into a target.

Conversation ids are minted once, so merging is a union: conversations
whose id already exists in the target are skipped. Sources ending in
.json are read as JSON documents, anything else as SQLite databases.

Without --target the configured store receives the conversations.

Examples:
  koziky merge ~/laptop/conversations.json
  koziky merge --target /tmp/merged.db ~/alice/koziky.db ~/bob/conversations.json`

const mergeShortDesc string = "Merge conversation stores"

type mergeCommander struct {
	target string
}

func NewMergeCmd() *cobra.Command {
	cmder := &mergeCommander{}

	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.target, "target", "t", "", "Path to the target store (.json or SQLite)")

	return cmd
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	cfg, err := settings.Load(cmd)
	if err != nil {
		return err
	}
	logger := settings.Logger(cfg, true)
	defer logger.Sync()

	targetCfg := cfg.Storage()
	if c.target != "" {
		targetCfg = storage.ConfigForPath(c.target)
	}

	target, err := storage.Open(ctx, targetCfg, logger)
	if err != nil {
		return fmt.Errorf("could not open target store: %w", err)
	}
	defer target.Close()

	merged, err := target.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("could not read target store: %w", err)
	}

	var totalNew, totalDuped int

	for _, srcPath := range sources {
		source, err := storage.Open(ctx, storage.ConfigForPath(srcPath), logger)
		if err != nil {
			return fmt.Errorf("could not open source store %s: %w", srcPath, err)
		}

		convs, err := conversation.LoadFull(ctx, source)
		source.Close()
		if err != nil {
			return fmt.Errorf("could not read conversations from %s: %w", srcPath, err)
		}

		var srcNew, srcDuped int
		merged, srcNew, srcDuped = conversation.Merge(merged, convs)

		totalNew += srcNew
		totalDuped += srcDuped

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new, %d already existed\n", srcPath, srcNew, srcDuped)
	}

	if totalNew > 0 {
		if err := target.SaveAll(ctx, merged); err != nil {
			return fmt.Errorf("could not write target store: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new conversations from %d sources (%d already existed)\n",
		totalNew, len(sources), totalDuped)

	return nil
}
