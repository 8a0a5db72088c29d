package pushcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/koziky/cmd/koziky/settings"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/proxy"
)

const pushLongDesc string = `Push local conversations to a remote koziky relay.

Reads every conversation from the configured store and POSTs them to
the relay's /conversations endpoint. The relay skips conversations it
already holds, so pushing twice is harmless. The relay must be started
with its history store enabled.

Examples:
  koziky push http://192.168.1.42:8080
  koziky push --store sqlite --store-path ~/.koziky/koziky.db http://localhost:8080`

const pushShortDesc string = "Push conversations to a remote relay"

type pushCommander struct {
	batchSize int
}

func NewPushCmd() *cobra.Command {
	cmder := &pushCommander{}

	cmd := &cobra.Command{
		Use:   "push <server-url>",
		Short: pushShortDesc,
		Long:  pushLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	settings.AddStoreFlags(cmd)
	cmd.Flags().IntVar(&cmder.batchSize, "batch-size", 50, "Conversations per HTTP request")

	return cmd
}

func (c *pushCommander) run(ctx context.Context, cmd *cobra.Command, serverURL string) error {
	if c.batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.batchSize)
	}
	serverURL = strings.TrimRight(serverURL, "/")

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

	convs, err := conversation.LoadFull(ctx, store)
	if err != nil {
		return fmt.Errorf("could not read local conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No local conversations to push.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushing %d conversations to %s\n", len(convs), serverURL)

	var totalNew, totalDup int

	for i := 0; i < len(convs); i += c.batchSize {
		end := min(i+c.batchSize, len(convs))

		resp, err := c.postBatch(ctx, serverURL, convs[i:end])
		if err != nil {
			return fmt.Errorf("push failed on batch %d-%d: %w", i, end-1, err)
		}

		totalNew += resp.New
		totalDup += resp.Duplicate
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d new conversations (%d already existed)\n", totalNew, totalDup)

	return nil
}

func (c *pushCommander) postBatch(ctx context.Context, serverURL string, convs []model.Conversation) (*proxy.ImportResponse, error) {
	body, err := json.Marshal(convs)
	if err != nil {
		return nil, fmt.Errorf("could not marshal conversations: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/conversations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result proxy.ImportResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}

	return &result, nil
}
