package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/cmd/koziky/settings"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/proxy"
)

const serveLongDesc string = `Run the chat relay.

The relay accepts chat requests on POST /api/chat, forwards them to the
OpenAI-compatible upstream and streams the reply back as server-sent
events. The upstream key is read from GROK_API_KEY.

With --history the relay also serves the configured conversation store
under /conversations, which is what "koziky push" talks to.

Examples:
  koziky serve
  koziky serve --listen :9090 --upstream https://api.x.ai/v1 --history`

const serveShortDesc string = "Run the chat relay"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	listen   string
	upstream string
	history  bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (default from config, :8080)")
	cmd.Flags().StringVarP(&cmder.upstream, "upstream", "u", "", "Upstream OpenAI-compatible API base URL")
	cmd.Flags().BoolVar(&cmder.history, "history", false, "Serve the conversation store under /conversations")
	settings.AddStoreFlags(cmd)

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := settings.Load(cmd)
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.Proxy.ListenAddr = c.listen
	}
	if c.upstream != "" {
		cfg.Proxy.UpstreamURL = c.upstream
	}
	if c.history {
		cfg.Proxy.History = true
	}

	logger := settings.Logger(cfg, false)
	defer logger.Sync()

	if cfg.Proxy.APIKey == "" {
		logger.Warn("GROK_API_KEY is not set; chat requests will fail until it is")
	}

	var history conversation.Storer
	if cfg.Proxy.History {
		history, err = settings.OpenStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
	}

	p, err := proxy.New(cfg.Relay(), history, logger)
	if err != nil {
		if history != nil {
			history.Close()
		}
		return fmt.Errorf("could not create relay: %w", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("relay shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
