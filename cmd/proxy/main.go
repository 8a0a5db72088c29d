package main

import (
	"context"
	"flag"

	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/config"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/logger"
	"github.com/papercomputeco/koziky/pkg/storage"
	"github.com/papercomputeco/koziky/proxy"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to the config file (default ~/.koziky/config.toml)")
	listenAddr := flag.String("listen", "", "Address to listen on (default :8080)")
	upstreamURL := flag.String("upstream", "", "Upstream OpenAI-compatible API base URL (default https://api.x.ai/v1)")
	history := flag.String("history", "", "Serve this conversation store (.json or SQLite) under /conversations")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	if *listenAddr != "" {
		cfg.Proxy.ListenAddr = *listenAddr
	}
	if *upstreamURL != "" {
		cfg.Proxy.UpstreamURL = *upstreamURL
	}

	// Set up logger
	logger := logger.New(logger.Options{Debug: *debug || cfg.Log.Debug, File: cfg.Log.File})
	defer logger.Sync()

	logger.Info("koziky relay starting",
		zap.String("listen", cfg.Proxy.ListenAddr),
		zap.String("upstream", cfg.Proxy.UpstreamURL),
		zap.Bool("debug", *debug),
	)

	var store conversation.Storer
	if *history != "" {
		store, err = storage.Open(context.Background(), storage.ConfigForPath(*history), logger)
		if err != nil {
			logger.Fatal("failed to open history store", zap.Error(err))
		}
	}

	p, err := proxy.New(cfg.Relay(), store, logger)
	if err != nil {
		logger.Fatal("failed to create relay", zap.Error(err))
	}
	defer p.Close()

	if err := p.Run(); err != nil {
		logger.Fatal("relay server failed", zap.Error(err))
	}
}
