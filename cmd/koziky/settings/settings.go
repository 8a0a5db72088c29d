// Package settings resolves the configuration, logger and store shared by
// the koziky subcommands from the config file and command-line flags.
package settings

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/config"
	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/logger"
	"github.com/papercomputeco/koziky/pkg/orchestrator"
	"github.com/papercomputeco/koziky/pkg/storage"
)

// Flag names.
const (
	FlagConfig    = "config"
	FlagDebug     = "debug"
	FlagLogFile   = "log-file"
	FlagStore     = "store"
	FlagStorePath = "store-path"
	FlagStoreDSN  = "store-dsn"
)

// AddPersistentFlags registers the flags every subcommand inherits.
func AddPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(FlagConfig, "", "Path to the config file (default ~/.koziky/config.toml)")
	cmd.PersistentFlags().Bool(FlagDebug, false, "Enable debug logging")
	cmd.PersistentFlags().String(FlagLogFile, "", "Also write JSON logs to this rotating file")
}

// AddStoreFlags registers the store selection flags on cmd.
func AddStoreFlags(cmd *cobra.Command) {
	addStoreFlags(cmd.Flags().String)
}

// AddPersistentStoreFlags registers the store selection flags on cmd and
// its subcommands.
func AddPersistentStoreFlags(cmd *cobra.Command) {
	addStoreFlags(cmd.PersistentFlags().String)
}

func addStoreFlags(define func(name, value, usage string) *string) {
	define(FlagStore, "", "Store driver: memory, json, sqlite or postgres")
	define(FlagStorePath, "", "Path to the JSON document or SQLite database")
	define(FlagStoreDSN, "", "PostgreSQL connection string")
}

// Load reads the configuration and applies the flags set on cmd.
func Load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(stringFlag(cmd, FlagConfig))
	if err != nil {
		return nil, err
	}

	if boolFlag(cmd, FlagDebug) {
		cfg.Log.Debug = true
	}
	if v := stringFlag(cmd, FlagLogFile); v != "" {
		cfg.Log.File = v
	}
	if v := stringFlag(cmd, FlagStore); v != "" {
		cfg.Store.Driver = v
	}
	if v := stringFlag(cmd, FlagStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := stringFlag(cmd, FlagStoreDSN); v != "" {
		cfg.Store.DSN = v
	}
	return cfg, nil
}

// Logger builds the logger for cfg. Interactive commands pass quiet so that
// log lines only go to the log file.
func Logger(cfg *config.Config, quiet bool) *zap.Logger {
	return logger.New(logger.Options{
		Debug: cfg.Log.Debug,
		File:  cfg.Log.File,
		Quiet: quiet,
	})
}

// OpenStore opens the configured conversation store.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (conversation.Storer, error) {
	s, err := storage.Open(ctx, cfg.Storage(), logger)
	if err != nil {
		return nil, fmt.Errorf("could not open conversation store: %w", err)
	}
	return s, nil
}

func stringFlag(cmd *cobra.Command, name string) string {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func boolFlag(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f.Value.String() == "true"
	}
	return false
}

// NewChatCore wires a loaded Reconciler and an Orchestrator over store.
func NewChatCore(ctx context.Context, cfg *config.Config, store conversation.Storer, sink events.Sink, logger *zap.Logger) (*conversation.Reconciler, *orchestrator.Orchestrator, error) {
	r := conversation.NewReconciler(store, sink, logger)
	if err := r.Load(ctx); err != nil {
		return nil, nil, err
	}
	return r, orchestrator.New(cfg.Orchestrator(), r, sink, logger), nil
}
