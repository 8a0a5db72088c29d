// Package storage opens the conversation.Storer selected by configuration.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/storage/inmemory"
	"github.com/papercomputeco/koziky/pkg/storage/jsonfile"
	"github.com/papercomputeco/koziky/pkg/storage/sqlstore"
)

// Driver names.
const (
	DriverMemory   = "memory"
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default file names under the koziky home directory.
const (
	DefaultJSONFile   = "conversations.json"
	DefaultSQLiteFile = "koziky.db"
)

// Config selects and locates a store.
type Config struct {
	// Driver is one of memory, json, sqlite or postgres. Empty means json.
	Driver string

	// Path is the JSON document or SQLite database file. Empty means the
	// default file under ~/.koziky.
	Path string

	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open returns the store described by cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (conversation.Storer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case DriverMemory:
		logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	case "", DriverJSON:
		path, err := ResolvePath(cfg.Path, DefaultJSONFile)
		if err != nil {
			return nil, err
		}
		logger.Info("using JSON file storage", zap.String("path", path))
		d, err := jsonfile.NewDriver(path, logger)
		if err != nil {
			return nil, err
		}
		return d, nil

	case DriverSQLite:
		path, err := ResolvePath(cfg.Path, DefaultSQLiteFile)
		if err != nil {
			return nil, err
		}
		logger.Info("using SQLite storage", zap.String("path", path))
		d, err := sqlstore.NewSQLiteDriver(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		return d, nil

	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
		logger.Info("using PostgreSQL storage")
		d, err := sqlstore.NewPostgresDriver(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return d, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ConfigForPath picks the driver for a store file by its extension: .json
// files are JSON documents, anything else is a SQLite database.
func ConfigForPath(path string) Config {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return Config{Driver: DriverJSON, Path: path}
	}
	return Config{Driver: DriverSQLite, Path: path}
}

// ResolvePath returns path, or defaultName under the koziky home directory
// when path is empty.
func ResolvePath(path, defaultName string) (string, error) {
	if path != "" {
		return path, nil
	}

	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultName), nil
}

// HomeDir returns ~/.koziky.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not resolve home directory: %w", err)
	}
	return filepath.Join(home, ".koziky"), nil
}
