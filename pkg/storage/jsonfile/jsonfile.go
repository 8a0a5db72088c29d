// Package jsonfile stores the whole conversation list as one JSON document
// on disk, rewritten atomically on every save.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
)

// Ensure Driver implements conversation.Storer
var _ conversation.Storer = (*Driver)(nil)

// Driver is a conversation.Storer over a single JSON file.
type Driver struct {
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	lastMod  time.Time
	lastSize int64
}

// NewDriver opens the document at path. A missing file is an empty list.
func NewDriver(path string, logger *zap.Logger) (*Driver, error) {
	if path == "" {
		return nil, errors.New("json store path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	return &Driver{path: abs, logger: logger}, nil
}

// Path returns the absolute path of the document.
func (d *Driver) Path() string {
	return d.path
}

// LoadAll reads the document.
func (d *Driver) LoadAll(_ context.Context) ([]model.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readLocked()
}

// SaveAll rewrites the document with convs.
func (d *Driver) SaveAll(_ context.Context, convs []model.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := model.CloneAll(convs)
	if hasUnloaded(next) {
		previous, err := d.readLocked()
		if err != nil {
			return err
		}
		byID := make(map[string][]model.Message, len(previous))
		for _, c := range previous {
			byID[c.ID] = c.Messages
		}
		for i := range next {
			if next[i].Messages == nil {
				next[i].Messages = byID[next[i].ID]
			}
		}
	}
	for i := range next {
		if next[i].Messages == nil {
			next[i].Messages = []model.Message{}
		}
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conversations: %w", err)
	}
	if err := writeFileAtomic(d.path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", d.path, err)
	}

	if info, err := os.Stat(d.path); err == nil {
		d.lastMod = info.ModTime()
		d.lastSize = info.Size()
	}

	d.logger.Debug("saved conversations",
		zap.String("path", d.path),
		zap.Int("count", len(next)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// LoadMessages returns the messages of one conversation.
func (d *Driver) LoadMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	convs, err := d.readLocked()
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		if c.ID == conversationID {
			return c.Messages, nil
		}
	}
	return nil, conversation.ErrNotFound{ID: conversationID}
}

// Close releases nothing; the document is closed after every access.
func (d *Driver) Close() error {
	return nil
}

// Watch calls onChange whenever another writer replaces the document,
// until ctx is done. Saves made through this Driver are not reported.
func (d *Driver) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	// The atomic rename replaces the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(d.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != d.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				if d.isOwnWrite() {
					continue
				}
				d.logger.Debug("store changed on disk", zap.String("path", d.path), zap.String("op", event.Op.String()))
				onChange()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("store watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// isOwnWrite reports whether the file on disk is the one this Driver wrote
// last.
func (d *Driver) isOwnWrite() bool {
	info, err := os.Stat(d.path)
	if err != nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return info.ModTime().Equal(d.lastMod) && info.Size() == d.lastSize
}

func (d *Driver) readLocked() ([]model.Conversation, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.Conversation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.path, err)
	}
	if len(data) == 0 {
		return []model.Conversation{}, nil
	}

	var convs []model.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", d.path, err)
	}
	for i := range convs {
		if convs[i].Messages == nil {
			convs[i].Messages = []model.Message{}
		}
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

func hasUnloaded(convs []model.Conversation) bool {
	for _, c := range convs {
		if c.Messages == nil {
			return true
		}
	}
	return false
}
