// Package sqlstore persists conversations in a relational database through
// gorm. SQLite and PostgreSQL are supported.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
)

// Ensure Driver implements conversation.Storer
var _ conversation.Storer = (*Driver)(nil)

const insertBatchSize = 100

// Driver is a conversation.Storer over gorm. Conversations and messages live
// in separate tables, so LoadAll leaves Messages nil and LoadMessages serves
// them on demand.
type Driver struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteDriver opens (or creates) the SQLite database at path. Use
// ":memory:" for an in-memory database.
func NewSQLiteDriver(ctx context.Context, path string, logger *zap.Logger) (*Driver, error) {
	d, err := NewDriver(ctx, sqlite.Open(path), logger)
	if err != nil {
		return nil, err
	}

	// An in-memory SQLite database exists per connection.
	sqlDB, err := d.db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return d, nil
}

// NewPostgresDriver connects to PostgreSQL with the given DSN.
func NewPostgresDriver(ctx context.Context, dsn string, logger *zap.Logger) (*Driver, error) {
	return NewDriver(ctx, postgres.Open(dsn), logger)
}

// NewDriver opens a gorm connection with dialector and migrates the schema.
func NewDriver(ctx context.Context, dialector gorm.Dialector, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&conversationRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Debug("opened sql store", zap.String("dialect", dialector.Name()))
	return &Driver{db: db, logger: logger}, nil
}

// LoadAll returns every conversation in list order, without messages.
func (d *Driver) LoadAll(ctx context.Context) ([]model.Conversation, error) {
	var rows []conversationRow
	if err := d.db.WithContext(ctx).Order("position asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	convs := make([]model.Conversation, len(rows))
	for i, r := range rows {
		convs[i] = r.toModel()
	}
	return convs, nil
}

// LoadMessages returns the messages of one conversation in sequence order.
func (d *Driver) LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	db := d.db.WithContext(ctx)

	var conv conversationRow
	if err := db.First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conversation.ErrNotFound{ID: conversationID}
		}
		return nil, fmt.Errorf("getting conversation %s: %w", conversationID, err)
	}

	var rows []messageRow
	if err := db.Where("conversation_id = ?", conversationID).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing messages of %s: %w", conversationID, err)
	}

	msgs := make([]model.Message, len(rows))
	for i, r := range rows {
		msgs[i] = r.toModel()
	}
	return msgs, nil
}

// SaveAll replaces the stored list in one transaction. Messages are
// append-only, so only the tail beyond what is stored gets inserted.
func (d *Driver) SaveAll(ctx context.Context, convs []model.Conversation) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, len(convs))
		for i, c := range convs {
			ids[i] = c.ID
		}

		if err := deleteOthers(tx, ids); err != nil {
			return err
		}

		for i, c := range convs {
			row := toConversationRow(c, i)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("upserting conversation %s: %w", c.ID, err)
			}
			if c.Messages == nil {
				continue
			}
			if err := appendMessages(tx, c.ID, c.Messages); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.Debug("saved conversations", zap.Int("count", len(convs)))
	return nil
}

// Close closes the underlying connection pool.
func (d *Driver) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func deleteOthers(tx *gorm.DB, keep []string) error {
	if len(keep) == 0 {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("clearing messages: %w", err)
		}
		if err := all.Delete(&conversationRow{}).Error; err != nil {
			return fmt.Errorf("clearing conversations: %w", err)
		}
		return nil
	}

	if err := tx.Where("conversation_id NOT IN ?", keep).Delete(&messageRow{}).Error; err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if err := tx.Where("id NOT IN ?", keep).Delete(&conversationRow{}).Error; err != nil {
		return fmt.Errorf("deleting conversations: %w", err)
	}
	return nil
}

func appendMessages(tx *gorm.DB, conversationID string, msgs []model.Message) error {
	var stored int64
	if err := tx.Model(&messageRow{}).Where("conversation_id = ?", conversationID).Count(&stored).Error; err != nil {
		return fmt.Errorf("counting messages of %s: %w", conversationID, err)
	}

	start := int(stored)
	if start > len(msgs) {
		// The stored history is longer than the new one; rewrite it.
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("resetting messages of %s: %w", conversationID, err)
		}
		start = 0
	}
	if start == len(msgs) {
		return nil
	}

	rows := make([]messageRow, 0, len(msgs)-start)
	for i := start; i < len(msgs); i++ {
		rows = append(rows, toMessageRow(conversationID, i, msgs[i]))
	}
	if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("inserting messages of %s: %w", conversationID, err)
	}
	return nil
}
