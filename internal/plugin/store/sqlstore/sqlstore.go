package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/model"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Supported SQL dialects. Each one is registered as its own datastore type.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

func init() {
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		dialect := dialect
		registrystore.Register(registrystore.Plugin{
			Name: dialect,
			Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
				cfg := config.FromContext(ctx)
				db, err := Open(dialect, cfg)
				if err != nil {
					return nil, err
				}
				return New(db), nil
			},
		})
	}

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqlMigrator{}})
}

// Open connects to the database described by cfg using the given dialect.
func Open(dialect string, cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DBURL) == "" {
		return nil, &registrystore.ConfigurationError{Setting: "CONVERSATION_SYNC_DB_URL"}
	}

	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(cfg.DBURL)
	case DialectSQLite:
		dialector = sqlite.Open(cfg.DBURL)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, &registrystore.ConnectionError{Backend: dialect, Err: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.DBMaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		}
		if cfg.DBMaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
		}
	}
	return db, nil
}

type sqlMigrator struct{}

func (m *sqlMigrator) Name() string { return "sql-schema" }
func (m *sqlMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != DialectPostgres && cfg.DatastoreType != DialectSQLite {
		return nil // skip if not using a sql store
	}

	log.Info("Running migration", "name", m.Name(), "dialect", cfg.DatastoreType)
	db, err := Open(cfg.DatastoreType, cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaFor(cfg.DatastoreType)); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("SQL schema migration complete", "dialect", cfg.DatastoreType)
	return nil
}

// conversationRow is the table shape. Messages are kept as a JSON document.
type conversationRow struct {
	ThreadID  string    `gorm:"column:thread_id;primaryKey"`
	Title     string    `gorm:"column:title"`
	Messages  string    `gorm:"column:messages"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (conversationRow) TableName() string { return "conversations" }

func (r conversationRow) toModel() (model.Conversation, error) {
	conv := model.Conversation{
		ThreadID:  r.ThreadID,
		Title:     r.Title,
		Messages:  []model.Message{},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Messages != "" {
		if err := json.Unmarshal([]byte(r.Messages), &conv.Messages); err != nil {
			return conv, fmt.Errorf("decode messages for %s: %w", r.ThreadID, err)
		}
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return conv, nil
}

// SQLStore implements store.ConversationStore using GORM on PostgreSQL or SQLite.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) ListAll(ctx context.Context) ([]model.Conversation, error) {
	var rows []conversationRow
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, classify("list conversations", err)
	}
	convs := make([]model.Conversation, 0, len(rows))
	for _, r := range rows {
		conv, err := r.toModel()
		if err != nil {
			return nil, registrystore.WrapStorage("list conversations", err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (s *SQLStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get conversation", err)
	}
	conv, err := row.toModel()
	if err != nil {
		return nil, registrystore.WrapStorage("get conversation", err)
	}
	return &conv, nil
}

func (s *SQLStore) Upsert(ctx context.Context, threadID string, title string, messages []model.Message) error {
	if messages == nil {
		messages = []model.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return registrystore.WrapStorage("encode messages", err)
	}
	now := s.now().UTC()
	row := conversationRow{
		ThreadID:  threadID,
		Title:     title,
		Messages:  string(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "messages", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return classify("upsert conversation", err)
	}
	return nil
}

func (s *SQLStore) DeleteByID(ctx context.Context, threadID string) (bool, error) {
	res := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&conversationRow{})
	if res.Error != nil {
		return false, classify("delete conversation", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// classify turns driver errors into store errors, keeping the postgres
// SQLSTATE visible in the message.
func classify(op string, err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &registrystore.ConnectionError{Backend: DialectPostgres, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return registrystore.WrapStorage(op, fmt.Errorf("sqlstate %s: %w", pgErr.Code, err))
	}
	return registrystore.WrapStorage(op, err)
}
