package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/chirino/conversation-sync/internal/registry/store/storetest"
	"github.com/chirino/conversation-sync/internal/testutil/testpg"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, dialect, dbURL string) (registrystore.ConversationStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = dialect
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	_ = sqlstore.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select(dialect)
	require.NoError(t, err)
	s, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.(registrystore.Closer).Close(context.Background())
	})
	return s, ctx
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (registrystore.ConversationStore, context.Context) {
		return setupTestStore(t, sqlstore.DialectSQLite, filepath.Join(t.TempDir(), "sync.db"))
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := testpg.StartPostgres(t)
	storetest.Run(t, func(t *testing.T) (registrystore.ConversationStore, context.Context) {
		s, ctx := setupTestStore(t, sqlstore.DialectPostgres, dsn)
		t.Cleanup(func() {
			// The container is shared between subtests.
			_ = truncate(dsn)
		})
		return s, ctx
	})
}

func truncate(dsn string) error {
	cfg := config.DefaultConfig()
	cfg.DBURL = dsn
	db, err := sqlstore.Open(sqlstore.DialectPostgres, &cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return db.Exec("TRUNCATE conversations").Error
}

func TestOpenWithoutURL(t *testing.T) {
	_, err := sqlstore.Open(sqlstore.DialectPostgres, &config.Config{})
	var cfgErr *registrystore.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}

func TestMigrationSkippedForOtherDatastores(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "memory"
	ctx := config.WithContext(context.Background(), &cfg)
	require.NoError(t, registrymigrate.RunAll(ctx))
}
