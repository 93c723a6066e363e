package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "mongo", cfg.DatastoreType)
	require.Equal(t, "llmchat", cfg.DBName)
	require.Equal(t, "/api", cfg.APIPrefix)
	require.False(t, cfg.SyncConfigured())
}

func TestSyncConfigured(t *testing.T) {
	var nilCfg *Config
	require.False(t, nilCfg.SyncConfigured())

	cfg := Config{DBURL: "   "}
	require.False(t, cfg.SyncConfigured())

	cfg.DBURL = "mongodb://localhost:27017"
	require.True(t, cfg.SyncConfigured())
}

func TestContextRoundTrip(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))

	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://db.example:27017")
	t.Setenv("CONVERSATION_SYNC_DB_MIGRATE_AT_START", "false")
	t.Setenv("CONVERSATION_SYNC_CACHE_TTL", "PT2M")
	t.Setenv("CONVERSATION_SYNC_DB_CONNECT_TIMEOUT", "3s")
	t.Setenv("CONVERSATION_SYNC_MAX_BODY_SIZE", "2M")
	t.Setenv("CONVERSATION_SYNC_CORS_ENABLED", "true")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, "mongodb://db.example:27017", cfg.DBURL)
	require.False(t, cfg.DatastoreMigrateAtStart)
	require.Equal(t, 2*time.Minute, cfg.CacheTTL)
	require.Equal(t, 3*time.Second, cfg.DBConnectTimeout)
	require.Equal(t, int64(2*1024*1024), cfg.MaxBodySize)
	require.True(t, cfg.CORSEnabled)
}

func TestApplyEnv_FlagValueWinsOverMongoURI(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://from-env:27017")

	cfg := DefaultConfig()
	cfg.DBURL = "mongodb://from-flag:27017"
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, "mongodb://from-flag:27017", cfg.DBURL)
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("CONVERSATION_SYNC_CACHE_TTL", "soon")

	cfg := DefaultConfig()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CONVERSATION_SYNC_CACHE_TTL")
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("PT1H30M")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	d, err = parseDuration("45s")
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, d)

	_, err = parseDuration("P1D")
	require.Error(t, err)
}
