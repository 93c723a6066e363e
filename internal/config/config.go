package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the conversation sync service.
type Config struct {
	// Database connection string. Empty disables the sync client and makes the
	// store connector fail with a configuration error on first use.
	DBURL string

	// Database (mongo) or table prefix name.
	DBName string

	// Datastore backend type: "mongo", "postgres", "sqlite", "dynamodb" or "memory".
	DatastoreType string

	// Run datastore migrations (index/table bootstrap) on startup.
	DatastoreMigrateAtStart bool

	// Connect and migrate immediately, even for stores that otherwise bootstrap
	// their schema on first connection. Set by the migrate command.
	DatastoreMigrateEager bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// How long to wait for the initial connection and ping.
	DBConnectTimeout time.Duration

	// DynamoDB
	DynamoDBTable    string
	DynamoDBRegion   string
	DynamoDBEndpoint string

	// Cache backend type: "none", "redis" or "local".
	CacheType string

	// Redis
	RedisURL string

	// How long a conversation stays cached after a read.
	CacheTTL time.Duration

	// Maximum number of conversations held by the local cache.
	LocalCacheMaxEntries int64

	// APIPrefix is the path prefix the conversation routes are mounted under.
	APIPrefix string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or CONVERSATION_SYNC_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// Sync client
	SyncServerURL string
	SyncTimeout   time.Duration
	SyncWorkers   int
	SyncQueueSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBName:                  "llmchat",
		DatastoreType:           "mongo",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		DBConnectTimeout:        10 * time.Second,
		DynamoDBTable:           "conversations",
		DynamoDBRegion:          "us-east-1",
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		LocalCacheMaxEntries:    10_000,
		APIPrefix:               "/api",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		MetricsLabels: "service=conversation-sync",
		MaxBodySize:   10 * 1024 * 1024,
		DrainTimeout:  30,
		SyncServerURL: "http://localhost:8080",
		SyncTimeout:   10 * time.Second,
		SyncWorkers:   2,
		SyncQueueSize: 64,
	}
}

// SyncConfigured reports whether a connection string is present, which is the
// configuration half of the sync client's enable gate.
func (c *Config) SyncConfigured() bool {
	return c != nil && strings.TrimSpace(c.DBURL) != ""
}
