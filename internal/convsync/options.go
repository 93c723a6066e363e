package convsync

import (
	"runtime"
	"strings"
	"time"

	"github.com/chirino/conversation-sync/internal/config"
)

// Options controls the sync client.
type Options struct {
	// ConnectionString is the configured store connection string. Sync is
	// disabled when it is empty.
	ConnectionString string
	// ServerSide is false when running as a browser (WASM) build, where sync
	// must stay disabled.
	ServerSide bool
	// Timeout bounds each remote call.
	Timeout time.Duration
	// Workers and QueueSize size the background save dispatcher.
	Workers   int
	QueueSize int
}

// DefaultOptions returns options for a server-side process with no
// connection string.
func DefaultOptions() Options {
	return Options{
		ServerSide: runtime.GOOS != "js",
		Timeout:    10 * time.Second,
		Workers:    2,
		QueueSize:  64,
	}
}

// OptionsFromConfig derives Options from the service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	opts.ConnectionString = strings.TrimSpace(cfg.DBURL)
	if cfg.SyncTimeout > 0 {
		opts.Timeout = cfg.SyncTimeout
	}
	if cfg.SyncWorkers > 0 {
		opts.Workers = cfg.SyncWorkers
	}
	if cfg.SyncQueueSize > 0 {
		opts.QueueSize = cfg.SyncQueueSize
	}
	return opts
}
