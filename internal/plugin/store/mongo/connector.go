package mongo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "llmchat"

// ConnectorOptions configures a Connector.
type ConnectorOptions struct {
	// URI is the MongoDB connection string. It is read at Acquire time, so an
	// empty value only fails when the connector is actually used.
	URI            string
	Database       string
	MaxPoolSize    uint64
	MinPoolSize    uint64
	ConnectTimeout time.Duration

	// OnConnect runs after the first successful connection. A failure is
	// logged and retried on the next connection; it does not fail Acquire.
	OnConnect func(ctx context.Context, db *mongo.Database) error
}

// Connector owns a lazily created MongoDB client. Acquire returns the same
// database handle until Release is called.
type Connector struct {
	opts ConnectorOptions

	mu       sync.Mutex
	client   *mongo.Client
	db       *mongo.Database
	prepared bool
}

// NewConnector returns a Connector that has not connected yet.
func NewConnector(opts ConnectorOptions) *Connector {
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	return &Connector{opts: opts}
}

// Acquire returns the memoized database handle, connecting and pinging on
// first use. It returns a *store.ConfigurationError when no URI is set and a
// *store.ConnectionError when the server cannot be reached. Failed attempts
// are not cached, so the next call tries again.
func (c *Connector) Acquire(ctx context.Context) (*mongo.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}
	if strings.TrimSpace(c.opts.URI) == "" {
		return nil, &registrystore.ConfigurationError{Setting: "MONGODB_URI"}
	}

	clientOpts := options.Client().ApplyURI(c.opts.URI)
	if c.opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(c.opts.MaxPoolSize)
	}
	if c.opts.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(c.opts.MinPoolSize)
	}
	if c.opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(c.opts.ConnectTimeout)
		clientOpts.SetServerSelectionTimeout(c.opts.ConnectTimeout)
	}

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, &registrystore.ConnectionError{Backend: "mongo", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &registrystore.ConnectionError{Backend: "mongo", Err: err}
	}

	log.Info("Connected to MongoDB", "database", c.opts.Database)
	c.client = client
	c.db = client.Database(c.opts.Database)

	if c.opts.OnConnect != nil && !c.prepared {
		if err := c.opts.OnConnect(ctx, c.db); err != nil {
			log.Warn("MongoDB connect hook failed", "database", c.opts.Database, "err", err)
		} else {
			c.prepared = true
		}
	}
	return c.db, nil
}

// Release disconnects the client and clears the memoized handle. Calling it
// on a connector that is not connected is a no-op.
func (c *Connector) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	c.db = nil
	if err != nil {
		return &registrystore.ConnectionError{Backend: "mongo", Err: err}
	}
	log.Info("Disconnected from MongoDB")
	return nil
}

// Connected reports whether a handle is currently memoized.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}
