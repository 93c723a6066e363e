package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/model"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the single collection every operation works on.
const CollectionName = "conversations"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			cfg := config.FromContext(ctx)
			opts := connectorOptions(cfg)
			if cfg != nil && cfg.DatastoreMigrateAtStart {
				opts.OnConnect = EnsureIndexes
			}
			// Connecting is deferred to the first operation.
			return New(NewConnector(opts)), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func connectorOptions(cfg *config.Config) ConnectorOptions {
	if cfg == nil {
		return ConnectorOptions{}
	}
	opts := ConnectorOptions{
		URI:            cfg.DBURL,
		Database:       cfg.DBName,
		ConnectTimeout: cfg.DBConnectTimeout,
	}
	if cfg.DBMaxOpenConns > 0 {
		opts.MaxPoolSize = uint64(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		opts.MinPoolSize = uint64(cfg.DBMaxIdleConns)
	}
	return opts
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil // skip if not using mongo
	}
	if !cfg.DatastoreMigrateEager {
		log.Debug("Deferring migration to first connection", "name", m.Name())
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	conn := NewConnector(connectorOptions(cfg))
	defer func() {
		if err := conn.Release(context.Background()); err != nil {
			log.Warn("Failed to release migration connection", "err", err)
		}
	}()
	db, err := conn.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("mongo migration: %w", err)
	}
	return EnsureIndexes(ctx, db)
}

// EnsureIndexes creates the unique threadId index and the updatedAt sort index.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "threadId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_thread_id"),
		},
		{
			Keys:    bson.D{{Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("updated_at_desc"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo migration: failed to create indexes on %s: %w", CollectionName, err)
	}
	return nil
}

// MongoStore implements store.ConversationStore on a single MongoDB collection.
type MongoStore struct {
	conn *Connector
	now  func() time.Time
}

// New returns a store that acquires its database handle from conn.
func New(conn *Connector) *MongoStore {
	return &MongoStore{conn: conn, now: time.Now}
}

// Close releases the underlying connection.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.conn.Release(ctx)
}

func (s *MongoStore) collection(ctx context.Context) (*mongo.Collection, error) {
	db, err := s.conn.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(CollectionName), nil
}

func (s *MongoStore) ListAll(ctx context.Context) ([]model.Conversation, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetProjection(bson.M{"_id": 0})
	cur, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, registrystore.WrapStorage("list conversations", err)
	}
	convs := []model.Conversation{}
	if err := cur.All(ctx, &convs); err != nil {
		return nil, registrystore.WrapStorage("decode conversations", err)
	}
	for i := range convs {
		normalize(&convs[i])
	}
	return convs, nil
}

func (s *MongoStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	var conv model.Conversation
	err = coll.FindOne(ctx, bson.M{"threadId": threadID}, options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, registrystore.WrapStorage("get conversation", err)
	}
	normalize(&conv)
	return &conv, nil
}

func (s *MongoStore) Upsert(ctx context.Context, threadID string, title string, messages []model.Message) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []model.Message{}
	}
	now := s.now().UTC()
	update := bson.M{
		"$set": bson.M{
			"title":     title,
			"messages":  messages,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"createdAt": now,
		},
	}
	opts := options.UpdateOne().SetUpsert(true)
	_, err = coll.UpdateOne(ctx, bson.M{"threadId": threadID}, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Lost a concurrent first insert; the document exists now, so the
		// retry takes the update path.
		_, err = coll.UpdateOne(ctx, bson.M{"threadId": threadID}, update, opts)
	}
	if err != nil {
		return registrystore.WrapStorage("upsert conversation", err)
	}
	return nil
}

func (s *MongoStore) DeleteByID(ctx context.Context, threadID string) (bool, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return false, err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"threadId": threadID})
	if err != nil {
		return false, registrystore.WrapStorage("delete conversation", err)
	}
	return res.DeletedCount > 0, nil
}

func normalize(c *model.Conversation) {
	if c.Messages == nil {
		c.Messages = []model.Message{}
	}
}
