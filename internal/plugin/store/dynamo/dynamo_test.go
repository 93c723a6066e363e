package dynamo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/plugin/store/dynamo"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/chirino/conversation-sync/internal/registry/store/storetest"
	"github.com/chirino/conversation-sync/internal/testutil/testdynamo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, endpoint string) (registrystore.ConversationStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "dynamodb"
	cfg.DynamoDBEndpoint = endpoint
	cfg.DynamoDBTable = "conversations_" + uuid.NewString()[:8]
	ctx := config.WithContext(context.Background(), &cfg)

	_ = dynamo.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("dynamodb")
	require.NoError(t, err)
	s, err := loader(ctx)
	require.NoError(t, err)
	return s, ctx
}

func TestDynamoStore(t *testing.T) {
	endpoint := testdynamo.StartDynamoDB(t)
	storetest.Run(t, func(t *testing.T) (registrystore.ConversationStore, context.Context) {
		return setupTestStore(t, endpoint)
	})
}

func TestNewClientRequiresTable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DynamoDBTable = ""
	_, err := dynamo.NewClient(context.Background(), &cfg)
	var cfgErr *registrystore.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}
