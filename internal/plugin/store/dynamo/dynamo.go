package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/model"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
)

const (
	attrThreadID  = "threadId"
	attrTitle     = "title"
	attrMessages  = "messages"
	attrCreatedAt = "createdAt"
	attrUpdatedAt = "updatedAt"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "dynamodb",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			cfg := config.FromContext(ctx)
			client, err := NewClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			s := New(client, cfg.DynamoDBTable)
			if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
				return nil, &registrystore.ConnectionError{Backend: "dynamodb", Err: err}
			}
			return s, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &dynamoMigrator{}})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// NewClient builds a DynamoDB client from cfg. When an endpoint override is
// set (DynamoDB Local) static dummy credentials are used.
func NewClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	if cfg == nil {
		return nil, &registrystore.ConfigurationError{Setting: "CONVERSATION_SYNC_DYNAMODB_TABLE"}
	}
	if cfg.DynamoDBTable == "" {
		return nil, &registrystore.ConfigurationError{Setting: "CONVERSATION_SYNC_DYNAMODB_TABLE"}
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.DynamoDBRegion),
	}
	if cfg.DynamoDBEndpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &registrystore.ConnectionError{Backend: "dynamodb", Err: err}
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	}), nil
}

type dynamoMigrator struct{}

func (m *dynamoMigrator) Name() string { return "dynamodb-table" }
func (m *dynamoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "dynamodb" {
		return nil // skip if not using dynamodb
	}

	log.Info("Running migration", "name", m.Name(), "table", cfg.DynamoDBTable)
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dynamodb migration: %w", err)
	}
	return EnsureTable(ctx, client, cfg.DynamoDBTable)
}

// EnsureTable creates the conversations table keyed by threadId when it does
// not exist yet and waits for it to become active.
func EnsureTable(ctx context.Context, client *dynamodb.Client, table string) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("dynamodb migration: describe %s: %w", table, err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrThreadID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrThreadID), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("dynamodb migration: create %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("dynamodb migration: wait for %s: %w", table, err)
	}
	log.Info("DynamoDB table ready", "table", table)
	return nil
}

// DynamoStore implements store.ConversationStore on a DynamoDB table whose
// partition key is threadId. Messages are stored as a JSON string attribute.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
	now    func() time.Time
}

// New returns a store backed by the given table.
func New(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

func (s *DynamoStore) ListAll(ctx context.Context) ([]model.Conversation, error) {
	convs := []model.Conversation{}
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, registrystore.WrapStorage("list conversations", err)
		}
		for _, item := range page.Items {
			conv, err := decode(item)
			if err != nil {
				return nil, registrystore.WrapStorage("list conversations", err)
			}
			convs = append(convs, conv)
		}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (s *DynamoStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(threadID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, registrystore.WrapStorage("get conversation", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	conv, err := decode(out.Item)
	if err != nil {
		return nil, registrystore.WrapStorage("get conversation", err)
	}
	return &conv, nil
}

func (s *DynamoStore) Upsert(ctx context.Context, threadID string, title string, messages []model.Message) error {
	if messages == nil {
		messages = []model.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return registrystore.WrapStorage("encode messages", err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              key(threadID),
		UpdateExpression: aws.String("SET #title = :title, #messages = :messages, #updatedAt = :now, #createdAt = if_not_exists(#createdAt, :now)"),
		ExpressionAttributeNames: map[string]string{
			"#title":     attrTitle,
			"#messages":  attrMessages,
			"#updatedAt": attrUpdatedAt,
			"#createdAt": attrCreatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":title":    &types.AttributeValueMemberS{Value: title},
			":messages": &types.AttributeValueMemberS{Value: string(data)},
			":now":      &types.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return registrystore.WrapStorage("upsert conversation", err)
	}
	return nil
}

func (s *DynamoStore) DeleteByID(ctx context.Context, threadID string) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          key(threadID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, registrystore.WrapStorage("delete conversation", err)
	}
	return len(out.Attributes) > 0, nil
}

func key(threadID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrThreadID: &types.AttributeValueMemberS{Value: threadID},
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func timeAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	raw := stringAttr(item, name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return t, nil
}

func decode(item map[string]types.AttributeValue) (model.Conversation, error) {
	conv := model.Conversation{
		ThreadID: stringAttr(item, attrThreadID),
		Title:    stringAttr(item, attrTitle),
		Messages: []model.Message{},
	}
	if raw := stringAttr(item, attrMessages); raw != "" {
		if err := json.Unmarshal([]byte(raw), &conv.Messages); err != nil {
			return conv, fmt.Errorf("decode messages for %s: %w", conv.ThreadID, err)
		}
	}
	var err error
	if conv.CreatedAt, err = timeAttr(item, attrCreatedAt); err != nil {
		return conv, err
	}
	if conv.UpdatedAt, err = timeAttr(item, attrUpdatedAt); err != nil {
		return conv, err
	}
	return conv, nil
}
