package testdynamo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartDynamoDB starts a disposable DynamoDB Local container and returns its
// endpoint URL. The test is skipped under -short.
func StartDynamoDB(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping DynamoDB Local container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			ExposedPorts: []string{"8000/tcp"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start dynamodb-local container: %v", err)
	}

	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate dynamodb-local container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		tb.Fatalf("get dynamodb-local host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, "8000")
	if err != nil {
		tb.Fatalf("get dynamodb-local mapped port: %v", err)
	}

	return fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
}
