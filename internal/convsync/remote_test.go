package convsync_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/convsync"
	"github.com/chirino/conversation-sync/internal/model"
	"github.com/chirino/conversation-sync/internal/plugin/route/conversations"
	"github.com/chirino/conversation-sync/internal/plugin/store/memory"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	conversations.MountRoutes(r, memory.New(), "/api")
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHTTPRemote(t *testing.T) {
	remote := convsync.NewHTTPRemote(startServer(t), "api", 5*time.Second)
	ctx := context.Background()

	convs, err := remote.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conv := convsync.FromLocalFormat(model.Thread{ID: "t1", Title: "Greetings", CreatedAt: ts}, []model.Item{
		{ID: "a", Query: "Hello", CreatedAt: ts.Add(time.Second)},
		{ID: "b", Answer: &model.Answer{Text: "Hi there"}, CreatedAt: ts.Add(2 * time.Second)},
	})
	require.NoError(t, remote.Upsert(ctx, conv))

	convs, err = remote.List(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "t1", convs[0].ThreadID)
	assert.Equal(t, "Greetings", convs[0].Title)
	assert.Equal(t, conv.Messages, convs[0].Messages)

	require.NoError(t, remote.Delete(ctx, "t1"))

	err = remote.Delete(ctx, "t1")
	var remoteErr *convsync.RemoteError
	require.True(t, errors.As(err, &remoteErr), "got %T: %v", err, err)
	assert.True(t, remoteErr.NotFound())
	assert.Equal(t, conversations.ErrNotFound, remoteErr.Message)
}

func TestHTTPRemoteRejectedSave(t *testing.T) {
	remote := convsync.NewHTTPRemote(startServer(t), "/api", 5*time.Second)

	err := remote.Upsert(context.Background(), model.Conversation{Title: "no id", Messages: []model.Message{}})
	var remoteErr *convsync.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, 400, remoteErr.Status)
	assert.Equal(t, conversations.ErrMissingFields, remoteErr.Message)
}

func TestHTTPRemoteUnreachable(t *testing.T) {
	remote := convsync.NewHTTPRemote("http://127.0.0.1:1", "/api", 500*time.Millisecond)
	_, err := remote.List(context.Background())
	require.Error(t, err)
	var remoteErr *convsync.RemoteError
	assert.False(t, errors.As(err, &remoteErr))
}

func TestStoreRemote(t *testing.T) {
	remote := convsync.StoreRemote{Store: memory.New()}
	ctx := context.Background()

	require.NoError(t, remote.Upsert(ctx, model.Conversation{ThreadID: "t1", Messages: []model.Message{}}))
	convs, err := remote.List(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, model.DefaultTitle, convs[0].Title)

	require.NoError(t, remote.Delete(ctx, "t1"))
	err = remote.Delete(ctx, "t1")
	var nf *registrystore.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestServiceOverHTTP(t *testing.T) {
	remote := convsync.NewHTTPRemote(startServer(t), "/api", 5*time.Second)
	opts := convsync.DefaultOptions()
	opts.ServerSide = true
	opts.ConnectionString = "mongodb://localhost:27017"
	svc := convsync.NewService(remote, opts)
	ctx := context.Background()

	svc.Save(ctx, model.Thread{ID: "t1", Title: "Hi"}, []model.Item{{ID: "a", Query: "Hello"}})
	require.True(t, svc.SaveInBackground(model.Thread{ID: "t2", Title: "Later"}, nil))
	require.NoError(t, svc.Close(ctx))

	convs := svc.Load(ctx)
	require.Len(t, convs, 2)

	svc.Delete(ctx, "t1")
	svc.Delete(ctx, "missing")
	convs = svc.Load(ctx)
	require.Len(t, convs, 1)
	assert.Equal(t, "t2", convs[0].ThreadID)
}
