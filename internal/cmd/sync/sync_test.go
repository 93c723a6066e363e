package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
	"github.com/chirino/conversation-sync/internal/plugin/route/conversations"
	"github.com/chirino/conversation-sync/internal/plugin/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func runApp(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := &cli.Command{
		Name:     "conversation-sync",
		Writer:   &out,
		Commands: []*cli.Command{Command()},
	}
	require.NoError(t, app.Run(context.Background(), append([]string{"conversation-sync", "sync"}, args...)))
	return out.String()
}

func TestSyncCommandAgainstServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	conversations.MountRoutes(r, memory.New(), "/api")
	srv := httptest.NewServer(r)
	defer srv.Close()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	local := LocalThread{
		Thread: model.Thread{ID: "t1", Title: "Greetings", CreatedAt: ts},
		Items: []model.Item{
			{ID: "b", Answer: &model.Answer{Text: "Hi there"}, CreatedAt: ts.Add(2 * time.Second)},
			{ID: "a", Query: "Hello", CreatedAt: ts.Add(time.Second)},
		},
	}
	data, err := json.Marshal(local)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "thread.json")
	require.NoError(t, os.WriteFile(file, data, 0o600))

	common := []string{"--server-url", srv.URL, "--db-url", "mongodb://localhost:27017"}

	runApp(t, append(common, "push", "--file", file)...)

	var convs []model.Conversation
	require.NoError(t, json.Unmarshal([]byte(runApp(t, append(common, "pull")...)), &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, "t1", convs[0].ThreadID)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "Hello", convs[0].Messages[0].Content)
	assert.Equal(t, "Hi there", convs[0].Messages[1].Content)

	var threads []LocalThread
	require.NoError(t, json.Unmarshal([]byte(runApp(t, append(common, "pull", "--local")...)), &threads))
	require.Len(t, threads, 1)
	require.Len(t, threads[0].Items, 2)
	require.NotNil(t, threads[0].Items[1].ParentID)
	assert.Equal(t, "a", *threads[0].Items[1].ParentID)

	runApp(t, append(common, "delete", "t1")...)
	require.NoError(t, json.Unmarshal([]byte(runApp(t, append(common, "pull")...)), &convs))
	assert.Empty(t, convs)
}

func TestSyncPullDisabledPrintsEmptyList(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("CONVERSATION_SYNC_DB_URL", "")
	out := runApp(t, "--server-url", "http://127.0.0.1:1", "pull")
	assert.JSONEq(t, "[]", out)
}

func TestReadLocalThreadRequiresID(t *testing.T) {
	_, err := readLocalThread("-", bytes.NewBufferString(`{"thread":{"title":"x"},"items":[]}`))
	require.Error(t, err)
}

func TestSyncPushDrainsQueuedSave(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.New()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		// Slow enough that an undrained background save would be lost.
		time.Sleep(200 * time.Millisecond)
		c.Next()
	})
	conversations.MountRoutes(r, store, "/api")
	srv := httptest.NewServer(r)
	defer srv.Close()

	data, err := json.Marshal(LocalThread{
		Thread: model.Thread{ID: "slow", CreatedAt: time.Now()},
		Items:  []model.Item{{ID: "a", Query: "Hello", CreatedAt: time.Now()}},
	})
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "thread.json")
	require.NoError(t, os.WriteFile(file, data, 0o600))

	runApp(t, "--server-url", srv.URL, "--db-url", "mongodb://localhost:27017", "push", "--file", file)

	conv, err := store.GetByID(context.Background(), "slow")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 1)
}
