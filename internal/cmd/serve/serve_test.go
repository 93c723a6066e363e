package serve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("enforces the limit", func(t *testing.T) {
		router := gin.New()
		router.Use(maxBodySizeMiddleware(4))
		router.POST("/api/conversations", readBodyLengthHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader("0123456789"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("zero disables the limit", func(t *testing.T) {
		router := gin.New()
		router.Use(maxBodySizeMiddleware(0))
		router.POST("/api/conversations", readBodyLengthHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader("0123456789"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "10", rec.Body.String())
	})
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func TestStartServerWithMemoryStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "memory"
	cfg.CacheType = "local"
	cfg.Listener.Port = 0
	ctx := config.WithContext(context.Background(), &cfg)

	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"threadId":"t1","title":"Hello","messages":[{"role":"user","content":"Hello"}]}`
	resp, err = client.Post(base+"/api/conversations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(base + "/api/conversations/t1")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(data), `"threadId":"t1"`)

	resp, err = client.Get(base + "/metrics")
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(data), "conversation_sync_store_latency_seconds")
}

func TestStartServerWithManagementPort(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "memory"
	cfg.Listener.Port = 0
	cfg.ManagementListener.Port = 0
	cfg.ManagementListenerEnabled = true
	ctx := config.WithContext(context.Background(), &cfg)

	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	// Management routes are not served on the main port.
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", srv.Running.Port))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartServerUnknownStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "nope"
	cfg.Listener.Port = 0
	ctx := config.WithContext(context.Background(), &cfg)

	_, err := StartServer(ctx, &cfg)
	require.Error(t, err)
}

func TestStartServerWithoutMongoURI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DBURL = ""
	cfg.Listener.Port = 0
	ctx := config.WithContext(context.Background(), &cfg)

	// The mongo store connects on first use, so a missing URI does not stop
	// the server from starting.
	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/conversations", srv.Running.Port))
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.JSONEq(t, `{"error":"Failed to fetch conversations"}`, string(data))
}
