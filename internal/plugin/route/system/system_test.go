package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSystemRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, Mount(r))
	t.Cleanup(func() {
		MarkNotReady()
		SetReadinessCheck(nil)
	})

	require.Equal(t, http.StatusOK, get(r, "/health").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(r, "/ready").Code)

	MarkReady()
	require.Equal(t, http.StatusOK, get(r, "/ready").Code)

	SetReadinessCheck(func(context.Context) error { return errors.New("store down") })
	w := get(r, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "store down")

	require.Equal(t, http.StatusOK, get(r, "/metrics").Code)
}
