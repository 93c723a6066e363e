package system

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/conversation-sync/internal/registry/route"
)

var (
	ready atomic.Bool

	checkMu sync.RWMutex
	check   func(ctx context.Context) error
)

// MarkReady signals that the service has finished initializing and is ready to
// serve traffic. Call this once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips readiness off, used while draining on shutdown.
func MarkNotReady() {
	ready.Store(false)
}

// SetReadinessCheck installs a probe run by /ready once the service is marked
// ready. A failing probe reports 503.
func SetReadinessCheck(fn func(ctx context.Context) error) {
	checkMu.Lock()
	defer checkMu.Unlock()
	check = fn
}

func readinessCheck() func(ctx context.Context) error {
	checkMu.RLock()
	defer checkMu.RUnlock()
	return check
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order:  0,
		Type:   registryroute.RouteTypeManagement,
		Loader: Mount,
	})
}

// Mount registers /health, /ready and /metrics on r.
func Mount(r *gin.Engine) error {
	// Liveness: process is up
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: service has finished initializing and its store answers
	r.GET("/ready", func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		if fn := readinessCheck(); fn != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := fn(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return nil
}
