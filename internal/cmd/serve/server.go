package serve

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/plugin/route/conversations"
	routesystem "github.com/chirino/conversation-sync/internal/plugin/route/system"
	"github.com/chirino/conversation-sync/internal/plugin/store/cached"
	storemetrics "github.com/chirino/conversation-sync/internal/plugin/store/metrics"
	registrycache "github.com/chirino/conversation-sync/internal/registry/cache"
	registrymigrate "github.com/chirino/conversation-sync/internal/registry/migrate"
	registryroute "github.com/chirino/conversation-sync/internal/registry/route"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/chirino/conversation-sync/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// readinessProbeID is looked up by /ready to check that the store answers.
const readinessProbeID = "__readiness_probe__"

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ConversationStore
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
	closers         []func(context.Context) error
}

// Shutdown stops accepting traffic, drains in-flight requests and releases
// the store and cache connections.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	for _, c := range s.closers {
		if cerr := c(ctx); cerr != nil {
			log.Warn("Failed to release resource", "err", cerr)
		}
	}
	return err
}

// StartServer initializes the store, cache and routes and starts listening.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting conversation sync service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
	)

	metricsLabels, err := telemetry.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	telemetry.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	srv := &Server{Config: cfg}
	store, err := openStore(ctx, cfg, srv)
	if err != nil {
		srv.release(ctx)
		return nil, err
	}
	srv.Store = store

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(telemetry.AccessLogMiddleware())
	} else {
		router.Use(telemetry.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(telemetry.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}
	srv.Router = router

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			srv.release(ctx)
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	conversations.MountRoutes(router, store, cfg.APIPrefix)

	srv.closeManagement, err = mountManagement(cfg, router)
	if err != nil {
		srv.release(ctx)
		return nil, err
	}

	running, err := StartSinglePort("http", cfg.Listener, router)
	if err != nil {
		if srv.closeManagement != nil {
			_ = srv.closeManagement(ctx)
		}
		srv.release(ctx)
		return nil, err
	}
	srv.Running = running

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
		"prefix", cfg.APIPrefix,
	)

	routesystem.SetReadinessCheck(func(ctx context.Context) error {
		_, err := store.GetByID(ctx, readinessProbeID)
		return err
	})
	routesystem.MarkReady()
	return srv, nil
}

// openStore builds the store chain: backend, then metrics, then the optional
// read-through cache. Resources to release on shutdown are recorded on srv.
func openStore(ctx context.Context, cfg *config.Config, srv *Server) (registrystore.ConversationStore, error) {
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	base, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if closer, ok := base.(registrystore.Closer); ok {
		srv.closers = append(srv.closers, closer.Close)
	}
	store := storemetrics.Wrap(base)

	if cfg.CacheType == "" || cfg.CacheType == "none" {
		return store, nil
	}
	cacheLoader, err := registrycache.Select(cfg.CacheType)
	if err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
		return store, nil
	}
	cache, err := cacheLoader(ctx)
	if err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		return store, nil
	}
	if closer, ok := cache.(io.Closer); ok {
		srv.closers = append(srv.closers, func(context.Context) error { return closer.Close() })
	}
	return cached.Wrap(store, cache, cfg.CacheTTL), nil
}

func (s *Server) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, c := range s.closers {
		_ = c(ctx)
	}
	s.closers = nil
}
