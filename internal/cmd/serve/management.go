package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/config"
	registryroute "github.com/chirino/conversation-sync/internal/registry/route"
	"github.com/chirino/conversation-sync/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// mountManagement mounts the management route plugins. With a dedicated
// management port they get their own engine and listener; otherwise they share
// the main router. The returned function stops the dedicated listener and is
// nil when there is none.
func mountManagement(cfg *config.Config, main *gin.Engine) (func(context.Context) error, error) {
	if !cfg.ManagementListenerEnabled {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(main); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		return nil, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(telemetry.AccessLogMiddleware())
	}
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// The management listener shares TLS cert/key with the main listener.
	lcfg := cfg.ManagementListener
	lcfg.TLSCertFile = cfg.Listener.TLSCertFile
	lcfg.TLSKeyFile = cfg.Listener.TLSKeyFile
	if !lcfg.EnablePlainText && !lcfg.EnableTLS {
		lcfg.EnablePlainText = true
	}
	if lcfg.ReadHeaderTimeout == 0 {
		lcfg.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
	}

	running, err := StartSinglePort("management", lcfg, router)
	if err != nil {
		return nil, fmt.Errorf("failed to start management server: %w", err)
	}
	log.Info("Management server listening", "addr", running.Addr)
	return running.Close, nil
}
