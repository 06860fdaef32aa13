package server

import (
	"context"

	"github.com/abduss/bitbeats/internal/config"
	"github.com/abduss/bitbeats/internal/identity"
	"github.com/abduss/bitbeats/internal/logger"
	"github.com/abduss/bitbeats/internal/metrics"
	"github.com/abduss/bitbeats/internal/storage"
	"github.com/abduss/bitbeats/internal/track"
	"github.com/gin-gonic/gin"
)

// multipartMemory bounds how much of an upload gin buffers before spilling to disk.
const multipartMemory = 8 << 20

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config       config.Config
	DB           pinger
	ObjectStore  storage.BucketChecker
	Metrics      *metrics.Metrics
	TrackService *track.Service
	// SwarmSessions reports the number of live seeding sessions for readiness output.
	SwarmSessions func() int
}

// NewRouter builds a Gin engine with foundational middleware and routes.
// Track routes are served both at the root and under /api.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = multipartMemory
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(deps.Metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath, deps.Metrics)

	if deps.TrackService != nil {
		resolver := identity.NewResolver(deps.Config.Identity)
		handlerCfg := track.HandlerConfig{
			Production:     deps.Config.Server.Production(),
			MaxUploadBytes: deps.Config.Server.MaxUploadBytes,
			Metrics:        deps.Metrics,
		}

		for _, prefix := range []string{"/", "/api"} {
			track.RegisterStreamRoutes(router.Group(prefix), deps.TrackService, handlerCfg)

			group := router.Group(prefix)
			group.Use(resolver.Middleware())
			track.RegisterRoutes(group, deps.TrackService, handlerCfg)
		}
	}

	return router
}
