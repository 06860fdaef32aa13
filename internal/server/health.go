package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/abduss/bitbeats/internal/storage"
	"github.com/gin-gonic/gin"
)

const readinessTimeout = 5 * time.Second

func registerHealthRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				degraded(c, "postgres", err)
				return
			}
		}

		if deps.ObjectStore != nil {
			if err := checkMinIO(ctx, deps); err != nil {
				degraded(c, "minio", err)
				return
			}
		}

		body := gin.H{"status": "ok"}
		if deps.SwarmSessions != nil {
			body["swarmSessions"] = deps.SwarmSessions()
		}
		c.JSON(http.StatusOK, body)
	})
}

func degraded(c *gin.Context, component string, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status":    "degraded",
		"component": component,
		"error":     err.Error(),
	})
}

func checkMinIO(ctx context.Context, deps Dependencies) error {
	exists, err := storage.CheckBucket(ctx, deps.ObjectStore, deps.Config.MinIO.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", deps.Config.MinIO.Bucket)
	}
	return nil
}
