package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/bitbeats/internal/config"
	"github.com/abduss/bitbeats/internal/dedup"
	"github.com/abduss/bitbeats/internal/metrics"
	"github.com/abduss/bitbeats/internal/mirror"
	"github.com/abduss/bitbeats/internal/quota"
	"github.com/abduss/bitbeats/internal/server"
	"github.com/abduss/bitbeats/internal/storage"
	"github.com/abduss/bitbeats/internal/swarm"
	"github.com/abduss/bitbeats/internal/track"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BitBeats HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Server.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbPool.Close()

	m := metrics.New(nil)

	deps := server.Dependencies{Config: cfg, DB: dbPool, Metrics: m}

	var archive *mirror.Mirror
	if cfg.MinIO.Enabled {
		minioClient, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("connect minio: %w", err)
		}
		if err := storage.EnsureBucket(ctx, minioClient, cfg.MinIO); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		archive = mirror.New(minioClient, cfg.MinIO.Bucket, cfg.MinIO.PresignTTL)
		deps.ObjectStore = minioClient
	}

	quotaManager, err := quota.NewManager(quota.NewRepository(dbPool), cfg.Storage.UploadDir, cfg.Storage.QuotaBytes, log.Named("quota"))
	if err != nil {
		return err
	}
	log.Info("storage quota",
		zap.String("upload_dir", cfg.Storage.UploadDir),
		zap.String("per_user_limit", humanize.IBytes(uint64(quotaManager.Limit()))),
	)

	trackRepo := track.NewRepository(dbPool)
	trackDeps := track.Deps{
		Repo:   trackRepo,
		Quota:  quotaManager,
		Dedup:  dedup.New(trackRepo, log.Named("dedup")),
		Mirror: archive,
		EnsureSchema: func(ctx context.Context) error {
			return storage.EnsureSchema(ctx, dbPool)
		},
		Logger:  log.Named("track"),
		Metrics: m,
	}

	var publisher *swarm.Publisher
	if cfg.Swarm.Enabled {
		engine, err := swarm.NewTorrentEngine(swarm.TorrentConfig{
			DataDir:    cfg.Swarm.DataDir,
			ListenPort: cfg.Swarm.ListenPort,
		}, log.Named("torrent"))
		if err != nil {
			return fmt.Errorf("start swarm engine: %w", err)
		}
		publisher = swarm.NewPublisher(engine, swarm.NewRegistry(), swarm.Options{
			Trackers:       cfg.Swarm.Trackers,
			PublicBaseURL:  cfg.Swarm.PublicBaseURL,
			Retention:      cfg.Swarm.RetentionWindow,
			SeedTimeout:    cfg.Swarm.SeedTimeout,
			RestoreWorkers: cfg.Swarm.RestoreWorkers,
		}, log.Named("swarm"), m)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("close swarm publisher", zap.Error(err))
			}
		}()
		trackDeps.Publisher = publisher
		deps.SwarmSessions = publisher.Registry().Len
	}

	trackService := track.NewService(trackDeps, track.Options{
		TempDir:           cfg.Storage.TempDir,
		SeedFailurePolicy: cfg.Swarm.SeedFailurePolicy,
	})
	deps.TrackService = trackService

	if publisher != nil {
		go func() {
			if _, err := publisher.RestoreAll(ctx, trackService); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("restore swarm sessions", zap.Error(err))
			}
		}()
		go swarm.NewPruner(publisher, cfg.Swarm.PruneInterval, log.Named("pruner")).Run(ctx)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      server.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("BitBeats API listening",
			zap.String("addr", cfg.Server.Address()),
			zap.Bool("swarm", cfg.Swarm.Enabled),
			zap.Bool("mirror", archive.Enabled()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
