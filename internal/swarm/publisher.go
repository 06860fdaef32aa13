package swarm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/abduss/bitbeats/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Item is a stored track eligible for seeding.
type Item struct {
	TrackID    int64
	Title      string
	FilePath   string
	UploadedAt time.Time
}

// Publication is what a successful seed yields for the track record.
type Publication struct {
	InfoHash    string
	Locator     string
	FallbackURL string
}

// Catalog supplies tracks to restore and persists refreshed locators.
type Catalog interface {
	SeedCandidates(ctx context.Context, since time.Time) ([]Item, error)
	RecordPublication(ctx context.Context, trackID int64, pub Publication) error
}

// RestoreReport summarises a RestoreAll run.
type RestoreReport struct {
	Restored int
	Skipped  int
	Failed   int
}

// Options configures a Publisher.
type Options struct {
	Trackers       []string
	PublicBaseURL  string
	Retention      time.Duration
	SeedTimeout    time.Duration
	RestoreWorkers int
	Now            func() time.Time
}

// Publisher seeds stored tracks and keeps the session registry in sync with the engine.
type Publisher struct {
	engine   Engine
	registry *Registry
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewPublisher wires an engine to a registry.
func NewPublisher(engine Engine, registry *Registry, opts Options, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RestoreWorkers < 1 {
		opts.RestoreWorkers = 1
	}
	return &Publisher{engine: engine, registry: registry, opts: opts, logger: logger, metrics: m}
}

// Registry exposes the session registry.
func (p *Publisher) Registry() *Registry {
	return p.registry
}

// FallbackURL is the HTTP web seed announced for a track.
func (p *Publisher) FallbackURL(trackID int64) string {
	return p.opts.PublicBaseURL + "/stream/" + strconv.FormatInt(trackID, 10)
}

// StartSeeding publishes a stored track. A track already being seeded gets its session replaced.
func (p *Publisher) StartSeeding(ctx context.Context, item Item) (Publication, error) {
	if _, err := os.Stat(item.FilePath); err != nil {
		p.metrics.SeedFailed()
		if errors.Is(err, fs.ErrNotExist) {
			return Publication{}, fmt.Errorf("%w: %w: %s", ErrSeedFailed, ErrFileMissing, item.FilePath)
		}
		return Publication{}, fmt.Errorf("%w: %w", ErrSeedFailed, err)
	}

	if p.opts.SeedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.SeedTimeout)
		defer cancel()
	}

	fallback := p.FallbackURL(item.TrackID)
	result, err := p.engine.Seed(ctx, SeedRequest{
		FilePath:    item.FilePath,
		DisplayName: item.Title,
		Trackers:    p.opts.Trackers,
		WebSeeds:    []string{fallback},
	})
	if err != nil {
		p.metrics.SeedFailed()
		return Publication{}, fmt.Errorf("%w: %w", ErrSeedFailed, err)
	}

	session := Session{
		TrackID:     item.TrackID,
		InfoHash:    result.InfoHash,
		FilePath:    item.FilePath,
		Locator:     result.Locator,
		FallbackURL: fallback,
		UploadedAt:  item.UploadedAt,
		StartedAt:   p.opts.Now(),
	}
	if previous, replaced := p.registry.Register(session); replaced {
		if err := p.engine.Drop(previous.InfoHash); err != nil {
			p.logger.Warn("drop replaced session", zap.Int64("track_id", item.TrackID), zap.Error(err))
		}
	}
	p.metrics.SetSwarmSessions(p.registry.Len())

	p.logger.Info("seeding track",
		zap.Int64("track_id", item.TrackID),
		zap.String("info_hash", result.InfoHash),
	)
	return Publication{InfoHash: result.InfoHash, Locator: result.Locator, FallbackURL: fallback}, nil
}

// StopSeeding ends the track's session. Stopping an unknown track is a no-op.
func (p *Publisher) StopSeeding(trackID int64) error {
	session, ok := p.registry.UnregisterTrack(trackID)
	if !ok {
		return nil
	}
	p.metrics.SetSwarmSessions(p.registry.Len())

	if err := p.engine.Drop(session.InfoHash); err != nil {
		return fmt.Errorf("drop session %s: %w", session.InfoHash, err)
	}
	return nil
}

// RestoreAll re-seeds every track uploaded inside the retention window.
// Per-track failures are logged and counted; only a catalog error aborts.
func (p *Publisher) RestoreAll(ctx context.Context, catalog Catalog) (RestoreReport, error) {
	now := p.opts.Now()
	items, err := catalog.SeedCandidates(ctx, now.Add(-p.opts.Retention))
	if err != nil {
		return RestoreReport{}, fmt.Errorf("list seed candidates: %w", err)
	}

	var (
		mu     sync.Mutex
		report RestoreReport
		g      errgroup.Group
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}
	g.SetLimit(p.opts.RestoreWorkers)

	for _, item := range items {
		item := item
		if p.expired(item.UploadedAt, now) {
			count(&report.Skipped)
			continue
		}
		if _, running := p.registry.LookupTrack(item.TrackID); running {
			count(&report.Skipped)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			pub, err := p.StartSeeding(ctx, item)
			switch {
			case errors.Is(err, ErrFileMissing):
				p.logger.Warn("restore skipped missing file", zap.Int64("track_id", item.TrackID), zap.String("path", item.FilePath))
				count(&report.Skipped)
				return nil
			case err != nil:
				p.logger.Error("restore seeding failed", zap.Int64("track_id", item.TrackID), zap.Error(err))
				count(&report.Failed)
				return nil
			}

			if err := catalog.RecordPublication(ctx, item.TrackID, pub); err != nil {
				p.logger.Warn("record restored locator", zap.Int64("track_id", item.TrackID), zap.Error(err))
			}
			count(&report.Restored)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("swarm restore finished",
		zap.Int("restored", report.Restored),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, ctx.Err()
}

// PruneExpired ends every session whose track is older than the retention window.
// Track records and files are left alone.
func (p *Publisher) PruneExpired(now time.Time) []Session {
	var pruned []Session
	for _, session := range p.registry.Snapshot() {
		if !p.expired(session.UploadedAt, now) {
			continue
		}
		if _, ok := p.registry.Unregister(session.InfoHash); !ok {
			continue
		}
		if err := p.engine.Drop(session.InfoHash); err != nil {
			p.logger.Warn("drop expired session", zap.Int64("track_id", session.TrackID), zap.Error(err))
		}
		pruned = append(pruned, session)
	}

	p.metrics.Pruned(len(pruned))
	p.metrics.SetSwarmSessions(p.registry.Len())
	return pruned
}

// Close ends all sessions and shuts the engine down.
func (p *Publisher) Close() error {
	sessions := p.registry.Clear()
	p.metrics.SetSwarmSessions(0)
	p.logger.Info("closing swarm publisher", zap.Int("sessions", len(sessions)))
	return p.engine.Close()
}

func (p *Publisher) expired(uploadedAt, now time.Time) bool {
	return now.Sub(uploadedAt) > p.opts.Retention
}
