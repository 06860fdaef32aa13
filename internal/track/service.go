package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abduss/bitbeats/internal/config"
	"github.com/abduss/bitbeats/internal/dedup"
	"github.com/abduss/bitbeats/internal/metrics"
	"github.com/abduss/bitbeats/internal/mirror"
	"github.com/abduss/bitbeats/internal/quota"
	"github.com/abduss/bitbeats/internal/storage"
	"github.com/abduss/bitbeats/internal/swarm"
	"github.com/abduss/bitbeats/internal/tags"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type trackStore interface {
	Create(ctx context.Context, t Track) (Track, error)
	Get(ctx context.Context, id int64) (Track, error)
	List(ctx context.Context) ([]Track, error)
	ListUploadedSince(ctx context.Context, since time.Time) ([]Track, error)
	UpdatePublication(ctx context.Context, id int64, locator, fallbackURL string) error
	Delete(ctx context.Context, id int64) (Track, error)
}

type quotaManager interface {
	Usage(ctx context.Context, userID uuid.UUID) (int64, error)
	CheckQuota(ctx context.Context, userID uuid.UUID, incoming int64) (bool, error)
	SaveFile(ctx context.Context, userID uuid.UUID, tempPath, originalName string) (quota.Placement, error)
	DeleteFile(ctx context.Context, userID uuid.UUID, path string, size int64) quota.FileRemoval
}

type deduplicator interface {
	Find(ctx context.Context, size int64, digest string) (dedup.Candidate, bool, error)
}

type publisher interface {
	StartSeeding(ctx context.Context, item swarm.Item) (swarm.Publication, error)
	StopSeeding(trackID int64) error
}

type archive interface {
	Enabled() bool
	PutFile(ctx context.Context, userID uuid.UUID, filePath, digest string) (string, error)
	Remove(ctx context.Context, userID uuid.UUID, filePath string) error
	PresignGet(ctx context.Context, userID uuid.UUID, filePath, downloadName string) (mirror.Link, error)
}

// Deps are the collaborators of the ingestion service. Publisher and Mirror are optional.
type Deps struct {
	Repo      trackStore
	Quota     quotaManager
	Dedup     deduplicator
	Publisher publisher
	Mirror    archive
	// EnsureSchema provisions the database when a query reports missing tables.
	EnsureSchema func(ctx context.Context) error
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Options tune the ingestion pipeline.
type Options struct {
	TempDir           string
	SeedFailurePolicy string
}

// Service orchestrates upload, listing, deletion and lookup of tracks.
type Service struct {
	repo      trackStore
	quota     quotaManager
	dedup     deduplicator
	publisher publisher
	mirror    archive
	provision func(ctx context.Context) error
	logger    *zap.Logger
	metrics   *metrics.Metrics
	opts      Options

	schemaOnce sync.Once
	schemaErr  error
}

// NewService constructs the ingestion service.
func NewService(deps Deps, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SeedFailurePolicy == "" {
		opts.SeedFailurePolicy = config.SeedFailureKeep
	}
	return &Service{
		repo:      deps.Repo,
		quota:     deps.Quota,
		dedup:     deps.Dedup,
		publisher: deps.Publisher,
		mirror:    deps.Mirror,
		provision: deps.EnsureSchema,
		logger:    logger,
		metrics:   deps.Metrics,
		opts:      opts,
	}
}

// Upload ingests one audio file: quota check, content dedup, placement,
// record creation, optional mirroring and swarm publication.
func (s *Service) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if in.OwnerID == uuid.Nil {
		return UploadResult{}, fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	if in.Body == nil {
		return UploadResult{}, fmt.Errorf("%w: missing file", ErrInvalidInput)
	}

	if in.DeclaredSize > 0 {
		var fits bool
		err := s.withRepair(ctx, func() error {
			var err error
			fits, err = s.quota.CheckQuota(ctx, in.OwnerID, in.DeclaredSize)
			return err
		})
		if err != nil {
			return s.failUpload(err)
		}
		if !fits {
			return s.failUpload(quota.ErrQuotaExceeded)
		}
	}

	spooled, err := dedup.Spool(s.opts.TempDir, in.Body)
	if err != nil {
		return s.failUpload(err)
	}
	defer func() {
		if err := spooled.Discard(); err != nil {
			s.logger.Warn("discard temp upload", zap.String("path", spooled.Path), zap.Error(err))
		}
	}()
	if spooled.Size == 0 {
		return s.failUpload(fmt.Errorf("%w: empty file", ErrInvalidInput))
	}

	if existing, found, err := s.findDuplicate(ctx, spooled); err != nil {
		return s.failUpload(err)
	} else if found {
		s.metrics.ObserveUpload(metrics.UploadDuplicate, 0)
		s.logger.Info("upload matched existing track",
			zap.String("user_id", in.OwnerID.String()),
			zap.Int64("track_id", existing.ID),
		)
		return UploadResult{Existing: true, Track: existing.Descriptor()}, nil
	}

	var placement quota.Placement
	err = s.withRepair(ctx, func() error {
		var err error
		placement, err = s.quota.SaveFile(ctx, in.OwnerID, spooled.Path, in.Filename)
		return err
	})
	if err != nil {
		return s.failUpload(err)
	}

	// The file is now owned by the user; finish even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	if err := dedup.WriteSidecar(placement.Path, spooled.Digest); err != nil {
		s.logger.Warn("write digest sidecar", zap.String("path", placement.Path), zap.Error(err))
	}

	desc := tags.Complete(tags.Descriptor{Title: in.Title, Artist: in.Artist, Album: in.Album}, placement.Path, in.Filename)

	var created Track
	err = s.withRepair(ctx, func() error {
		var err error
		created, err = s.repo.Create(ctx, Track{
			UserID:      in.OwnerID,
			Title:       desc.Title,
			Artist:      desc.Artist,
			Album:       desc.Album,
			FilePath:    placement.Path,
			SizeBytes:   placement.SizeBytes,
			ContentHash: spooled.Digest,
		})
		return err
	})
	if err != nil {
		s.discardPlacement(ctx, in.OwnerID, placement)
		return s.failUpload(err)
	}

	if s.mirror != nil && s.mirror.Enabled() {
		if _, err := s.mirror.PutFile(ctx, created.UserID, created.FilePath, created.ContentHash); err != nil {
			s.logger.Warn("mirror track", zap.Int64("track_id", created.ID), zap.Error(err))
		}
	}

	if s.publisher != nil {
		pub, err := s.publisher.StartSeeding(ctx, swarm.Item{
			TrackID:    created.ID,
			Title:      created.Title,
			FilePath:   created.FilePath,
			UploadedAt: created.UploadedAt,
		})
		switch {
		case err != nil && s.opts.SeedFailurePolicy == config.SeedFailureRollback:
			s.logger.Error("seeding failed, rolling back upload", zap.Int64("track_id", created.ID), zap.Error(err))
			s.rollback(ctx, created)
			return s.failUpload(err)
		case err != nil:
			s.logger.Warn("seeding failed, track stored without swarm locator", zap.Int64("track_id", created.ID), zap.Error(err))
		default:
			created.SwarmLocator = pub.Locator
			created.FallbackURL = pub.FallbackURL
			if err := s.RecordPublication(ctx, created.ID, pub); err != nil {
				s.logger.Warn("persist swarm locator", zap.Int64("track_id", created.ID), zap.Error(err))
			}
		}
	}

	s.metrics.ObserveUpload(metrics.UploadStored, created.SizeBytes)
	fields := []zap.Field{
		zap.String("user_id", created.UserID.String()),
		zap.Int64("track_id", created.ID),
		zap.Int64("size_bytes", created.SizeBytes),
	}
	if used, err := s.quota.Usage(ctx, created.UserID); err == nil {
		fields = append(fields, zap.Int64("usage_bytes", used))
	}
	s.logger.Info("track stored", fields...)
	return UploadResult{Existing: false, Track: created.Descriptor()}, nil
}

// List returns the catalog, most recent upload first.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	var tracks []Track
	err := s.withRepair(ctx, func() error {
		var err error
		tracks, err = s.repo.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(tracks))
	for _, t := range tracks {
		summaries = append(summaries, t.Summary())
	}
	return summaries, nil
}

// Get returns a single track.
func (s *Service) Get(ctx context.Context, id int64) (Track, error) {
	var t Track
	err := s.withRepair(ctx, func() error {
		var err error
		t, err = s.repo.Get(ctx, id)
		return err
	})
	return t, err
}

// Delete tears a track down step by step and reports each outcome.
func (s *Service) Delete(ctx context.Context, id int64) (DeletionReport, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return DeletionReport{}, err
	}
	ctx = context.WithoutCancel(ctx)

	report := DeletionReport{TrackID: id}
	s.teardown(ctx, t, &report)

	if err := report.Err(); err != nil {
		s.logger.Warn("track deleted with errors", zap.Int64("track_id", id), zap.Error(err))
	} else {
		s.logger.Info("track deleted", zap.Int64("track_id", id))
	}
	return report, nil
}

// MirrorLink returns a presigned download URL for the mirrored copy of a track.
// Only the owner may request it.
func (s *Service) MirrorLink(ctx context.Context, id int64, caller uuid.UUID) (mirror.Link, error) {
	if s.mirror == nil || !s.mirror.Enabled() {
		return mirror.Link{}, mirror.ErrDisabled
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return mirror.Link{}, err
	}
	if t.UserID != caller {
		return mirror.Link{}, ErrForbidden
	}
	return s.mirror.PresignGet(ctx, t.UserID, t.FilePath, t.Title)
}

// SeedCandidates lists tracks uploaded since the given time for swarm restore.
func (s *Service) SeedCandidates(ctx context.Context, since time.Time) ([]swarm.Item, error) {
	var tracks []Track
	err := s.withRepair(ctx, func() error {
		var err error
		tracks, err = s.repo.ListUploadedSince(ctx, since)
		return err
	})
	if err != nil {
		return nil, err
	}

	items := make([]swarm.Item, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, swarm.Item{
			TrackID:    t.ID,
			Title:      t.Title,
			FilePath:   t.FilePath,
			UploadedAt: t.UploadedAt,
		})
	}
	return items, nil
}

// RecordPublication persists a fresh swarm locator for a track.
func (s *Service) RecordPublication(ctx context.Context, trackID int64, pub swarm.Publication) error {
	return s.withRepair(ctx, func() error {
		return s.repo.UpdatePublication(ctx, trackID, pub.Locator, pub.FallbackURL)
	})
}

func (s *Service) findDuplicate(ctx context.Context, spooled dedup.Spooled) (Track, bool, error) {
	var (
		candidate dedup.Candidate
		found     bool
	)
	err := s.withRepair(ctx, func() error {
		var err error
		candidate, found, err = s.dedup.Find(ctx, spooled.Size, spooled.Digest)
		return err
	})
	if err != nil || !found {
		return Track{}, false, err
	}

	existing, err := s.Get(ctx, candidate.TrackID)
	if errors.Is(err, ErrTrackNotFound) {
		// Deleted between lookup and fetch; store the upload as new content.
		return Track{}, false, nil
	}
	if err != nil {
		return Track{}, false, err
	}
	return existing, true, nil
}

func (s *Service) teardown(ctx context.Context, t Track, report *DeletionReport) {
	if s.publisher != nil {
		report.record(StepStopSeeding, s.publisher.StopSeeding(t.ID))
	}

	removal := s.quota.DeleteFile(ctx, t.UserID, t.FilePath, t.SizeBytes)
	report.record(StepRemoveFile, errors.Join(removal.FileErr, dedup.RemoveSidecar(t.FilePath)))
	report.record(StepReleaseQuota, removal.LedgerErr)

	if s.mirror != nil && s.mirror.Enabled() {
		report.record(StepRemoveMirror, s.mirror.Remove(ctx, t.UserID, t.FilePath))
	}

	err := s.withRepair(ctx, func() error {
		_, err := s.repo.Delete(ctx, t.ID)
		return err
	})
	if errors.Is(err, ErrTrackNotFound) {
		err = nil
	}
	report.record(StepDeleteRecord, err)
}

func (s *Service) rollback(ctx context.Context, t Track) {
	var report DeletionReport
	s.teardown(ctx, t, &report)
	if err := report.Err(); err != nil {
		s.logger.Error("roll back upload", zap.Int64("track_id", t.ID), zap.Error(err))
	}
}

func (s *Service) discardPlacement(ctx context.Context, userID uuid.UUID, placement quota.Placement) {
	removal := s.quota.DeleteFile(ctx, userID, placement.Path, placement.SizeBytes)
	if err := errors.Join(removal.FileErr, removal.LedgerErr, dedup.RemoveSidecar(placement.Path)); err != nil {
		s.logger.Error("discard placed file", zap.String("path", placement.Path), zap.Error(err))
	}
}

func (s *Service) failUpload(err error) (UploadResult, error) {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded), errors.Is(err, ErrInvalidInput):
		s.metrics.ObserveUpload(metrics.UploadRejected, 0)
	default:
		s.metrics.ObserveUpload(metrics.UploadFailed, 0)
	}
	return UploadResult{}, err
}

// withRepair runs op and, if the database reports a missing schema, provisions
// it (at most once per process) and retries op one time.
func (s *Service) withRepair(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || s.provision == nil || !errors.Is(err, storage.ErrSchemaMissing) {
		return err
	}

	s.schemaOnce.Do(func() {
		s.logger.Warn("database schema missing, provisioning", zap.Error(err))
		s.schemaErr = s.provision(ctx)
		if s.schemaErr != nil {
			s.logger.Error("provision schema", zap.Error(s.schemaErr))
		}
	})
	if s.schemaErr != nil {
		return err
	}
	return op()
}
