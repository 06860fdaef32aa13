package dedup

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Candidate is a stored track that may hold the same content as an upload.
type Candidate struct {
	TrackID   int64
	FilePath  string
	SizeBytes int64
}

// CandidateSource lists stored tracks of an exact size.
type CandidateSource interface {
	ListBySize(ctx context.Context, size int64) ([]Candidate, error)
}

// Deduplicator finds stored tracks byte-identical to an upload.
//
// Candidates are narrowed by exact size before any hashing. Equal size is
// only a cheap filter; the sha256 digest decides. Digests of older files
// without a sidecar are computed on first use and cached.
type Deduplicator struct {
	source CandidateSource
	logger *zap.Logger
	group  singleflight.Group
}

// New constructs a deduplicator.
func New(source CandidateSource, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{source: source, logger: logger}
}

// Find returns the first stored track whose content digest equals digest.
// Candidates whose files vanished or cannot be read are skipped.
func (d *Deduplicator) Find(ctx context.Context, size int64, digest string) (Candidate, bool, error) {
	candidates, err := d.source.ListBySize(ctx, size)
	if err != nil {
		return Candidate{}, false, err
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return Candidate{}, false, err
		}

		info, err := os.Stat(candidate.FilePath)
		if err == nil && info.Size() != size {
			d.logger.Warn("dedup candidate size drifted",
				zap.Int64("track_id", candidate.TrackID),
				zap.Int64("recorded", size),
				zap.Int64("on_disk", info.Size()),
			)
			continue
		}

		var existing string
		if err == nil {
			existing, err = d.DigestOf(candidate.FilePath)
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				d.logger.Warn("dedup candidate missing on disk",
					zap.Int64("track_id", candidate.TrackID),
					zap.String("path", candidate.FilePath),
				)
			} else {
				d.logger.Warn("dedup candidate unreadable",
					zap.Int64("track_id", candidate.TrackID),
					zap.String("path", candidate.FilePath),
					zap.Error(err),
				)
			}
			continue
		}
		if existing == digest {
			return candidate, true, nil
		}
	}
	return Candidate{}, false, nil
}

// DigestOf returns the cached digest of filePath, computing and caching it
// when the sidecar is absent or corrupt. Concurrent calls for the same file
// share one computation.
func (d *Deduplicator) DigestOf(filePath string) (string, error) {
	digest, err := ReadSidecar(filePath)
	if err == nil {
		return digest, nil
	}
	if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrInvalidSidecar) {
		return "", err
	}

	v, err, _ := d.group.Do(filePath, func() (interface{}, error) {
		computed, _, err := HashFile(filePath)
		if err != nil {
			return "", err
		}
		if err := WriteSidecar(filePath, computed); err != nil {
			d.logger.Warn("cache digest sidecar", zap.String("path", filePath), zap.Error(err))
		}
		return computed, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
