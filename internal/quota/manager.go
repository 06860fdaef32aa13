package quota

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ledger interface {
	Usage(ctx context.Context, userID uuid.UUID) (int64, error)
	Reserve(ctx context.Context, userID uuid.UUID, bytes, limit int64) (int64, error)
	Adjust(ctx context.Context, userID uuid.UUID, delta int64) error
}

// Manager enforces the per-user storage cap and owns the on-disk layout
// <root>/<user id>/<unique name>.
type Manager struct {
	ledger ledger
	root   string
	limit  int64
	logger *zap.Logger
}

// NewManager constructs a quota manager rooted at root.
func NewManager(ledger ledger, root string, limit int64, logger *zap.Logger) (*Manager, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("quota limit must be positive, got %d", limit)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{ledger: ledger, root: abs, limit: limit, logger: logger}, nil
}

// Limit returns the per-user cap in bytes.
func (m *Manager) Limit() int64 {
	return m.limit
}

// Usage returns the bytes charged to the user.
func (m *Manager) Usage(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.ledger.Usage(ctx, userID)
}

// CheckQuota reports whether incoming more bytes fit under the cap. It does not reserve anything.
func (m *Manager) CheckQuota(ctx context.Context, userID uuid.UUID, incoming int64) (bool, error) {
	if incoming < 0 {
		incoming = 0
	}
	used, err := m.ledger.Usage(ctx, userID)
	if err != nil {
		return false, err
	}
	return used+incoming <= m.limit, nil
}

// SaveFile charges the temp file's size to the user and moves it into the user's directory.
// The reservation is released if the move fails.
func (m *Manager) SaveFile(ctx context.Context, userID uuid.UUID, tempPath, originalName string) (Placement, error) {
	info, err := os.Stat(tempPath)
	if err != nil {
		return Placement{}, fmt.Errorf("stat temp file: %w", err)
	}
	size := info.Size()

	used, err := m.ledger.Reserve(ctx, userID, size, m.limit)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			m.logger.Info("quota exceeded",
				zap.String("user_id", userID.String()),
				zap.String("incoming", humanize.IBytes(uint64(size))),
				zap.String("limit", humanize.IBytes(uint64(m.limit))),
			)
		}
		return Placement{}, err
	}

	dest := m.placementPath(userID, originalName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		m.release(ctx, userID, size)
		return Placement{}, fmt.Errorf("create user directory: %w", err)
	}
	if err := moveFile(tempPath, dest); err != nil {
		m.release(ctx, userID, size)
		return Placement{}, fmt.Errorf("move into storage: %w", err)
	}

	final := size
	if stat, err := os.Stat(dest); err == nil {
		final = stat.Size()
	}
	if delta := final - size; delta != 0 {
		if err := m.ledger.Adjust(ctx, userID, delta); err != nil {
			m.logger.Warn("correct usage after move", zap.String("path", dest), zap.Error(err))
		}
	}

	m.logger.Debug("file placed",
		zap.String("user_id", userID.String()),
		zap.String("path", dest),
		zap.Int64("size_bytes", final),
		zap.String("usage", humanize.IBytes(uint64(used+final-size))),
	)
	return Placement{Path: dest, SizeBytes: final}, nil
}

// DeleteFile unlinks a stored file and releases size bytes from the user's usage.
// The ledger is released even when the unlink fails so the user is never
// charged for a track that no longer exists in the catalog.
func (m *Manager) DeleteFile(ctx context.Context, userID uuid.UUID, path string, size int64) FileRemoval {
	result := FileRemoval{Path: path}

	if !m.owns(path) {
		result.FileErr = fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	} else if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		result.FileErr = fmt.Errorf("remove file: %w", err)
	}

	if size > 0 {
		if err := m.ledger.Adjust(ctx, userID, -size); err != nil {
			result.LedgerErr = err
		}
	}
	return result
}

func (m *Manager) release(ctx context.Context, userID uuid.UUID, size int64) {
	if err := m.ledger.Adjust(ctx, userID, -size); err != nil {
		m.logger.Error("release reservation", zap.String("user_id", userID.String()), zap.Int64("size_bytes", size), zap.Error(err))
	}
}

func (m *Manager) placementPath(userID uuid.UUID, originalName string) string {
	name := uuid.NewString() + "-" + SanitizeFilename(filepath.Base(originalName))
	return filepath.Join(m.root, userID.String(), name)
}

func (m *Manager) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}
