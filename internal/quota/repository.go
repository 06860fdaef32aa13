package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/bitbeats/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

// Repository persists per-user storage usage in the users table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Usage returns the bytes currently charged to the user. Unknown users have used nothing.
func (r *Repository) Usage(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	var used int64
	err := r.pool.QueryRow(ctx, `SELECT storage_used_bytes FROM users WHERE id = $1;`, userID).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get usage: %w", storage.TranslateError(err))
	}
	return used, nil
}

// Reserve atomically charges bytes to the user if the result stays within limit.
// The check and the increment happen in one statement under the row lock.
func (r *Repository) Reserve(ctx context.Context, userID uuid.UUID, bytes, limit int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO users (id, storage_used_bytes, created_at, updated_at)
SELECT $1::uuid, $2::bigint, NOW(), NOW()
WHERE $2::bigint <= $3::bigint
ON CONFLICT (id)
DO UPDATE SET
    storage_used_bytes = users.storage_used_bytes + EXCLUDED.storage_used_bytes,
    updated_at         = NOW()
WHERE users.storage_used_bytes + EXCLUDED.storage_used_bytes <= $3::bigint
RETURNING storage_used_bytes;`

	var used int64
	if err := r.pool.QueryRow(ctx, query, userID, bytes, limit).Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrQuotaExceeded
		}
		return 0, fmt.Errorf("reserve quota: %w", storage.TranslateError(err))
	}
	return used, nil
}

// Adjust applies a signed delta to the user's usage, clamping at zero.
func (r *Repository) Adjust(ctx context.Context, userID uuid.UUID, delta int64) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO users (id, storage_used_bytes, created_at, updated_at)
VALUES ($1, GREATEST($2::bigint, 0), NOW(), NOW())
ON CONFLICT (id)
DO UPDATE SET
    storage_used_bytes = GREATEST(users.storage_used_bytes + $2::bigint, 0),
    updated_at         = NOW();`

	if _, err := r.pool.Exec(ctx, query, userID, delta); err != nil {
		return fmt.Errorf("adjust usage: %w", storage.TranslateError(err))
	}
	return nil
}
