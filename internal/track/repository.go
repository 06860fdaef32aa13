package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/bitbeats/internal/dedup"
	"github.com/abduss/bitbeats/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const trackColumns = `id, user_id, title, artist, album, file_path, size_bytes, content_hash, swarm_locator, fallback_url, uploaded_at`

// Repository provides access to track records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new track repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a track and returns it with its id and upload time.
func (r *Repository) Create(ctx context.Context, t Track) (Track, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO tracks (user_id, title, artist, album, file_path, size_bytes, content_hash, swarm_locator, fallback_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + trackColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		t.UserID,
		t.Title,
		t.Artist,
		t.Album,
		t.FilePath,
		t.SizeBytes,
		t.ContentHash,
		t.SwarmLocator,
		t.FallbackURL,
	)

	stored, err := scanTrack(row)
	if err != nil {
		return Track{}, fmt.Errorf("create track: %w", storage.TranslateError(err))
	}
	return stored, nil
}

// Get fetches a single track.
func (r *Repository) Get(ctx context.Context, id int64) (Track, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = $1;`

	t, err := scanTrack(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("get track: %w", storage.TranslateError(err))
	}
	return t, nil
}

// List returns all tracks, most recent upload first.
func (r *Repository) List(ctx context.Context) ([]Track, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + trackColumns + ` FROM tracks ORDER BY uploaded_at DESC, id DESC;`
	return r.queryTracks(ctx, "list tracks", query)
}

// ListUploadedSince returns tracks uploaded at or after since, newest first.
func (r *Repository) ListUploadedSince(ctx context.Context, since time.Time) ([]Track, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + trackColumns + ` FROM tracks WHERE uploaded_at >= $1 ORDER BY uploaded_at DESC, id DESC;`
	return r.queryTracks(ctx, "list recent tracks", query, since)
}

// ListBySize returns dedup candidates with exactly size bytes.
func (r *Repository) ListBySize(ctx context.Context, size int64) ([]dedup.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT id, file_path, size_bytes FROM tracks WHERE size_bytes = $1 ORDER BY id;`, size)
	if err != nil {
		return nil, fmt.Errorf("list tracks by size: %w", storage.TranslateError(err))
	}
	defer rows.Close()

	var candidates []dedup.Candidate
	for rows.Next() {
		var c dedup.Candidate
		if err := rows.Scan(&c.TrackID, &c.FilePath, &c.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", storage.TranslateError(err))
	}
	return candidates, nil
}

// UpdatePublication stores the swarm locator and fallback URL of a track.
func (r *Repository) UpdatePublication(ctx context.Context, id int64, locator, fallbackURL string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `UPDATE tracks SET swarm_locator = $2, fallback_url = $3 WHERE id = $1;`, id, locator, fallbackURL)
	if err != nil {
		return fmt.Errorf("update publication: %w", storage.TranslateError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrTrackNotFound
	}
	return nil
}

// Delete removes a track record and returns it.
func (r *Repository) Delete(ctx context.Context, id int64) (Track, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `DELETE FROM tracks WHERE id = $1 RETURNING ` + trackColumns + `;`

	t, err := scanTrack(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("delete track: %w", storage.TranslateError(err))
	}
	return t, nil
}

func (r *Repository) queryTracks(ctx context.Context, op, query string, args ...any) ([]Track, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.TranslateError(err))
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", storage.TranslateError(err))
	}
	return tracks, nil
}

func scanTrack(row pgx.Row) (Track, error) {
	var t Track
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Artist,
		&t.Album,
		&t.FilePath,
		&t.SizeBytes,
		&t.ContentHash,
		&t.SwarmLocator,
		&t.FallbackURL,
		&t.UploadedAt,
	)
	return t, err
}
