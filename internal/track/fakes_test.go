package track

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/abduss/bitbeats/internal/config"
	"github.com/abduss/bitbeats/internal/dedup"
	"github.com/abduss/bitbeats/internal/mirror"
	"github.com/abduss/bitbeats/internal/quota"
	"github.com/abduss/bitbeats/internal/storage"
	"github.com/abduss/bitbeats/internal/swarm"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu            sync.Mutex
	nextID        int64
	tracks        map[int64]Track
	schemaMissing bool
	base          time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tracks: make(map[int64]Track),
		base:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepo) check() error {
	if f.schemaMissing {
		return storage.ErrSchemaMissing
	}
	return nil
}

func (f *fakeRepo) Create(ctx context.Context, t Track) (Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return Track{}, err
	}
	f.nextID++
	t.ID = f.nextID
	t.UploadedAt = f.base.Add(time.Duration(t.ID) * time.Minute)
	f.tracks[t.ID] = t
	return t, nil
}

func (f *fakeRepo) Get(ctx context.Context, id int64) (Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return Track{}, err
	}
	t, ok := f.tracks[id]
	if !ok {
		return Track{}, ErrTrackNotFound
	}
	return t, nil
}

func (f *fakeRepo) List(ctx context.Context) ([]Track, error) {
	return f.ListUploadedSince(ctx, time.Time{})
}

func (f *fakeRepo) ListUploadedSince(ctx context.Context, since time.Time) ([]Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	var out []Track
	for _, t := range f.tracks {
		if !t.UploadedAt.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (f *fakeRepo) ListBySize(ctx context.Context, size int64) ([]dedup.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	var out []dedup.Candidate
	for _, t := range f.tracks {
		if t.SizeBytes == size {
			out = append(out, dedup.Candidate{TrackID: t.ID, FilePath: t.FilePath, SizeBytes: t.SizeBytes})
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdatePublication(ctx context.Context, id int64, locator, fallbackURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[id]
	if !ok {
		return ErrTrackNotFound
	}
	t.SwarmLocator = locator
	t.FallbackURL = fallbackURL
	f.tracks[id] = t
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, id int64) (Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[id]
	if !ok {
		return Track{}, ErrTrackNotFound
	}
	delete(f.tracks, id)
	return t, nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

type fakeLedger struct {
	mu        sync.Mutex
	used      map[uuid.UUID]int64
	adjustErr error
}

func (f *fakeLedger) Usage(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used[userID], nil
}

func (f *fakeLedger) Reserve(ctx context.Context, userID uuid.UUID, bytes, limit int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used[userID]+bytes > limit {
		return 0, quota.ErrQuotaExceeded
	}
	f.used[userID] += bytes
	return f.used[userID], nil
}

func (f *fakeLedger) Adjust(ctx context.Context, userID uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjustErr != nil && delta < 0 {
		return f.adjustErr
	}
	f.used[userID] += delta
	if f.used[userID] < 0 {
		f.used[userID] = 0
	}
	return nil
}

func (f *fakeLedger) usage(userID uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used[userID]
}

type fakePublisher struct {
	mu      sync.Mutex
	fail    error
	seeded  map[int64]string
	stopped []int64
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{seeded: make(map[int64]string)}
}

func (f *fakePublisher) StartSeeding(ctx context.Context, item swarm.Item) (swarm.Publication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return swarm.Publication{}, errors.Join(swarm.ErrSeedFailed, f.fail)
	}
	if _, err := os.Stat(item.FilePath); err != nil {
		return swarm.Publication{}, errors.Join(swarm.ErrSeedFailed, err)
	}
	hash := uuid.NewString()
	f.seeded[item.TrackID] = hash
	return swarm.Publication{
		InfoHash:    hash,
		Locator:     "magnet:?xt=urn:btih:" + hash,
		FallbackURL: "http://localhost:8080/stream/" + strconv.FormatInt(item.TrackID, 10),
	}, nil
}

func (f *fakePublisher) StopSeeding(trackID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seeded, trackID)
	f.stopped = append(f.stopped, trackID)
	return nil
}

func (f *fakePublisher) seeding(trackID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seeded[trackID]
	return ok
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = body
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: int64(len(body))}, nil
}

func (f *fakeObjectStore) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

func (f *fakeObjectStore) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	return &url.URL{Scheme: "http", Host: "minio:9000", Path: "/" + bucketName + "/" + objectName}, nil
}

func (f *fakeObjectStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func withMirror(store *fakeObjectStore) harnessOption {
	return func(d *Deps, _ *Options) { d.Mirror = mirror.New(store, "tracks", time.Minute) }
}

type harness struct {
	service    *Service
	repo       *fakeRepo
	ledger     *fakeLedger
	publisher  *fakePublisher
	root       string
	tempDir    string
	provisions int
}

type harnessOption func(*Deps, *Options)

func withPolicy(policy string) harnessOption {
	return func(_ *Deps, o *Options) { o.SeedFailurePolicy = policy }
}

func newHarness(t *testing.T, limit int64, opts ...harnessOption) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		repo:      newFakeRepo(),
		ledger:    &fakeLedger{used: make(map[uuid.UUID]int64)},
		publisher: newFakePublisher(),
		root:      filepath.Join(dir, "uploads"),
		tempDir:   filepath.Join(dir, "tmp"),
	}

	manager, err := quota.NewManager(h.ledger, h.root, limit, nil)
	require.NoError(t, err)

	deps := Deps{
		Repo:      h.repo,
		Quota:     manager,
		Dedup:     dedup.New(h.repo, nil),
		Publisher: h.publisher,
		EnsureSchema: func(ctx context.Context) error {
			h.provisions++
			h.repo.mu.Lock()
			h.repo.schemaMissing = false
			h.repo.mu.Unlock()
			return nil
		},
	}
	options := Options{TempDir: h.tempDir, SeedFailurePolicy: config.SeedFailureKeep}
	for _, opt := range opts {
		opt(&deps, &options)
	}

	h.service = NewService(deps, options)
	return h
}

// storedFiles lists track files under the storage root, sidecars excluded.
func (h *harness) storedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(h.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) != dedup.SidecarExt {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func (h *harness) tempFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}
