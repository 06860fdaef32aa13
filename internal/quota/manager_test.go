package quota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCheckQuota(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 100)
	userID := uuid.New()
	ledger.used[userID] = 60

	ok, err := manager.CheckQuota(context.Background(), userID, 40)
	require.NoError(t, err)
	require.True(t, ok, "exactly reaching the limit is allowed")

	ok, err = manager.CheckQuota(context.Background(), userID, 41)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveFileMovesAndCharges(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 1024)
	userID := uuid.New()
	temp := writeTemp(t, "0123456789")

	placement, err := manager.SaveFile(context.Background(), userID, temp, "My Song (live).mp3")
	require.NoError(t, err)

	require.Equal(t, int64(10), placement.SizeBytes)
	require.Equal(t, int64(10), ledger.used[userID])
	require.Equal(t, filepath.Join(manager.root, userID.String()), filepath.Dir(placement.Path))
	require.True(t, strings.HasSuffix(placement.Path, "-My_Song__live_.mp3"), placement.Path)
	require.NoFileExists(t, temp)

	data, err := os.ReadFile(placement.Path)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(data))
}

func TestSaveFileRejectsOverQuota(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 15)
	userID := uuid.New()
	ledger.used[userID] = 10
	temp := writeTemp(t, "0123456789")

	_, err := manager.SaveFile(context.Background(), userID, temp, "song.mp3")
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, int64(10), ledger.used[userID])
	require.FileExists(t, temp, "rejected upload stays in temp for the caller to discard")
}

func TestSaveFileConcurrentReservationsNeverOvershoot(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 100)
	userID := uuid.New()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 8; i++ {
		temp := writeTemp(t, strings.Repeat("x", 40))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.SaveFile(context.Background(), userID, temp, "a.mp3"); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 2, accepted)
	require.Equal(t, int64(80), ledger.used[userID])
}

func TestSaveFileReleasesReservationWhenMoveFails(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 1024)
	userID := uuid.New()
	temp := writeTemp(t, "abc")

	// A regular file where the user directory should be makes MkdirAll fail.
	require.NoError(t, os.WriteFile(filepath.Join(manager.root, userID.String()), nil, 0o644))

	_, err := manager.SaveFile(context.Background(), userID, temp, "a.mp3")
	require.Error(t, err)
	require.Equal(t, int64(0), ledger.used[userID])
}

func TestDeleteFileReleasesUsage(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 1024)
	userID := uuid.New()

	placement, err := manager.SaveFile(context.Background(), userID, writeTemp(t, "hello"), "a.mp3")
	require.NoError(t, err)

	result := manager.DeleteFile(context.Background(), userID, placement.Path, placement.SizeBytes)
	require.True(t, result.OK())
	require.NoFileExists(t, placement.Path)
	require.Equal(t, int64(0), ledger.used[userID])
}

func TestDeleteFileToleratesMissingFile(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 1024)
	userID := uuid.New()
	ledger.used[userID] = 7

	result := manager.DeleteFile(context.Background(), userID, filepath.Join(manager.root, userID.String(), "gone.mp3"), 7)
	require.NoError(t, result.FileErr)
	require.NoError(t, result.LedgerErr)
	require.Equal(t, int64(0), ledger.used[userID])
}

func TestDeleteFileRefusesPathsOutsideRoot(t *testing.T) {
	ledger := newFakeLedger()
	manager := newTestManager(t, ledger, 1024)
	outside := writeTemp(t, "keep me")

	result := manager.DeleteFile(context.Background(), uuid.New(), outside, 7)
	require.ErrorIs(t, result.FileErr, ErrOutsideRoot)
	require.FileExists(t, outside)
}

func TestDeleteFileReportsLedgerFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.adjustErr = errors.New("db down")
	manager := newTestManager(t, ledger, 1024)
	userID := uuid.New()

	result := manager.DeleteFile(context.Background(), userID, filepath.Join(manager.root, "x"), 3)
	require.NoError(t, result.FileErr)
	require.Error(t, result.LedgerErr)
	require.False(t, result.OK())
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"track.mp3":         "track.mp3",
		"Ünïcode song.flac": "_n_code_song.flac",
		"../../etc/passwd":  ".._.._etc_passwd",
		"":                  "track",
		"..":                "track",
		"a b-c_d.ogg":       "a_b_c_d.ogg",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCopyFileDuplicatesContents(t *testing.T) {
	src := writeTemp(t, "payload")
	dest := filepath.Join(t.TempDir(), "copy")

	require.NoError(t, copyFile(src, dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

// --- helpers & fakes ---

func newTestManager(t *testing.T, ledger *fakeLedger, limit int64) *Manager {
	t.Helper()
	manager, err := NewManager(ledger, filepath.Join(t.TempDir(), "uploads"), limit, nil)
	require.NoError(t, err)
	return manager
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "upload-*")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

type fakeLedger struct {
	mu        sync.Mutex
	used      map[uuid.UUID]int64
	adjustErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{used: make(map[uuid.UUID]int64)}
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
		return 0, ErrQuotaExceeded
	}
	f.used[userID] += bytes
	return f.used[userID], nil
}

func (f *fakeLedger) Adjust(ctx context.Context, userID uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjustErr != nil {
		return f.adjustErr
	}
	f.used[userID] += delta
	if f.used[userID] < 0 {
		f.used[userID] = 0
	}
	return nil
}
