package swarm

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type fakeEngine struct {
	mu      sync.Mutex
	seeding map[string]SeedRequest
	dropped []string
	seeds   int
	failFor map[string]error
	closed  bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{seeding: make(map[string]SeedRequest), failFor: make(map[string]error)}
}

func (f *fakeEngine) Seed(ctx context.Context, req SeedRequest) (SeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[req.FilePath]; err != nil {
		return SeedResult{}, err
	}
	if f.closed {
		return SeedResult{}, ErrEngineClosed
	}
	sum := sha1.Sum([]byte(req.FilePath))
	hash := hex.EncodeToString(sum[:])
	f.seeding[hash] = req
	f.seeds++
	locator, err := BuildLocator(hash, req.DisplayName, req.Trackers, req.WebSeeds)
	if err != nil {
		return SeedResult{}, err
	}
	return SeedResult{InfoHash: hash, Locator: locator}, nil
}

func (f *fakeEngine) Drop(infoHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seeding, infoHash)
	f.dropped = append(f.dropped, infoHash)
	return nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.seeding = make(map[string]SeedRequest)
	return nil
}

func (f *fakeEngine) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seeding)
}

var errEngineBoom = errors.New("engine boom")

func writeTrackFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("audio:"+name), 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}
	return path
}
