package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpoolHashesWhileWriting(t *testing.T) {
	dir := t.TempDir()
	payload := strings.Repeat("beat", 1000)

	spooled, err := Spool(filepath.Join(dir, "tmp"), strings.NewReader(payload))
	require.NoError(t, err)

	require.Equal(t, int64(len(payload)), spooled.Size)
	require.Equal(t, digestOf(payload), spooled.Digest)

	data, err := os.ReadFile(spooled.Path)
	require.NoError(t, err)
	require.Equal(t, payload, string(data))

	require.NoError(t, spooled.Discard())
	require.NoFileExists(t, spooled.Path)
}

func TestSpoolRemovesPartialFileOnReadError(t *testing.T) {
	dir := t.TempDir()

	_, err := Spool(dir, &failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSidecarRoundTripAndValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	digest := digestOf("song")

	require.NoError(t, WriteSidecar(path, strings.ToUpper(digest)))
	got, err := ReadSidecar(path)
	require.NoError(t, err)
	require.Equal(t, digest, got)

	require.Error(t, WriteSidecar(path, "not-a-digest"))

	require.NoError(t, os.WriteFile(SidecarPath(path), []byte("garbage"), 0o644))
	_, err = ReadSidecar(path)
	require.ErrorIs(t, err, ErrInvalidSidecar)

	require.NoError(t, RemoveSidecar(path))
	require.NoError(t, RemoveSidecar(path), "removing twice is fine")
}

func TestFindMatchesUsingSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.mp3", "same bytes")
	require.NoError(t, WriteSidecar(path, digestOf("same bytes")))

	source := &fakeSource{bySize: map[int64][]Candidate{
		10: {{TrackID: 7, FilePath: path, SizeBytes: 10}},
	}}
	d := New(source, nil)

	found, ok, err := d.Find(context.Background(), 10, digestOf("same bytes"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), found.TrackID)
}

func TestFindBackfillsMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "legacy.mp3", "old upload")
	source := &fakeSource{bySize: map[int64][]Candidate{
		10: {{TrackID: 1, FilePath: path, SizeBytes: 10}},
	}}
	d := New(source, nil)

	_, ok, err := d.Find(context.Background(), 10, digestOf("old upload"))
	require.NoError(t, err)
	require.True(t, ok)

	cached, err := ReadSidecar(path)
	require.NoError(t, err)
	require.Equal(t, digestOf("old upload"), cached)
}

func TestFindRepairsCorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.mp3", "payload!!!")
	require.NoError(t, os.WriteFile(SidecarPath(path), []byte("zz"), 0o644))
	source := &fakeSource{bySize: map[int64][]Candidate{
		10: {{TrackID: 3, FilePath: path, SizeBytes: 10}},
	}}

	_, ok, err := New(source, nil).Find(context.Background(), 10, digestOf("payload!!!"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFindSameSizeDifferentContentIsMiss(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.mp3", "aaaaaaaaaa")
	source := &fakeSource{bySize: map[int64][]Candidate{
		10: {{TrackID: 1, FilePath: path, SizeBytes: 10}},
	}}

	_, ok, err := New(source, nil).Find(context.Background(), 10, digestOf("bbbbbbbbbb"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	gone := filepath.Join(dir, "gone.mp3")
	require.NoError(t, WriteSidecar(gone, digestOf("ghost data")))
	present := writeFile(t, dir, "here.mp3", "ghost data")

	source := &fakeSource{bySize: map[int64][]Candidate{
		10: {
			{TrackID: 1, FilePath: gone, SizeBytes: 10},
			{TrackID: 2, FilePath: present, SizeBytes: 10},
		},
	}}

	found, ok, err := New(source, nil).Find(context.Background(), 10, digestOf("ghost data"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), found.TrackID)
}

func TestFindPropagatesSourceErrors(t *testing.T) {
	source := &fakeSource{err: errors.New("db down")}

	_, _, err := New(source, nil).Find(context.Background(), 10, digestOf("x"))
	require.Error(t, err)
}

// --- helpers & fakes ---

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type fakeSource struct {
	bySize map[int64][]Candidate
	err    error
}

func (f *fakeSource) ListBySize(ctx context.Context, size int64) ([]Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bySize[size], nil
}

type failingReader struct{ reads int }

func (r *failingReader) Read(p []byte) (int, error) {
	r.reads++
	if r.reads > 1 {
		return 0, errors.New("connection reset")
	}
	return copy(p, "partial"), nil
}
