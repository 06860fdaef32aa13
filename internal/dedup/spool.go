package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Spooled is an upload written to a temporary file together with its digest.
type Spooled struct {
	Path   string
	Size   int64
	Digest string
}

// Discard removes the temporary file.
func (s Spooled) Discard() error {
	if s.Path == "" {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Spool copies r into a new file under dir while hashing it, so the body is
// never held in memory.
func Spool(dir string, r io.Reader) (Spooled, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Spooled{}, fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "upload-*.part")
	if err != nil {
		return Spooled{}, fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return Spooled{}, fmt.Errorf("spool upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return Spooled{}, fmt.Errorf("close temp file: %w", err)
	}

	return Spooled{
		Path:   f.Name(),
		Size:   n,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}
