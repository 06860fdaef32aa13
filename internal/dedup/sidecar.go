package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SidecarExt is appended to a track's path to name its digest file.
const SidecarExt = ".sha256"

// ErrInvalidSidecar indicates a sidecar whose content is not a sha256 hex digest.
var ErrInvalidSidecar = errors.New("invalid digest sidecar")

// SidecarPath returns the digest file path for a stored track.
func SidecarPath(filePath string) string {
	return filePath + SidecarExt
}

// ReadSidecar returns the lowercase hex digest cached next to filePath.
func ReadSidecar(filePath string) (string, error) {
	raw, err := os.ReadFile(SidecarPath(filePath))
	if err != nil {
		return "", err
	}
	digest := strings.ToLower(strings.TrimSpace(string(raw)))
	if !validDigest(digest) {
		return "", fmt.Errorf("%w: %s", ErrInvalidSidecar, SidecarPath(filePath))
	}
	return digest, nil
}

// WriteSidecar stores digest next to filePath. The write is atomic so readers
// never observe a partial digest.
func WriteSidecar(filePath, digest string) error {
	digest = strings.ToLower(strings.TrimSpace(digest))
	if !validDigest(digest) {
		return fmt.Errorf("%w: %q", ErrInvalidSidecar, digest)
	}

	target := SidecarPath(filePath)
	tmp, err := os.CreateTemp(filepath.Dir(target), ".sidecar-*")
	if err != nil {
		return fmt.Errorf("create sidecar temp: %w", err)
	}
	if _, err := tmp.WriteString(digest); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close sidecar: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("install sidecar: %w", err)
	}
	return nil
}

// RemoveSidecar deletes the digest file; a missing sidecar is not an error.
func RemoveSidecar(filePath string) error {
	if err := os.Remove(SidecarPath(filePath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// HashFile streams the file through sha256.
func HashFile(filePath string) (string, int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", filePath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func validDigest(digest string) bool {
	if len(digest) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}
