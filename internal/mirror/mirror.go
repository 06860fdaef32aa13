// Package mirror replicates stored track files to a MinIO bucket.
package mirror

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/abduss/bitbeats/internal/stream"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

const defaultPresignTTL = 15 * time.Minute

// Mirror copies track files into object storage. A nil *Mirror is disabled.
type Mirror struct {
	store      objectStore
	bucket     string
	presignTTL time.Duration
	now        func() time.Time
}

// New constructs a mirror writing into bucket. Download links live for presignTTL.
func New(store objectStore, bucket string, presignTTL time.Duration) *Mirror {
	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}
	return &Mirror{store: store, bucket: bucket, presignTTL: presignTTL, now: time.Now}
}

// Enabled reports whether a backing store is configured.
func (m *Mirror) Enabled() bool {
	return m != nil && m.store != nil
}

// ObjectName returns the object key used for a stored file.
func ObjectName(userID uuid.UUID, filePath string) string {
	return path.Join("tracks", userID.String(), filepath.Base(filePath))
}

// PutFile uploads the file and tags it with its content digest.
func (m *Mirror) PutFile(ctx context.Context, userID uuid.UUID, filePath, digest string) (string, error) {
	if !m.Enabled() {
		return "", nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open for mirror: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat for mirror: %w", err)
	}

	objectName := ObjectName(userID, filePath)
	opts := minio.PutObjectOptions{
		ContentType:  stream.ContentType(filePath),
		UserMetadata: map[string]string{"sha256": digest},
	}
	if _, err := m.store.PutObject(ctx, m.bucket, objectName, f, info.Size(), opts); err != nil {
		return "", fmt.Errorf("mirror object: %w", err)
	}
	return objectName, nil
}

// Remove deletes the mirrored copy of a stored file.
func (m *Mirror) Remove(ctx context.Context, userID uuid.UUID, filePath string) error {
	if !m.Enabled() {
		return nil
	}
	if err := m.store.RemoveObject(ctx, m.bucket, ObjectName(userID, filePath), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove mirrored object: %w", err)
	}
	return nil
}
