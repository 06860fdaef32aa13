package mirror

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrDisabled is returned when a link is requested without a configured mirror.
var ErrDisabled = errors.New("track mirror disabled")

// Link is a time-limited download URL for a mirrored track.
type Link struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PresignGet returns a signed GET URL for the mirrored copy of filePath.
// downloadName, when set, becomes the attachment filename.
func (m *Mirror) PresignGet(ctx context.Context, userID uuid.UUID, filePath, downloadName string) (Link, error) {
	if !m.Enabled() {
		return Link{}, ErrDisabled
	}

	reqParams := make(url.Values)
	if downloadName != "" {
		disposition := mime.FormatMediaType("attachment", map[string]string{
			"filename": downloadName + filepath.Ext(filePath),
		})
		if disposition != "" {
			reqParams.Set("response-content-disposition", disposition)
		}
	}

	expiresAt := m.now().Add(m.presignTTL).UTC()
	u, err := m.store.PresignedGetObject(ctx, m.bucket, ObjectName(userID, filePath), m.presignTTL, reqParams)
	if err != nil {
		return Link{}, fmt.Errorf("presign mirrored object: %w", err)
	}
	return Link{URL: u.String(), ExpiresAt: expiresAt}, nil
}
