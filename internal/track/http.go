package track

import (
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/abduss/bitbeats/internal/identity"
	"github.com/abduss/bitbeats/internal/logger"
	"github.com/abduss/bitbeats/internal/metrics"
	"github.com/abduss/bitbeats/internal/mirror"
	"github.com/abduss/bitbeats/internal/quota"
	"github.com/abduss/bitbeats/internal/storage"
	"github.com/abduss/bitbeats/internal/stream"
	"github.com/abduss/bitbeats/internal/swarm"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const schemaHint = `run "bitbeats migrate" to create the database schema`

var uploadFields = []string{"trackFile", "file", "track"}

// HandlerConfig tunes the HTTP surface.
type HandlerConfig struct {
	Production     bool
	MaxUploadBytes int64
	Metrics        *metrics.Metrics
}

// RegisterRoutes mounts track operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service, cfg HandlerConfig) {
	handler := &httpHandler{service: service, cfg: cfg}
	group.POST("/upload", handler.upload)
	group.GET("/tracks", handler.listTracks)
	group.DELETE("/tracks/:id", handler.deleteTrack)
	group.GET("/tracks/:id/mirror", handler.mirrorLink)
}

// RegisterStreamRoutes mounts the byte-range endpoint. It is the web seed of
// every published torrent, so the group must not require caller identity.
func RegisterStreamRoutes(group *gin.RouterGroup, service *Service, cfg HandlerConfig) {
	handler := &httpHandler{service: service, cfg: cfg}
	group.GET("/stream/:id", handler.streamTrack)
	group.HEAD("/stream/:id", handler.streamTrack)
}

type httpHandler struct {
	service *Service
	cfg     HandlerConfig
}

func (h *httpHandler) upload(c *gin.Context) {
	if h.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	}

	header, err := formFile(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds the maximum request size"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "trackFile field is required"})
		return
	}

	ownerID, ok := identity.RequireUser(c)
	if !ok {
		raw := c.PostForm("userId")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
			return
		}
		if ownerID, err = identity.Parse(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
	}

	body, err := header.Open()
	if err != nil {
		h.fail(c, err, "failed to read upload")
		return
	}
	defer body.Close()

	result, err := h.service.Upload(c.Request.Context(), UploadInput{
		OwnerID:      ownerID,
		Title:        strings.TrimSpace(c.PostForm("title")),
		Artist:       strings.TrimSpace(c.PostForm("artist")),
		Album:        strings.TrimSpace(c.PostForm("album")),
		Filename:     header.Filename,
		DeclaredSize: header.Size,
		Body:         body,
	})
	if err != nil {
		h.fail(c, err, "failed to upload track")
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *httpHandler) listTracks(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to list tracks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": list})
}

func (h *httpHandler) deleteTrack(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}

	report, err := h.service.Delete(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to delete track")
		return
	}

	status := http.StatusOK
	if step, found := report.Step(StepDeleteRecord); found && !step.OK {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"success": report.Complete(), "id": report.TrackID, "steps": report.Steps})
}

func (h *httpHandler) mirrorLink(c *gin.Context) {
	callerID, ok := identity.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, ok := trackID(c)
	if !ok {
		return
	}

	link, err := h.service.MirrorLink(c.Request.Context(), id, callerID)
	if err != nil {
		h.fail(c, err, "failed to sign mirror link")
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *httpHandler) streamTrack(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}

	t, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to load track")
		return
	}

	result, err := stream.ServeFile(c.Writer, c.Request, t.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "track file not found"})
			return
		}
		if result.Status == 0 {
			h.fail(c, err, "failed to stream track")
			return
		}
		logger.FromContext(c).Warn("stream interrupted", zap.Int64("track_id", id), zap.Error(err))
	}
	h.cfg.Metrics.AddStreamed(result.Written)
}

func (h *httpHandler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, quota.ErrQuotaExceeded):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "storage quota exceeded"})
	case errors.Is(err, ErrTrackNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "track not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, mirror.ErrDisabled):
		c.JSON(http.StatusNotFound, gin.H{"error": "track mirror is not enabled"})
	case errors.Is(err, storage.ErrSchemaMissing):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database schema missing", "hint": schemaHint})
	case errors.Is(err, swarm.ErrSeedFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to publish track to the swarm"})
	default:
		_ = c.Error(err)
		logger.FromContext(c).Error(message, zap.Error(err))
		body := gin.H{"error": message}
		if !h.cfg.Production {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}

func formFile(c *gin.Context) (*multipart.FileHeader, error) {
	var firstErr error
	for _, field := range uploadFields {
		header, err := c.FormFile(field)
		if err == nil {
			return header, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func trackID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid track id"})
		return 0, false
	}
	return id, true
}
