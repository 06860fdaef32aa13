package track

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// Track is a persisted upload.
type Track struct {
	ID           int64
	UserID       uuid.UUID
	Title        string
	Artist       string
	Album        string
	FilePath     string
	SizeBytes    int64
	ContentHash  string
	SwarmLocator string
	FallbackURL  string
	UploadedAt   time.Time
}

// Descriptor is the client-facing view returned by uploads.
type Descriptor struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	SwarmLocator string `json:"swarmLocator"`
	FallbackURL  string `json:"fallbackURL"`
}

// Descriptor projects the track for upload responses.
func (t Track) Descriptor() Descriptor {
	return Descriptor{
		ID:           t.ID,
		Title:        t.Title,
		SwarmLocator: t.SwarmLocator,
		FallbackURL:  t.FallbackURL,
	}
}

// Summary is a catalog entry returned by List.
type Summary struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album"`
	SwarmLocator string    `json:"swarmLocator"`
	FallbackURL  string    `json:"fallbackURL"`
	SizeBytes    int64     `json:"sizeBytes,string"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Summary projects the track for listings.
func (t Track) Summary() Summary {
	return Summary{
		ID:           t.ID,
		Title:        t.Title,
		Artist:       t.Artist,
		Album:        t.Album,
		SwarmLocator: t.SwarmLocator,
		FallbackURL:  t.FallbackURL,
		SizeBytes:    t.SizeBytes,
		UploadedAt:   t.UploadedAt.UTC(),
	}
}

// UploadInput carries one upload request.
type UploadInput struct {
	OwnerID  uuid.UUID
	Title    string
	Artist   string
	Album    string
	Filename string
	// DeclaredSize is the client-reported size used for the early quota check; 0 skips it.
	DeclaredSize int64
	Body         io.Reader
}

// UploadResult tells whether the upload matched content already stored.
type UploadResult struct {
	Existing bool       `json:"existing"`
	Track    Descriptor `json:"track"`
}

// Deletion step names, in execution order.
const (
	StepStopSeeding  = "stop_seeding"
	StepRemoveFile   = "remove_file"
	StepReleaseQuota = "release_quota"
	StepRemoveMirror = "remove_mirror"
	StepDeleteRecord = "delete_record"
)

// DeletionStep is the outcome of one part of a deletion.
type DeletionStep struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	err error
}

// DeletionReport lists every deletion step. All steps run even if an earlier one failed.
type DeletionReport struct {
	TrackID int64          `json:"id"`
	Steps   []DeletionStep `json:"steps"`
}

func (r *DeletionReport) record(name string, err error) {
	step := DeletionStep{Name: name, OK: err == nil, err: err}
	if err != nil {
		step.Error = err.Error()
	}
	r.Steps = append(r.Steps, step)
}

// Complete reports whether every step succeeded.
func (r DeletionReport) Complete() bool {
	for _, step := range r.Steps {
		if !step.OK {
			return false
		}
	}
	return true
}

// Step returns the named step.
func (r DeletionReport) Step(name string) (DeletionStep, bool) {
	for _, step := range r.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return DeletionStep{}, false
}

// Err joins the errors of all failed steps.
func (r DeletionReport) Err() error {
	var errs []error
	for _, step := range r.Steps {
		if step.err != nil {
			errs = append(errs, step.err)
		}
	}
	return errors.Join(errs...)
}
