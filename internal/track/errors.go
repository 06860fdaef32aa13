package track

import "errors"

var (
	// ErrInvalidInput signals a malformed upload request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTrackNotFound signals that the track could not be located.
	ErrTrackNotFound = errors.New("track not found")
	// ErrForbidden signals that the caller does not own the track.
	ErrForbidden = errors.New("track belongs to another user")
)
