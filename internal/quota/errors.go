package quota

import "errors"

var (
	// ErrQuotaExceeded signals that storing the file would push the user past the storage limit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrOutsideRoot signals an attempt to remove a file that the manager does not own.
	ErrOutsideRoot = errors.New("path outside storage root")
)
