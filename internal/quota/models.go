package quota

// Placement describes a file moved into permanent per-user storage.
type Placement struct {
	Path      string
	SizeBytes int64
}

// FileRemoval reports the outcome of each part of a file deletion.
// A missing file counts as removed.
type FileRemoval struct {
	Path      string
	FileErr   error
	LedgerErr error
}

// OK reports whether both the unlink and the ledger release succeeded.
func (r FileRemoval) OK() bool {
	return r.FileErr == nil && r.LedgerErr == nil
}
