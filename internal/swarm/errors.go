package swarm

import "errors"

var (
	// ErrSeedFailed wraps any failure to publish a track into the swarm.
	ErrSeedFailed = errors.New("swarm seeding failed")
	// ErrFileMissing signals that the track file to seed is not on disk.
	ErrFileMissing = errors.New("track file missing")
	// ErrEngineClosed is returned by engines after Close.
	ErrEngineClosed = errors.New("swarm engine closed")
)
