package swarm

import "context"

// SeedRequest describes a single-file torrent to announce.
type SeedRequest struct {
	FilePath    string
	DisplayName string
	Trackers    []string
	WebSeeds    []string
}

// SeedResult identifies the announced torrent.
type SeedResult struct {
	InfoHash string
	Locator  string
}

// Engine is the peer-to-peer client the publisher drives.
type Engine interface {
	// Seed starts serving the file and returns once the engine holds its metainfo.
	Seed(ctx context.Context, req SeedRequest) (SeedResult, error)
	// Drop stops serving the torrent; unknown hashes are ignored.
	Drop(infoHash string) error
	Close() error
}
