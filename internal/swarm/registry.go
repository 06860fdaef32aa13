package swarm

import (
	"sort"
	"sync"
	"time"
)

// Session is a track currently being seeded.
type Session struct {
	TrackID     int64
	InfoHash    string
	FilePath    string
	Locator     string
	FallbackURL string
	UploadedAt  time.Time
	StartedAt   time.Time
}

// Registry tracks active sessions by info hash and by track. A track has at
// most one session.
type Registry struct {
	mu      sync.RWMutex
	byHash  map[string]Session
	byTrack map[int64]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byHash:  make(map[string]Session),
		byTrack: make(map[int64]string),
	}
}

// Register stores s. If the track already had a session under another hash,
// that session is removed and returned so the caller can drop it.
func (r *Registry) Register(s Session) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		previous Session
		replaced bool
	)
	if hash, ok := r.byTrack[s.TrackID]; ok && hash != s.InfoHash {
		previous, replaced = r.byHash[hash]
		delete(r.byHash, hash)
	}
	if other, ok := r.byHash[s.InfoHash]; ok && other.TrackID != s.TrackID {
		delete(r.byTrack, other.TrackID)
	}

	r.byHash[s.InfoHash] = s
	r.byTrack[s.TrackID] = s.InfoHash
	return previous, replaced
}

// Unregister removes the session with the given info hash.
func (r *Registry) Unregister(infoHash string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byHash[infoHash]
	if !ok {
		return Session{}, false
	}
	delete(r.byHash, infoHash)
	if r.byTrack[s.TrackID] == infoHash {
		delete(r.byTrack, s.TrackID)
	}
	return s, true
}

// UnregisterTrack removes the session of a track.
func (r *Registry) UnregisterTrack(trackID int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.byTrack[trackID]
	if !ok {
		return Session{}, false
	}
	s := r.byHash[hash]
	delete(r.byTrack, trackID)
	delete(r.byHash, hash)
	return s, true
}

// LookupTrack returns the session of a track.
func (r *Registry) LookupTrack(trackID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hash, ok := r.byTrack[trackID]
	if !ok {
		return Session{}, false
	}
	s, ok := r.byHash[hash]
	return s, ok
}

// lookup returns the session with the given info hash.
func (r *Registry) lookup(infoHash string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byHash[infoHash]
	return s, ok
}

// Snapshot copies all sessions, oldest upload first.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.byHash))
	for _, s := range r.byHash {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].TrackID < out[j].TrackID
		}
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHash)
}

// Clear removes every session and returns what was removed.
func (r *Registry) Clear() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.byHash))
	for _, s := range r.byHash {
		out = append(out, s)
	}
	r.byHash = make(map[string]Session)
	r.byTrack = make(map[int64]string)
	return out
}
