// Package asset tracks locally materialized audio files while they are in use.
package asset

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/domain/media"
)

var (
	// ErrReleased is returned by Acquire when the lease was released before the asset arrived.
	ErrReleased = errors.New("lease already released")
	// ErrUnknownLease is returned when a lease was never reserved.
	ErrUnknownLease = errors.New("unknown lease")
)

// Lease is a handle on one use of an asset.
type Lease uint64

// Stats holds lifetime counters of the store.
type Stats struct {
	Reserved int
	Acquired int
	Released int
	InUse    int
}

type lease struct {
	ref  string
	path string // empty until acquired
}

// Store owns asset files from Acquire until Release and deletes them once
// no lease refers to their path anymore.
type Store struct {
	mu     sync.Mutex
	next   Lease
	leases map[Lease]*lease
	refs   map[string]int // path -> live acquired leases
	stats  Stats
	remove func(string) error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		leases: make(map[Lease]*lease),
		refs:   make(map[string]int),
		remove: os.Remove,
	}
}

// Reserve creates a lease for ref before its asset exists.
func (s *Store) Reserve(ref string) Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.leases[s.next] = &lease{ref: ref}
	s.stats.Reserved++
	return s.next
}

// Acquire binds a materialized asset to id.
// If id was released in the meantime the file is deleted immediately.
func (s *Store) Acquire(id Lease, a media.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == 0 || id > s.next {
		return errors.Wrapf(ErrUnknownLease, "lease %d", id)
	}
	l, ok := s.leases[id]
	if !ok {
		// Released while the fetch was in flight.
		if s.refs[a.Path] == 0 && !s.pendingLocked(a.Ref) {
			s.deleteLocked(a.Path)
		}
		return errors.Wrapf(ErrReleased, "lease %d", id)
	}
	if l.path != "" {
		return errors.Newf("lease %d already acquired", id)
	}

	l.path = a.Path
	s.refs[a.Path]++
	s.stats.Acquired++
	s.stats.InUse++
	return nil
}

// Release ends the lease. It reports whether this call released it;
// releasing twice is a no-op.
func (s *Store) Release(id Lease) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(id)
}

// ReleaseAll releases every live lease and returns how many were released.
func (s *Store) ReleaseAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.leases {
		if s.releaseLocked(id) {
			n++
		}
	}
	return n
}

// InUse returns the number of acquired, unreleased leases.
func (s *Store) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.InUse
}

// Stats returns a copy of the counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Store) releaseLocked(id Lease) bool {
	l, ok := s.leases[id]
	if !ok {
		return false
	}
	delete(s.leases, id)
	if l.path == "" {
		return true
	}

	s.stats.Released++
	s.stats.InUse--
	s.refs[l.path]--
	if s.refs[l.path] <= 0 {
		delete(s.refs, l.path)
		s.deleteLocked(l.path)
	}
	return true
}

// pendingLocked reports whether a live lease still waits for ref.
func (s *Store) pendingLocked(ref string) bool {
	for _, l := range s.leases {
		if l.ref == ref && l.path == "" {
			return true
		}
	}
	return false
}

func (s *Store) deleteLocked(path string) {
	if err := s.remove(path); err != nil && !os.IsNotExist(err) {
		zlog.Warn().Msgf("asset: failed to delete file: path=%s error=%v", path, err)
		return
	}
	zlog.Debug().Msgf("asset: deleted file: path=%s", path)
}
