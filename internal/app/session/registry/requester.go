// Package registry tracks the requesters seen by the session.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/osa030/jukebot/internal/domain/media"
)

// Entry is what the registry knows about one requester.
type Entry struct {
	Requester media.Requester
	Requests  int       // Accepted requests
	Rejected  int       // Rejected requests
	LastSeen  time.Time // Time of the last request
}

// RequesterRegistry records requesters with thread-safe access.
type RequesterRegistry struct {
	mu          sync.RWMutex
	requesters  map[string]*Entry
	lastChannel string
	now         func() time.Time
}

// NewRequesterRegistry creates a new requester registry.
func NewRequesterRegistry() *RequesterRegistry {
	return &RequesterRegistry{
		requesters: make(map[string]*Entry),
		now:        time.Now,
	}
}

// Record notes a request from r. The requester's name and channel are refreshed.
func (r *RequesterRegistry) Record(req media.Requester, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.requesters[req.ID]
	if !ok {
		e = &Entry{}
		r.requesters[req.ID] = e
	}
	e.Requester = req
	e.LastSeen = r.now()
	if accepted {
		e.Requests++
	} else {
		e.Rejected++
	}
	if req.ChannelID != "" {
		r.lastChannel = req.ChannelID
	}
}

// SetLastChannel records the text channel of the latest command.
func (r *RequesterRegistry) SetLastChannel(channelID string) {
	if channelID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastChannel = channelID
}

// LastChannel returns the text channel of the latest command, if any.
func (r *RequesterRegistry) LastChannel() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastChannel, r.lastChannel != ""
}

// Get returns a copy of the entry for id.
func (r *RequesterRegistry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.requesters[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns every entry, most recent first.
func (r *RequesterRegistry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Entry, 0, len(r.requesters))
	for _, e := range r.requesters {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastSeen.After(result[j].LastSeen)
	})
	return result
}

// Count returns the number of requesters.
func (r *RequesterRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.requesters)
}
