// Package media provides the queue and asset domain entities.
package media

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// AssetExt is the extension of every materialized audio asset.
const AssetExt = ".mp3"

// RequesterType represents the origin of a play request.
type RequesterType string

const (
	RequesterTypeUser  RequesterType = "USER"
	RequesterTypeAdmin RequesterType = "ADMIN"
)

// Requester represents who asked for an entry.
type Requester struct {
	ID        string        // Platform user ID
	Name      string        // Display name
	ChannelID string        // Text channel the request came from (optional)
	Type      RequesterType // Type of requester
}

// QueueEntry is a media reference waiting in the queue.
// Entries are immutable once enqueued.
type QueueEntry struct {
	Seq        uint64    // Insertion order, strictly increasing
	Ref        string    // Media reference as given by the requester
	Requester  Requester // Requester info
	EnqueuedAt time.Time // Time when added to queue
}

// Asset is a locally materialized audio file.
type Asset struct {
	Ref         string
	Fingerprint string
	Path        string
}

// Fingerprint returns the stable identity of a reference (hex MD5).
func Fingerprint(ref string) string {
	sum := md5.Sum([]byte(ref))
	return hex.EncodeToString(sum[:])
}

// AssetPath returns the deterministic location of ref's asset inside dir.
func AssetPath(dir, ref string) string {
	return filepath.Join(dir, Fingerprint(ref)+AssetExt)
}

// NewAsset builds the Asset descriptor for ref stored in dir.
func NewAsset(dir, ref string) Asset {
	return Asset{
		Ref:         ref,
		Fingerprint: Fingerprint(ref),
		Path:        AssetPath(dir, ref),
	}
}

// FetchError reports that a reference could not be turned into an asset.
type FetchError struct {
	Ref   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Ref, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// PlaybackError reports that the sink failed while playing an asset.
type PlaybackError struct {
	Ref   string
	Cause error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %q: %v", e.Ref, e.Cause)
}

func (e *PlaybackError) Unwrap() error { return e.Cause }
