package playback

import "github.com/osa030/jukebot/internal/domain/media"

// EventType represents a playback event type.
type EventType int

const (
	EventQueued           EventType = iota // Entry appended to the queue
	EventNowPlaying                        // Asset started playing
	EventFinished                          // Asset played to the end
	EventSkipped                           // Current entry was skipped
	EventFailed                            // Entry failed to fetch or play
	EventAllFailed                         // Every entry of a pass failed
	EventStopped                           // Queue cleared and playback stopped
	EventSinkUnavailable                   // Sink is not connected
	EventQueueEmpty                        // Queue drained after playing
	EventDisconnectedIdle                  // Sink released by the idle monitor
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventQueued:
		return "queued"
	case EventNowPlaying:
		return "now_playing"
	case EventFinished:
		return "finished"
	case EventSkipped:
		return "skipped"
	case EventFailed:
		return "failed"
	case EventAllFailed:
		return "all_failed"
	case EventStopped:
		return "stopped"
	case EventSinkUnavailable:
		return "sink_unavailable"
	case EventQueueEmpty:
		return "queue_empty"
	case EventDisconnectedIdle:
		return "disconnected_idle"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type     EventType
	Entry    *media.QueueEntry // Entry concerned (nil for some events)
	Position int               // Queue position for EventQueued
	Count    int               // Failures for EventAllFailed, cleared entries for EventStopped
	Err      error             // Cause for EventFailed
	State    State             // State when the event was emitted
}
