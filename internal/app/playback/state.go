// Package playback provides the queue scheduler that drives fetch and playback.
package playback

// State represents the playback state.
type State int

const (
	StateIdle     State = iota // Nothing loading or playing
	StateLoading               // Fetching the asset of the current entry
	StatePlaying               // Current asset is playing on the sink
	StateStopping              // Skip requested, waiting for the sink to finish
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether an entry is being fetched or played.
func (s State) Active() bool {
	return s != StateIdle
}
