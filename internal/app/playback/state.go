// Package playback provides local playback control over a single audio stream.
package playback

import "time"

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No stream (never started, stopped or ended)
	StateLoading              // Audio is being fetched and decoded
	StatePlaying              // Stream is playing
	StatePaused               // Stream is paused
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
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State    State
	ID       string // Story being played, empty when idle
	AudioURL string
	Position time.Duration
	Duration time.Duration
	Volume   float64
	Muted    bool
	Rate     float64
}

// IsPlaying reports whether audio is audible or about to be.
func (s Status) IsPlaying() bool {
	return s.State == StatePlaying || s.State == StateLoading
}

// IsPaused reports whether the stream is paused.
func (s Status) IsPaused() bool {
	return s.State == StatePaused
}
