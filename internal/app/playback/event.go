package playback

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Stream opened and playing
	EventTrackEnded                    // Stream finished naturally, or failed to load
	EventStateChanged                  // Pause/resume/seek/volume/rate changed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	ID    string // Story the event refers to
	State State  // Playback state after the event
	Err   error  // Set on EventTrackEnded when the audio failed to load
}
