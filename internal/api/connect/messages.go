package connect

import (
	"time"

	"github.com/osa030/storybox/internal/app/advance"
	"github.com/osa030/storybox/internal/app/orchestrator"
	"github.com/osa030/storybox/internal/domain/story"
)

// Empty is the request or response of procedures without payload.
type Empty struct{}

// GetStatusRequest is the GetStatus request.
type GetStatusRequest struct{}

// PlaybackInfo is the local playback state.
type PlaybackInfo struct {
	State      string  `json:"state"`
	StoryID    string  `json:"storyId,omitempty"`
	PositionMS int64   `json:"positionMs"`
	DurationMS int64   `json:"durationMs"`
	Volume     float64 `json:"volume"`
	Muted      bool    `json:"muted"`
	Rate       float64 `json:"rate"`
}

// RemoteInfo is the last known remote device state.
type RemoteInfo struct {
	Playing             bool      `json:"playing"`
	StoryID             string    `json:"storyId,omitempty"`
	Known               bool      `json:"known"`
	Offline             bool      `json:"offline"`
	Busy                bool      `json:"busy"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	CommandError        string    `json:"commandError,omitempty"`
	LastUpdated         time.Time `json:"lastUpdated"`
}

// GetStatusResponse is the combined orchestrator state.
type GetStatusResponse struct {
	Entries      []story.Story `json:"entries"`
	CurrentIndex int           `json:"currentIndex"`
	CurrentID    string        `json:"currentId,omitempty"`
	State        string        `json:"state"`
	Playback     PlaybackInfo  `json:"playback"`
	Remote       RemoteInfo    `json:"remote"`
	Shuffle      bool          `json:"shuffle"`
	RepeatAll    bool          `json:"repeatAll"`
	Visible      bool          `json:"visible"`
	SequenceNo   uint64        `json:"sequenceNo"`
}

// StoryRequest names a single story.
type StoryRequest struct {
	StoryID string `json:"storyId"`
}

// AddResponse reports whether the story was appended.
type AddResponse struct {
	Added bool `json:"added"`
}

// DragRequest moves SourceID into TargetID's position.
type DragRequest struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// ReorderRequest replaces the queue order.
type ReorderRequest struct {
	Order []string `json:"order"`
}

// OrderResponse is the queue order after a reorder.
type OrderResponse struct {
	Order []string `json:"order"`
}

// PlayAtRequest starts local playback at Index.
type PlayAtRequest struct {
	Index int `json:"index"`
}

// TargetRequest selects local or remote playback.
type TargetRequest struct {
	Target string `json:"target,omitempty"`
}

// StepResponse is the advance decision taken.
type StepResponse struct {
	Decision string `json:"decision"`
	Index    int    `json:"index"`
	StoryID  string `json:"storyId,omitempty"`
}

// SeekRequest moves local playback to PositionMS.
type SeekRequest struct {
	PositionMS int64 `json:"positionMs"`
}

// SetVolumeRequest sets the local volume.
type SetVolumeRequest struct {
	Volume float64 `json:"volume"`
}

// SetRateRequest sets the local playback rate.
type SetRateRequest struct {
	Rate float64 `json:"rate"`
}

// ToggleMuteResponse is the mute state after toggling.
type ToggleMuteResponse struct {
	Muted bool `json:"muted"`
}

// FlagRequest enables or disables a flag.
type FlagRequest struct {
	Enabled bool `json:"enabled"`
}

// SetVisibilityRequest gates remote polling.
type SetVisibilityRequest struct {
	Visible bool `json:"visible"`
}

// UpdateStoryRequest edits a story.
type UpdateStoryRequest struct {
	StoryID string      `json:"storyId"`
	Patch   story.Patch `json:"patch"`
}

// StoryResponse carries one story.
type StoryResponse struct {
	Story story.Story `json:"story"`
}

// ListLibraryResponse carries the library listing.
type ListLibraryResponse struct {
	Stories []story.Story `json:"stories"`
}

// WatchEvent is one change notification with the state after it.
type WatchEvent struct {
	Type       string            `json:"type"`
	SequenceNo uint64            `json:"sequenceNo"`
	Status     GetStatusResponse `json:"status"`
}

const watchTypeInitial = "initial_state"

func toStatusResponse(st orchestrator.Status) *GetStatusResponse {
	entries := st.Entries
	if entries == nil {
		entries = []story.Story{}
	}
	resp := &GetStatusResponse{
		Entries:      entries,
		CurrentIndex: st.CurrentIndex,
		CurrentID:    st.CurrentID,
		State:        st.State.String(),
		Playback: PlaybackInfo{
			State:      st.Playback.State.String(),
			StoryID:    st.Playback.ID,
			PositionMS: st.Playback.Position.Milliseconds(),
			DurationMS: st.Playback.Duration.Milliseconds(),
			Volume:     st.Playback.Volume,
			Muted:      st.Playback.Muted,
			Rate:       st.Playback.Rate,
		},
		Remote: RemoteInfo{
			Playing:             st.Remote.Status.Playing,
			StoryID:             st.Remote.Status.StoryID,
			Known:               st.Remote.HasStatus,
			Offline:             st.Remote.IsOffline(),
			Busy:                st.Remote.Busy,
			ConsecutiveFailures: st.Remote.ConsecutiveFailures,
			LastUpdated:         st.Remote.LastUpdated,
		},
		Shuffle:    st.Flags.Shuffle,
		RepeatAll:  st.Flags.RepeatAll,
		Visible:    st.Visible,
		SequenceNo: st.SequenceNo,
	}
	if st.Remote.LastError != nil {
		resp.Remote.LastError = st.Remote.LastError.Error()
	}
	if st.Remote.CommandError != nil {
		resp.Remote.CommandError = st.Remote.CommandError.Error()
	}
	return resp
}

func toStepResponse(step advance.Step) *StepResponse {
	return &StepResponse{
		Decision: step.Decision.String(),
		Index:    step.Index,
		StoryID:  step.ID,
	}
}
