package orchestrator

import (
	"github.com/osa030/storybox/internal/app/advance"
	"github.com/osa030/storybox/internal/app/playback"
	"github.com/osa030/storybox/internal/app/remote"
	"github.com/osa030/storybox/internal/domain/story"
)

// Status represents the combined orchestrator state.
type Status struct {
	Entries      []story.Story
	CurrentIndex int // -1 when nothing is current
	CurrentID    string
	State        advance.State
	Playback     playback.Status
	Remote       remote.Snapshot
	Flags        advance.Flags
	Visible      bool
	SequenceNo   uint64 // Sequence number of the last broadcast
}

// Current returns the current entry.
func (s Status) Current() (story.Story, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Entries) {
		return story.Story{}, false
	}
	return s.Entries[s.CurrentIndex], true
}
