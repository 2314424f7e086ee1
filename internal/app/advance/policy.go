// Package advance decides which queue entry plays next.
package advance

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/storybox/internal/domain/story"
)

// ErrIndexOutOfRange is returned by From when the index is not a queue position.
var ErrIndexOutOfRange = errors.New("index out of range")

// Decision is the outcome of a selection.
type Decision int

const (
	DecisionIdle Decision = iota // Nothing to play, clear the current entry
	DecisionPlay                 // Play the entry at Step.Index
	DecisionStay                 // Keep the current entry unchanged
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionIdle:
		return "idle"
	case DecisionPlay:
		return "play"
	case DecisionStay:
		return "stay"
	default:
		return "unknown"
	}
}

// Step is a selection result.
type Step struct {
	Decision Decision
	Index    int // -1 unless Decision is DecisionPlay or DecisionStay
	ID       string
}

func idle() Step { return Step{Decision: DecisionIdle, Index: -1} }

func play(entries []story.Story, i int) Step {
	return Step{Decision: DecisionPlay, Index: i, ID: entries[i].ID}
}

// Flags are the user-selectable advance modes.
type Flags struct {
	Shuffle   bool
	RepeatAll bool
}

// Policy selects entries from a queue snapshot.
// It never caches playability; every call looks at the entries it is given.
type Policy struct {
	mu    sync.Mutex
	flags Flags
	rng   *rand.Rand
}

// NewPolicy creates a policy. A nil src seeds from the clock.
func NewPolicy(flags Flags, src rand.Source) *Policy {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>7|1)
	}
	return &Policy{flags: flags, rng: rand.New(src)}
}

// Flags returns the current flags.
func (p *Policy) Flags() Flags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

// SetShuffle enables or disables shuffle.
func (p *Policy) SetShuffle(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags.Shuffle = on
}

// SetRepeatAll enables or disables repeat-all.
func (p *Policy) SetRepeatAll(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags.RepeatAll = on
}

// Next selects the entry after current (-1 when nothing is current).
func (p *Policy) Next(entries []story.Story, current int) Step {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.flags.Shuffle {
		return p.shuffleLocked(entries, current)
	}

	if i := scanForward(entries, current+1, len(entries)); i >= 0 {
		return play(entries, i)
	}
	if p.flags.RepeatAll && current >= 0 {
		// Wrap including current so a single playable entry repeats.
		if i := scanForward(entries, 0, min(current+1, len(entries))); i >= 0 {
			return play(entries, i)
		}
	}
	return idle()
}

// Prev selects the entry before current. With nothing current it starts
// from the end of the queue.
func (p *Policy) Prev(entries []story.Story, current int) Step {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.flags.Shuffle {
		return p.shuffleLocked(entries, current)
	}

	start := current - 1
	if current < 0 {
		start = len(entries) - 1
	}
	if i := scanBackward(entries, start, 0); i >= 0 {
		return play(entries, i)
	}
	if p.flags.RepeatAll && current >= 0 {
		if i := scanBackward(entries, len(entries)-1, current); i >= 0 {
			return play(entries, i)
		}
	}
	return idle()
}

// From selects the entry at index, or the next playable entry after it when
// it has no audio. The scan wraps only with repeat-all.
func (p *Policy) From(entries []story.Story, index int) (Step, error) {
	if index < 0 || index >= len(entries) {
		return idle(), errors.Wrapf(ErrIndexOutOfRange, "index %d (len=%d)", index, len(entries))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if i := scanForward(entries, index, len(entries)); i >= 0 {
		return play(entries, i), nil
	}
	if p.flags.RepeatAll {
		if i := scanForward(entries, 0, index); i >= 0 {
			return play(entries, i), nil
		}
	}
	return idle(), nil
}

func (p *Policy) shuffleLocked(entries []story.Story, current int) Step {
	others := make([]int, 0, len(entries))
	currentPlayable := false
	for i := range entries {
		if !entries[i].Playable() {
			continue
		}
		if i == current {
			currentPlayable = true
			continue
		}
		others = append(others, i)
	}

	switch {
	case len(others) > 0:
		return play(entries, others[p.rng.IntN(len(others))])
	case currentPlayable:
		return Step{Decision: DecisionStay, Index: current, ID: entries[current].ID}
	default:
		return idle()
	}
}

// scanForward returns the first playable index in [from, to), or -1.
func scanForward(entries []story.Story, from, to int) int {
	for i := max(from, 0); i < to && i < len(entries); i++ {
		if entries[i].Playable() {
			return i
		}
	}
	return -1
}

// scanBackward returns the first playable index walking from down to to (inclusive), or -1.
func scanBackward(entries []story.Story, from, to int) int {
	for i := min(from, len(entries)-1); i >= to && i >= 0; i-- {
		if entries[i].Playable() {
			return i
		}
	}
	return -1
}
