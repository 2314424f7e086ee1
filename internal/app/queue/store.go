// Package queue provides the ordered, persisted story queue.
package queue

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/app/notification"
	"github.com/osa030/storybox/internal/domain/story"
)

// ErrNotInQueue is returned when an operation names a story that is not queued.
var ErrNotInQueue = errors.New("story is not in the queue")

// Notifier receives change notifications.
type Notifier interface {
	Broadcast(t notification.Type)
}

// Snapshot is a copy of the queue at one point in time.
type Snapshot struct {
	Entries      []story.Story
	CurrentIndex int // -1 when there is no current entry
	CurrentID    string
}

// Current returns the current entry, if any.
func (s Snapshot) Current() (story.Story, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Entries) {
		return story.Story{}, false
	}
	return s.Entries[s.CurrentIndex], true
}

// IndexOf returns the position of id, or -1.
func (s Snapshot) IndexOf(id string) int {
	return indexOf(s.Entries, id)
}

// IDs returns the entry IDs in queue order.
func (s Snapshot) IDs() []string {
	return story.IDs(s.Entries)
}

// ReconcileResult lists what a reconcile changed.
type ReconcileResult struct {
	Updated []string // Entries whose story record was replaced in place
	Dropped []string // Entries no longer present in the library
}

// Changed reports whether the reconcile modified the queue.
func (r ReconcileResult) Changed() bool {
	return len(r.Updated) > 0 || len(r.Dropped) > 0
}

// Store holds the queue entries and the current entry.
// The current entry is tracked by ID so that reorders and removals never
// leave a stale index behind.
type Store struct {
	mu        sync.RWMutex
	entries   []story.Story
	currentID string

	writer   *writer
	notifier Notifier
}

// NewStore creates an empty store. p and n may be nil.
func NewStore(p Persister, n Notifier) *Store {
	s := &Store{
		entries:  make([]story.Story, 0),
		notifier: n,
	}
	if p != nil {
		s.writer = newWriter(p)
	}
	return s
}

// Load replaces the contents with entries without persisting them.
// Used when restoring the persisted order at startup.
func (s *Store) Load(entries []story.Story) {
	s.mu.Lock()
	s.entries = make([]story.Story, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		s.entries = append(s.entries, e)
	}
	if indexOf(s.entries, s.currentID) < 0 {
		s.currentID = ""
	}
	s.mu.Unlock()

	s.changed(nil)
}

// Add appends st unless a story with the same ID is already queued.
func (s *Store) Add(st story.Story) bool {
	return s.AddMany([]story.Story{st}) == 1
}

// AddMany appends every story not yet queued and returns how many were added.
func (s *Store) AddMany(stories []story.Story) int {
	s.mu.Lock()
	added := 0
	for _, st := range stories {
		if indexOf(s.entries, st.ID) >= 0 {
			continue
		}
		s.entries = append(s.entries, st)
		added++
	}
	ids := story.IDs(s.entries)
	s.mu.Unlock()

	if added > 0 {
		zlog.Debug().Msgf("queue: added %d stories (size=%d)", added, len(ids))
		s.changed(ids)
	}
	return added
}

// Remove removes the entry with the given ID.
// When it was the current entry, the previous entry becomes current, or
// there is no current entry when it was the first one.
func (s *Store) Remove(id string) (wasCurrent bool, err error) {
	s.mu.Lock()
	idx := indexOf(s.entries, id)
	if idx < 0 {
		s.mu.Unlock()
		return false, ErrNotInQueue
	}
	wasCurrent = s.currentID == id
	s.entries = slices.Delete(s.entries, idx, idx+1)
	if wasCurrent {
		if idx > 0 {
			s.currentID = s.entries[idx-1].ID
		} else {
			s.currentID = ""
		}
	}
	ids := story.IDs(s.entries)
	s.mu.Unlock()

	zlog.Debug().Msgf("queue: removed %s (was_current=%t size=%d)", id, wasCurrent, len(ids))
	s.changed(ids)
	return wasCurrent, nil
}

// Reorder replaces the queue order with ids.
// The ID set never changes: unknown IDs and duplicates are ignored and queued
// IDs missing from ids keep their relative order at the end.
// It returns the order actually applied.
func (s *Store) Reorder(ids []string) []string {
	s.mu.Lock()
	before := story.IDs(s.entries)
	order := Normalize(before, ids)
	if slices.Equal(before, order) {
		s.mu.Unlock()
		return order
	}

	byID := story.ByID(s.entries)
	entries := make([]story.Story, len(order))
	for i, id := range order {
		entries[i] = byID[id]
	}
	s.entries = entries
	s.mu.Unlock()

	s.changed(order)
	return order
}

// Clear removes every entry and the current entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make([]story.Story, 0)
	s.currentID = ""
	s.mu.Unlock()

	s.changed([]string{})
}

// Reconcile refreshes entries from the latest library records.
// Entries are replaced in place when any field differs; entries missing from
// latest are dropped. Positions of the remaining entries are untouched.
func (s *Store) Reconcile(latest []story.Story) ReconcileResult {
	byID := story.ByID(latest)
	var result ReconcileResult

	s.mu.Lock()
	kept := make([]story.Story, 0, len(s.entries))
	lastKept := ""
	for _, e := range s.entries {
		fresh, ok := byID[e.ID]
		if !ok {
			result.Dropped = append(result.Dropped, e.ID)
			if e.ID == s.currentID {
				s.currentID = lastKept
			}
			continue
		}
		if e.Differs(fresh) {
			result.Updated = append(result.Updated, e.ID)
			e = fresh
		}
		kept = append(kept, e)
		lastKept = e.ID
	}
	s.entries = kept
	ids := story.IDs(kept)
	s.mu.Unlock()

	switch {
	case len(result.Dropped) > 0:
		zlog.Info().Msgf("queue: reconcile dropped %d and updated %d entries", len(result.Dropped), len(result.Updated))
		s.changed(ids)
	case len(result.Updated) > 0:
		zlog.Debug().Msgf("queue: reconcile updated %d entries", len(result.Updated))
		s.changed(nil)
	}
	return result
}

// Update replaces the entry with the same ID in place.
func (s *Store) Update(st story.Story) bool {
	s.mu.Lock()
	idx := indexOf(s.entries, st.ID)
	if idx < 0 || !s.entries[idx].Differs(st) {
		s.mu.Unlock()
		return false
	}
	s.entries[idx] = st
	s.mu.Unlock()

	s.changed(nil)
	return true
}

// SetCurrent marks the entry with the given ID as current.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	if indexOf(s.entries, id) < 0 {
		s.mu.Unlock()
		return ErrNotInQueue
	}
	if s.currentID == id {
		s.mu.Unlock()
		return nil
	}
	s.currentID = id
	s.mu.Unlock()

	s.changed(nil)
	return nil
}

// ClearCurrent unsets the current entry.
func (s *Store) ClearCurrent() {
	s.mu.Lock()
	if s.currentID == "" {
		s.mu.Unlock()
		return
	}
	s.currentID = ""
	s.mu.Unlock()

	s.changed(nil)
}

// Snapshot returns a copy of the entries and the resolved current index.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]story.Story, len(s.entries))
	copy(entries, s.entries)

	idx := indexOf(entries, s.currentID)
	currentID := s.currentID
	if idx < 0 {
		currentID = ""
	}
	return Snapshot{
		Entries:      entries,
		CurrentIndex: idx,
		CurrentID:    currentID,
	}
}

// Get returns the queued story with the given ID.
func (s *Store) Get(id string) (story.Story, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := indexOf(s.entries, id)
	if idx < 0 {
		return story.Story{}, false
	}
	return s.entries[idx], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Flush waits until pending order writes have reached the persister.
func (s *Store) Flush() {
	if s.writer != nil {
		s.writer.flush()
	}
}

// Save schedules a write of the current order, for an order that was
// loaded but never persisted.
func (s *Store) Save() {
	if s.writer == nil {
		return
	}
	s.writer.enqueue(s.Snapshot().IDs())
}

// Close flushes pending writes and stops the writer.
func (s *Store) Close() {
	if s.writer != nil {
		s.writer.close()
	}
}

// changed persists ids (when non-nil) and notifies observers.
// Must be called without the lock held.
func (s *Store) changed(ids []string) {
	if ids != nil && s.writer != nil {
		s.writer.enqueue(ids)
	}
	if s.notifier != nil {
		s.notifier.Broadcast(notification.TypeQueueChanged)
	}
}

// Normalize returns ids restricted to the set current, without duplicates,
// followed by any IDs of current that ids did not mention.
func Normalize(current, ids []string) []string {
	present := make(map[string]bool, len(current))
	for _, id := range current {
		present[id] = true
	}

	seen := make(map[string]bool, len(current))
	out := make([]string, 0, len(current))
	for _, id := range ids {
		if !present[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range current {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

func indexOf(entries []story.Story, id string) int {
	if id == "" {
		return -1
	}
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}
