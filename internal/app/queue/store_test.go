package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/storybox/internal/app/notification"
	"github.com/osa030/storybox/internal/domain/story"
)

type recordingPersister struct {
	mu    sync.Mutex
	saves [][]string
	delay time.Duration
}

func (p *recordingPersister) Save(_ context.Context, ids []string) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(ids))
	copy(cp, ids)
	p.saves = append(p.saves, cp)
	return nil
}

func (p *recordingPersister) last() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saves) == 0 {
		return nil
	}
	return p.saves[len(p.saves)-1]
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saves)
}

type countingNotifier struct {
	mu    sync.Mutex
	types []notification.Type
}

func (n *countingNotifier) Broadcast(t notification.Type) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, t)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.types)
}

func playable(ids ...string) []story.Story {
	out := make([]story.Story, len(ids))
	for i, id := range ids {
		out[i] = story.Story{ID: id, Text: "story " + id, AudioRef: id + ".wav"}
	}
	return out
}

func newTestStore(t *testing.T, ids ...string) (*Store, *recordingPersister, *countingNotifier) {
	t.Helper()
	p := &recordingPersister{}
	n := &countingNotifier{}
	s := NewStore(p, n)
	t.Cleanup(s.Close)
	s.Load(playable(ids...))
	return s, p, n
}

func TestStore_LoadDoesNotPersist(t *testing.T) {
	s, p, n := newTestStore(t, "a", "b", "a")
	s.Flush()

	assert.Equal(t, []string{"a", "b"}, s.Snapshot().IDs())
	assert.Equal(t, 0, p.count())
	assert.Equal(t, 1, n.count())
}

func TestStore_SaveWritesLoadedOrder(t *testing.T) {
	s, p, _ := newTestStore(t, "b", "a")

	s.Save()
	s.Flush()

	assert.Equal(t, 1, p.count())
	assert.Equal(t, []string{"b", "a"}, p.last())
}

func TestStore_AddIgnoresDuplicates(t *testing.T) {
	s, p, _ := newTestStore(t, "a")

	assert.True(t, s.Add(playable("b")[0]))
	assert.False(t, s.Add(playable("a")[0]))
	assert.Equal(t, 1, s.AddMany(playable("b", "c")))
	s.Flush()

	assert.Equal(t, []string{"a", "b", "c"}, s.Snapshot().IDs())
	assert.Equal(t, []string{"a", "b", "c"}, p.last())
}

func TestStore_Remove(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		remove      string
		wantCurrent string
		wantWas     bool
		wantIDs     []string
	}{
		{name: "non-current keeps current", current: "b", remove: "c", wantCurrent: "b", wantIDs: []string{"a", "b"}},
		{name: "entry before current keeps current", current: "c", remove: "a", wantCurrent: "c", wantIDs: []string{"b", "c"}},
		{name: "current moves to previous", current: "b", remove: "b", wantCurrent: "a", wantWas: true, wantIDs: []string{"a", "c"}},
		{name: "current at head clears", current: "a", remove: "a", wantCurrent: "", wantWas: true, wantIDs: []string{"b", "c"}},
		{name: "no current", current: "", remove: "b", wantCurrent: "", wantIDs: []string{"a", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p, _ := newTestStore(t, "a", "b", "c")
			if tt.current != "" {
				require.NoError(t, s.SetCurrent(tt.current))
			}

			was, err := s.Remove(tt.remove)
			require.NoError(t, err)
			s.Flush()

			snap := s.Snapshot()
			assert.Equal(t, tt.wantWas, was)
			assert.Equal(t, tt.wantCurrent, snap.CurrentID)
			assert.Equal(t, tt.wantIDs, snap.IDs())
			assert.Equal(t, tt.wantIDs, p.last())
		})
	}
}

func TestStore_RemoveLastEntryClearsCurrent(t *testing.T) {
	s, _, _ := newTestStore(t, "a")
	require.NoError(t, s.SetCurrent("a"))

	was, err := s.Remove("a")
	require.NoError(t, err)

	assert.True(t, was)
	snap := s.Snapshot()
	assert.Equal(t, -1, snap.CurrentIndex)
	assert.Empty(t, snap.Entries)
}

func TestStore_RemoveUnknown(t *testing.T) {
	s, _, _ := newTestStore(t, "a")

	_, err := s.Remove("zzz")
	assert.ErrorIs(t, err, ErrNotInQueue)
}

func TestStore_ReorderKeepsCurrentByIdentity(t *testing.T) {
	s, p, _ := newTestStore(t, "a", "b", "c")
	require.NoError(t, s.SetCurrent("b"))

	applied := s.Reorder([]string{"c", "b", "a"})
	s.Flush()

	snap := s.Snapshot()
	assert.Equal(t, []string{"c", "b", "a"}, applied)
	assert.Equal(t, "b", snap.CurrentID)
	assert.Equal(t, 1, snap.CurrentIndex)
	assert.Equal(t, []string{"c", "b", "a"}, p.last())
}

func TestStore_ReorderUnchangedDoesNotPersist(t *testing.T) {
	s, p, _ := newTestStore(t, "a", "b")

	s.Reorder([]string{"a", "b"})
	s.Flush()

	assert.Equal(t, 0, p.count())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		current  []string
		ids      []string
		expected []string
	}{
		{name: "permutation", current: []string{"a", "b", "c"}, ids: []string{"c", "a", "b"}, expected: []string{"c", "a", "b"}},
		{name: "unknown ids dropped", current: []string{"a", "b"}, ids: []string{"x", "b", "a"}, expected: []string{"b", "a"}},
		{name: "duplicates dropped", current: []string{"a", "b"}, ids: []string{"b", "b", "a"}, expected: []string{"b", "a"}},
		{name: "missing appended in order", current: []string{"a", "b", "c", "d"}, ids: []string{"d"}, expected: []string{"d", "a", "b", "c"}},
		{name: "empty request keeps order", current: []string{"a", "b"}, ids: nil, expected: []string{"a", "b"}},
		{name: "empty queue", current: nil, ids: []string{"a"}, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.current, tt.ids))
		})
	}
}

func TestStore_Clear(t *testing.T) {
	s, p, _ := newTestStore(t, "a", "b")
	require.NoError(t, s.SetCurrent("a"))

	s.Clear()
	s.Flush()

	snap := s.Snapshot()
	assert.Empty(t, snap.Entries)
	assert.Equal(t, -1, snap.CurrentIndex)
	assert.Equal(t, []string{}, p.last())
}

func TestStore_Reconcile(t *testing.T) {
	t.Run("replaces differing records in place", func(t *testing.T) {
		s, p, _ := newTestStore(t, "a", "b")
		s.Load([]story.Story{{ID: "a"}, {ID: "b", AudioRef: "b.wav"}})

		latest := []story.Story{{ID: "b", AudioRef: "b.wav"}, {ID: "a", AudioRef: "a.wav"}}
		res := s.Reconcile(latest)
		s.Flush()

		assert.Equal(t, []string{"a"}, res.Updated)
		assert.Empty(t, res.Dropped)
		snap := s.Snapshot()
		assert.Equal(t, []string{"a", "b"}, snap.IDs())
		assert.True(t, snap.Entries[0].Playable())
		assert.Equal(t, 0, p.count())
	})

	t.Run("drops dangling entries and moves current back", func(t *testing.T) {
		s, p, _ := newTestStore(t, "a", "b", "c", "d")
		require.NoError(t, s.SetCurrent("c"))

		res := s.Reconcile(playable("a", "d"))
		s.Flush()

		assert.Equal(t, []string{"b", "c"}, res.Dropped)
		snap := s.Snapshot()
		assert.Equal(t, []string{"a", "d"}, snap.IDs())
		assert.Equal(t, "a", snap.CurrentID)
		assert.Equal(t, []string{"a", "d"}, p.last())
	})

	t.Run("no changes", func(t *testing.T) {
		s, _, n := newTestStore(t, "a")
		before := n.count()

		res := s.Reconcile(playable("a", "z"))

		assert.False(t, res.Changed())
		assert.Equal(t, before, n.count())
	})
}

func TestStore_Update(t *testing.T) {
	s, _, _ := newTestStore(t, "a", "b")

	edited := playable("b")[0]
	edited.Favorite = true

	assert.True(t, s.Update(edited))
	assert.False(t, s.Update(edited))
	assert.False(t, s.Update(story.Story{ID: "zzz"}))

	got, ok := s.Get("b")
	require.True(t, ok)
	assert.True(t, got.Favorite)
}

func TestStore_SetCurrent(t *testing.T) {
	s, _, n := newTestStore(t, "a", "b")
	before := n.count()

	require.NoError(t, s.SetCurrent("b"))
	require.NoError(t, s.SetCurrent("b"))
	assert.ErrorIs(t, s.SetCurrent("zzz"), ErrNotInQueue)

	cur, ok := s.Snapshot().Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)
	assert.Equal(t, before+1, n.count())

	s.ClearCurrent()
	_, ok = s.Snapshot().Current()
	assert.False(t, ok)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s, _, _ := newTestStore(t, "a", "b")

	snap := s.Snapshot()
	snap.Entries[0].ID = "mutated"

	assert.Equal(t, []string{"a", "b"}, s.Snapshot().IDs())
}

func TestStore_PersistsLatestOrder(t *testing.T) {
	p := &recordingPersister{delay: 20 * time.Millisecond}
	s := NewStore(p, nil)
	defer s.Close()
	s.Load(playable("a", "b", "c"))

	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			s.Reorder([]string{"c", "b", "a"})
		} else {
			s.Reorder([]string{"a", "b", "c"})
		}
	}
	s.Reorder([]string{"b", "c", "a"})
	s.Flush()

	assert.Equal(t, []string{"b", "c", "a"}, p.last())
	assert.LessOrEqual(t, p.count(), 11)
}

func TestStore_WithoutPersister(t *testing.T) {
	s := NewStore(nil, nil)
	s.Load(playable("a"))
	s.Add(playable("b")[0])
	s.Flush()
	s.Close()

	assert.Equal(t, 2, s.Len())
}
