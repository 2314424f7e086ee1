package advance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/storybox/internal/app/queue"
)

func newTestMachine(t *testing.T, pattern string, flags Flags) (*Machine, *queue.Store) {
	t.Helper()
	store := queue.NewStore(nil, nil)
	store.Load(entries(pattern))
	return NewMachine(newTestPolicy(flags), store), store
}

func TestMachine_SkipsUnplayableThenIdles(t *testing.T) {
	// a has audio, b does not, c has audio.
	m, store := newTestMachine(t, "+-+", Flags{})

	step, err := m.PlayAt(0)
	require.NoError(t, err)
	assert.Equal(t, "a", step.ID)
	assert.Equal(t, StateAdvancing, m.State())
	m.Confirm("a")
	assert.Equal(t, StateActive, m.State())

	step = m.Next()
	assert.Equal(t, DecisionPlay, step.Decision)
	assert.Equal(t, "c", step.ID)
	assert.Equal(t, 2, store.Snapshot().CurrentIndex)

	step = m.Next()
	assert.Equal(t, DecisionIdle, step.Decision)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, -1, store.Snapshot().CurrentIndex)
}

func TestMachine_RepeatAllWrapsToHead(t *testing.T) {
	m, store := newTestMachine(t, "+-+", Flags{RepeatAll: true})

	_, err := m.PlayAt(0)
	require.NoError(t, err)
	assert.Equal(t, "c", m.Next().ID)

	step := m.Next()
	assert.Equal(t, DecisionPlay, step.Decision)
	assert.Equal(t, "a", step.ID)
	assert.Equal(t, "a", store.Snapshot().CurrentID)
}

func TestMachine_PlayAtWithoutAudioAdvances(t *testing.T) {
	m, store := newTestMachine(t, "+-+", Flags{})

	step, err := m.PlayAt(1)
	require.NoError(t, err)
	assert.Equal(t, "c", step.ID)
	assert.Equal(t, "c", store.Snapshot().CurrentID)

	_, err = m.PlayAt(5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, "c", store.Snapshot().CurrentID)
}

func TestMachine_FollowsReorderedQueue(t *testing.T) {
	m, store := newTestMachine(t, "+++", Flags{})

	_, err := m.PlayAt(0)
	require.NoError(t, err)

	store.Reorder([]string{"b", "c", "a"})

	// a is now last, so there is nothing after it.
	assert.Equal(t, DecisionIdle, m.Next().Decision)
}

func TestMachine_SeesAudioBecomeAvailable(t *testing.T) {
	m, store := newTestMachine(t, "+-", Flags{})

	_, err := m.PlayAt(0)
	require.NoError(t, err)

	b, ok := store.Get("b")
	require.True(t, ok)
	b.AudioRef = "b.wav"
	store.Update(b)

	assert.Equal(t, "b", m.Next().ID)
}

func TestMachine_CurrentRemovedReportsIdle(t *testing.T) {
	m, store := newTestMachine(t, "++", Flags{})

	_, err := m.PlayAt(0)
	require.NoError(t, err)
	m.Confirm("a")

	_, err = store.Remove("a")
	require.NoError(t, err)

	assert.Equal(t, StateIdle, m.State())
}

func TestMachine_Stop(t *testing.T) {
	m, store := newTestMachine(t, "++", Flags{})

	_, err := m.PlayAt(1)
	require.NoError(t, err)
	m.Stop()

	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, -1, store.Snapshot().CurrentIndex)
}

func TestMachine_Adopt(t *testing.T) {
	m, store := newTestMachine(t, "+++", Flags{})

	require.NoError(t, m.Adopt("b"))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, "b", store.Snapshot().CurrentID)
	assert.Equal(t, "c", m.Next().ID)

	assert.ErrorIs(t, m.Adopt("zzz"), queue.ErrNotInQueue)
	assert.Equal(t, "c", store.Snapshot().CurrentID)
}

func TestMachine_ConfirmIgnoresStaleID(t *testing.T) {
	m, _ := newTestMachine(t, "++", Flags{})

	_, err := m.PlayAt(0)
	require.NoError(t, err)
	m.Next()
	m.Confirm("a")

	assert.Equal(t, StateAdvancing, m.State())
}

func TestMachine_CurrentIndexAlwaysValid(t *testing.T) {
	m, store := newTestMachine(t, "+-++-+", Flags{RepeatAll: true, Shuffle: true})

	ops := []func(){
		func() { m.Next() },
		func() { m.Prev() },
		func() { _, _ = m.PlayAt(3) },
		func() { _, _ = store.Remove(store.Snapshot().CurrentID) },
		func() { store.Reorder([]string{"f", "e", "d"}) },
		func() { m.Next() },
		func() { m.Stop() },
		func() { m.Prev() },
	}
	for i, op := range ops {
		op()
		snap := store.Snapshot()
		assert.True(t, snap.CurrentIndex >= -1 && snap.CurrentIndex < len(snap.Entries), "op %d: index %d len %d", i, snap.CurrentIndex, len(snap.Entries))
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "advancing", StateAdvancing.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "unknown", State(9).String())
	assert.Equal(t, "stay", DecisionStay.String())
}
