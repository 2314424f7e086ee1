// Package orchestrator ties the queue, advance policy, local playback and the
// remote device together.
package orchestrator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/app/advance"
	"github.com/osa030/storybox/internal/app/notification"
	"github.com/osa030/storybox/internal/app/persistence"
	"github.com/osa030/storybox/internal/app/playback"
	"github.com/osa030/storybox/internal/app/queue"
	"github.com/osa030/storybox/internal/app/remote"
	"github.com/osa030/storybox/internal/app/reorder"
	"github.com/osa030/storybox/internal/domain/story"
	"github.com/osa030/storybox/internal/infra/device"
	"github.com/osa030/storybox/internal/infra/library"
)

// remoteStartGrace is how many status refreshes after a remote start may
// still report the device idle before the start is given up.
const remoteStartGrace = 3

var (
	ErrUnknownStory  = errors.New("story is not in the library")
	ErrInvalidTarget = errors.New("target must be local or remote")
	ErrRemoteBusy    = errors.New("a remote command is already in flight")
)

// Watcher is implemented by libraries that can report changes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Config holds orchestrator configuration.
type Config struct {
	Flags          advance.Flags
	PollInterval   time.Duration // Remote status poll cadence
	Visible        bool          // Initial visibility of the remote poller
	LibraryRefresh time.Duration // Periodic library reconcile, 0 to disable
	Rand           rand.Source   // Shuffle source, nil for a clock seed
}

// Manager serializes gestures against the queue and routes the resulting
// steps to local playback or the remote device.
type Manager struct {
	mu sync.Mutex

	// Configuration
	config Config

	// Components
	library      library.Library
	persistence  *persistence.Adapter
	store        *queue.Store
	machine      *advance.Machine
	playback     *playback.Controller
	remote       *remote.Sync
	poller       *remote.Poller
	notification *notification.Manager

	// Last library listing
	stories []story.Story

	// The current entry follows the remote device rather than local output.
	remoteDriven  bool
	remotePending int // Refreshes that have not yet shown a remote start

	started bool
	refresh chan struct{}

	// Channels
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager. It does nothing until Start.
func NewManager(
	cfg Config,
	lib library.Library,
	persist *persistence.Adapter,
	pb *playback.Controller,
	dev device.Controller,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	notifier := notification.NewManager()
	store := queue.NewStore(persist, notifier)
	rs := remote.NewSync(dev, notifier)

	m := &Manager{
		config:       cfg,
		library:      lib,
		persistence:  persist,
		store:        store,
		machine:      advance.NewMachine(advance.NewPolicy(cfg.Flags, cfg.Rand), store),
		playback:     pb,
		remote:       rs,
		poller:       remote.NewPoller(rs, cfg.PollInterval, cfg.Visible),
		notification: notifier,
		stories:      []story.Story{},
		refresh:      make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	rs.OnStatus(m.reconcileRemote)
	return m
}

// Start loads the library and the persisted order, then starts the playback
// event loop, the library refresher and the remote poller.
func (m *Manager) Start(ctx context.Context) error {
	stories, err := m.library.ListStories(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load library")
	}

	ids, source := m.persistence.Load(ctx, stories)
	byID := story.ByID(stories)
	entries := make([]story.Story, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, byID[id])
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	m.started = true
	m.stories = stories
	m.store.Load(entries)
	if source == persistence.SourceSeeded {
		m.store.Save()
	}
	m.mu.Unlock()

	zlog.Info().Msgf("orchestrator: queue restored: source=%s entries=%d library=%d", source, len(entries), len(stories))

	if w, ok := m.library.(Watcher); ok {
		if err := w.Watch(m.ctx, m.requestRefresh); err != nil {
			zlog.Warn().Err(err).Msg("orchestrator: library watch unavailable")
		}
	}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.playbackLoop()
	}()
	go func() {
		defer m.wg.Done()
		m.libraryLoop()
	}()

	m.poller.Start(m.ctx)
	return nil
}

// Done is closed when the manager is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Notifications returns the change broadcaster.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Add appends the library story id to the queue. Adding a queued story is a no-op.
func (m *Manager) Add(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.findStoryLocked(id)
	if !ok {
		return false, errors.Wrapf(ErrUnknownStory, "story %s", id)
	}
	return m.store.Add(st), nil
}

// Remove removes id from the queue. Removing the story playing locally stops
// it and advances to the entry that followed it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasCurrent, err := m.store.Remove(id)
	if err != nil {
		return err
	}
	if wasCurrent && m.playback.CurrentID() == id {
		zlog.Debug().Msgf("orchestrator: removed playing story %s, advancing", id)
		m.playback.Stop()
		return m.executeLocalLocked(m.machine.Next(), false)
	}
	return nil
}

// Drag moves source into target's position and returns the resulting order.
func (m *Manager) Drag(source, target string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.store.Snapshot().IDs()
	moved := reorder.Move(ids, source, target)
	return m.store.Reorder(moved)
}

// Reorder replaces the queue order. The list is normalized to the queued IDs.
func (m *Manager) Reorder(ids []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Reorder(ids)
}

// Clear empties the queue and stops local playback.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.playback.Stop()
	m.machine.Stop()
	m.remoteDriven = false
	m.store.Clear()
}

// PlayAt starts local playback at index, skipping forward past entries without audio.
func (m *Manager) PlayAt(index int) (advance.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, err := m.machine.PlayAt(index)
	if err != nil {
		return step, err
	}
	return step, m.executeLocalLocked(step, false)
}

// Next advances to the next playable entry on target.
func (m *Manager) Next(ctx context.Context, target Target) (advance.Step, error) {
	return m.step(ctx, target, m.machine.Next)
}

// Prev steps back to the previous playable entry on target.
func (m *Manager) Prev(ctx context.Context, target Target) (advance.Step, error) {
	return m.step(ctx, target, m.machine.Prev)
}

func (m *Manager) step(ctx context.Context, target Target, move func() advance.Step) (advance.Step, error) {
	switch target {
	case TargetLocal:
		m.mu.Lock()
		defer m.mu.Unlock()

		step := move()
		return step, m.executeLocalLocked(step, false)

	case TargetRemote:
		step := advance.Step{Decision: advance.DecisionStay, Index: -1}
		sent := m.remote.Do(ctx, "step", func() remote.Command {
			m.mu.Lock()
			defer m.mu.Unlock()

			step = move()
			return m.remoteCommandLocked(step)
		})
		if !sent {
			return step, ErrRemoteBusy
		}
		return step, nil

	default:
		return advance.Step{Index: -1}, ErrInvalidTarget
	}
}

// Stop stops playback on target and clears the current entry.
func (m *Manager) Stop(ctx context.Context, target Target) error {
	switch target {
	case TargetLocal:
		m.mu.Lock()
		defer m.mu.Unlock()

		m.playback.Stop()
		m.machine.Stop()
		m.remoteDriven = false
		return nil

	case TargetRemote:
		sent := m.remote.Do(ctx, "stop", func() remote.Command {
			m.mu.Lock()
			defer m.mu.Unlock()

			if m.remoteDriven {
				m.machine.Stop()
				m.remoteDriven = false
			}
			return m.remote.StopCommand()
		})
		if !sent {
			return ErrRemoteBusy
		}
		return nil

	default:
		return ErrInvalidTarget
	}
}

// TogglePause pauses or resumes local playback. With nothing loaded it
// starts the current entry, or the head of the queue.
func (m *Manager) TogglePause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.playback.State().State != playback.StateIdle {
		return m.playback.TogglePause()
	}

	snap := m.store.Snapshot()
	if len(snap.Entries) == 0 {
		return playback.ErrNoTrack
	}
	index := max(snap.CurrentIndex, 0)
	step, err := m.machine.PlayAt(index)
	if err != nil {
		return err
	}
	if step.Decision == advance.DecisionIdle {
		return playback.ErrNoTrack
	}
	return m.executeLocalLocked(step, false)
}

// Seek moves local playback to pos.
func (m *Manager) Seek(pos time.Duration) error {
	return m.playback.Seek(pos)
}

// SetVolume sets the local volume (0..1).
func (m *Manager) SetVolume(v float64) error {
	return m.playback.SetVolume(v)
}

// SetRate sets the local playback rate.
func (m *Manager) SetRate(r float64) error {
	return m.playback.SetRate(r)
}

// ToggleMute flips the local mute state and returns the new state.
func (m *Manager) ToggleMute() bool {
	return m.playback.ToggleMute()
}

// SetShuffle enables or disables shuffle.
func (m *Manager) SetShuffle(on bool) {
	m.machine.Policy().SetShuffle(on)
	zlog.Info().Msgf("orchestrator: shuffle=%t", on)
	m.notification.Broadcast(notification.TypeSettingsChanged)
}

// SetRepeatAll enables or disables repeat-all.
func (m *Manager) SetRepeatAll(on bool) {
	m.machine.Policy().SetRepeatAll(on)
	zlog.Info().Msgf("orchestrator: repeat_all=%t", on)
	m.notification.Broadcast(notification.TypeSettingsChanged)
}

// ToggleRemote toggles id on the remote device. When the device ends up
// playing id and it is queued, it becomes the current entry and local
// playback stops.
func (m *Manager) ToggleRemote(ctx context.Context, id string) error {
	if !m.remote.Toggle(ctx, id) {
		return ErrRemoteBusy
	}
	if m.remote.Snapshot().PlayingStory() != id {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.machine.Adopt(id); err != nil {
		if errors.Is(err, queue.ErrNotInQueue) {
			return nil
		}
		return err
	}
	m.followRemoteLocked()
	return nil
}

// SetVisible gates remote status polling.
func (m *Manager) SetVisible(visible bool) {
	m.poller.SetVisible(visible)
	m.notification.Broadcast(notification.TypeSettingsChanged)
}

// RefreshRemote fetches the remote status now.
func (m *Manager) RefreshRemote(ctx context.Context) error {
	return m.remote.RefreshStatus(ctx)
}

// UpdateStory edits a story in the library and updates the queued copy.
// Playback is never interrupted.
func (m *Manager) UpdateStory(ctx context.Context, id string, patch story.Patch) (story.Story, error) {
	m.mu.Lock()
	st, ok := m.findStoryLocked(id)
	m.mu.Unlock()
	if !ok {
		return story.Story{}, errors.Wrapf(ErrUnknownStory, "story %s", id)
	}

	if err := m.library.UpdateStory(ctx, id, patch); err != nil {
		return story.Story{}, errors.Wrapf(err, "failed to update story %s", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if latest, ok := m.findStoryLocked(id); ok {
		st = latest
	}
	st.Apply(patch)
	m.replaceStoryLocked(st)
	return st, nil
}

// ToggleFavorite flips the favorite flag of id.
func (m *Manager) ToggleFavorite(ctx context.Context, id string) (story.Story, error) {
	m.mu.Lock()
	st, ok := m.findStoryLocked(id)
	m.mu.Unlock()
	if !ok {
		return story.Story{}, errors.Wrapf(ErrUnknownStory, "story %s", id)
	}

	if err := m.library.ToggleFavorite(ctx, st); err != nil {
		return story.Story{}, errors.Wrapf(err, "failed to toggle favorite on %s", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st.Favorite = !st.Favorite
	m.replaceStoryLocked(st)
	return st, nil
}

// ListLibrary returns the last library listing.
func (m *Manager) ListLibrary() []story.Story {
	m.mu.Lock()
	defer m.mu.Unlock()

	stories := make([]story.Story, len(m.stories))
	copy(stories, m.stories)
	return stories
}

// RefreshLibrary reloads the library and reconciles the queue with it.
// When the story playing locally disappears, playback advances.
func (m *Manager) RefreshLibrary(ctx context.Context) error {
	stories, err := m.library.ListStories(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list library")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stories = stories
	playing := m.playback.CurrentID()
	result := m.store.Reconcile(stories)
	if !result.Changed() {
		return nil
	}
	for _, id := range result.Dropped {
		if id == playing {
			zlog.Info().Msgf("orchestrator: playing story %s left the library, advancing", id)
			m.playback.Stop()
			if err := m.executeLocalLocked(m.machine.Next(), false); err != nil {
				zlog.Warn().Err(err).Msg("orchestrator: failed to advance after reconcile")
			}
			break
		}
	}
	return nil
}

// Flush waits until pending queue writes are persisted.
func (m *Manager) Flush() {
	m.store.Flush()
}

// Close stops the loops, releases playback and flushes the queue.
func (m *Manager) Close() {
	m.cancel()
	m.poller.Stop()
	m.playback.Close()
	m.wg.Wait()
	m.store.Close()
	m.notification.Close()
}

// playbackLoop handles playback events.
func (m *Manager) playbackLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("orchestrator: playback loop panicked: %v", r)
			zlog.Info().Msg("orchestrator: restarting playback loop")
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.playbackLoop()
			}()
		}
	}()

	events := m.playback.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handlePlaybackEvent(event)
		}
	}
}

func (m *Manager) handlePlaybackEvent(event playback.Event) {
	zlog.Debug().Msgf("orchestrator: playback event: type=%s id=%s state=%s", event.Type, event.ID, event.State)

	switch event.Type {
	case playback.EventTrackStarted:
		m.mu.Lock()
		m.machine.Confirm(event.ID)
		m.mu.Unlock()

	case playback.EventTrackEnded:
		if event.Err != nil {
			zlog.Warn().Err(event.Err).Msgf("orchestrator: skipping %s", event.ID)
		}
		m.onTrackEnded(event.ID)
	}

	m.notification.Broadcast(notification.TypePlaybackChanged)
}

func (m *Manager) onTrackEnded(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A stale end for a story that is no longer current does not advance.
	if m.store.Snapshot().CurrentID != id {
		return
	}
	if err := m.executeLocalLocked(m.machine.Next(), true); err != nil {
		zlog.Warn().Err(err).Msg("orchestrator: failed to advance")
	}
}

// libraryLoop reconciles on change notifications and on a fixed cadence.
func (m *Manager) libraryLoop() {
	var tick <-chan time.Time
	if m.config.LibraryRefresh > 0 {
		ticker := time.NewTicker(m.config.LibraryRefresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-tick:
		case <-m.refresh:
		}
		if err := m.RefreshLibrary(m.ctx); err != nil && m.ctx.Err() == nil {
			zlog.Warn().Err(err).Msg("orchestrator: library refresh failed")
		}
	}
}

func (m *Manager) requestRefresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// executeLocalLocked plays step on the local output. ended is set when the
// step follows a natural end, where staying means the current story is done.
func (m *Manager) executeLocalLocked(step advance.Step, ended bool) error {
	switch step.Decision {
	case advance.DecisionPlay:
		st, ok := m.store.Get(step.ID)
		if !ok {
			return errors.Wrapf(queue.ErrNotInQueue, "story %s", step.ID)
		}
		url := m.library.PlayableURL(st.AudioRef)
		m.remoteDriven = false
		zlog.Info().Msgf("orchestrator: playing locally: index=%d id=%s", step.Index, st.ID)
		if err := m.playback.Play(m.ctx, url, st.ID); err != nil {
			return errors.Wrapf(err, "failed to play %s", st.ID)
		}

	case advance.DecisionIdle:
		zlog.Info().Msg("orchestrator: nothing left to play")
		m.playback.Stop()

	case advance.DecisionStay:
		if ended {
			zlog.Debug().Msgf("orchestrator: only %s is playable, staying", step.ID)
		}
	}
	return nil
}

// remoteCommandLocked returns the device command for step. The device call
// itself runs without the lock, so gestures proceed while it responds.
// Must be called with lock held.
func (m *Manager) remoteCommandLocked(step advance.Step) remote.Command {
	switch step.Decision {
	case advance.DecisionPlay:
		zlog.Info().Msgf("orchestrator: playing remotely: index=%d id=%s", step.Index, step.ID)
		m.followRemoteLocked()
		return m.remote.StartCommand(step.ID)
	case advance.DecisionIdle:
		m.remoteDriven = false
		return m.remote.StopCommand()
	default:
		return nil
	}
}

// followRemoteLocked hands the current entry to the remote device. The queue
// has a single current entry, so local playback of another story stops.
// Must be called with lock held.
func (m *Manager) followRemoteLocked() {
	if playing := m.playback.CurrentID(); playing != "" {
		zlog.Debug().Msgf("orchestrator: remote takes over, stopping local %s", playing)
		m.playback.Stop()
	}
	m.remoteDriven = true
	m.remotePending = 0
}

// reconcileRemote moves a remote-driven current entry to match the device
// status: a reported start confirms it, another queued story is adopted, and
// a device that stopped playing it leaves the queue idle.
func (m *Manager) reconcileRemote(snap remote.Snapshot) {
	if snap.Busy {
		// The command's own result follows once the slot is released.
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.remoteDriven {
		return
	}
	current := m.store.Snapshot().CurrentID
	playing := snap.PlayingStory()

	switch {
	case current == "":
		m.remoteDriven = false

	case playing == current:
		m.remotePending = 0
		m.machine.Confirm(current)

	case playing != "":
		if err := m.machine.Adopt(playing); err != nil {
			zlog.Info().Msgf("orchestrator: device moved to %s outside the queue, going idle", playing)
			m.machine.Stop()
			m.remoteDriven = false
			return
		}
		zlog.Info().Msgf("orchestrator: device moved to %s", playing)
		m.remotePending = 0

	case m.machine.State() == advance.StateAdvancing && snap.CommandError == nil && m.remotePending < remoteStartGrace:
		m.remotePending++
		zlog.Debug().Msgf("orchestrator: waiting for device to start %s (%d/%d)", current, m.remotePending, remoteStartGrace)

	default:
		zlog.Info().Msgf("orchestrator: device is no longer playing %s, going idle", current)
		m.machine.Stop()
		m.remoteDriven = false
	}
}

func (m *Manager) findStoryLocked(id string) (story.Story, bool) {
	for _, st := range m.stories {
		if st.ID == id {
			return st, true
		}
	}
	return m.store.Get(id)
}

func (m *Manager) replaceStoryLocked(st story.Story) {
	for i := range m.stories {
		if m.stories[i].ID == st.ID {
			m.stories[i] = st
			break
		}
	}
	m.store.Update(st)
}

// Status returns the combined view.
func (m *Manager) Status() Status {
	m.mu.Lock()
	snap := m.store.Snapshot()
	state := m.machine.State()
	m.mu.Unlock()

	return Status{
		Entries:      snap.Entries,
		CurrentIndex: snap.CurrentIndex,
		CurrentID:    snap.CurrentID,
		State:        state,
		Playback:     m.playback.State(),
		Remote:       m.remote.Snapshot(),
		Flags:        m.machine.Policy().Flags(),
		Visible:      m.poller.Visible(),
		SequenceNo:   m.notification.SequenceNo(),
	}
}
