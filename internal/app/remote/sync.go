// Package remote mirrors playback onto the remote device.
package remote

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/app/notification"
	"github.com/osa030/storybox/internal/infra/device"
)

// Notifier receives change notifications.
type Notifier interface {
	Broadcast(t notification.Type)
}

// Snapshot is the last known device state.
type Snapshot struct {
	Status              device.Status
	HasStatus           bool
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int   // Number of consecutive failed refreshes
	Busy                bool  // A command is in flight
	CommandError        error // Failure of the last command, nil when it succeeded
}

// IsOffline returns true when the device has been unreachable for multiple refreshes.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// PlayingStory returns the story the device reports playing, or "".
func (s Snapshot) PlayingStory() string {
	if !s.HasStatus || !s.Status.Playing {
		return ""
	}
	return s.Status.StoryID
}

// Command is a device call issued through Do.
type Command func(ctx context.Context) error

// Sync issues device commands and tracks the device status.
// Every command is followed by a refresh, whether or not it succeeded, so the
// stored status converges on what the device actually does. Only one command
// runs at a time; commands arriving while one is in flight are dropped.
type Sync struct {
	device   device.Controller
	notifier Notifier
	observer func(Snapshot)

	busy atomic.Bool

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewSync creates a sync client. n may be nil.
func NewSync(d device.Controller, n Notifier) *Sync {
	return &Sync{device: d, notifier: n}
}

// OnStatus registers fn to receive the snapshot after every successful
// refresh and after every command. It must be called before any command.
func (s *Sync) OnStatus(fn func(Snapshot)) {
	s.observer = fn
}

// Snapshot returns a copy of the last known state.
func (s *Sync) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Busy = s.busy.Load()
	return snap
}

// RefreshStatus fetches the device status. On failure the last known status
// is kept and the error recorded.
func (s *Sync) RefreshStatus(ctx context.Context) error {
	st, err := s.device.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by the caller, not a device failure.
			return err
		}
		s.mu.Lock()
		s.snapshot.LastError = err
		s.snapshot.LastUpdated = time.Now()
		s.snapshot.ConsecutiveFailures++
		failures := s.snapshot.ConsecutiveFailures
		s.mu.Unlock()

		if failures == 1 {
			zlog.Warn().Err(err).Msg("remote: status refresh failed")
		} else {
			zlog.Debug().Err(err).Msgf("remote: status refresh failed (%d in a row)", failures)
		}
		s.notify()
		return err
	}

	s.mu.Lock()
	changed := !s.snapshot.HasStatus || s.snapshot.Status != st || s.snapshot.LastError != nil
	s.snapshot.Status = st
	s.snapshot.HasStatus = true
	s.snapshot.LastError = nil
	s.snapshot.LastUpdated = time.Now()
	s.snapshot.ConsecutiveFailures = 0
	s.mu.Unlock()

	if changed {
		zlog.Debug().Msgf("remote: status playing=%t story=%s", st.Playing, st.StoryID)
		s.notify()
	}
	s.observe()
	return nil
}

// Toggle stops the device when it reports playing id, and starts id otherwise.
// It returns false when the call was dropped because a command was in flight.
func (s *Sync) Toggle(ctx context.Context, id string) bool {
	return s.command(ctx, "toggle "+id, func(ctx context.Context) error {
		if s.Snapshot().PlayingStory() == id {
			return s.device.Stop(ctx)
		}
		return s.device.Start(ctx, id)
	})
}

// Start starts id on the device.
func (s *Sync) Start(ctx context.Context, id string) bool {
	return s.command(ctx, "start "+id, func(ctx context.Context) error {
		return s.device.Start(ctx, id)
	})
}

// StopDevice stops device playback.
func (s *Sync) StopDevice(ctx context.Context) bool {
	return s.command(ctx, "stop", s.device.Stop)
}

// StartCommand returns a command that starts id on the device.
func (s *Sync) StartCommand(id string) Command {
	return func(ctx context.Context) error {
		return s.device.Start(ctx, id)
	}
}

// StopCommand returns a command that stops the device.
func (s *Sync) StopCommand() Command {
	return s.device.Stop
}

// Do claims the in-flight slot and then asks choose for the command to send,
// so the choice is made only by a caller that may send it. A nil command
// releases the slot without contacting the device. Do returns false when the
// call was dropped because a command was in flight; choose is not called then.
func (s *Sync) Do(ctx context.Context, name string, choose func() Command) bool {
	if !s.busy.CompareAndSwap(false, true) {
		zlog.Debug().Msgf("remote: dropping %s, a command is in flight", name)
		return false
	}

	fn := choose()
	if fn == nil {
		s.busy.Store(false)
		return true
	}
	s.run(ctx, name, fn)
	return true
}

func (s *Sync) command(ctx context.Context, name string, fn Command) bool {
	if !s.busy.CompareAndSwap(false, true) {
		zlog.Debug().Msgf("remote: dropping %s, a command is in flight", name)
		return false
	}
	s.run(ctx, name, fn)
	return true
}

// run sends fn and refreshes. Must be called holding the in-flight slot.
func (s *Sync) run(ctx context.Context, name string, fn Command) {
	s.notify()

	err := fn(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msgf("remote: %s failed", name)
	}
	s.mu.Lock()
	s.snapshot.CommandError = err
	s.mu.Unlock()

	_ = s.RefreshStatus(ctx)

	s.busy.Store(false)
	s.notify()
	s.observe()
}

func (s *Sync) observe() {
	if s.observer != nil {
		s.observer(s.Snapshot())
	}
}

func (s *Sync) notify() {
	if s.notifier != nil {
		s.notifier.Broadcast(notification.TypeRemoteChanged)
	}
}
