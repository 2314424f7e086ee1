package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/infra/audio"
)

// Errors
var (
	ErrNoTrack       = errors.New("no track loaded")
	ErrNotPlaying    = errors.New("not playing")
	ErrNotPaused     = errors.New("not paused")
	ErrInvalidVolume = errors.New("volume must be between 0 and 1")
	ErrInvalidRate   = errors.New("rate must be between 0.5 and 2")
	ErrClosed        = errors.New("controller is closed")
)

const (
	MinRate = 0.5
	MaxRate = 2.0
)

const eventBufferSize = 64

// Loader fetches and decodes audio.
type Loader interface {
	Load(ctx context.Context, url string) (audio.Clip, error)
}

// Config holds controller configuration.
type Config struct {
	Volume      float64       // Initial volume, 0..1
	Rate        float64       // Initial rate, MinRate..MaxRate
	LoadTimeout time.Duration // Upper bound for fetching one clip, 0 for none
}

// Controller drives a single audio stream.
// Starting a new story stops the previous stream without emitting
// EventTrackEnded; only a natural end or a load failure emits it.
// Events are delivered in order. Started and ended events are never
// dropped; runs of state changes collapse into the latest one while the
// reader lags.
type Controller struct {
	mu sync.RWMutex

	sink   audio.Sink
	loader Loader

	// Current stream state
	stream     audio.Stream
	currentID  string
	audioURL   string
	state      State
	generation uint64 // Bumped whenever the current stream is replaced or stopped
	loadCancel context.CancelFunc

	// Output settings, kept across streams
	volume float64
	muted  bool
	rate   float64

	// Configuration
	config Config

	// Events
	eventCh chan Event
	pending []Event
	ready   *sync.Cond
	closed  bool

	// Context
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a new playback controller.
func NewController(sink audio.Sink, loader Loader, config Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	volume := config.Volume
	if volume < 0 || volume > 1 {
		volume = 1
	}
	rate := config.Rate
	if rate < MinRate || rate > MaxRate {
		rate = 1
	}

	c := &Controller{
		sink:    sink,
		loader:  loader,
		state:   StateIdle,
		volume:  volume,
		rate:    rate,
		config:  config,
		eventCh: make(chan Event, eventBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.ready = sync.NewCond(&c.mu)

	go c.deliver()
	return c
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Play starts audioURL for story id, replacing whatever is playing.
// Loading happens in the background: the result arrives as EventTrackStarted,
// or as EventTrackEnded with Err set when the audio cannot be loaded.
func (c *Controller) Play(ctx context.Context, audioURL, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.stopLocked()
	c.generation++
	gen := c.generation
	c.currentID = id
	c.audioURL = audioURL
	c.state = StateLoading

	var (
		loadCtx context.Context
		cancel  context.CancelFunc
	)
	if c.config.LoadTimeout > 0 {
		loadCtx, cancel = context.WithTimeout(c.ctx, c.config.LoadTimeout)
	} else {
		loadCtx, cancel = context.WithCancel(c.ctx)
	}
	c.loadCancel = cancel

	zlog.Debug().Msgf("playback: loading: id=%s url=%s", id, audioURL)
	c.sendEventLocked(Event{Type: EventStateChanged, ID: id, State: c.state})

	go c.load(loadCtx, cancel, gen, audioURL, id)
	return nil
}

func (c *Controller) load(ctx context.Context, cancel context.CancelFunc, gen uint64, audioURL, id string) {
	defer cancel()

	clip, err := c.loader.Load(ctx, audioURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.generation != gen {
		// Superseded by another Play or a Stop.
		return
	}
	c.loadCancel = nil

	var stream audio.Stream
	if err == nil {
		stream, err = c.sink.Open(clip)
	}
	if err != nil {
		zlog.Warn().Err(err).Msgf("playback: failed to load %s, skipping", id)
		c.resetLocked()
		c.sendEventLocked(Event{Type: EventTrackEnded, ID: id, State: c.state, Err: err})
		return
	}

	c.stream = stream
	c.state = StatePlaying
	c.applyVolumeLocked()
	c.applyRateLocked()

	zlog.Info().Msgf("playback: started: id=%s duration=%v", id, stream.Duration())
	c.sendEventLocked(Event{Type: EventTrackStarted, ID: id, State: c.state})

	go c.watch(gen, stream, id)
}

// watch waits for the stream to finish and reports a natural end.
func (c *Controller) watch(gen uint64, stream audio.Stream, id string) {
	<-stream.Done()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.generation != gen || c.stream != stream {
		return
	}

	zlog.Debug().Msgf("playback: track ended: id=%s position=%v duration=%v", id, stream.Position(), stream.Duration())
	c.resetLocked()
	c.sendEventLocked(Event{Type: EventTrackEnded, ID: id, State: c.state})
}

// Pause pauses the current stream.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentID == "" {
		return ErrNoTrack
	}
	if c.state != StatePlaying {
		return ErrNotPlaying
	}

	c.stream.Pause()
	c.state = StatePaused
	c.sendEventLocked(Event{Type: EventStateChanged, ID: c.currentID, State: c.state})
	return nil
}

// Resume resumes a paused stream.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentID == "" {
		return ErrNoTrack
	}
	if c.state != StatePaused {
		return ErrNotPaused
	}

	c.stream.Resume()
	c.state = StatePlaying
	c.sendEventLocked(Event{Type: EventStateChanged, ID: c.currentID, State: c.state})
	return nil
}

// TogglePause pauses a playing stream or resumes a paused one.
func (c *Controller) TogglePause() error {
	switch c.State().State {
	case StatePaused:
		return c.Resume()
	default:
		return c.Pause()
	}
}

// Stop stops playback. It never emits EventTrackEnded.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentID == "" {
		return
	}
	id := c.currentID
	c.stopLocked()
	c.generation++
	c.resetLocked()
	zlog.Debug().Msgf("playback: stopped: id=%s", id)
	c.sendEventLocked(Event{Type: EventStateChanged, ID: id, State: c.state})
}

// Seek moves the playing position.
func (c *Controller) Seek(pos time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ErrNoTrack
	}
	if err := c.stream.Seek(pos); err != nil {
		return errors.Wrap(err, "failed to seek")
	}
	c.sendEventLocked(Event{Type: EventStateChanged, ID: c.currentID, State: c.state})
	return nil
}

// SetVolume sets the output volume.
func (c *Controller) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return ErrInvalidVolume
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = v
	c.applyVolumeLocked()
	c.sendEventLocked(Event{Type: EventStateChanged, ID: c.currentID, State: c.state})
	return nil
}

// SetRate sets the playback speed.
// A playing stream that cannot change speed rejects any rate other than 1.
// With nothing playing the rate is stored for the next stream.
func (c *Controller) SetRate(r float64) error {
	if r < MinRate || r > MaxRate {
		return ErrInvalidRate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		rs, ok := c.stream.(audio.RateSetter)
		if !ok {
			if r != 1 {
				return audio.ErrRateUnsupported
			}
		} else if err := rs.SetRate(r); err != nil {
			return errors.Wrap(err, "failed to set rate")
		}
	}
	c.rate = r
	c.sendEventLocked(Event{Type: EventStateChanged, ID: c.currentID, State: c.state})
	return nil
}

// ToggleMute mutes or unmutes and returns the new mute flag.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.muted = !c.muted
	c.applyVolumeLocked()
	c.sendEventLocked(Event{Type: EventStateChanged, ID: c.currentID, State: c.state})
	return c.muted
}

// State returns the current status.
func (c *Controller) State() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		State:    c.state,
		ID:       c.currentID,
		AudioURL: c.audioURL,
		Volume:   c.volume,
		Muted:    c.muted,
		Rate:     c.rate,
	}
	if c.stream != nil {
		st.Position = c.stream.Position()
		st.Duration = c.stream.Duration()
	}
	return st
}

// CurrentID returns the story being played, or "".
func (c *Controller) CurrentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentID
}

// Close stops playback and releases the sink.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.cancel()
	c.stopLocked()
	c.generation++
	c.resetLocked()
	c.closed = true
	c.pending = nil
	c.ready.Broadcast()

	if err := c.sink.Close(); err != nil {
		zlog.Warn().Err(err).Msg("playback: failed to close sink")
	}
}

// stopLocked closes the stream and cancels a pending load.
// Must be called with lock held.
func (c *Controller) stopLocked() {
	if c.loadCancel != nil {
		c.loadCancel()
		c.loadCancel = nil
	}
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			zlog.Warn().Err(err).Msg("playback: failed to close stream")
		}
		c.stream = nil
	}
}

// resetLocked clears the current track after the stream is gone.
// Must be called with lock held.
func (c *Controller) resetLocked() {
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	c.currentID = ""
	c.audioURL = ""
	c.state = StateIdle
}

// applyVolumeLocked pushes the effective volume to the stream.
// Must be called with lock held.
func (c *Controller) applyVolumeLocked() {
	if c.stream == nil {
		return
	}
	v := c.volume
	if c.muted {
		v = 0
	}
	c.stream.SetVolume(v)
}

// applyRateLocked pushes the configured rate to a freshly opened stream.
// Must be called with lock held.
func (c *Controller) applyRateLocked() {
	if c.stream == nil || c.rate == 1 {
		return
	}
	rs, ok := c.stream.(audio.RateSetter)
	if !ok {
		zlog.Warn().Msgf("playback: sink cannot change rate, playing at 1.0 instead of %.2f", c.rate)
		c.rate = 1
		return
	}
	if err := rs.SetRate(c.rate); err != nil {
		zlog.Warn().Err(err).Msgf("playback: failed to apply rate %.2f", c.rate)
	}
}

// sendEventLocked queues an event for delivery without blocking.
// A state change directly behind another queued state change replaces it.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	if n := len(c.pending); n > 0 && e.Type == EventStateChanged && c.pending[n-1].Type == EventStateChanged {
		c.pending[n-1] = e
		return
	}
	c.pending = append(c.pending, e)
	c.ready.Signal()
}

// deliver moves queued events to the event channel until Close.
func (c *Controller) deliver() {
	defer close(c.eventCh)

	for {
		c.mu.Lock()
		for len(c.pending) == 0 && !c.closed {
			c.ready.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		e := c.pending[0]
		c.pending[0] = Event{}
		c.pending = c.pending[1:]
		c.mu.Unlock()

		select {
		case c.eventCh <- e:
		case <-c.ctx.Done():
			return
		}
	}
}
