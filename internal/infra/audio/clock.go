package audio

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ClockSettings configures the silent clock sink.
type ClockSettings struct {
	TickMS int `yaml:"tick_ms" mapstructure:"tick_ms" default:"50" validate:"min=1,max=1000"`
}

// ClockSink plays clips silently by advancing a clock.
// It is used on headless hosts where the remote device is the only speaker.
type ClockSink struct {
	tick time.Duration

	mu     sync.Mutex
	closed bool
}

// NewClockSink creates a clock sink that checks for clip end every tick.
func NewClockSink(tick time.Duration) *ClockSink {
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	return &ClockSink{tick: tick}
}

// Open starts a silent stream for clip.
func (s *ClockSink) Open(clip Clip) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSinkClosed
	}

	st := &clockStream{
		duration: clip.Duration(),
		rate:     1.0,
		volume:   1.0,
		resumed:  time.Now(),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go st.run(s.tick)
	return st, nil
}

// Close marks the sink closed. Open streams keep running until closed.
func (s *ClockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type clockStream struct {
	mu       sync.Mutex
	duration time.Duration
	base     time.Duration // Position at the last resume
	resumed  time.Time
	paused   bool
	rate     float64
	volume   float64

	done     chan struct{}
	stop     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

func (s *clockStream) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.finish()
			return
		case <-ticker.C:
			if s.Position() >= s.duration {
				s.finish()
				return
			}
		}
	}
}

func (s *clockStream) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *clockStream) Done() <-chan struct{} {
	return s.done
}

func (s *clockStream) positionLocked() time.Duration {
	pos := s.base
	if !s.paused {
		pos += time.Duration(float64(time.Since(s.resumed)) * s.rate)
	}
	return min(pos, s.duration)
}

func (s *clockStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *clockStream) Duration() time.Duration {
	return s.duration
}

func (s *clockStream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.base = s.positionLocked()
	s.paused = true
}

func (s *clockStream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.resumed = time.Now()
	s.paused = false
}

func (s *clockStream) Seek(pos time.Duration) error {
	if pos < 0 || pos > s.duration {
		return errors.Newf("seek position %v outside [0, %v]", pos, s.duration)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = pos
	s.resumed = time.Now()
	return nil
}

func (s *clockStream) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

func (s *clockStream) SetRate(rate float64) error {
	if rate <= 0 {
		return errors.Newf("invalid rate %v", rate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = s.positionLocked()
	s.resumed = time.Now()
	s.rate = rate
	return nil
}

func (s *clockStream) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
