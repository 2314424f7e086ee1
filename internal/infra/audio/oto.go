//go:build cgo || darwin || windows

package audio

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/oto/v3"
	zlog "github.com/rs/zerolog/log"
)

// OtoSettings configures the device sink.
// The device format is fixed for the process lifetime; clips in any other
// format are rejected rather than resampled.
type OtoSettings struct {
	SampleRate   int `yaml:"sample_rate" mapstructure:"sample_rate" default:"22050" validate:"oneof=16000 22050 24000 44100 48000"`
	Channels     int `yaml:"channels" mapstructure:"channels" default:"1" validate:"oneof=1 2"`
	BufferMS     int `yaml:"buffer_ms" mapstructure:"buffer_ms" default:"100" validate:"min=10,max=1000"`
	ReadyTimeout int `yaml:"ready_timeout_sec" mapstructure:"ready_timeout_sec" default:"5" validate:"min=1"`
}

// OtoSink plays clips on the default audio device.
type OtoSink struct {
	settings OtoSettings

	mu      sync.Mutex
	context *oto.Context
	closed  bool
}

// NewOtoSink creates a device sink. The device is opened on first use.
func NewOtoSink(settings OtoSettings) *OtoSink {
	return &OtoSink{settings: settings}
}

func (s *OtoSink) format() Format {
	return Format{SampleRate: s.settings.SampleRate, Channels: s.settings.Channels}
}

func (s *OtoSink) contextLocked() (*oto.Context, error) {
	if s.context != nil {
		return s.context, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   s.settings.SampleRate,
		ChannelCount: s.settings.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(s.settings.BufferMS) * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create audio context")
	}

	select {
	case <-ready:
	case <-time.After(time.Duration(s.settings.ReadyTimeout) * time.Second):
		return nil, errors.Newf("audio context not ready after %ds", s.settings.ReadyTimeout)
	}

	zlog.Info().Msgf("audio: device ready: rate=%d channels=%d buffer=%dms",
		s.settings.SampleRate, s.settings.Channels, s.settings.BufferMS)
	s.context = ctx
	return ctx, nil
}

// Open starts playing clip on the device.
func (s *OtoSink) Open(clip Clip) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSinkClosed
	}
	if clip.Format != s.format() {
		return nil, errors.Wrapf(ErrFormatMismatch, "clip %dHz/%dch, device %dHz/%dch",
			clip.Format.SampleRate, clip.Format.Channels, s.settings.SampleRate, s.settings.Channels)
	}

	ctx, err := s.contextLocked()
	if err != nil {
		return nil, err
	}

	// The reader keeps the PCM alive for the lifetime of the player.
	reader := bytes.NewReader(clip.PCM)
	player := ctx.NewPlayer(reader)
	player.Play()

	st := &otoStream{
		player: player,
		reader: reader,
		format: clip.Format,
		size:   int64(len(clip.PCM)),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go st.watch()
	return st, nil
}

// Close suspends the device. Contexts cannot be recreated in-process, so
// the sink rejects further streams.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.context != nil {
		if err := s.context.Suspend(); err != nil {
			return errors.Wrap(err, "failed to suspend audio context")
		}
	}
	return nil
}

type otoStream struct {
	mu     sync.Mutex
	player *oto.Player
	reader *bytes.Reader
	format Format
	size   int64
	paused bool

	done     chan struct{}
	stop     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

const otoWatchInterval = 50 * time.Millisecond

func (s *otoStream) watch() {
	ticker := time.NewTicker(otoWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.doneOnce.Do(func() { close(s.done) })
			return
		case <-ticker.C:
			s.mu.Lock()
			finished := !s.paused && !s.player.IsPlaying()
			err := s.player.Err()
			s.mu.Unlock()
			if err != nil {
				zlog.Warn().Err(err).Msg("audio: device player failed")
				finished = true
			}
			if finished {
				s.doneOnce.Do(func() { close(s.done) })
				return
			}
		}
	}
}

func (s *otoStream) Done() <-chan struct{} {
	return s.done
}

func (s *otoStream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.player.Pause()
}

func (s *otoStream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.player.Play()
}

func (s *otoStream) Seek(pos time.Duration) error {
	if pos < 0 || pos > s.Duration() {
		return errors.Newf("seek position %v outside [0, %v]", pos, s.Duration())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.player.Seek(s.format.BytesFor(pos), io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to seek")
	}
	return nil
}

func (s *otoStream) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player.SetVolume(v)
}

// Position is the consumed byte count minus what is still buffered in the device.
func (s *otoStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	consumed := s.size - int64(s.reader.Len()) - int64(s.player.BufferedSize())
	return s.format.DurationOf(max(consumed, 0))
}

func (s *otoStream) Duration() time.Duration {
	return s.format.DurationOf(s.size)
}

func (s *otoStream) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		err = s.player.Close()
		s.mu.Unlock()
		close(s.stop)
	})
	if err != nil {
		return errors.Wrap(err, "failed to close player")
	}
	return nil
}
