// Package audio provides audio output sinks and the clip loader used by local playback.
package audio

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrFormatMismatch  = errors.New("clip format does not match the output device")
	ErrRateUnsupported = errors.New("sink does not support playback rate changes")
	ErrSinkClosed      = errors.New("sink is closed")
)

// BytesPerSample is fixed: clips are signed 16-bit little-endian PCM.
const BytesPerSample = 2

// Format describes interleaved 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSize returns the number of bytes per frame.
func (f Format) FrameSize() int {
	return f.Channels * BytesPerSample
}

// BytesFor returns the frame-aligned byte offset for d.
func (f Format) BytesFor(d time.Duration) int64 {
	if d <= 0 || f.SampleRate <= 0 {
		return 0
	}
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return frames * int64(f.FrameSize())
}

// DurationOf returns the playing time of n bytes.
func (f Format) DurationOf(n int64) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / int64(f.FrameSize())
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Clip is decoded audio ready for output.
type Clip struct {
	Format Format
	PCM    []byte
}

// Duration returns the playing time of the clip.
func (c Clip) Duration() time.Duration {
	return c.Format.DurationOf(int64(len(c.PCM)))
}

// Stream is one playing clip.
// Done is closed when the clip reaches its end or the stream is closed.
type Stream interface {
	Done() <-chan struct{}
	Pause()
	Resume()
	Seek(pos time.Duration) error
	SetVolume(v float64)
	Position() time.Duration
	Duration() time.Duration
	Close() error
}

// RateSetter is implemented by streams that can change playback speed.
type RateSetter interface {
	SetRate(rate float64) error
}

// Sink opens streams on an output device. Only one stream is expected to be
// open at a time; the playback controller enforces that.
type Sink interface {
	Open(clip Clip) (Stream, error)
	Close() error
}
