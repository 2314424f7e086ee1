//go:build !cgo && !darwin && !windows

package audio

import "github.com/cockroachdb/errors"

// OtoSettings configures the device sink.
type OtoSettings struct {
	SampleRate   int `yaml:"sample_rate" mapstructure:"sample_rate" default:"22050" validate:"oneof=16000 22050 24000 44100 48000"`
	Channels     int `yaml:"channels" mapstructure:"channels" default:"1" validate:"oneof=1 2"`
	BufferMS     int `yaml:"buffer_ms" mapstructure:"buffer_ms" default:"100" validate:"min=10,max=1000"`
	ReadyTimeout int `yaml:"ready_timeout_sec" mapstructure:"ready_timeout_sec" default:"5" validate:"min=1"`
}

// OtoSink is unavailable without cgo on this platform; use the clock sink instead.
type OtoSink struct{}

// NewOtoSink returns a sink whose Open always fails.
func NewOtoSink(OtoSettings) *OtoSink {
	return &OtoSink{}
}

// Open always fails.
func (s *OtoSink) Open(Clip) (Stream, error) {
	return nil, errors.New("audio device not available in a build without cgo")
}

// Close does nothing.
func (s *OtoSink) Close() error {
	return nil
}
