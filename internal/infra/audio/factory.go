package audio

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// CacheSettings configures the fetched-audio disk cache.
type CacheSettings struct {
	Dir         string `yaml:"dir" mapstructure:"dir" default:"data/audio-cache" validate:"required"`
	CapacityMB  int    `yaml:"capacity_mb" mapstructure:"capacity_mb" default:"512" validate:"min=1"`
	Compression int    `yaml:"compression" mapstructure:"compression" default:"3" validate:"min=1,max=22"`
}

// NewSink creates the sink named by sinkType from its settings map.
func NewSink(sinkType string, settings map[string]any) (Sink, error) {
	switch sinkType {
	case "oto":
		var s OtoSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "oto sink settings")
		}
		zlog.Info().Msgf("audio: using device sink: rate=%d channels=%d", s.SampleRate, s.Channels)
		return NewOtoSink(s), nil

	case "clock":
		var s ClockSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "clock sink settings")
		}
		zlog.Info().Msg("audio: using silent clock sink")
		return NewClockSink(time.Duration(s.TickMS) * time.Millisecond), nil

	default:
		return nil, errors.Newf("unsupported sink type: %s", sinkType)
	}
}

// NewCache creates the disk cache from its settings map.
func NewCache(settings map[string]any) (*DiskCache, error) {
	var s CacheSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, errors.Wrap(err, "audio cache settings")
	}
	zlog.Info().Msgf("audio: cache dir=%s capacity=%dMB", s.Dir, s.CapacityMB)
	return NewDiskCache(s.Dir, int64(s.CapacityMB)<<20, s.Compression)
}

func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
