package library

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/domain/story"
)

// Library is the story source consumed by the orchestrator.
type Library interface {
	ListStories(ctx context.Context) ([]story.Story, error)
	UpdateStory(ctx context.Context, id string, patch story.Patch) error
	ToggleFavorite(ctx context.Context, s story.Story) error
	PlayableURL(audioRef string) string
}

var (
	_ Library = (*HTTP)(nil)
	_ Library = (*File)(nil)
)

// Open creates the library backend named by libType from its settings map.
func Open(libType string, settings map[string]any) (Library, error) {
	switch libType {
	case "http":
		var s HTTPSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "http library settings")
		}
		zlog.Info().Msgf("library: using http backend: url=%s", s.URL)
		return NewHTTP(s.URL, time.Duration(s.TimeoutSec)*time.Second)

	case "file":
		var s FileSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "file library settings")
		}
		zlog.Info().Msgf("library: using file backend: path=%s audio_dir=%s", s.Path, s.AudioDir)
		return NewFile(s.Path, s.AudioDir, time.Duration(s.DebounceMS)*time.Millisecond), nil

	default:
		return nil, errors.Newf("unsupported library type: %s", libType)
	}
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
