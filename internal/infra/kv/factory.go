package kv

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// SQLiteSettings configures the sqlite backend.
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path" default:"data/storybox.db" validate:"required"`
}

// FileSettings configures the directory backend.
type FileSettings struct {
	Dir string `yaml:"dir" mapstructure:"dir" default:"data/state" validate:"required"`
}

// Open creates the store named by storeType from its settings map.
func Open(storeType string, settings map[string]any) (Store, error) {
	switch storeType {
	case "sqlite":
		var s SQLiteSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "sqlite store settings")
		}
		zlog.Info().Msgf("kv: opening sqlite store: path=%s", s.Path)
		return OpenSQLite(s.Path)

	case "file":
		var s FileSettings
		if err := decodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "file store settings")
		}
		zlog.Info().Msgf("kv: opening file store: dir=%s", s.Dir)
		return OpenFile(s.Dir)

	case "memory":
		zlog.Warn().Msg("kv: using memory store, queue order will not survive restarts")
		return NewMemory(), nil

	default:
		return nil, errors.Newf("unsupported store type: %s", storeType)
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
