package library

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/osa030/storybox/internal/domain/story"
)

const defaultDebounce = 200 * time.Millisecond

// FileSettings configures the YAML library backend.
type FileSettings struct {
	Path       string `yaml:"path" mapstructure:"path" default:"data/stories.yaml" validate:"required"`
	AudioDir   string `yaml:"audio_dir" mapstructure:"audio_dir" default:"data/audio" validate:"required"`
	DebounceMS int    `yaml:"debounce_ms" mapstructure:"debounce_ms" default:"200" validate:"min=0"`
}

type libraryFile struct {
	Stories []story.Story `yaml:"stories"`
}

// File serves stories from a YAML document on disk.
// Writes go through a temporary file and a rename so readers never see a
// partial document.
type File struct {
	path     string
	audioDir string
	debounce time.Duration

	mu sync.Mutex
}

// NewFile creates a file-backed library.
func NewFile(path, audioDir string, debounce time.Duration) *File {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &File{path: path, audioDir: audioDir, debounce: debounce}
}

// ListStories reads the library document. A missing file is an empty library.
func (f *File) ListStories(_ context.Context) ([]story.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	return doc.Stories, nil
}

// UpdateStory applies patch to the story with id.
func (f *File) UpdateStory(_ context.Context, id string, patch story.Patch) error {
	return f.modify(id, func(s *story.Story) { s.Apply(patch) })
}

// ToggleFavorite flips the favorite flag of s as stored on disk.
func (f *File) ToggleFavorite(_ context.Context, s story.Story) error {
	fav := !s.Favorite
	return f.modify(s.ID, func(st *story.Story) { st.Favorite = fav })
}

// PlayableURL resolves a relative audio reference against the audio directory.
func (f *File) PlayableURL(audioRef string) string {
	if audioRef == "" {
		return ""
	}
	if u, err := url.Parse(audioRef); err == nil && u.IsAbs() {
		return audioRef
	}
	if filepath.IsAbs(audioRef) {
		return audioRef
	}
	return filepath.Join(f.audioDir, filepath.FromSlash(audioRef))
}

// Watch calls onChange after the library document changes on disk, until ctx
// is cancelled. Bursts of events within the debounce window collapse into one call.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}

	// Watch the directory; editors replace files by rename.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return errors.Wrapf(err, "watch %s", dir)
	}
	zlog.Info().Msgf("library: watching %s", f.path)

	go f.watchLoop(ctx, watcher, onChange)
	return nil
}

func (f *File) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func()) {
	defer func() { _ = watcher.Close() }()

	name := filepath.Clean(f.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			zlog.Debug().Msgf("library: %s changed", f.path)
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zlog.Warn().Err(err).Msg("library: watcher error")
		}
	}
}

func (f *File) modify(id string, fn func(*story.Story)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readLocked()
	if err != nil {
		return err
	}
	idx := -1
	for i := range doc.Stories {
		if doc.Stories[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Wrapf(ErrNotFound, "story %s", id)
	}
	fn(&doc.Stories[idx])
	return f.writeLocked(doc)
}

func (f *File) readLocked() (libraryFile, error) {
	var doc libraryFile
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return libraryFile{Stories: []story.Story{}}, nil
		}
		return doc, errors.Wrapf(err, "read %s", f.path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return libraryFile{Stories: []story.Story{}}, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, errors.Wrapf(err, "parse %s", f.path)
	}
	if doc.Stories == nil {
		doc.Stories = []story.Story{}
	}
	return doc, nil
}

func (f *File) writeLocked(doc libraryFile) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode library")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".stories-*.yaml")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "replace %s", f.path)
	}
	return nil
}
