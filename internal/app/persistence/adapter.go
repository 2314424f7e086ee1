// Package persistence loads and saves the queue order in a key/value store.
package persistence

import (
	"context"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/domain/story"
	"github.com/osa030/storybox/internal/infra/kv"
)

// DefaultKey is the versioned key the queue order is stored under.
const DefaultKey = "bedtime-queue-v1"

// DefaultSeedCount is the number of library stories used when nothing valid is persisted.
const DefaultSeedCount = 10

// Source tells where a loaded order came from.
type Source int

const (
	SourcePersisted Source = iota // Decoded from the store
	SourceSeeded                  // Missing or corrupt, seeded from the library
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourcePersisted:
		return "persisted"
	case SourceSeeded:
		return "seeded"
	default:
		return "unknown"
	}
}

// Adapter persists the ordered list of queued story IDs.
type Adapter struct {
	store     kv.Store
	key       string
	seedCount int
}

// New creates an adapter over store. Empty key and non-positive seedCount fall back to defaults.
func New(store kv.Store, key string, seedCount int) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	if seedCount <= 0 {
		seedCount = DefaultSeedCount
	}
	return &Adapter{store: store, key: key, seedCount: seedCount}
}

// Save writes ids as a JSON array.
func (a *Adapter) Save(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return errors.Wrap(err, "failed to encode queue order")
	}
	if err := a.store.Put(ctx, a.key, data); err != nil {
		return errors.Wrap(err, "failed to save queue order")
	}
	return nil
}

// Load returns the persisted order filtered to IDs present in library.
// It never fails: a missing key, a read error or an unparsable value yield
// the first seedCount library stories instead.
func (a *Adapter) Load(ctx context.Context, library []story.Story) ([]string, Source) {
	data, err := a.store.Get(ctx, a.key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			zlog.Warn().Err(err).Msgf("persistence: failed to read %s, seeding from library", a.key)
		}
		return a.seed(library), SourceSeeded
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		zlog.Warn().Err(err).Msgf("persistence: corrupt value under %s, seeding from library", a.key)
		return a.seed(library), SourceSeeded
	}

	known := story.ByID(library)
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	if dropped := len(ids) - len(result); dropped > 0 {
		zlog.Debug().Msgf("persistence: dropped %d unknown or duplicate ids", dropped)
	}
	return result, SourcePersisted
}

func (a *Adapter) seed(library []story.Story) []string {
	n := min(a.seedCount, len(library))
	return story.IDs(library[:n])
}
