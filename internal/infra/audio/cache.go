package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	zlog "github.com/rs/zerolog/log"
)

// DiskCache keeps fetched audio on disk, zstd-compressed.
// Entries are evicted oldest-modified first once the total exceeds capacity.
type DiskCache struct {
	dir      string
	capacity int64

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

const cacheFileExt = ".wav.zst"

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string, capacity int64, level int) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd encoder")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd decoder")
	}

	return &DiskCache{
		dir:      dir,
		capacity: capacity,
		encoder:  encoder,
		decoder:  decoder,
	}, nil
}

func (c *DiskCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+cacheFileExt)
}

// Get returns the cached value for key.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	value, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		zlog.Warn().Err(err).Msgf("audio: dropping corrupt cache entry %s", filepath.Base(p))
		_ = os.Remove(p)
		return nil, false
	}
	return value, true
}

// Put stores value under key.
func (c *DiskCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	compressed := c.encoder.EncodeAll(value, nil)
	if int64(len(compressed)) > c.capacity {
		return errors.Newf("entry of %d bytes exceeds cache capacity", len(compressed))
	}

	p := c.path(key)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return errors.Wrap(err, "failed to write cache file")
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to commit cache file")
	}

	c.evictLocked(p)
	return nil
}

// Size returns the bytes currently on disk.
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, e := range c.entriesLocked() {
		total += e.size
	}
	return total
}

type cacheEntry struct {
	path    string
	size    int64
	modUnix int64
}

func (c *DiskCache) entriesLocked() []cacheEntry {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+cacheFileExt))
	if err != nil {
		return nil
	}
	entries := make([]cacheEntry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, cacheEntry{path: m, size: info.Size(), modUnix: info.ModTime().UnixNano()})
	}
	return entries
}

// evictLocked removes the oldest entries other than keep until the cache fits.
func (c *DiskCache) evictLocked(keep string) {
	entries := c.entriesLocked()
	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= c.capacity {
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modUnix < entries[j].modUnix })
	for _, e := range entries {
		if total <= c.capacity {
			break
		}
		if e.path == keep {
			continue
		}
		if err := os.Remove(e.path); err != nil {
			continue
		}
		total -= e.size
		zlog.Debug().Msgf("audio: evicted cache entry %s (%d bytes)", filepath.Base(e.path), e.size)
	}
}

// Close releases the codec resources.
func (c *DiskCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoder.Close()
	return c.encoder.Close()
}
