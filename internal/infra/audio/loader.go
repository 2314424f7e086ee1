package audio

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	zlog "github.com/rs/zerolog/log"
)

// maxClipBytes bounds a single download.
const maxClipBytes = 256 << 20

// Cache stores fetched audio by URL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Loader fetches audio by URL and decodes it into clips.
// Supported URLs are http(s), file:// and plain filesystem paths.
type Loader struct {
	client *http.Client
	cache  Cache
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(client *http.Client, cache Cache) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, cache: cache}
}

// Load returns the decoded clip at rawURL.
func (l *Loader) Load(ctx context.Context, rawURL string) (Clip, error) {
	data, err := l.fetch(ctx, rawURL)
	if err != nil {
		return Clip{}, err
	}
	clip, err := DecodeWAV(data)
	if err != nil {
		return Clip{}, errors.Wrapf(err, "failed to decode %s", rawURL)
	}
	return clip, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid audio url %q", rawURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return l.fetchHTTP(ctx, rawURL)
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(rawURL)
	default:
		return nil, errors.Newf("unsupported audio url scheme %q", u.Scheme)
	}
}

func (l *Loader) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	if l.cache != nil {
		if data, ok := l.cache.Get(rawURL); ok {
			zlog.Debug().Msgf("audio: cache hit: %s", rawURL)
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxClipBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", rawURL)
	}
	if len(data) > maxClipBytes {
		return nil, errors.Newf("fetch %s: audio larger than %s", rawURL, humanize.IBytes(maxClipBytes))
	}
	zlog.Debug().Msgf("audio: fetched %s (%s)", rawURL, humanize.IBytes(uint64(len(data))))

	if l.cache != nil {
		if err := l.cache.Put(rawURL, data); err != nil {
			zlog.Warn().Err(err).Msgf("audio: failed to cache %s", rawURL)
		}
	}
	return data, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return data, nil
}
