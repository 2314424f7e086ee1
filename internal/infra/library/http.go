// Package library provides story library backends.
package library

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"github.com/osa030/storybox/internal/domain/story"
)

// ErrNotFound is returned when a story does not exist.
var ErrNotFound = errors.New("story not found")

// HTTPSettings configures the REST library backend.
type HTTPSettings struct {
	URL        string `yaml:"url" mapstructure:"url" validate:"required,url"`
	TimeoutSec int    `yaml:"timeout_sec" mapstructure:"timeout_sec" default:"10" validate:"min=1"`
}

// HTTP talks to the story service REST API.
type HTTP struct {
	baseURL *url.URL
	http    *http.Client
}

// NewHTTP creates a REST library client.
func NewHTTP(baseURL string, timeout time.Duration) (*HTTP, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse library url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("library url %q must be absolute", baseURL)
	}
	return &HTTP{baseURL: u, http: &http.Client{Timeout: timeout}}, nil
}

// ListStories fetches GET /api/stories.
func (h *HTTP) ListStories(ctx context.Context) ([]story.Story, error) {
	var stories []story.Story
	if err := h.do(ctx, http.MethodGet, storyPath(""), nil, &stories); err != nil {
		return nil, err
	}
	if stories == nil {
		stories = []story.Story{}
	}
	return stories, nil
}

// UpdateStory sends PATCH /api/stories/{id}.
func (h *HTTP) UpdateStory(ctx context.Context, id string, patch story.Patch) error {
	return h.do(ctx, http.MethodPatch, storyPath(id), patch, nil)
}

// ToggleFavorite sends PUT /api/stories/{id}/favorite with the flipped flag.
func (h *HTTP) ToggleFavorite(ctx context.Context, s story.Story) error {
	body := struct {
		Favorite bool `json:"favorite"`
	}{Favorite: !s.Favorite}
	return h.do(ctx, http.MethodPut, storyPath(s.ID, "favorite"), body, nil)
}

// PlayableURL resolves an audio reference to a URL under /api/audio/.
// Absolute URLs are returned unchanged.
func (h *HTTP) PlayableURL(audioRef string) string {
	if audioRef == "" {
		return ""
	}
	if u, err := url.Parse(audioRef); err == nil && u.IsAbs() {
		return audioRef
	}
	ref := strings.TrimPrefix(audioRef, "/")
	rel := &url.URL{Path: h.baseURL.Path + "/api/audio/" + ref}
	return h.baseURL.ResolveReference(rel).String()
}

func storyPath(id string, rest ...string) *url.URL {
	if id == "" {
		return &url.URL{Path: "/api/stories"}
	}
	tail := ""
	if len(rest) > 0 {
		tail = "/" + strings.Join(rest, "/")
	}
	return &url.URL{
		Path:    "/api/stories/" + id + tail,
		RawPath: "/api/stories/" + url.PathEscape(id) + tail,
	}
}

func (h *HTTP) do(ctx context.Context, method string, rel *url.URL, body, dest any) error {
	full := *rel
	full.Path = h.baseURL.Path + rel.Path
	if rel.RawPath != "" {
		full.RawPath = h.baseURL.EscapedPath() + rel.RawPath
	}
	reqURL := h.baseURL.ResolveReference(&full)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, rel.EscapedPath())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(ErrNotFound, "%s %s", method, rel.EscapedPath())
	}
	if resp.StatusCode >= 400 {
		return errors.Newf("library %s %s returned status %d", method, rel.EscapedPath(), resp.StatusCode)
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
