package library

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/storybox/internal/domain/story"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

func newStoryServer(t *testing.T, stories string) (*HTTP, func() []recordedRequest) {
	t.Helper()
	var (
		mu  sync.Mutex
		log []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		log = append(log, recordedRequest{Method: r.Method, Path: r.URL.EscapedPath(), Body: string(body)})
		mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/stories":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(stories))
		case r.URL.Path == "/api/stories/missing":
			http.NotFound(w, r)
		case r.Method == http.MethodPatch || r.Method == http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "unexpected", http.StatusTeapot)
		}
	}))
	t.Cleanup(srv.Close)

	h, err := NewHTTP(srv.URL+"/", time.Second)
	require.NoError(t, err)
	return h, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), log...)
	}
}

func TestHTTP_ListStories(t *testing.T) {
	h, _ := newStoryServer(t, `[
		{"id":"a","text":"One","storyType":"bedtime","createdAt":"2026-01-02T20:00:00Z","favorite":true,"audioRef":"a.wav"},
		{"id":"b","text":"Two","storyType":"adventure","createdAt":"2026-01-03T20:00:00Z"}
	]`)

	stories, err := h.ListStories(context.Background())
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, "a", stories[0].ID)
	assert.True(t, stories[0].Favorite)
	assert.True(t, stories[0].Playable())
	assert.False(t, stories[1].Playable())
}

func TestHTTP_ListStoriesNull(t *testing.T) {
	h, _ := newStoryServer(t, `null`)

	stories, err := h.ListStories(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stories)
	assert.Empty(t, stories)
}

func TestHTTP_UpdateStory(t *testing.T) {
	h, requests := newStoryServer(t, `[]`)
	text := "Edited"

	require.NoError(t, h.UpdateStory(context.Background(), "a b", story.Patch{Text: &text}))

	got := requests()
	require.Len(t, got, 1)
	req := got[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/api/stories/a%20b", req.Path)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	assert.Equal(t, map[string]any{"text": "Edited"}, body)
}

func TestHTTP_ToggleFavorite(t *testing.T) {
	tests := []struct {
		name     string
		favorite bool
		expected string
	}{
		{name: "sets favorite", favorite: false, expected: `{"favorite":true}`},
		{name: "clears favorite", favorite: true, expected: `{"favorite":false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, requests := newStoryServer(t, `[]`)
			require.NoError(t, h.ToggleFavorite(context.Background(), story.Story{ID: "s1", Favorite: tt.favorite}))

			got := requests()
			require.Len(t, got, 1)
			assert.Equal(t, http.MethodPut, got[0].Method)
			assert.Equal(t, "/api/stories/s1/favorite", got[0].Path)
			assert.JSONEq(t, tt.expected, got[0].Body)
		})
	}
}

func TestHTTP_NotFound(t *testing.T) {
	h, _ := newStoryServer(t, `[]`)

	err := h.UpdateStory(context.Background(), "missing", story.Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTP_PlayableURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		ref      string
		expected string
	}{
		{name: "relative", base: "http://lib:8080", ref: "abc.wav", expected: "http://lib:8080/api/audio/abc.wav"},
		{name: "leading slash", base: "http://lib:8080", ref: "/abc.wav", expected: "http://lib:8080/api/audio/abc.wav"},
		{name: "base with path", base: "http://lib/story/", ref: "x.wav", expected: "http://lib/story/api/audio/x.wav"},
		{name: "absolute", base: "http://lib", ref: "https://cdn/x.wav", expected: "https://cdn/x.wav"},
		{name: "empty", base: "http://lib", ref: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHTTP(tt.base, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, h.PlayableURL(tt.ref))
		})
	}
}

func TestNewHTTP_RejectsRelative(t *testing.T) {
	_, err := NewHTTP("lib:8080/api", time.Second)
	assert.Error(t, err)
}

const sampleLibrary = `stories:
  - id: a
    text: First story
    story_type: bedtime
    created_at: 2026-01-02T20:00:00Z
    audio_ref: a.wav
  - id: b
    text: Second story
    story_type: adventure
    created_at: 2026-01-03T20:00:00Z
`

func writeLibrary(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFile_ListStories(t *testing.T) {
	f := NewFile(writeLibrary(t, sampleLibrary), "/srv/audio", 0)

	stories, err := f.ListStories(context.Background())
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, []string{"a", "b"}, story.IDs(stories))
	assert.Equal(t, "a.wav", stories[0].AudioRef)
	assert.Equal(t, "bedtime", stories[0].StoryType)
}

func TestFile_MissingIsEmpty(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "none.yaml"), "audio", 0)

	stories, err := f.ListStories(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stories)
}

func TestFile_InvalidYAML(t *testing.T) {
	f := NewFile(writeLibrary(t, "stories: [unclosed"), "audio", 0)

	_, err := f.ListStories(context.Background())
	assert.Error(t, err)
}

func TestFile_UpdateStoryPersists(t *testing.T) {
	path := writeLibrary(t, sampleLibrary)
	f := NewFile(path, "audio", 0)
	text := "Rewritten"
	topic := "dragons"

	require.NoError(t, f.UpdateStory(context.Background(), "b", story.Patch{Text: &text, CustomTopic: &topic}))

	reopened := NewFile(path, "audio", 0)
	stories, err := reopened.ListStories(context.Background())
	require.NoError(t, err)
	byID := story.ByID(stories)
	assert.Equal(t, "Rewritten", byID["b"].Text)
	assert.Equal(t, "dragons", byID["b"].CustomTopic)
	assert.Equal(t, "First story", byID["a"].Text)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestFile_ToggleFavorite(t *testing.T) {
	f := NewFile(writeLibrary(t, sampleLibrary), "audio", 0)

	require.NoError(t, f.ToggleFavorite(context.Background(), story.Story{ID: "a"}))
	stories, err := f.ListStories(context.Background())
	require.NoError(t, err)
	assert.True(t, story.ByID(stories)["a"].Favorite)

	require.NoError(t, f.ToggleFavorite(context.Background(), story.Story{ID: "a", Favorite: true}))
	stories, err = f.ListStories(context.Background())
	require.NoError(t, err)
	assert.False(t, story.ByID(stories)["a"].Favorite)
}

func TestFile_UnknownStory(t *testing.T) {
	f := NewFile(writeLibrary(t, sampleLibrary), "audio", 0)

	err := f.UpdateStory(context.Background(), "zzz", story.Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_PlayableURL(t *testing.T) {
	f := NewFile("stories.yaml", "/srv/audio", 0)

	tests := []struct {
		name     string
		ref      string
		expected string
	}{
		{name: "relative", ref: "a.wav", expected: "/srv/audio/a.wav"},
		{name: "nested", ref: "2026/a.wav", expected: "/srv/audio/2026/a.wav"},
		{name: "absolute path", ref: "/tmp/a.wav", expected: "/tmp/a.wav"},
		{name: "url", ref: "http://lib/api/audio/a.wav", expected: "http://lib/api/audio/a.wav"},
		{name: "empty", ref: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.PlayableURL(tt.ref))
		})
	}
}

func TestFile_WatchDebouncesChanges(t *testing.T) {
	path := writeLibrary(t, sampleLibrary)
	f := NewFile(path, "audio", 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, f.Watch(ctx, func() { calls.Add(1) }))

	text := "changed"
	require.NoError(t, f.UpdateStory(context.Background(), "a", story.Patch{Text: &text}))
	require.NoError(t, f.UpdateStory(context.Background(), "b", story.Patch{Text: &text}))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		libType  string
		settings map[string]any
		wantErr  bool
	}{
		{name: "file with defaults", libType: "file", settings: map[string]any{}},
		{name: "http", libType: "http", settings: map[string]any{"url": "http://lib:8080"}},
		{name: "http without url", libType: "http", settings: map[string]any{}, wantErr: true},
		{name: "unknown", libType: "ftp", settings: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib, err := Open(tt.libType, tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, lib)
		})
	}
}
