package orchestrator

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/osa030/storybox/internal/app/persistence"
	"github.com/osa030/storybox/internal/app/playback"
	"github.com/osa030/storybox/internal/domain/story"
	"github.com/osa030/storybox/internal/infra/audio"
	"github.com/osa030/storybox/internal/infra/device"
	"github.com/osa030/storybox/internal/infra/kv"
	"github.com/osa030/storybox/internal/infra/library"
)

// fakeLibrary is an in-memory story library.
type fakeLibrary struct {
	mu        sync.Mutex
	stories   []story.Story
	updates   []string
	favorites []string
	listErr   error
}

func newFakeLibrary(stories ...story.Story) *fakeLibrary {
	return &fakeLibrary{stories: stories}
}

func (l *fakeLibrary) ListStories(context.Context) ([]story.Story, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	out := make([]story.Story, len(l.stories))
	copy(out, l.stories)
	return out, nil
}

func (l *fakeLibrary) UpdateStory(_ context.Context, id string, patch story.Patch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.stories {
		if l.stories[i].ID == id {
			l.stories[i].Apply(patch)
			l.updates = append(l.updates, id)
			return nil
		}
	}
	return errors.New("not found")
}

func (l *fakeLibrary) ToggleFavorite(_ context.Context, s story.Story) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.stories {
		if l.stories[i].ID == s.ID {
			l.stories[i].Favorite = !s.Favorite
			l.favorites = append(l.favorites, s.ID)
			return nil
		}
	}
	return errors.New("not found")
}

func (l *fakeLibrary) PlayableURL(audioRef string) string {
	return "mem://" + audioRef
}

func (l *fakeLibrary) set(stories ...story.Story) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stories = stories
}

// watchingLibrary hands its change callback to the test.
type watchingLibrary struct {
	*fakeLibrary
	onChange chan func()
}

func (l *watchingLibrary) Watch(_ context.Context, onChange func()) error {
	l.onChange <- onChange
	return nil
}

// manualStream ends only when the test finishes it or playback closes it.
type manualStream struct {
	mu     sync.Mutex
	once   sync.Once
	done   chan struct{}
	paused bool
	pos    time.Duration
}

func (s *manualStream) finish()                 { s.once.Do(func() { close(s.done) }) }
func (s *manualStream) Done() <-chan struct{}   { return s.done }
func (s *manualStream) Pause()                  { s.mu.Lock(); s.paused = true; s.mu.Unlock() }
func (s *manualStream) Resume()                 { s.mu.Lock(); s.paused = false; s.mu.Unlock() }
func (s *manualStream) SetVolume(float64)       {}
func (s *manualStream) Duration() time.Duration { return time.Minute }
func (s *manualStream) Close() error            { s.finish(); return nil }

func (s *manualStream) SetRate(float64) error { return nil }

func (s *manualStream) Seek(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	return nil
}

func (s *manualStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

type manualSink struct {
	mu      sync.Mutex
	streams []*manualStream
}

func (s *manualSink) Open(audio.Clip) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &manualStream{done: make(chan struct{})}
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *manualSink) Close() error { return nil }

func (s *manualSink) opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// endCurrent finishes the most recently opened stream.
func (s *manualSink) endCurrent() {
	s.mu.Lock()
	st := s.streams[len(s.streams)-1]
	s.mu.Unlock()
	st.finish()
}

// stubLoader returns a short clip, or an error for URLs in fail.
type stubLoader struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (l *stubLoader) Load(_ context.Context, url string) (audio.Clip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail[url] {
		return audio.Clip{}, errors.Newf("cannot fetch %s", url)
	}
	return audio.Clip{Format: audio.Format{SampleRate: 8000, Channels: 1}, PCM: make([]byte, 1600)}, nil
}

// stubDevice is a remote device that follows start/stop commands.
// With startLag set, a start shows up only after that many status reads.
type stubDevice struct {
	mu        sync.Mutex
	playing   string
	commands  []string
	startLag  int
	failStart bool
	gate      chan struct{} // When non-nil, commands wait for it to close

	starting string
	lagLeft  int
}

func (d *stubDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/play/status":
		if d.starting != "" {
			if d.lagLeft > 0 {
				d.lagLeft--
			} else {
				d.playing, d.starting = d.starting, ""
			}
		}
		if d.playing == "" {
			_, _ = w.Write([]byte(`{"playing":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"playing":true,"storyId":"` + d.playing + `"}`))
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/play/"):
		if gate := d.gate; gate != nil {
			d.mu.Unlock()
			<-gate
			d.mu.Lock()
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/play/")
		if id != "stop" && d.failStart {
			http.Error(w, "cannot start", http.StatusInternalServerError)
			return
		}
		d.commands = append(d.commands, id)
		d.starting = ""
		switch {
		case id == "stop":
			d.playing = ""
		case d.startLag > 0:
			d.starting, d.lagLeft = id, d.startLag
		default:
			d.playing = id
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// setPlaying changes what the device plays, as if operated directly.
func (d *stubDevice) setPlaying(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = id
	d.starting = ""
}

func (d *stubDevice) log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

type harness struct {
	m       *Manager
	lib     *fakeLibrary
	store   *kv.Memory
	persist *persistence.Adapter
	sink    *manualSink
	loader  *stubLoader
	device  *stubDevice
}

func newHarness(t *testing.T, lib library.Library, cfg Config) *harness {
	t.Helper()

	h := &harness{
		store:  kv.NewMemory(),
		sink:   &manualSink{},
		loader: &stubLoader{fail: map[string]bool{}},
		device: &stubDevice{},
	}
	if fl, ok := lib.(*fakeLibrary); ok {
		h.lib = fl
	}
	if wl, ok := lib.(*watchingLibrary); ok {
		h.lib = wl.fakeLibrary
	}
	h.persist = persistence.New(h.store, "", 0)

	srv := httptest.NewServer(h.device)
	t.Cleanup(srv.Close)
	client, err := device.NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	if cfg.Rand == nil {
		cfg.Rand = rand.NewPCG(1, 2)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	pb := playback.NewController(h.sink, h.loader, playback.Config{Volume: 1, Rate: 1})
	h.m = NewManager(cfg, lib, h.persist, pb, client)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Start(context.Background()))
}

// waitPlaying waits until id is playing locally.
func (h *harness) waitPlaying(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.m.Status()
		return st.Playback.State == playback.StatePlaying && st.Playback.ID == id && st.CurrentID == id
	}, 2*time.Second, 5*time.Millisecond, "expected %s to be playing", id)
}

// waitIdle waits until nothing is current and playback is idle.
func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.m.Status()
		return st.Playback.State == playback.StateIdle && st.CurrentIndex == -1
	}, 2*time.Second, 5*time.Millisecond, "expected idle")
}

// makeStories builds library records; "+" has audio and "-" does not.
func makeStories(pattern string) []story.Story {
	out := make([]story.Story, len(pattern))
	for i, c := range pattern {
		id := string(rune('a' + i))
		out[i] = story.Story{ID: id, Text: "Story " + id, StoryType: "bedtime"}
		if c == '+' {
			out[i].AudioRef = id + ".wav"
		}
	}
	return out
}
