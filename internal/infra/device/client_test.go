package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
}

func newDeviceServer(t *testing.T, status string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, recordedRequest{method: r.Method, path: r.URL.EscapedPath()})
		mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/play/status":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(status))
		case r.Method == http.MethodPost && r.URL.Path == "/api/play/boom":
			http.Error(w, "device busy", http.StatusServiceUnavailable)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected Status
		wantErr  bool
	}{
		{name: "playing", body: `{"playing":true,"storyId":"s1"}`, expected: Status{Playing: true, StoryID: "s1"}},
		{name: "stopped without id", body: `{"playing":false}`, expected: Status{}},
		{name: "invalid json", body: `{"playing":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newDeviceServer(t, tt.body)
			c, err := NewClient(srv.URL, srv.Client())
			require.NoError(t, err)

			st, err := c.Status(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, st)
		})
	}
}

func TestClient_Commands(t *testing.T) {
	srv, requests := newDeviceServer(t, `{}`)
	c, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background(), "story 1"))
	require.NoError(t, c.Stop(context.Background()))
	assert.Error(t, c.Start(context.Background(), "boom"))
	assert.Error(t, c.Start(context.Background(), " "))

	assert.Equal(t, []recordedRequest{
		{method: http.MethodPost, path: "/api/play/story%201"},
		{method: http.MethodPost, path: "/api/play/stop"},
		{method: http.MethodPost, path: "/api/play/boom"},
	}, requests())
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, nil)
	require.NoError(t, err)

	_, err = c.Status(context.Background())
	assert.Error(t, err)
}

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "host and port", input: "192.168.1.20:8080", expected: "http://192.168.1.20:8080"},
		{name: "full url with path", input: "https://speaker.local/ignored?x=1", expected: "https://speaker.local"},
		{name: "whitespace", input: "  speaker.local  ", expected: "http://speaker.local"},
		{name: "empty", input: "", wantErr: true},
		{name: "no host", input: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := parseBaseURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u.String())
		})
	}
}
