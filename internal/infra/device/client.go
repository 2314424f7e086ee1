// Package device provides the HTTP client for the remote playback device.
package device

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
)

// Status is the device's report of what it is playing.
type Status struct {
	Playing bool   `json:"playing"`
	StoryID string `json:"storyId,omitempty"`
}

// Controller is the device control surface used by the sync client.
type Controller interface {
	Status(ctx context.Context) (Status, error)
	Start(ctx context.Context, storyID string) error
	Stop(ctx context.Context) error
}

// Ensure Client implements Controller at compile time.
var _ Controller = (*Client)(nil)

const defaultUserAgent = "storybox/1.0"

// Client talks to the device's HTTP API.
// Requests carry no timeout of their own; a hung request delays the next poll.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

// NewClient creates a client for the device at baseURL (host:port or URL).
// A nil httpClient uses a client without timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:   base,
		http:      httpClient,
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns the device base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Status fetches GET /api/play/status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/play/status", &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Start issues POST /api/play/{storyID}.
func (c *Client) Start(ctx context.Context, storyID string) error {
	if strings.TrimSpace(storyID) == "" {
		return errors.New("story id required")
	}
	rel := &url.URL{
		Path:    "/api/play/" + storyID,
		RawPath: "/api/play/" + url.PathEscape(storyID),
	}
	return c.doURL(ctx, http.MethodPost, rel, nil)
}

// Stop issues POST /api/play/stop.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/play/stop", nil)
}

func (c *Client) do(ctx context.Context, method, path string, dest any) error {
	return c.doURL(ctx, method, &url.URL{Path: path}, dest)
}

func (c *Client) doURL(ctx context.Context, method string, rel *url.URL, dest any) error {
	path := rel.EscapedPath()
	reqURL := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("device %s %s returned status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(body))
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

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("device url required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.Wrapf(err, "parse device url %q", raw)
	}
	if u.Host == "" {
		return nil, errors.Newf("device url %q has no host", raw)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
