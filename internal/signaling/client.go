package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/signal"
)

// Client talks to a relay over HTTP. Its methods mirror broker.Service so
// callers can run against an in-process broker or a remote relay through the
// same interface, with HTTP statuses mapped back onto the broker's error
// taxonomy.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the relay at baseURL (scheme and host, no
// trailing slash required). A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) StoreSignal(ctx context.Context, room string, kind signal.Kind, payload json.RawMessage) (string, error) {
	body, err := json.Marshal(StoreSignalRequest{Kind: string(kind), Payload: payload})
	if err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrInvalidRequest, err)
	}

	var resp StoreSignalResponse
	if err := c.do(ctx, http.MethodPost, c.roomPath(room, "signals"), body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) FetchHandshake(ctx context.Context, room string, kind signal.Kind) (json.RawMessage, error) {
	var resp HandshakeResponse
	if err := c.do(ctx, http.MethodGet, c.roomPath(room, "handshake", string(kind)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (c *Client) FetchCandidates(ctx context.Context, room string, dir signal.Direction) ([]broker.Candidate, error) {
	var resp CandidatesResponse
	if err := c.do(ctx, http.MethodGet, c.roomPath(room, "candidates", string(dir)), nil, &resp); err != nil {
		return nil, err
	}
	candidates := make([]broker.Candidate, 0, len(resp.Candidates))
	for _, cand := range resp.Candidates {
		candidates = append(candidates, broker.Candidate{ID: cand.ID, Payload: cand.Payload})
	}
	return candidates, nil
}

func (c *Client) DeleteHandshake(ctx context.Context, room string, kind signal.Kind) error {
	return c.do(ctx, http.MethodDelete, c.roomPath(room, "handshake", string(kind)), nil, nil)
}

func (c *Client) DeleteCandidate(ctx context.Context, room string, dir signal.Direction, id string) error {
	return c.do(ctx, http.MethodDelete, c.roomPath(room, "candidates", string(dir), id), nil, nil)
}

func (c *Client) DeleteRoom(ctx context.Context, room string) error {
	return c.do(ctx, http.MethodDelete, c.roomPath(room), nil, nil)
}

// WatchURL returns the ws:// (or wss://) URL of the watch endpoint for a
// room's handshake kind.
func (c *Client) WatchURL(room string, kind signal.Kind) string {
	u := c.baseURL + c.roomPath(room, "watch") + "?kind=" + url.QueryEscape(string(kind))
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func (c *Client) roomPath(room string, segments ...string) string {
	parts := append([]string{"/rooms", url.PathEscape(room)}, segments...)
	for i := 2; i < len(parts); i++ {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrInvalidRequest, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", broker.ErrStoreUnavailable, err)
		}
		return nil
	}

	return statusError(resp)
}

func statusError(resp *http.Response) error {
	var envelope ErrorResponse
	detail := ""
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
			detail = envelope.Message
		}
	}
	if detail == "" {
		detail = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", broker.ErrNotFound, detail)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", broker.ErrInvalidRequest, detail)
	default:
		// 429 and 5xx are both retried at the caller's poll cadence.
		return fmt.Errorf("%w: %s", broker.ErrStoreUnavailable, detail)
	}
}
