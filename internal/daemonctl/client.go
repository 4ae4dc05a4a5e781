package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"reelsmith/internal/batch"
	"reelsmith/internal/config"
	"reelsmith/internal/episode"
	"reelsmith/internal/generation"
	"reelsmith/internal/httpapi"
	"reelsmith/internal/services"
)

// ErrAPIDisabled is returned when the daemon runs without an API bind.
var ErrAPIDisabled = errors.New("daemon api is disabled (paths.api_bind is empty)")

// Running reports whether a daemon holds the instance lock.
func Running(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// Lock takes the instance lock for a one-shot command so a daemon cannot
// start underneath it. The returned func releases it.
func Lock(cfg *config.Config) (func(), error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("a reelsmith daemon is running; stop it or let it handle the request")
	}
	return func() { _ = lock.Unlock() }, nil
}

// Client calls the daemon HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient targets the API bind from cfg.
func NewClient(cfg *config.Config) (*Client, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, ErrAPIDisabled
	}
	base := bind
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: cfg.Paths.APIToken,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Assemble schedules an episode assembly.
func (c *Client) Assemble(ctx context.Context, episodeID string) (httpapi.AssembleResponse, error) {
	var out httpapi.AssembleResponse
	_, err := c.do(ctx, http.MethodPost, "/api/episodes/"+episodeID+"/assemble", nil, &out)
	return out, err
}

// Episode returns nil when the daemon has never seen the episode.
func (c *Client) Episode(ctx context.Context, episodeID string) (*httpapi.EpisodeResponse, error) {
	var out httpapi.EpisodeResponse
	found, err := c.do(ctx, http.MethodGet, "/api/episodes/"+episodeID, nil, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// StartBatch starts a standalone batch.
func (c *Client) StartBatch(ctx context.Context, episodeID string, requests []generation.Request) (batch.Snapshot, error) {
	var out batch.Snapshot
	_, err := c.do(ctx, http.MethodPost, "/api/batches", httpapi.BatchRequest{EpisodeID: episodeID, Requests: requests}, &out)
	return out, err
}

// Batch returns nil for unknown ids.
func (c *Client) Batch(ctx context.Context, batchID string) (*batch.Snapshot, error) {
	var out batch.Snapshot
	found, err := c.do(ctx, http.MethodGet, "/api/batches/"+batchID, nil, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// CancelBatch requests cancellation; false means no live batch had the id.
func (c *Client) CancelBatch(ctx context.Context, batchID string) (bool, error) {
	return c.do(ctx, http.MethodDelete, "/api/batches/"+batchID, nil, nil)
}

// Providers lists configured provider profiles.
func (c *Client) Providers(ctx context.Context) ([]generation.Profile, error) {
	var out struct {
		Providers []generation.Profile `json:"providers"`
	}
	_, err := c.do(ctx, http.MethodGet, "/api/providers", nil, &out)
	return out.Providers, err
}

// WaitForEpisode polls until the episode is no longer running and reports
// each observed state.
func (c *Client) WaitForEpisode(ctx context.Context, episodeID string, interval time.Duration, observe func(*episode.State)) (*episode.State, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		resp, err := c.Episode(ctx, episodeID)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			if observe != nil && resp.State != nil {
				observe(resp.State)
			}
			if !resp.Running && resp.State != nil && resp.State.Status != episode.StatusRunning {
				return resp.State, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, services.New(services.KindCancelled, "wait", "stopped waiting for "+episodeID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// do returns false without error on 404.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (bool, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, services.New(services.KindTransient, "daemon api", method+" "+path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		var apiErr httpapi.ErrorResponse
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		kind := services.Kind(apiErr.Kind)
		if kind == "" {
			kind = services.KindFatal
			if resp.StatusCode == http.StatusUnauthorized {
				kind = services.KindConfiguration
			}
		}
		return false, services.New(kind, "daemon api", fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode), errors.New(apiErr.Error))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return true, nil
}
