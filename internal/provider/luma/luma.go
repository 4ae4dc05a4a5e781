// Package luma adapts the Luma Dream Machine generations API to the provider
// interface.
package luma

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"reelsmith/internal/config"
	"reelsmith/internal/generation"
	"reelsmith/internal/provider"
	"reelsmith/internal/services"
)

// DefaultEndpoint is used when the provider entry names none.
const DefaultEndpoint = "https://api.lumalabs.ai"

const (
	defaultModel    = "ray-2"
	generationsPath = "/dream-machine/v1/generations"
)

type keyframe struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type createRequest struct {
	Prompt      string              `json:"prompt"`
	Model       string              `json:"model"`
	AspectRatio string              `json:"aspect_ratio,omitempty"`
	Resolution  string              `json:"resolution,omitempty"`
	Duration    string              `json:"duration"`
	Loop        bool                `json:"loop"`
	Keyframes   map[string]keyframe `json:"keyframes"`
}

type generationResponse struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
}

// Client talks to one configured Luma account.
type Client struct {
	profile generation.Profile
	model   string
	http    *provider.HTTPClient
}

// New builds a client from a [[providers]] entry.
func New(cfg config.Provider, httpClient *http.Client) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		profile: generation.ProfileFromConfig(cfg),
		model:   model,
		http: &provider.HTTPClient{
			ProviderID: cfg.ID,
			BaseURL:    endpoint,
			Client:     httpClient,
			Authorize:  provider.BearerAuth(cfg.APIKey),
		},
	}
}

func (c *Client) Profile() generation.Profile { return c.profile }

func (c *Client) Submit(ctx context.Context, sub provider.Submission) (generation.Handle, error) {
	body := createRequest{
		Prompt:      sub.Prompt,
		Model:       c.model,
		AspectRatio: aspectRatio(sub.Resolution),
		Resolution:  resolutionLabel(sub.Resolution),
		Duration:    duration(sub.Request.TargetDurationSeconds),
		Keyframes: map[string]keyframe{
			"frame0": {Type: "image", URL: sub.Request.SourceImageRef},
		},
	}
	var out generationResponse
	if err := c.http.Do(ctx, http.MethodPost, generationsPath, body, &out); err != nil {
		return generation.Handle{}, err
	}
	if out.ID == "" {
		return generation.Handle{}, &services.Error{Kind: services.KindTransient, Provider: c.profile.ID, Op: "submit", Message: "response missing generation id"}
	}
	return generation.Handle{ProviderID: c.profile.ID, Token: out.ID}, nil
}

func (c *Client) PollStatus(ctx context.Context, h generation.Handle) (provider.PollResult, error) {
	var g generationResponse
	if err := c.http.Do(ctx, http.MethodGet, generationsPath+"/"+h.Token, nil, &g); err != nil {
		return provider.PollResult{}, err
	}
	switch g.State {
	case "queued":
		return provider.PollResult{Status: generation.StatusSubmitted}, nil
	case "dreaming":
		return provider.PollResult{Status: generation.StatusPolling}, nil
	case "completed":
		return provider.PollResult{Status: generation.StatusCompleted, Progress: 100, AssetURL: g.Assets.Video}, nil
	case "failed":
		return provider.PollResult{
			Status: generation.StatusFailed,
			Err:    &services.Error{Kind: failureKind(g.FailureReason), Provider: c.profile.ID, Op: "poll", Message: g.FailureReason},
		}, nil
	default:
		return provider.PollResult{}, &services.Error{Kind: services.KindTransient, Provider: c.profile.ID, Op: "poll", Message: fmt.Sprintf("unknown state %q", g.State)}
	}
}

func (c *Client) FetchResult(ctx context.Context, h generation.Handle) (string, error) {
	res, err := c.PollStatus(ctx, h)
	if err != nil {
		return "", err
	}
	if res.Status != generation.StatusCompleted || res.AssetURL == "" {
		return "", &services.Error{Kind: services.KindFatal, Provider: c.profile.ID, Op: "fetch", Message: "generation has no video asset"}
	}
	return res.AssetURL, nil
}

func (c *Client) Cancel(ctx context.Context, h generation.Handle) error {
	return c.http.Do(ctx, http.MethodDelete, generationsPath+"/"+h.Token, nil, nil)
}

func failureKind(reason string) services.Kind {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "moderation") || strings.Contains(lower, "blocked"):
		return services.KindCapability
	case strings.Contains(lower, "capacity") || strings.Contains(lower, "try again"):
		return services.KindTransient
	default:
		return services.KindFatal
	}
}

func duration(seconds float64) string {
	if seconds > 5 {
		return "9s"
	}
	return "5s"
}

func aspectRatio(resolution string) string {
	w, h, err := generation.ParseResolution(resolution)
	if err != nil || h == 0 {
		return ""
	}
	g := gcd(w, h)
	return fmt.Sprintf("%d:%d", w/g, h/g)
}

// resolutionLabel converts WIDTHxHEIGHT into Luma's "720p" style label.
func resolutionLabel(resolution string) string {
	w, h, err := generation.ParseResolution(resolution)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%dp", min(w, h))
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
