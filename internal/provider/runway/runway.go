// Package runway adapts the Runway image-to-video task API to the provider
// interface.
package runway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"reelsmith/internal/config"
	"reelsmith/internal/generation"
	"reelsmith/internal/provider"
	"reelsmith/internal/services"
)

const (
	// DefaultEndpoint is used when the provider entry names none.
	DefaultEndpoint = "https://api.dev.runwayml.com"
	defaultModel    = "gen4_turbo"
	apiVersion      = "2024-11-06"
)

type createRequest struct {
	Model       string `json:"model"`
	PromptImage string `json:"promptImage"`
	PromptText  string `json:"promptText,omitempty"`
	Ratio       string `json:"ratio,omitempty"`
	Duration    int    `json:"duration"`
}

type createResponse struct {
	ID string `json:"id"`
}

type task struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Progress    float64  `json:"progress"`
	Output      []string `json:"output"`
	Failure     string   `json:"failure"`
	FailureCode string   `json:"failureCode"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Client talks to one configured Runway account.
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
	auth := provider.BearerAuth(cfg.APIKey)
	return &Client{
		profile: generation.ProfileFromConfig(cfg),
		model:   model,
		http: &provider.HTTPClient{
			ProviderID: cfg.ID,
			BaseURL:    endpoint,
			Client:     httpClient,
			Authorize: func(req *http.Request) {
				auth(req)
				req.Header.Set("X-Runway-Version", apiVersion)
			},
			Classify: classifyBody,
		},
	}
}

func (c *Client) Profile() generation.Profile { return c.profile }

func (c *Client) Submit(ctx context.Context, sub provider.Submission) (generation.Handle, error) {
	body := createRequest{
		Model:       c.model,
		PromptImage: sub.Request.SourceImageRef,
		PromptText:  sub.Prompt,
		Ratio:       ratio(sub.Resolution),
		Duration:    int(math.Ceil(sub.Request.TargetDurationSeconds)),
	}
	var out createResponse
	if err := c.http.Do(ctx, http.MethodPost, "/v1/image_to_video", body, &out); err != nil {
		return generation.Handle{}, err
	}
	if out.ID == "" {
		return generation.Handle{}, &services.Error{Kind: services.KindTransient, Provider: c.profile.ID, Op: "submit", Message: "response missing task id"}
	}
	return generation.Handle{ProviderID: c.profile.ID, Token: out.ID}, nil
}

func (c *Client) PollStatus(ctx context.Context, h generation.Handle) (provider.PollResult, error) {
	t, err := c.task(ctx, h)
	if err != nil {
		return provider.PollResult{}, err
	}
	res := provider.PollResult{Progress: t.Progress * 100}
	switch strings.ToUpper(t.Status) {
	case "PENDING", "THROTTLED":
		res.Status = generation.StatusSubmitted
	case "RUNNING":
		res.Status = generation.StatusPolling
	case "SUCCEEDED":
		res.Status = generation.StatusCompleted
		res.Progress = 100
		if len(t.Output) > 0 {
			res.AssetURL = t.Output[0]
		}
	case "FAILED":
		res.Status = generation.StatusFailed
		res.Err = &services.Error{Kind: failureKind(t.FailureCode), Provider: c.profile.ID, Op: "poll", Message: strings.TrimSpace(t.Failure + " " + t.FailureCode)}
	case "CANCELLED":
		res.Status = generation.StatusCancelled
	default:
		return provider.PollResult{}, &services.Error{Kind: services.KindTransient, Provider: c.profile.ID, Op: "poll", Message: fmt.Sprintf("unknown task status %q", t.Status)}
	}
	return res, nil
}

func (c *Client) FetchResult(ctx context.Context, h generation.Handle) (string, error) {
	t, err := c.task(ctx, h)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(t.Status, "SUCCEEDED") || len(t.Output) == 0 {
		return "", &services.Error{Kind: services.KindFatal, Provider: c.profile.ID, Op: "fetch", Message: "task has no output"}
	}
	return t.Output[0], nil
}

func (c *Client) Cancel(ctx context.Context, h generation.Handle) error {
	return c.http.Do(ctx, http.MethodDelete, "/v1/tasks/"+h.Token, nil, nil)
}

func (c *Client) task(ctx context.Context, h generation.Handle) (task, error) {
	var t task
	err := c.http.Do(ctx, http.MethodGet, "/v1/tasks/"+h.Token, nil, &t)
	return t, err
}

// failureKind maps Runway failure codes. Moderation rejections are specific to
// this provider, so another provider may still accept the shot. Internal
// failures are transient and the dispatcher submits the task again.
func failureKind(code string) services.Kind {
	switch {
	case strings.HasPrefix(code, "SAFETY"):
		return services.KindCapability
	case strings.HasPrefix(code, "INTERNAL"):
		return services.KindTransient
	case strings.HasPrefix(code, "INPUT_PREPROCESSING"):
		return services.KindValidation
	default:
		return services.KindFatal
	}
}

func classifyBody(status int, body []byte) (services.Kind, string, bool) {
	var e errorBody
	if json.Unmarshal(body, &e) != nil || (e.Code == "" && e.Error == "") {
		return "", "", false
	}
	if strings.HasPrefix(e.Code, "SAFETY") {
		return services.KindCapability, e.Error, true
	}
	return "", "", false
}

// ratio converts WIDTHxHEIGHT into Runway's W:H form.
func ratio(resolution string) string {
	w, h, err := generation.ParseResolution(resolution)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", w, h)
}
