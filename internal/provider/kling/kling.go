// Package kling adapts the Kling image2video API to the provider interface.
package kling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"reelsmith/internal/config"
	"reelsmith/internal/generation"
	"reelsmith/internal/provider"
	"reelsmith/internal/services"
)

// DefaultEndpoint is used when the provider entry names none.
const DefaultEndpoint = "https://api.klingai.com"

const defaultModel = "kling-v1-6"

type cameraConfig struct {
	Horizontal float64 `json:"horizontal,omitempty"`
	Vertical   float64 `json:"vertical,omitempty"`
	Pan        float64 `json:"pan,omitempty"`
	Tilt       float64 `json:"tilt,omitempty"`
	Zoom       float64 `json:"zoom,omitempty"`
}

type cameraControl struct {
	Type   string        `json:"type"`
	Config *cameraConfig `json:"config,omitempty"`
}

type createRequest struct {
	ModelName      string         `json:"model_name"`
	Image          string         `json:"image"`
	Prompt         string         `json:"prompt,omitempty"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Mode           string         `json:"mode"`
	Duration       string         `json:"duration"`
	CameraControl  *cameraControl `json:"camera_control,omitempty"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type taskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Videos []struct {
			URL string `json:"url"`
		} `json:"videos"`
	} `json:"task_result"`
}

// Client talks to one configured Kling account.
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
			Classify:   classifyBody,
		},
	}
}

func (c *Client) Profile() generation.Profile { return c.profile }

func (c *Client) Submit(ctx context.Context, sub provider.Submission) (generation.Handle, error) {
	mode := "std"
	if c.profile.Tier == generation.TierPremium {
		mode = "pro"
	}
	body := createRequest{
		ModelName:      c.model,
		Image:          sub.Request.SourceImageRef,
		Prompt:         sub.Prompt,
		NegativePrompt: sub.Request.NegativePrompt,
		Mode:           mode,
		Duration:       duration(sub.Request.TargetDurationSeconds),
		CameraControl:  camera(sub.Request.CameraInstruction),
	}
	data, err := c.call(ctx, http.MethodPost, "/v1/videos/image2video", body)
	if err != nil {
		return generation.Handle{}, err
	}
	if data.TaskID == "" {
		return generation.Handle{}, &services.Error{Kind: services.KindTransient, Provider: c.profile.ID, Op: "submit", Message: "response missing task_id"}
	}
	return generation.Handle{ProviderID: c.profile.ID, Token: data.TaskID}, nil
}

func (c *Client) PollStatus(ctx context.Context, h generation.Handle) (provider.PollResult, error) {
	data, err := c.call(ctx, http.MethodGet, "/v1/videos/image2video/"+h.Token, nil)
	if err != nil {
		return provider.PollResult{}, err
	}
	switch data.TaskStatus {
	case "submitted":
		return provider.PollResult{Status: generation.StatusSubmitted}, nil
	case "processing":
		return provider.PollResult{Status: generation.StatusPolling}, nil
	case "succeed":
		res := provider.PollResult{Status: generation.StatusCompleted, Progress: 100}
		if len(data.TaskResult.Videos) > 0 {
			res.AssetURL = data.TaskResult.Videos[0].URL
		}
		return res, nil
	case "failed":
		return provider.PollResult{
			Status: generation.StatusFailed,
			Err:    &services.Error{Kind: statusMessageKind(data.TaskStatusMsg), Provider: c.profile.ID, Op: "poll", Message: data.TaskStatusMsg},
		}, nil
	default:
		return provider.PollResult{}, &services.Error{Kind: services.KindTransient, Provider: c.profile.ID, Op: "poll", Message: fmt.Sprintf("unknown task_status %q", data.TaskStatus)}
	}
}

func (c *Client) FetchResult(ctx context.Context, h generation.Handle) (string, error) {
	res, err := c.PollStatus(ctx, h)
	if err != nil {
		return "", err
	}
	if res.Status != generation.StatusCompleted || res.AssetURL == "" {
		return "", &services.Error{Kind: services.KindFatal, Provider: c.profile.ID, Op: "fetch", Message: "task has no video"}
	}
	return res.AssetURL, nil
}

// Cancel is a no-op: Kling offers no cancellation endpoint and tasks expire on
// their own.
func (c *Client) Cancel(context.Context, generation.Handle) error {
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, in any) (taskData, error) {
	var env envelope
	if err := c.http.Do(ctx, method, path, in, &env); err != nil {
		return taskData{}, err
	}
	if env.Code != 0 {
		kind, _ := codeKind(env.Code)
		return taskData{}, &services.Error{Kind: kind, Provider: c.profile.ID, Op: method + " " + path, Message: fmt.Sprintf("code %d: %s", env.Code, env.Message)}
	}
	var data taskData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return taskData{}, &services.Error{Kind: services.KindTransient, Provider: c.profile.ID, Op: method + " " + path, Message: "decode data", Cause: err}
	}
	return data, nil
}

// codeKind maps Kling business codes. 1100s are account problems, 1200s are
// request problems, 1300s are policy or throttling, 5000s are server side.
func codeKind(code int) (services.Kind, bool) {
	switch {
	case code == 1102:
		return services.KindFatal, true
	case code >= 1100 && code < 1200:
		return services.KindConfiguration, true
	case code >= 1200 && code < 1300:
		return services.KindValidation, true
	case code == 1301:
		return services.KindCapability, true
	case code >= 1302 && code < 1400:
		return services.KindTransient, true
	case code >= 5000:
		return services.KindTransient, true
	default:
		return services.KindFatal, false
	}
}

func classifyBody(_ int, body []byte) (services.Kind, string, bool) {
	var env envelope
	if json.Unmarshal(body, &env) != nil || env.Code == 0 {
		return "", "", false
	}
	kind, ok := codeKind(env.Code)
	if !ok {
		return "", "", false
	}
	return kind, fmt.Sprintf("code %d: %s", env.Code, env.Message), true
}

func statusMessageKind(msg string) services.Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "risk") || strings.Contains(lower, "content"):
		return services.KindCapability
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "busy"):
		return services.KindTransient
	default:
		return services.KindFatal
	}
}

// duration rounds to the two clip lengths Kling accepts.
func duration(seconds float64) string {
	if seconds > 5 {
		return "10"
	}
	return "5"
}

// camera maps canonical camera phrases onto Kling's simple camera control.
func camera(instruction string) *cameraControl {
	text := strings.ToLower(instruction)
	cfg := &cameraConfig{}
	switch {
	case strings.Contains(text, "push in"):
		cfg.Zoom = 5
	case strings.Contains(text, "pull out"):
		cfg.Zoom = -5
	case strings.Contains(text, "pan left"):
		cfg.Pan = -5
	case strings.Contains(text, "pan right"):
		cfg.Pan = 5
	case strings.Contains(text, "tilt up"):
		cfg.Tilt = 5
	case strings.Contains(text, "tilt down"):
		cfg.Tilt = -5
	case strings.Contains(text, "tracking"):
		cfg.Horizontal = 5
	default:
		return nil
	}
	return &cameraControl{Type: "simple", Config: cfg}
}
