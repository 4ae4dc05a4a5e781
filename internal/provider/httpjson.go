package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reelsmith/internal/services"
)

const maxErrorBody = 4096

// BodyClassifier lets a backend map its own error payloads onto the taxonomy.
// It returns ok=false to fall back to status code classification.
type BodyClassifier func(status int, body []byte) (kind services.Kind, message string, ok bool)

// HTTPClient performs JSON requests against one provider's API and classifies
// failures. It makes exactly one request per call; retries belong to the caller.
type HTTPClient struct {
	ProviderID string
	BaseURL    string
	Client     *http.Client
	Authorize  func(*http.Request)
	Classify   BodyClassifier
	Now        func() time.Time
}

// Do sends in as JSON (when non-nil) and decodes the response into out (when non-nil).
func (c *HTTPClient) Do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &services.Error{Kind: services.KindValidation, Provider: c.ProviderID, Op: op, Message: "encode request", Cause: err}
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return &services.Error{Kind: services.KindConfiguration, Provider: c.ProviderID, Op: op, Message: "build request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Authorize != nil {
		c.Authorize(req)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return c.classifyTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.classifyStatus(op, resp, data)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &services.Error{Kind: services.KindTransient, Provider: c.ProviderID, Op: op, Message: "decode response", Cause: err}
	}
	return nil
}

func (c *HTTPClient) classifyTransportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &services.Error{Kind: services.KindCancelled, Provider: c.ProviderID, Op: op, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &services.Error{Kind: services.KindTransient, Provider: c.ProviderID, Op: op, Message: "network timeout", Cause: err}
	}
	return &services.Error{Kind: services.KindTransient, Provider: c.ProviderID, Op: op, Message: "network error", Cause: err}
}

func (c *HTTPClient) classifyStatus(op string, resp *http.Response, body []byte) error {
	status := resp.StatusCode
	message := fmt.Sprintf("http %d: %s", status, summarizeBody(body))
	structured := &services.Error{Provider: c.ProviderID, Op: op, Message: message}
	if c.Classify != nil {
		if kind, msg, ok := c.Classify(status, body); ok {
			structured.Kind = kind
			if msg != "" {
				structured.Message = fmt.Sprintf("http %d: %s", status, msg)
			}
			if kind == services.KindTransient {
				structured.RetryAfter = c.retryAfter(resp.Header.Get("Retry-After"))
			}
			return structured
		}
	}
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		structured.Kind = services.KindTransient
		structured.RetryAfter = c.retryAfter(resp.Header.Get("Retry-After"))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		structured.Kind = services.KindConfiguration
		structured.Message += " (check provider api key)"
	case status == http.StatusPaymentRequired:
		structured.Kind = services.KindFatal
		structured.Message += " (quota exhausted)"
	case status == http.StatusRequestEntityTooLarge:
		structured.Kind = services.KindCapability
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		structured.Kind = services.KindValidation
	default:
		structured.Kind = services.KindFatal
	}
	return structured
}

func (c *HTTPClient) retryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		if d := when.Sub(now()); d > 0 {
			return d
		}
	}
	return 0
}

func summarizeBody(body []byte) string {
	text := strings.Join(strings.Fields(string(body)), " ")
	if text == "" {
		return "empty response"
	}
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}

// BearerAuth returns an Authorize hook setting a bearer token.
func BearerAuth(token string) func(*http.Request) {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}
