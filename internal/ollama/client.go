// Package ollama is an HTTP client for a locally running Ollama daemon.
// Generation requests are retried on transport failures only; structural
// failures (bad JSON, error statuses, empty output) are returned as-is
// because resending an identical payload cannot change a deterministic
// rejection.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lalmba/akinyi-chat/internal/config"
	"github.com/lalmba/akinyi-chat/internal/logger"
)

const maxErrorBodyBytes = 1 << 20

// Health is a transient snapshot of daemon availability.
type Health struct {
	Models  []string `json:"models"`
	BaseURL string   `json:"base_url"`
}

// Client issues generation and health requests against one Ollama base URL.
type Client struct {
	baseURL     string
	model       string
	maxAttempts int
	options     map[string]any
	httpClient  *http.Client
	sleep       func(time.Duration)
}

// NewClient creates a client from the daemon configuration.
func NewClient(cfg config.OllamaConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama2"
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		baseURL:     baseURL,
		model:       model,
		maxAttempts: attempts,
		options:     cfg.Options,
		httpClient:  &http.Client{Timeout: timeout},
		sleep:       time.Sleep,
	}
}

// DefaultModel returns the configured fallback model name.
func (c *Client) DefaultModel() string {
	return c.model
}

// Generate sends prompt to the daemon and returns the generated text. An
// empty model selects the configured default. The request payload is built
// once and resent unchanged on every attempt.
func (c *Client) Generate(ctx context.Context, prompt, model string) (string, error) {
	if strings.TrimSpace(model) == "" {
		model = c.model
	}

	payload := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false, // easier to consume in a web backend
	}
	if len(c.options) > 0 {
		payload["options"] = c.options
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Kind: KindInvalidResponse, Reason: err.Error()}
	}

	// Every branch below returns or retries; the loop has no fall-through
	// exit, so no trailing catch-all is needed.
	for attempt := 1; ; attempt++ {
		resp, err := c.post(ctx, c.baseURL+"/api/generate", body)
		if err != nil {
			logger.L.Error("ollama request failed", "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
			if attempt == c.maxAttempts {
				return "", &Error{Kind: KindUnreachable, Reason: err.Error()}
			}
			c.sleep(backoff(attempt))
			continue
		}
		return c.parseGeneration(resp, model)
	}
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) parseGeneration(resp *http.Response, model string) (string, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return "", &Error{Kind: KindUnreachable, Reason: err.Error()}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.L.Error("invalid JSON from ollama", "error", err)
		return "", &Error{Kind: KindInvalidResponse, Reason: "invalid_json"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason, _ := payload["error"].(string)
		if reason == "" {
			reason = strings.TrimSpace(string(raw))
		}
		kind := KindUpstreamError
		if resp.StatusCode == http.StatusNotFound {
			kind = KindModelUnavailable
		}
		return "", &Error{Kind: kind, Reason: reason, Status: resp.StatusCode, Payload: payload}
	}

	text, _ := payload["response"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		logger.L.Warn("ollama returned an empty response", "model", model)
		return "", &Error{Kind: KindEmptyResponse, Reason: "empty_response"}
	}
	return text, nil
}

// Health reads the daemon's tag list. It hits /api/tags instead of
// /api/generate so it is fast and cheap enough to call from UI polling;
// nothing is retried.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return Health{}, &Error{Kind: KindUnreachable, Reason: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.L.Error("ollama health check failed", "error", err)
		return Health{}, &Error{Kind: KindUnreachable, Reason: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return Health{}, &Error{Kind: KindUnreachable, Reason: err.Error()}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.L.Error("invalid JSON from ollama health check", "error", err)
		return Health{}, &Error{Kind: KindInvalidResponse, Reason: "invalid_json"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason, _ := payload["error"].(string)
		if reason == "" {
			reason = strings.TrimSpace(string(raw))
		}
		return Health{}, &Error{Kind: KindUpstreamError, Reason: reason, Status: resp.StatusCode, Payload: payload}
	}

	var names []string
	if models, ok := payload["models"].([]any); ok {
		for _, item := range models {
			if descriptor, ok := item.(map[string]any); ok {
				if name, _ := descriptor["name"].(string); name != "" {
					names = append(names, name)
				}
			}
		}
	}
	return Health{Models: names, BaseURL: c.baseURL}, nil
}

// backoff returns the inter-attempt sleep, capped at 5 seconds.
func backoff(attempt int) time.Duration {
	d := time.Duration(2*attempt) * time.Second
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
