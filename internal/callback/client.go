package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxResponseExcerpt bounds the response body kept in logs.
const maxResponseExcerpt = 512

// Client delivers payloads to the backend.
type Client struct {
	config     Config
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client. Zero config values select the defaults.
func New(config Config, logger *slog.Logger) *Client {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultInitialBackoff
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}

	var url string
	if base := strings.TrimSpace(config.BackendURL); base != "" {
		url = strings.TrimRight(base, "/") + Path
	}

	return &Client{
		config:     config,
		url:        url,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// URL returns the callback endpoint, or "" when no backend is configured.
func (c *Client) URL() string { return c.url }

// Delay returns the wait before retrying after the given failed attempt
// (1-based): initial, 2*initial, 4*initial...
func Delay(initial time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return initial << (attempt - 1)
}

// Deliver posts the payload, retrying transient failures. It returns nil
// once the backend answers 2xx, ErrRejected on any other non-5xx code,
// ErrExhausted when every attempt failed and ErrNotConfigured when there is
// nowhere to send it.
func (c *Client) Deliver(ctx context.Context, payload Payload) error {
	logger := c.logger.With(
		"operation_id", payload.OperationID,
		"project_id", payload.ProjectID,
		"type", payload.Type,
		"status", payload.Status,
	)

	if c.url == "" {
		logger.Error("callback not sent, backend url is not configured")
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	token, err := mintToken(c.config.JWTSecret, c.config.TokenTTL, c.now())
	if err != nil {
		logger.Error("callback not sent", "error", err)
		return err
	}

	maxAttempts := c.config.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, excerpt, err := c.post(ctx, body, token)
		switch {
		case err != nil:
			logger.Warn("callback attempt failed", "attempt", attempt, "error", err)
		case code >= 200 && code < 300:
			logger.Info("callback delivered", "attempt", attempt, "status_code", code)
			return nil
		case code >= 500:
			logger.Warn("callback attempt failed", "attempt", attempt, "status_code", code, "response", excerpt)
		default:
			logger.Error("callback rejected", "attempt", attempt, "status_code", code, "response", excerpt)
			return fmt.Errorf("%w: status %d", ErrRejected, code)
		}

		if attempt == maxAttempts {
			break
		}
		delay := Delay(c.config.InitialBackoff, attempt)
		if err := c.sleep(ctx, delay); err != nil {
			logger.Error("callback abandoned", "attempt", attempt, "error", err)
			return fmt.Errorf("%w: %v", ErrExhausted, err)
		}
	}

	logger.Error("callback abandoned after all attempts", "attempts", maxAttempts)
	return fmt.Errorf("%w after %d attempts", ErrExhausted, maxAttempts)
}

// post sends one attempt. A non-nil error means no response was received.
func (c *Client) post(ctx context.Context, body []byte, token string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.config.SigningSecret != "" {
		req.Header.Set(SignatureHeader, signBody(body, c.config.SigningSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseExcerpt))
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, string(excerpt), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
