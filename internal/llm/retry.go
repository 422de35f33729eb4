// internal/llm/retry.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRetryAttempts  = 5
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// StatusError is a non-2xx reply from a provider endpoint.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, SummarizeSnippet(e.Body))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// HTTPRetrier sends provider requests, retrying 408, 429, 5xx and network
// timeouts with exponential backoff. Retry-After is honored up to MaxDelay.
type HTTPRetrier struct {
	Client      *http.Client
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// NewHTTPRetrier returns a retrier with the default policy.
func NewHTTPRetrier(client *http.Client) *HTTPRetrier {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRetrier{
		Client:      client,
		MaxAttempts: defaultRetryAttempts,
		BaseDelay:   defaultRetryBaseDelay,
		MaxDelay:    defaultRetryMaxDelay,
	}
}

// Do builds a fresh request per attempt and returns the body of the first 2xx reply.
func (r *HTTPRetrier) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := r.once(ctx, build)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay, retry := r.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, err
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("llm request: failed after %d attempts: %w", attempts, lastErr)
}

func (r *HTTPRetrier) once(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("llm request: build: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body)), RetryAfter: retryAfter}
	}
	return body, nil
}

func (r *HTTPRetrier) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if !statusErr.Retryable() {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return r.capDelay(statusErr.RetryAfter), true
		}
		return r.backoffDelay(attempt), true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return r.backoffDelay(attempt), true
	}
	return 0, false
}

// backoffDelay doubles from BaseDelay: attempt 1 -> base, 2 -> 2*base, ...
func (r *HTTPRetrier) backoffDelay(attempt int) time.Duration {
	if r.BaseDelay <= 0 {
		return 0
	}
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		if r.MaxDelay > 0 && delay > r.MaxDelay/2 {
			return r.MaxDelay
		}
		delay *= 2
	}
	return r.capDelay(delay)
}

func (r *HTTPRetrier) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

func (r *HTTPRetrier) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if r.Sleep != nil {
		return r.Sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// SummarizeSnippet flattens whitespace and caps s at 160 runes for error messages.
func SummarizeSnippet(s string) string {
	clean := strings.Join(strings.Fields(s), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
