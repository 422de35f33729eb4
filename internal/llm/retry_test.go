package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetrier(sleeps *[]time.Duration) *HTTPRetrier {
	r := NewHTTPRetrier(nil)
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return ctx.Err()
	}
	return r
}

func getBuilder(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestRetrierRetriesTransientStatuses(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer server.Close()

	var sleeps []time.Duration
	body, err := newTestRetrier(&sleeps).Do(context.Background(), getBuilder(server.URL))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, sleeps)
}

func TestRetrierStopsOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	var sleeps []time.Duration
	_, err := newTestRetrier(&sleeps).Do(context.Background(), getBuilder(server.URL))
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.False(t, statusErr.Retryable())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, sleeps)
}

func TestRetrierGivesUpAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var sleeps []time.Duration
	r := newTestRetrier(&sleeps)
	r.MaxAttempts = 4
	_, err := r.Do(context.Background(), getBuilder(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps)
}

func TestBackoffIsCapped(t *testing.T) {
	r := NewHTTPRetrier(nil)
	assert.Equal(t, time.Second, r.backoffDelay(1))
	assert.Equal(t, 8*time.Second, r.backoffDelay(4))
	assert.Equal(t, 10*time.Second, r.backoffDelay(5))
	assert.Equal(t, 10*time.Second, r.capDelay(time.Minute))
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := parseRetryAfter("7")
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	_, ok = parseRetryAfter("-1")
	assert.False(t, ok)

	_, ok = parseRetryAfter("soon")
	assert.False(t, ok)
}

func TestSummarizeSnippet(t *testing.T) {
	assert.Equal(t, "<empty>", SummarizeSnippet("  \n"))
	assert.Equal(t, "a b c", SummarizeSnippet("a\n\tb   c"))
	long := SummarizeSnippet(strings.Repeat("x", 200))
	assert.Len(t, []rune(long), 163)
}

type fakeProvider struct{ initErr error }

func (f *fakeProvider) Initialize(map[string]string) error { return f.initErr }
func (f *fakeProvider) GetName() string                    { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string       { return []string{"fake-1"} }
func (f *fakeProvider) CompleteText(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Text: "[]"}, nil
}

func TestRegistry(t *testing.T) {
	Register("test-fake", func() Provider { return &fakeProvider{} })
	Register("test-broken", func() Provider { return &fakeProvider{initErr: errors.New("no key")} })

	p, err := GetProvider("test-fake", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake", p.GetName())
	assert.Contains(t, ListProviders(), "test-fake")
	assert.Equal(t, []string{"fake-1"}, GetSupportedModelsForProvider("test-fake"))
	assert.Empty(t, GetSupportedModelsForProvider("nope"))

	_, err = GetProvider("test-broken", nil)
	assert.EqualError(t, err, "no key")

	_, err = GetProvider("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
