package app

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdScriptStudio/internal/config"
	"github.com/Corphon/AdScriptStudio/internal/di"
	"github.com/Corphon/AdScriptStudio/internal/services"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		Port:                "0",
		DataDir:             t.TempDir(),
		AgentTimeoutSeconds: 5,
		RateLimitPerMinute:  60,
		RateLimitBurst:      10,
	}
}

func TestInitializeRegistersServices(t *testing.T) {
	a := New(testConfig(t))
	require.NoError(t, a.Initialize(context.Background()))
	defer a.Close()

	for _, name := range []string{
		di.ServiceStore, di.ServiceLLM, di.ServiceScript, di.ServiceRefinement,
		di.ServiceAudio, di.ServiceHub, di.ServiceMetrics,
	} {
		assert.True(t, a.Container().Has(name), name)
	}

	llmService, err := di.Resolve[*services.LLMService](a.Container(), di.ServiceLLM)
	require.NoError(t, err)
	assert.False(t, llmService.IsReady(), "no provider configured")
}

func TestDataDirIsLocked(t *testing.T) {
	cfg := testConfig(t)
	first := New(cfg)
	require.NoError(t, first.Initialize(context.Background()))

	second := New(cfg)
	assert.ErrorIs(t, second.Initialize(context.Background()), ErrAlreadyRunning)

	require.NoError(t, first.Close())
	third := New(cfg)
	require.NoError(t, third.Initialize(context.Background()), "lock is released on close")
	require.NoError(t, third.Close())
}

func TestServeUntilCanceled(t *testing.T) {
	a := New(testConfig(t))
	require.NoError(t, a.Initialize(context.Background()))
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeRequiresInitialize(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Error(t, New(testConfig(t)).Serve(context.Background(), ln))
}
