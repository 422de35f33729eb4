package utils

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerWithCore(core)

	logger.Info("refinement finished", map[string]interface{}{
		"script_id": "abc",
		"reverted":  2,
		"err":       errors.New("late"),
	})
	logger.Debugf("strategy %s", "literal")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "refinement finished", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "abc", ctx["script_id"])
	assert.EqualValues(t, 2, ctx["reverted"])
	assert.Equal(t, "late", ctx["err"])
	assert.Equal(t, "strategy literal", entries[1].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestLoggerDisable(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerWithCore(core)

	logger.Enable(false)
	logger.Warn("hidden", nil)
	logger.Enable(true)
	logger.Warn("shown", nil)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
}

func TestInitLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.log")
	require.NoError(t, InitLogger(path))

	GetLogger().Info("hello file", map[string]interface{}{"k": "v"})
	_ = GetLogger().Sync()
	assert.FileExists(t, path)
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.RecordHistogram("latency", 10)
		}()
	}
	wg.Wait()
	m.AddCounter("hits", 5)
	m.RecordHistogram("latency", 2)
	m.RecordHistogram("latency", 40)
	m.SetGauge("clients", 3)
	m.IncGauge("clients")
	m.DecGauge("idle")

	assert.EqualValues(t, 55, m.GetCounterValue("hits"))
	assert.EqualValues(t, 4, m.GetGauge("clients"))
	assert.EqualValues(t, -1, m.GetGauge("idle"))
	assert.EqualValues(t, 0, m.GetCounterValue("missing"))

	snapshot := m.GetMetrics()
	hist := snapshot["histograms"].(map[string]map[string]int64)["latency"]
	assert.EqualValues(t, 52, hist["count"])
	assert.EqualValues(t, 2, hist["min"])
	assert.EqualValues(t, 40, hist["max"])
	assert.EqualValues(t, 542, hist["sum"])
}

func TestRecordRefinement(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	am := NewAPIMetricsWith(NewMetricsCollector(), NewLoggerWithCore(core))

	am.RecordRefinement(models.ValidationMetadata{
		RevertedChanges:   make([]models.RevertedChange, 3),
		HadLengthMismatch: true,
		Strategy:          "literal",
	})
	am.RecordRefinement(models.ValidationMetadata{Error: "no decode strategy produced script lines"})

	c := am.Collector()
	assert.EqualValues(t, 2, c.GetCounterValue(MetricRefineRequests))
	assert.EqualValues(t, 3, c.GetCounterValue(MetricRefineRevertedLines))
	assert.EqualValues(t, 1, c.GetCounterValue(MetricRefineLengthMismatch))
	assert.EqualValues(t, 1, c.GetCounterValue(MetricRefineParseFailures))
	assert.EqualValues(t, 1, c.GetCounterValue(MetricRefineStrategyPrefix+"literal"))

	am.RecordAPIRequest("refine", "POST", 200, 0)
	assert.EqualValues(t, 1, c.GetCounterValue("api_responses_2xx"))
}
