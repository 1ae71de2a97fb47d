package monitoring

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, Percentile(samples, 50))
	assert.Equal(t, 95*time.Millisecond, Percentile(samples, 95))
	assert.Equal(t, 99*time.Millisecond, Percentile(samples, 99))
	assert.Equal(t, time.Duration(0), Percentile(nil, 50))
	assert.Equal(t, 7*time.Millisecond, Percentile([]time.Duration{7 * time.Millisecond}, 99))
}

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector(nil)
	for i := 1; i <= 20; i++ {
		var err error
		if i%5 == 0 {
			err = errors.New("boom")
		}
		c.ObserveStage("extracting", time.Duration(i)*time.Millisecond, err)
	}
	c.Enqueued(3)
	c.Dequeued()
	c.ObserveItem("promoted")
	c.ObserveItem("promoted")
	c.ObserveItem("failed")

	s := c.Snapshot()
	assert.EqualValues(t, 2, s.QueueDepth)
	assert.EqualValues(t, 2, s.Items["promoted"])
	st := s.Stages["extracting"]
	assert.EqualValues(t, 20, st.Count)
	assert.EqualValues(t, 4, st.Errors)
	assert.InDelta(t, 0.2, st.ErrorRate, 1e-9)
	assert.InDelta(t, 0.8, st.SuccessRate, 1e-9)
	assert.Equal(t, 10*time.Millisecond, st.P50)
	assert.Equal(t, 19*time.Millisecond, st.P95)
	assert.Equal(t, 20*time.Millisecond, st.P99)
}

func TestCollectorWindowAndQueueFloor(t *testing.T) {
	c := NewCollector(nil)
	c.window = 4
	for i := 1; i <= 10; i++ {
		c.ObserveStage("ocr", time.Duration(i)*time.Second, nil)
	}
	st := c.Snapshot().Stages["ocr"]
	assert.EqualValues(t, 10, st.Count)
	assert.Equal(t, 10*time.Second, st.P99)
	assert.Equal(t, 8*time.Second, st.P50)

	c.Dequeued()
	assert.Zero(t, c.Snapshot().QueueDepth)
}

func TestCollectorExportsPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveStage("validating", 20*time.Millisecond, nil)
	c.ObserveStage("validating", 30*time.Millisecond, errors.New("x"))
	c.Enqueued(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageTotal.WithLabelValues("validating", OutcomeError)))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.queueGauge))

	expected := `
# HELP imports_queue_depth Items enqueued and not yet finished.
# TYPE imports_queue_depth gauge
imports_queue_depth 5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "imports_queue_depth"))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveStage("ocr", time.Second, nil)
	c.ObserveItem("failed")
	c.Enqueued(1)
	assert.Empty(t, c.Snapshot().Stages)
}
