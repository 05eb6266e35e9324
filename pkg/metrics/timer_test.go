package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_Duration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimer_ObservesSchedulingCycle(t *testing.T) {
	before := histogramCount(t, SchedulingCycleDuration)
	NewTimer().ObserveDuration(SchedulingCycleDuration)
	assert.Equal(t, before+1, histogramCount(t, SchedulingCycleDuration))
}

func TestTimer_ObservesPerDecider(t *testing.T) {
	timer := NewTimer()
	timer.ObserveDurationVec(WarmupDuration, "timer-test-whisper")
	timer.ObserveDurationVec(WarmupDuration, "timer-test-piper")

	assert.Equal(t, 1, histogramCount(t, WarmupDuration.WithLabelValues("timer-test-whisper")))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(WarmupDuration), 2)
}

func TestObserveSpan(t *testing.T) {
	now := time.Now()
	series := JobLatency.WithLabelValues("span-test")

	ObserveSpan(JobLatency, time.Time{}, now, "span-test")
	ObserveSpan(JobLatency, now, now.Add(-time.Second), "span-test")
	assert.Equal(t, 0, histogramCount(t, series))

	ObserveSpan(JobLatency, now.Add(-2*time.Second), now, "span-test")
	assert.Equal(t, 1, histogramCount(t, series))
}

func histogramCount(t *testing.T, o prometheus.Observer) int {
	t.Helper()
	var m dto.Metric
	require.NoError(t, o.(prometheus.Metric).Write(&m))
	return int(m.GetHistogram().GetSampleCount())
}
