package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/bleeperr"
)

func TestMetrics_Observe_RecordsCallsAndErrors(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	m.Observe("read", 10*time.Millisecond, nil)
	m.Observe("read", 20*time.Millisecond, bleeperr.New(bleeperr.OperationTimeout, "read", nil))

	assert.Equal(t, float64(2), readCounterValue(m.Calls.WithLabelValues("read")))
	assert.Equal(t, float64(1), sumErrorsForOp(m.Errors, "read"))
}

func TestMetrics_DetectIssues_FlagsHighErrorRate(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	for i := 0; i < 10; i++ {
		var err error
		if i < 8 {
			err = bleeperr.New(bleeperr.OperationTimeout, "write", nil)
		}
		m.Observe("write", 5*time.Millisecond, err)
	}

	issues := m.DetectIssues([]string{"write"})
	require.Len(t, issues, 1)
	assert.Equal(t, "write", issues[0].Op)
	assert.InDelta(t, 0.8, issues[0].ErrorRate, 0.001)
}

func TestMetrics_DetectIssues_IgnoresLowSampleCount(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	m.Observe("pair", time.Millisecond, bleeperr.New(bleeperr.PairingFailed, "pair", nil))

	assert.Empty(t, m.DetectIssues([]string{"pair"}))
}

func TestMetrics_DetectIssues_IgnoresHealthyOperation(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	for i := 0; i < 10; i++ {
		m.Observe("connect", time.Millisecond, nil)
	}

	assert.Empty(t, m.DetectIssues([]string{"connect"}))
}
