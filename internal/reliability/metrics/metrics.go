// Package metrics records per-operation latency and error-rate metrics
// (§4.2) into Prometheus collectors, and provides a DetectIssues summary
// for the health monitor / orchestrator to act on without each needing its
// own scrape-and-compute loop.
package metrics

import (
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srg/bleep/internal/bleeperr"
)

// Metrics holds the Prometheus collectors for the reliability layer. Zero
// value is not usable; construct with New.
type Metrics struct {
	Latency *prometheus.HistogramVec
	Calls   *prometheus.CounterVec
	Errors  *prometheus.CounterVec
}

// New constructs the collector set. Callers register it with whatever
// prometheus.Registerer the process uses (a fresh registry in tests avoids
// the default registry's global duplicate-registration panic).
func New() *Metrics {
	return &Metrics{
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bleep",
			Subsystem: "ipc",
			Name:      "operation_latency_seconds",
			Help:      "Latency of IPC operations, by operation name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleep",
			Subsystem: "ipc",
			Name:      "operation_calls_total",
			Help:      "Total IPC operation attempts, by operation name.",
		}, []string{"op"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleep",
			Subsystem: "ipc",
			Name:      "operation_errors_total",
			Help:      "Total IPC operation failures, by operation name and error kind.",
		}, []string{"op", "kind"}),
	}
}

// MustRegister registers every collector, panicking on a duplicate — the
// standard prometheus client_golang idiom for process startup.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Latency, m.Calls, m.Errors)
}

// Observe records one operation's outcome: latency unconditionally, plus a
// call count and (on failure) an error count keyed by the error's Kind.
func (m *Metrics) Observe(op string, dur time.Duration, err error) {
	m.Latency.WithLabelValues(op).Observe(dur.Seconds())
	m.Calls.WithLabelValues(op).Inc()
	if err != nil {
		kind, ok := bleeperr.KindOf(err)
		if !ok {
			kind = "unknown"
		}
		m.Errors.WithLabelValues(op, string(kind)).Inc()
	}
}

// Issue is one operation DetectIssues flagged as unhealthy.
type Issue struct {
	Op         string
	ErrorRate  float64
	Calls      uint64
	P95Latency time.Duration
}

// minSamples is the smallest call count DetectIssues considers — below this
// a single failure would read as a 100% error rate, which is noise, not signal.
const minSamples = 5

// errorRateThreshold above which an operation is flagged.
const errorRateThreshold = 0.5

// DetectIssues reads back the counters/histogram for every operation seen so
// far (via each collector's Write, the standard client_golang pattern for
// in-process introspection of your own metrics) and flags operations whose
// error rate exceeds errorRateThreshold, once they've seen at least
// minSamples calls.
func (m *Metrics) DetectIssues(ops []string) []Issue {
	var issues []Issue
	for _, op := range ops {
		calls := readCounterValue(m.Calls.WithLabelValues(op))
		if calls < minSamples {
			continue
		}
		errs := sumErrorsForOp(m.Errors, op)
		rate := errs / calls
		if rate <= errorRateThreshold {
			continue
		}
		issues = append(issues, Issue{
			Op:         op,
			ErrorRate:  rate,
			Calls:      uint64(calls),
			P95Latency: readHistogramQuantile(m.Latency.WithLabelValues(op), 0.95),
		})
	}
	return issues
}

func readCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// sumErrorsForOp can't use WithLabelValues directly since the error kind
// label varies; callers would need to know every kind in advance. Instead
// this relies on Errors having been incremented only through Observe, which
// always supplies both labels, and sums across the kinds actually seen by
// collecting the vector.
func sumErrorsForOp(vec *prometheus.CounterVec, op string) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	var total float64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			continue
		}
		for _, lbl := range m.GetLabel() {
			if lbl.GetName() == "op" && lbl.GetValue() == op {
				total += m.GetCounter().GetValue()
				break
			}
		}
	}
	return total
}

// readHistogramQuantile estimates a quantile from a histogram's cumulative
// bucket counts: the upper bound of the first bucket whose cumulative
// fraction reaches q. This is the standard bucket-based approximation
// (coarser than the t-digest/summary approach but needs no extra library).
func readHistogramQuantile(h prometheus.Observer, q float64) time.Duration {
	collector, ok := h.(prometheus.Metric)
	if !ok {
		return 0
	}
	var m dto.Metric
	if err := collector.Write(&m); err != nil {
		return 0
	}
	hist := m.GetHistogram()
	total := hist.GetSampleCount()
	if total == 0 {
		return 0
	}
	for _, b := range hist.GetBucket() {
		if float64(b.GetCumulativeCount())/float64(total) >= q {
			return time.Duration(b.GetUpperBound() * float64(time.Second))
		}
	}
	return time.Duration(hist.GetSampleSum() / float64(total) * float64(time.Second))
}
