package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleep/internal/groutine"
	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/reliability/metrics"
)

// EventType identifies a health-monitor transition.
type EventType string

const (
	// EventStalled fires on the first failed heartbeat while not already
	// stalled — at start, or after a run of successes.
	EventStalled EventType = "stalled"
	// EventRestarted fires the first successful heartbeat after a stall.
	EventRestarted EventType = "restarted"
	// EventAvailableChanged fires when the bus itself becomes reachable or
	// unreachable (distinct from a single failed heartbeat: this tracks the
	// IPC circuit breaker's open/closed transition).
	EventAvailableChanged EventType = "available-changed"
	// EventIssuesDetected fires when a DetectIssues sweep flags one or more
	// operations with an elevated error rate (§4.2).
	EventIssuesDetected EventType = "issues-detected"
)

// Event is one health-monitor transition, timestamped when observed.
type Event struct {
	Type   EventType
	Err    error
	At     time.Time
	Issues []metrics.Issue // set only for EventIssuesDetected
}

// HealthMonitor runs a periodic heartbeat (GetManagedObjects, the cheapest
// call that exercises the whole bus round trip) against the IPC pool, with
// exponential back-off while failing, and publishes stalled/restarted/
// available-changed events on a channel.
type HealthMonitor struct {
	pool     *ipc.Pool
	log      *logrus.Entry
	interval time.Duration
	events   chan Event

	metrics *metrics.Metrics
	ops     []string

	mu      sync.Mutex
	stalled bool
	wasOpen bool
}

// NewHealthMonitor creates a monitor heartbeating at interval while healthy.
// events has a small buffer so a slow consumer doesn't block the heartbeat
// loop; callers that need every event without loss should drain promptly.
func NewHealthMonitor(pool *ipc.Pool, log *logrus.Entry, interval time.Duration) *HealthMonitor {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &HealthMonitor{
		pool:     pool,
		log:      log.WithField("component", "health_monitor"),
		interval: interval,
		events:   make(chan Event, 16),
	}
}

// Events returns the channel health-monitor transitions are published on.
func (h *HealthMonitor) Events() <-chan Event { return h.events }

// WithMetrics attaches the collector DetectIssues sweeps read from on every
// tick, covering ops (OperationNames if nil). Returns h for chaining.
func (h *HealthMonitor) WithMetrics(m *metrics.Metrics, ops []string) *HealthMonitor {
	h.metrics = m
	if ops == nil {
		ops = OperationNames
	}
	h.ops = ops
	return h
}

// Start runs Run in its own named goroutine (internal/groutine) alongside
// the orchestrator, IPC dispatch, and router threads per §5's concurrency
// model, so a stack trace or pprof profile identifies it as "health-monitor"
// rather than an anonymous goroutine. Returns immediately; Run stops when
// ctx is cancelled.
func (h *HealthMonitor) Start(ctx context.Context) {
	groutine.Go(ctx, "health-monitor", func(ctx context.Context) {
		h.Run(ctx)
	})
}

// Run heartbeats until ctx is cancelled. Call directly to run on the
// current goroutine, or use Start to run it named in its own goroutine.
func (h *HealthMonitor) Run(ctx context.Context) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 500 * time.Millisecond
	boff.MaxInterval = 30 * time.Second
	boff.MaxElapsedTime = 0 // never give up; staged recovery handles persistent failure

	for {
		err := h.heartbeat(ctx)
		h.recordBreakerTransition()
		h.checkIssues()

		var wait time.Duration
		if err != nil {
			h.onFailure(err)
			wait = boff.NextBackOff()
		} else {
			h.onSuccess()
			boff.Reset()
			wait = h.interval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (h *HealthMonitor) heartbeat(ctx context.Context) error {
	_, err := h.pool.GetManagedObjects(ctx, ipc.BlueZService)
	return err
}

func (h *HealthMonitor) onFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stalled {
		h.stalled = true
		h.log.WithError(err).Warn("health monitor: bus heartbeat stalled")
		h.publish(Event{Type: EventStalled, Err: err, At: time.Now()})
	}
}

func (h *HealthMonitor) onSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stalled {
		h.stalled = false
		h.log.Info("health monitor: bus heartbeat restarted")
		h.publish(Event{Type: EventRestarted, At: time.Now()})
	}
}

func (h *HealthMonitor) recordBreakerTransition() {
	open := h.pool.BreakerState().String() == "open"
	h.mu.Lock()
	changed := open != h.wasOpen
	h.wasOpen = open
	h.mu.Unlock()
	if changed {
		h.publish(Event{Type: EventAvailableChanged, At: time.Now()})
	}
}

// checkIssues runs a DetectIssues sweep over h.ops and publishes/logs
// whatever it flags. A no-op until WithMetrics has been called.
func (h *HealthMonitor) checkIssues() {
	if h.metrics == nil {
		return
	}
	issues := h.metrics.DetectIssues(h.ops)
	if len(issues) == 0 {
		return
	}
	for _, iss := range issues {
		h.log.WithFields(logrus.Fields{
			"op":          iss.Op,
			"error_rate":  iss.ErrorRate,
			"calls":       iss.Calls,
			"p95_latency": iss.P95Latency,
		}).Warn("health monitor: operation showing elevated error rate")
	}
	h.publish(Event{Type: EventIssuesDetected, At: time.Now(), Issues: issues})
}

// publish never blocks the heartbeat loop: a full buffer drops the oldest
// pending event rather than stalling the loop behind a slow consumer.
func (h *HealthMonitor) publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		select {
		case <-h.events:
		default:
		}
		select {
		case h.events <- ev:
		default:
		}
	}
}
