package gatt

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleep/internal/bleeperr"
	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/reliability"
	"github.com/srg/bleep/internal/reliability/metrics"
	"github.com/srg/bleep/internal/store"
)

const deviceInterface = "org.bluez.Device1"

// servicesResolvingCap is the default cap on waiting for ServicesResolved to
// flip true after Connect succeeds (§4.6).
const servicesResolvingCap = 10 * time.Second

// Device drives one BlueZ Device1 object through its lifecycle (§4.6):
// New → Connecting → Connected → ServicesResolving → ServicesResolved →
// (Enumerating | Idle) → Disconnecting → New.
type Device struct {
	pool     *ipc.Pool
	timeouts reliability.TimeoutProvider
	log      *logrus.Entry

	mac  string
	path dbus.ObjectPath

	store    *store.Store
	metrics  *metrics.Metrics
	recovery *reliability.Pipeline

	mu      sync.Mutex
	state   State
	mapping Mapping
}

// WithStore attaches the observation store reads/writes/notifications are
// recorded into. Read/Write/notification delivery do not require a store;
// history simply isn't recorded when it's nil (e.g. in unit tests that
// exercise the D-Bus surface only).
func (d *Device) WithStore(s *store.Store) *Device {
	d.store = s
	return d
}

// WithMetrics attaches the collector every timed operation records a
// latency/error sample into (§4.2). Recording is skipped when nil.
func (d *Device) WithMetrics(m *metrics.Metrics) *Device {
	d.metrics = m
	return d
}

// WithRecovery attaches the staged recovery pipeline runOp drives when an
// operation comes back OperationTimeout or NoReply (§4.2, §4.6). Skipped
// when nil.
func (d *Device) WithRecovery(p *reliability.Pipeline) *Device {
	d.recovery = p
	return d
}

// New returns a Device bound to mac under the given adapter.
func New(pool *ipc.Pool, timeouts reliability.TimeoutProvider, log *logrus.Entry, devicePath dbus.ObjectPath, mac string) *Device {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Device{
		pool:     pool,
		timeouts: timeouts,
		log:      log.WithField("device", mac),
		mac:      mac,
		path:     devicePath,
		state:    StateNew,
	}
}

// MAC returns the device's address.
func (d *Device) MAC() string { return d.mac }

// Path returns the device's D-Bus object path.
func (d *Device) Path() dbus.ObjectPath { return d.path }

// State reports the device's current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Device) proxy(ctx context.Context) (*ipc.Proxy, error) {
	return d.pool.GetProxy(ctx, ipc.BlueZService, d.path, deviceInterface)
}

// classifyOrWrap returns err unchanged if it already carries a bleeperr
// Kind (e.g. the OperationTimeout a WithTimeout deadline produces, or a
// permission rejection rw.go already classified), a NoReply kind if err
// names BlueZ's D-Bus no-reply error, else wraps it as fallback.
func classifyOrWrap(fallback bleeperr.Kind, op, mac string, err error) error {
	if _, ok := bleeperr.KindOf(err); ok {
		return err
	}
	if kind, ok := classifyTransportError(err); ok {
		return bleeperr.New(kind, op, err).WithDevice(mac)
	}
	return bleeperr.New(fallback, op, err).WithDevice(mac)
}

// runOp runs fn under op's timeout budget (when d.timeouts is set),
// records a metric sample for it (when d.metrics is set), and — on
// OperationTimeout or NoReply — drives the staged recovery pipeline (when
// d.recovery is set) before returning the original error to the caller
// (§4.2, §4.6's "Timeout → recovery pipeline"). Recovering the connection
// doesn't retry fn itself; the caller decides whether to retry.
func (d *Device) runOp(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	var err error
	if d.timeouts != nil {
		err = reliability.WithTimeout(ctx, d.timeouts, op, fn)
	} else {
		err = fn(ctx)
	}
	if d.metrics != nil {
		d.metrics.Observe(op, time.Since(start), err)
	}
	if d.recovery != nil && (bleeperr.Is(err, bleeperr.OperationTimeout) || bleeperr.Is(err, bleeperr.NoReply)) {
		if rerr := d.recovery.Recover(ctx); rerr != nil {
			d.log.WithError(rerr).Warn("device: staged recovery failed")
		} else {
			d.log.Info("device: staged recovery succeeded")
		}
	}
	return err
}

// Connect dials the device, then waits for ServicesResolved to flip true
// (or servicesResolvingCap to elapse). If the Connect call itself fails the
// device returns to StateNew with the cause attached; a ServicesResolved
// timeout or a Resolve failure is returned with the device left in the state
// it had reached.
func (d *Device) Connect(ctx context.Context) error {
	d.setState(StateConnecting)

	err := d.runOp(ctx, "connect", func(cctx context.Context) error {
		p, err := d.proxy(cctx)
		if err != nil {
			return err
		}
		if err := p.Call(cctx, "Connect").Err; err != nil {
			return classifyOrWrap(bleeperr.DeviceUnreachable, "connect", d.mac, err)
		}
		return nil
	})
	if err != nil {
		d.setState(StateNew)
		return err
	}
	d.setState(StateConnected)

	if err := d.waitServicesResolved(ctx); err != nil {
		return err
	}

	mapping, err := d.Resolve(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.mapping = mapping
	d.mu.Unlock()
	d.setState(StateServicesResolved)
	d.setState(StateIdle)
	return nil
}

func (d *Device) waitServicesResolved(ctx context.Context) error {
	d.setState(StateServicesResolving)
	deadline := time.Now().Add(servicesResolvingCap)
	p, err := d.proxy(ctx)
	if err != nil {
		return err
	}
	for {
		v, err := p.GetProperty(ctx, "ServicesResolved")
		if err == nil {
			if resolved, _ := v.Value().(bool); resolved {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return bleeperr.New(bleeperr.OperationTimeout, "services_resolved", nil).WithDevice(d.mac)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Disconnect tears the connection down from any state, returning to
// StateNew. Pending subscription intent is the caller's to restore; this
// layer only drops the live connection.
func (d *Device) Disconnect(ctx context.Context) error {
	d.setState(StateDisconnecting)
	defer d.setState(StateNew)

	p, err := d.proxy(ctx)
	if err != nil {
		return err
	}
	if err := p.Call(ctx, "Disconnect").Err; err != nil {
		return bleeperr.New(bleeperr.DeviceUnreachable, "disconnect", err).WithDevice(d.mac)
	}
	return nil
}

// Mapping returns the last resolved GATT tree.
func (d *Device) Mapping() Mapping {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapping
}
