// Package orchestrate is the mode orchestrators (§2 row 12): one flow per
// scan variant (passive/naggy/pokey/brute) plus the BLE-CTF flag-solving
// flow, each wiring internal/discovery, internal/gatt, internal/classic,
// internal/classify, and internal/aoi together against a shared Context.
//
// Grounded on srgg-blecli's cmd/blecli, which wires an equivalent set of
// collaborators (connection pool, store, adapter) behind a single struct
// passed down into each subcommand's run function, rather than leaning on
// package-level globals (§9's "replace global mutable state with an
// explicit core Context object").
package orchestrate

import (
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classic"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/reliability"
	"github.com/srg/bleep/internal/reliability/metrics"
	"github.com/srg/bleep/internal/store"
)

// Context bundles every collaborator a mode flow needs. One Context is
// built at process start and shared across every Run call; nothing in this
// package keeps its own copy of the pool, the store, or the adapter.
type Context struct {
	Pool      *ipc.Pool
	Store     *store.Store
	Adapter   *discovery.Adapter
	Timeouts  reliability.TimeoutProvider
	Log       *logrus.Entry
	Classify  *classify.Classifier
	AoI       *aoi.Aggregator
	AoIDir    string // destination dir for aoi.Save; empty disables AoI persistence
	Metrics   *metrics.Metrics // per-operation latency/error samples (§4.2); nil disables recording
}

// newDevice builds the gatt.Device every mode flow connects to mac through,
// wiring the store, the shared metrics collector, and a staged recovery
// pipeline bound to devicePath (§4.2's recreate-proxy/power-cycle/reset/
// restart stages) so a device-layer timeout or no-reply can self-heal
// before the caller gives up.
func (oc *Context) newDevice(devicePath dbus.ObjectPath, mac string) *gatt.Device {
	d := gatt.New(oc.Pool, oc.Timeouts, oc.Log, devicePath, mac).
		WithStore(oc.Store).
		WithMetrics(oc.Metrics).
		WithRecovery(reliability.NewPipeline(oc.Log,
			reliability.RecreateProxyStage(oc.Pool, ipc.BlueZService, devicePath),
			reliability.PowerCycleAdapterStage(oc.Pool, ipc.BlueZService, oc.Adapter.Path(), 2*time.Second),
			reliability.ResetControllerStage(reliability.ExecCommandRunner, oc.Adapter.ID()),
			reliability.RestartDaemonStage(reliability.ExecCommandRunner),
		))
	return d
}

// Options parametrizes a single Run call. Not every field applies to every
// mode: Target and Payloads are pokey/brute-only, Force is brute-only.
type Options struct {
	Filter   discovery.Filter
	Duration time.Duration
	Target   string   // pokey: MAC to keep re-targeting; brute: MAC to connect to
	Force    bool     // brute: write even to landmined characteristics
	Payloads [][]byte // brute: payload set for BruteWriteRange
}

// DeviceResult is one device's outcome from a pass: what discovery saw,
// what GATT/SDP collection (if any) produced, and the classification/AoI
// snapshot derived from it.
type DeviceResult struct {
	Observation    discovery.Observation
	Enumerate      *gatt.EnumerateResult
	SDPRecords     []classic.Record
	Classification classify.Result
	AoI            aoi.Snapshot
}
