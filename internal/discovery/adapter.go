// Package discovery is the adapter & discovery component (§4.5): adapter
// state management, the discovery filter, and the four scan variants
// (passive, naggy, pokey, brute) built on top of the IPC pool.
//
// Grounded on houneTeam-pible_go's internal/bluetooth/bluez_scan.go and
// bluez_continuous.go, which drive org.bluez.Adapter1/Device1 directly over
// github.com/godbus/dbus/v5; this package replaces pible's bespoke
// *dbus.Conn plumbing with internal/ipc's pooled proxies so the adapter is
// a singleton resource shared with the rest of the core (§5).
package discovery

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/srg/bleep/internal/bleeperr"
	"github.com/srg/bleep/internal/ipc"
)

const adapterInterface = "org.bluez.Adapter1"

// AdapterState is the adapter's observable state (§4.5).
type AdapterState struct {
	Powered      bool
	Discovering  bool
	Discoverable bool
	Pairable     bool
	Filter       Filter
}

// Adapter is a singleton handle onto one local Bluetooth controller. Every
// discovery variant serialises on the same Adapter (§5: "Adapter is a
// singleton resource — discovery variants serialise on it").
type Adapter struct {
	pool *ipc.Pool
	id   string
	path dbus.ObjectPath
}

// New returns a handle on the adapter named id (e.g. "hci0").
func New(pool *ipc.Pool, id string) *Adapter {
	return &Adapter{pool: pool, id: id, path: dbus.ObjectPath("/org/bluez/" + id)}
}

// Path is the adapter's object-tree path, e.g. /org/bluez/hci0.
func (a *Adapter) Path() dbus.ObjectPath { return a.path }

// ID is the adapter's short name, e.g. "hci0" — the form DevicePath expects.
func (a *Adapter) ID() string { return a.id }

func (a *Adapter) proxy(ctx context.Context) (*ipc.Proxy, error) {
	return a.pool.GetProxy(ctx, ipc.BlueZService, a.path, adapterInterface)
}

// SetPowered toggles the adapter's Powered property.
func (a *Adapter) SetPowered(ctx context.Context, on bool) error {
	p, err := a.proxy(ctx)
	if err != nil {
		return err
	}
	return p.SetProperty(ctx, "Powered", on)
}

// SetDiscoverable toggles the adapter's Discoverable property.
func (a *Adapter) SetDiscoverable(ctx context.Context, on bool) error {
	p, err := a.proxy(ctx)
	if err != nil {
		return err
	}
	return p.SetProperty(ctx, "Discoverable", on)
}

// SetPairable toggles the adapter's Pairable property.
func (a *Adapter) SetPairable(ctx context.Context, on bool) error {
	p, err := a.proxy(ctx)
	if err != nil {
		return err
	}
	return p.SetProperty(ctx, "Pairable", on)
}

// SetDiscoveryFilter installs a discovery filter (§4.5).
func (a *Adapter) SetDiscoveryFilter(ctx context.Context, f Filter) error {
	p, err := a.proxy(ctx)
	if err != nil {
		return err
	}
	return p.Call(ctx, "SetDiscoveryFilter", f.ToVariantMap()).Err
}

// StartDiscovery begins discovery. An already-in-progress error from BlueZ
// (another caller already owns discovery on this adapter) is swallowed,
// matching pible's "reuse rather than fail" behaviour, since the scan
// variants only need the advertisement cache to be flushed, not exclusive
// ownership of the adapter.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	p, err := a.proxy(ctx)
	if err != nil {
		return err
	}
	if callErr := p.Call(ctx, "StartDiscovery").Err; callErr != nil {
		if bleeperr.Is(callErr, bleeperr.InProgress) {
			return nil
		}
		var dbusErr dbus.Error
		if dbus.As(callErr, &dbusErr) && dbusErr.Name == "org.bluez.Error.InProgress" {
			return nil
		}
		return bleeperr.New(bleeperr.IPCUnavailable, "start_discovery", callErr).WithContext(a.id)
	}
	return nil
}

// StopDiscovery ends discovery. Errors are non-fatal: a caller that never
// started discovery (InProgress was swallowed) has nothing to stop.
func (a *Adapter) StopDiscovery(ctx context.Context) error {
	p, err := a.proxy(ctx)
	if err != nil {
		return err
	}
	_ = p.Call(ctx, "StopDiscovery").Err
	return nil
}

// RemoveDevice removes a cached device object so it can be rediscovered
// cleanly, e.g. after a failed pairing attempt.
func (a *Adapter) RemoveDevice(ctx context.Context, devicePath dbus.ObjectPath) error {
	p, err := a.proxy(ctx)
	if err != nil {
		return err
	}
	if err := p.Call(ctx, "RemoveDevice", devicePath).Err; err != nil {
		return fmt.Errorf("remove device %s: %w", devicePath, err)
	}
	return nil
}

// State reads the adapter's current observable state.
func (a *Adapter) State(ctx context.Context) (AdapterState, error) {
	p, err := a.proxy(ctx)
	if err != nil {
		return AdapterState{}, err
	}
	var st AdapterState
	if v, err := p.GetProperty(ctx, "Powered"); err == nil {
		st.Powered, _ = v.Value().(bool)
	}
	if v, err := p.GetProperty(ctx, "Discovering"); err == nil {
		st.Discovering, _ = v.Value().(bool)
	}
	if v, err := p.GetProperty(ctx, "Discoverable"); err == nil {
		st.Discoverable, _ = v.Value().(bool)
	}
	if v, err := p.GetProperty(ctx, "Pairable"); err == nil {
		st.Pairable, _ = v.Value().(bool)
	}
	return st, nil
}

// DevicePath renders a device's object path under this adapter, matching
// BlueZ's dev_AA_BB_CC_DD_EE_FF naming.
func DevicePath(adapterID, mac string) dbus.ObjectPath {
	norm := make([]byte, 0, len(mac))
	for i := 0; i < len(mac); i++ {
		c := mac[i]
		if c == ':' {
			c = '_'
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		norm = append(norm, c)
	}
	return dbus.ObjectPath("/org/bluez/" + adapterID + "/dev_" + string(norm))
}
