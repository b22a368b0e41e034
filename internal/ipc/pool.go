// Package ipc is the transport & pool component (§4.1): a typed client over
// the system bus the host Bluetooth stack exposes (BlueZ's org.bluez tree),
// with scoped bus acquisition, a per-(service,path,interface) proxy cache,
// and an introspection helper.
//
// Grounded on houneTeam-pible_go's internal/bluetooth/bluez_manager.go, which
// talks to org.bluez over github.com/godbus/dbus/v5 using exactly the
// GetManagedObjects / Properties.Get-Set / method-call shapes this package
// generalizes into a reusable pool.
package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/srg/bleep/internal/bleeperr"
)

// BlueZService is the well-known bus name the host Bluetooth stack registers.
const BlueZService = "org.bluez"

// RootPath is the object-manager root path exposing GetManagedObjects.
const RootPath = dbus.ObjectPath("/")

const objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
const introspectableInterface = "org.freedesktop.DBus.Introspectable"
const propertiesInterface = "org.freedesktop.DBus.Properties"

// ManagedObjects is the raw shape returned by GetManagedObjects: a path to
// its interfaces to their properties.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Conn is the subset of *dbus.Conn the pool depends on. *dbus.Conn satisfies
// it directly; tests supply a fake so the pool and everything built on it
// (discovery, gatt, classic, agent) can be exercised without a real system
// bus or a running BlueZ.
type Conn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	BusObject() dbus.BusObject
}

// proxyKey identifies one cached proxy.
type proxyKey struct {
	service   string
	path      dbus.ObjectPath
	interface_ string
}

// Pool provides scoped bus acquisition and a proxy cache over a shared
// system-bus connection. A single *dbus.Conn is itself a multiplexed,
// goroutine-safe connection (godbus's design), so "pooling" here means
// guarding that connection's health and caching the (service, path,
// interface) proxies built on top of it — not maintaining many sockets.
type Pool struct {
	log     *logrus.Entry
	breaker *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	conn    Conn
	proxies map[proxyKey]*Proxy
}

// New creates a Pool with no active connection; the first WithBus call
// establishes one. A circuit breaker guards the bus connect/health-check
// path so a stalled or missing IPC daemon (BlueZ not running, system bus
// unreachable) fails fast for a cool-down window instead of re-dialing on
// every call — the staged-recovery health monitor (§4.2) observes the
// breaker's state rather than re-deriving it.
func New(log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	entry := log.WithField("component", "ipc")
	return &Pool{
		log:     entry,
		proxies: make(map[proxyKey]*Proxy),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ipc-bus",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				entry.WithFields(logrus.Fields{"from": from, "to": to}).Warn("ipc circuit breaker state change")
			},
		}),
	}
}

// NewWithConn creates a Pool already bound to conn — for tests (see
// internal/ipc/dbustest) and for any caller that already holds a bus
// connection it wants the pool to reuse rather than dialing its own.
func NewWithConn(conn Conn, log *logrus.Entry) *Pool {
	p := New(log)
	p.conn = conn
	return p
}

// connectFn is overridable in tests so the pool can be exercised against a
// fake bus instead of a real system bus.
var connectFn = func() (Conn, error) { return dbus.SystemBus() }

// WithBus acquires a healthy bus connection and runs fn against it. If the
// pool's connection is missing or unhealthy it is (re)established
// transparently. Health is judged by a cheap round trip
// (org.freedesktop.DBus.Peer.Ping via the connection's own BusObject).
func (p *Pool) WithBus(ctx context.Context, fn func(conn Conn) error) error {
	conn, err := p.healthyConn(ctx)
	if err != nil {
		return bleeperr.New(bleeperr.IPCUnavailable, "with_bus", err)
	}
	return fn(conn)
}

func (p *Pool) healthyConn(ctx context.Context) (Conn, error) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn != nil && p.ping(ctx, conn) {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the write lock in case another goroutine already replaced it.
	if p.conn != nil && p.ping(ctx, p.conn) {
		return p.conn, nil
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return connectFn()
	})
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	newConn := result.(Conn)
	p.conn = newConn
	p.proxies = make(map[proxyKey]*Proxy) // stale proxies reference the old conn
	p.log.Info("system bus (re)established")
	return newConn, nil
}

func (p *Pool) ping(ctx context.Context, conn Conn) bool {
	call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0)
	return call.Err == nil
}

// BreakerState reports the connect-path circuit breaker's current state, for
// the health monitor (§4.2) to surface without re-deriving it.
func (p *Pool) BreakerState() gobreaker.State {
	return p.breaker.State()
}

// Reset drops the cached connection and every proxy, forcing the next
// WithBus/GetProxy call to reconnect from scratch.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = nil
	p.proxies = make(map[proxyKey]*Proxy)
}

// Proxy wraps a cached dbus.BusObject scoped to one interface.
type Proxy struct {
	Service   string
	Path      dbus.ObjectPath
	Interface string
	Object    dbus.BusObject
}

// Call invokes a method on the proxy's interface.
func (p *Proxy) Call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	call := p.Object.CallWithContext(ctx, p.Interface+"."+method, 0, args...)
	return call
}

// GetProperty reads a single property via org.freedesktop.DBus.Properties.
func (p *Proxy) GetProperty(ctx context.Context, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := p.Object.CallWithContext(ctx, propertiesInterface+".Get", 0, p.Interface, name).Store(&v)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("get property %s.%s: %w", p.Interface, name, err)
	}
	return v, nil
}

// SetProperty writes a single property via org.freedesktop.DBus.Properties.
func (p *Proxy) SetProperty(ctx context.Context, name string, value interface{}) error {
	err := p.Object.CallWithContext(ctx, propertiesInterface+".Set", 0, p.Interface, name, dbus.MakeVariant(value)).Err
	if err != nil {
		return fmt.Errorf("set property %s.%s: %w", p.Interface, name, err)
	}
	return nil
}

// GetProxy returns a cached proxy for (service, path, interface), creating
// one if absent. Cached proxies are dropped only by an explicit Reset,
// InvalidateProxy or InvalidatePath call; an InterfacesRemoved signal does
// not evict them.
func (p *Pool) GetProxy(ctx context.Context, service string, path dbus.ObjectPath, iface string) (*Proxy, error) {
	key := proxyKey{service: service, path: path, interface_: iface}

	p.mu.RLock()
	if existing, ok := p.proxies[key]; ok {
		p.mu.RUnlock()
		return existing, nil
	}
	p.mu.RUnlock()

	conn, err := p.healthyConn(ctx)
	if err != nil {
		return nil, bleeperr.New(bleeperr.IPCUnavailable, "get_proxy", err)
	}

	proxy := &Proxy{
		Service:   service,
		Path:      path,
		Interface: iface,
		Object:    conn.Object(service, path),
	}

	p.mu.Lock()
	p.proxies[key] = proxy
	p.mu.Unlock()

	return proxy, nil
}

// InvalidateProxy drops one cached proxy, e.g. on InterfacesRemoved.
func (p *Pool) InvalidateProxy(service string, path dbus.ObjectPath, iface string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.proxies, proxyKey{service: service, path: path, interface_: iface})
}

// InvalidatePath drops every cached proxy for a path, across interfaces.
func (p *Pool) InvalidatePath(service string, path dbus.ObjectPath) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.proxies {
		if k.service == service && k.path == path {
			delete(p.proxies, k)
		}
	}
}

// GetManagedObjects calls the object manager at the service's root and
// returns the whole typed object tree.
func (p *Pool) GetManagedObjects(ctx context.Context, service string) (ManagedObjects, error) {
	var managed ManagedObjects
	err := p.WithBus(ctx, func(conn Conn) error {
		obj := conn.Object(service, RootPath)
		return obj.CallWithContext(ctx, objectManagerInterface+".GetManagedObjects", 0).Store(&managed)
	})
	if err != nil {
		return nil, err
	}
	return managed, nil
}

// Introspect returns the set of interfaces implemented at path, parsed out
// of the Introspectable XML. Returns bleeperr.IntrospectionFailed if the
// path yields no interfaces (an unrecoverable but transient condition: the
// object may not exist yet, or may have just been removed).
func (p *Pool) Introspect(ctx context.Context, service string, path dbus.ObjectPath) ([]string, error) {
	var xml string
	err := p.WithBus(ctx, func(conn Conn) error {
		obj := conn.Object(service, path)
		return obj.CallWithContext(ctx, introspectableInterface+".Introspect", 0).Store(&xml)
	})
	if err != nil {
		return nil, bleeperr.New(bleeperr.IntrospectionFailed, "introspect", err).WithContext(string(path))
	}
	ifaces := parseInterfaceNames(xml)
	if len(ifaces) == 0 {
		return nil, bleeperr.New(bleeperr.IntrospectionFailed, "introspect", fmt.Errorf("no interfaces at %s", path)).WithContext(string(path))
	}
	return ifaces, nil
}

// SignalSource is satisfied by *dbus.Conn (and the fake bus's connection
// type in tests), letting the pool subscribe to PropertiesChanged /
// InterfacesAdded / InterfacesRemoved signals without the router depending on
// *dbus.Conn directly.
type SignalSource interface {
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	AddMatchSignal(options ...dbus.MatchOption) *dbus.Call
}

// Signals subscribes to signals matching matchOptions and returns a channel
// delivering them. The returned cancel func removes the match and unhooks
// the channel; callers (the router, §4.8) should defer it. Returns
// bleeperr.NotSupported if the underlying connection has no signal support
// (only relevant to hand-rolled test doubles that don't implement it).
func (p *Pool) Signals(ctx context.Context, matchOptions ...dbus.MatchOption) (<-chan *dbus.Signal, func(), error) {
	conn, err := p.healthyConn(ctx)
	if err != nil {
		return nil, nil, bleeperr.New(bleeperr.IPCUnavailable, "signals", err)
	}
	src, ok := conn.(SignalSource)
	if !ok {
		return nil, nil, bleeperr.New(bleeperr.NotSupported, "signals", fmt.Errorf("connection does not support signal subscription"))
	}
	if err := src.AddMatchSignal(matchOptions...).Err; err != nil {
		return nil, nil, bleeperr.New(bleeperr.IPCUnavailable, "add_match_signal", err)
	}
	ch := make(chan *dbus.Signal, 64)
	src.Signal(ch)
	cancel := func() {
		src.RemoveSignal(ch)
		close(ch)
	}
	return ch, cancel, nil
}

// InterfacesAt extracts the interface set for path out of an already-fetched
// ManagedObjects tree, without a round trip.
func InterfacesAt(managed ManagedObjects, path dbus.ObjectPath) []string {
	ifaces, ok := managed[path]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ifaces))
	for name := range ifaces {
		names = append(names, name)
	}
	return names
}
