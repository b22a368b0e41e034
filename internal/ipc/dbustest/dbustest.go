// Package dbustest is an in-memory double for ipc.Conn, letting the pool and
// everything built on it (discovery, gatt, classic, agent) be exercised
// without a real system bus or a running BlueZ daemon. It does not speak the
// D-Bus wire protocol; it fakes the method/property surface ipc.Proxy calls
// directly, which is the boundary BLEEP actually depends on.
package dbustest

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// MethodFunc handles one interface method call and returns its reply body.
type MethodFunc func(args []interface{}) ([]interface{}, error)

// Bus is a fake bus connection: a registry of objects, each exposing methods
// and properties, addressable the same way a real BlueZ tree is.
type Bus struct {
	mu      sync.RWMutex
	objects map[dbus.ObjectPath]*Object

	sigMu sync.Mutex
	sigCh []chan<- *dbus.Signal
}

// Emit delivers sig to every channel currently subscribed via Conn.Signal,
// simulating a PropertiesChanged/InterfacesAdded/InterfacesRemoved broadcast.
func (b *Bus) Emit(sig *dbus.Signal) {
	b.sigMu.Lock()
	defer b.sigMu.Unlock()
	for _, ch := range b.sigCh {
		ch <- sig
	}
}

// NewBus creates an empty fake bus, with a responsive Peer.Ping at the
// standard bus-daemon path so Pool's health check succeeds by default.
func NewBus() *Bus {
	b := &Bus{objects: make(map[dbus.ObjectPath]*Object)}
	b.Object("/org/freedesktop/DBus").On("org.freedesktop.DBus.Peer.Ping", func(args []interface{}) ([]interface{}, error) {
		return nil, nil
	})
	return b
}

// Object returns (creating if absent) the fake object at path.
func (b *Bus) Object(path dbus.ObjectPath) *Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		obj = &Object{
			path:       path,
			methods:    make(map[string]MethodFunc),
			properties: make(map[string]map[string]dbus.Variant),
		}
		b.objects[path] = obj
	}
	return obj
}

// RemovePath deletes a path from the bus, simulating InterfacesRemoved.
func (b *Bus) RemovePath(path dbus.ObjectPath) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
}

// WithManagedObjects registers a standard org.freedesktop.DBus.ObjectManager
// GetManagedObjects handler at "/" returning the given tree. Call after
// populating object properties with Object.SetProperty.
func (b *Bus) WithManagedObjects(tree map[dbus.ObjectPath]map[string]map[string]dbus.Variant) {
	root := b.Object("/")
	root.On("org.freedesktop.DBus.ObjectManager.GetManagedObjects", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{tree}, nil
	})
}

// Conn adapts Bus to the two methods ipc.Conn requires.
type Conn struct{ bus *Bus }

// AsConn wraps this bus as the interface the ipc package depends on.
func (b *Bus) AsConn() Conn { return Conn{bus: b} }

func (c Conn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return c.bus.Object(path)
}

func (c Conn) BusObject() dbus.BusObject {
	return c.bus.Object("/org/freedesktop/DBus")
}

// Signal registers ch to receive every signal emitted via Bus.Emit,
// satisfying ipc.SignalSource.
func (c Conn) Signal(ch chan<- *dbus.Signal) {
	c.bus.sigMu.Lock()
	defer c.bus.sigMu.Unlock()
	c.bus.sigCh = append(c.bus.sigCh, ch)
}

// RemoveSignal unregisters a channel previously passed to Signal.
func (c Conn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.bus.sigMu.Lock()
	defer c.bus.sigMu.Unlock()
	for i, existing := range c.bus.sigCh {
		if existing == ch {
			c.bus.sigCh = append(c.bus.sigCh[:i], c.bus.sigCh[i+1:]...)
			break
		}
	}
}

// AddMatchSignal is a no-op: the fake bus delivers every emitted signal to
// every subscriber regardless of match rules.
func (c Conn) AddMatchSignal(options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{Body: nil}
}

// Object is a fake D-Bus object: a path with method handlers and properties,
// grouped by interface.
type Object struct {
	path       dbus.ObjectPath
	mu         sync.RWMutex
	methods    map[string]MethodFunc
	properties map[string]map[string]dbus.Variant
}

// On registers a handler for a fully-qualified method name, e.g.
// "org.bluez.Adapter1.StartDiscovery".
func (o *Object) On(method string, fn MethodFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.methods[method] = fn
}

// SetProperty sets iface.name = value, visible via Properties.Get/Set and
// folded into the GetManagedObjects tree if the caller builds one from it.
func (o *Object) SetProperty(iface, name string, value interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.properties[iface] == nil {
		o.properties[iface] = make(map[string]dbus.Variant)
	}
	o.properties[iface][name] = dbus.MakeVariant(value)
}

func (o *Object) getProperty(iface, name string) (dbus.Variant, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	props, ok := o.properties[iface]
	if !ok {
		return dbus.Variant{}, false
	}
	v, ok := props[name]
	return v, ok
}

// Call implements dbus.BusObject for synchronous use (ipc.Proxy.Call uses
// CallWithContext, but godbus's BusObject interface requires both).
func (o *Object) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.dispatch(method, args)
}

func (o *Object) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.dispatch(method, args)
}

func (o *Object) dispatch(method string, args []interface{}) *dbus.Call {
	switch method {
	case "org.freedesktop.DBus.Properties.Get":
		iface, _ := args[0].(string)
		name, _ := args[1].(string)
		v, ok := o.getProperty(iface, name)
		if !ok {
			return &dbus.Call{Err: fmt.Errorf("dbustest: no property %s.%s at %s", iface, name, o.path)}
		}
		return &dbus.Call{Body: []interface{}{v}}
	case "org.freedesktop.DBus.Properties.Set":
		iface, _ := args[0].(string)
		name, _ := args[1].(string)
		v, _ := args[2].(dbus.Variant)
		o.SetProperty(iface, name, v.Value())
		return &dbus.Call{Body: nil}
	}

	o.mu.RLock()
	fn, ok := o.methods[method]
	o.mu.RUnlock()
	if !ok {
		return &dbus.Call{Err: fmt.Errorf("dbustest: no handler for %s at %s", method, o.path)}
	}
	body, err := fn(args)
	if err != nil {
		return &dbus.Call{Err: err}
	}
	return &dbus.Call{Body: body}
}

// Go and GoWithContext are unused by ipc but required by dbus.BusObject.
func (o *Object) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	call := o.dispatch(method, args)
	if ch != nil {
		ch <- call
	}
	return call
}

func (o *Object) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	return o.Go(method, flags, ch, args...)
}

func (o *Object) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{Body: nil}
}

func (o *Object) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{Body: nil}
}

func (o *Object) GetProperty(p string) (dbus.Variant, error) {
	return dbus.Variant{}, fmt.Errorf("dbustest: GetProperty(%q) not supported, use Properties.Get", p)
}

func (o *Object) StoreProperty(p string, value interface{}) error {
	return fmt.Errorf("dbustest: StoreProperty not supported")
}

func (o *Object) Destination() string { return "" }

func (o *Object) Path() dbus.ObjectPath { return o.path }
