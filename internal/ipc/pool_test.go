package ipc

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/bleeperr"
	"github.com/srg/bleep/internal/ipc/dbustest"
)

func newTestPool(t *testing.T, bus *dbustest.Bus) *Pool {
	t.Helper()
	prev := connectFn
	conn := bus.AsConn()
	connectFn = func() (Conn, error) { return conn, nil }
	t.Cleanup(func() { connectFn = prev })
	return New(nil)
}

func TestPool_GetManagedObjects(t *testing.T) {
	bus := dbustest.NewBus()
	tree := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez/hci0": {
			"org.bluez.Adapter1": {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
		},
	}
	bus.WithManagedObjects(tree)

	pool := newTestPool(t, bus)
	managed, err := pool.GetManagedObjects(context.Background(), BlueZService)
	require.NoError(t, err)
	assert.Contains(t, managed, dbus.ObjectPath("/org/bluez/hci0"))

	ifaces := InterfacesAt(managed, "/org/bluez/hci0")
	assert.Contains(t, ifaces, "org.bluez.Adapter1")
}

func TestPool_GetProxy_CachesAndReturnsSameProxy(t *testing.T) {
	bus := dbustest.NewBus()
	pool := newTestPool(t, bus)

	ctx := context.Background()
	p1, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")
	require.NoError(t, err)
	p2, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
}

func TestPool_InvalidateProxy_EvictsFromCache(t *testing.T) {
	bus := dbustest.NewBus()
	pool := newTestPool(t, bus)
	ctx := context.Background()

	p1, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")
	require.NoError(t, err)

	pool.InvalidateProxy(BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")

	p2, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
}

func TestPool_InvalidatePath_EvictsEveryInterfaceAtPath(t *testing.T) {
	bus := dbustest.NewBus()
	pool := newTestPool(t, bus)
	ctx := context.Background()

	_, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0/dev_AA", "org.bluez.Device1")
	require.NoError(t, err)
	_, err = pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0/dev_AA", "org.freedesktop.DBus.Properties")
	require.NoError(t, err)

	pool.InvalidatePath(BlueZService, "/org/bluez/hci0/dev_AA")

	pool.mu.RLock()
	count := len(pool.proxies)
	pool.mu.RUnlock()
	assert.Zero(t, count)
}

func TestProxy_GetAndSetProperty(t *testing.T) {
	bus := dbustest.NewBus()
	obj := bus.Object("/org/bluez/hci0")
	obj.SetProperty("org.bluez.Adapter1", "Powered", false)

	pool := newTestPool(t, bus)
	ctx := context.Background()
	proxy, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")
	require.NoError(t, err)

	v, err := proxy.GetProperty(ctx, "Powered")
	require.NoError(t, err)
	assert.Equal(t, false, v.Value())

	require.NoError(t, proxy.SetProperty(ctx, "Powered", true))

	v, err = proxy.GetProperty(ctx, "Powered")
	require.NoError(t, err)
	assert.Equal(t, true, v.Value())
}

func TestProxy_Call_UnknownMethodReturnsError(t *testing.T) {
	bus := dbustest.NewBus()
	pool := newTestPool(t, bus)
	ctx := context.Background()

	proxy, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")
	require.NoError(t, err)

	call := proxy.Call(ctx, "StartDiscovery")
	assert.Error(t, call.Err)
}

func TestPool_Introspect_ParsesInterfaceNames(t *testing.T) {
	bus := dbustest.NewBus()
	obj := bus.Object("/org/bluez/hci0/dev_AA")
	const xmlDoc = `<node>
  <interface name="org.freedesktop.DBus.Introspectable"></interface>
  <interface name="org.freedesktop.DBus.Properties"></interface>
  <interface name="org.bluez.Device1"></interface>
  <interface name="org.bluez.Battery1"></interface>
</node>`
	obj.On("org.freedesktop.DBus.Introspectable.Introspect", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{xmlDoc}, nil
	})

	pool := newTestPool(t, bus)
	ifaces, err := pool.Introspect(context.Background(), BlueZService, "/org/bluez/hci0/dev_AA")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"org.bluez.Device1", "org.bluez.Battery1"}, ifaces)
}

func TestPool_Introspect_NoInterfacesIsIntrospectionFailed(t *testing.T) {
	bus := dbustest.NewBus()
	obj := bus.Object("/org/bluez/hci0/dev_gone")
	obj.On("org.freedesktop.DBus.Introspectable.Introspect", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{"<node></node>"}, nil
	})

	pool := newTestPool(t, bus)
	_, err := pool.Introspect(context.Background(), BlueZService, "/org/bluez/hci0/dev_gone")
	require.Error(t, err)
	assert.True(t, bleeperr.Is(err, bleeperr.IntrospectionFailed))
}

func TestPool_Reset_ClearsConnectionAndProxies(t *testing.T) {
	bus := dbustest.NewBus()
	pool := newTestPool(t, bus)
	ctx := context.Background()

	_, err := pool.GetProxy(ctx, BlueZService, "/org/bluez/hci0", "org.bluez.Adapter1")
	require.NoError(t, err)

	pool.Reset()

	pool.mu.RLock()
	conn, count := pool.conn, len(pool.proxies)
	pool.mu.RUnlock()
	assert.Nil(t, conn)
	assert.Zero(t, count)
}
