package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/ipc/dbustest"
)

func newTestRig(t *testing.T) (*ipc.Pool, *dbustest.Bus, *Adapter) {
	t.Helper()
	bus := dbustest.NewBus()

	calls := map[string]int{}
	adapterObj := bus.Object("/org/bluez/hci0")
	adapterObj.On("org.bluez.Adapter1.SetDiscoveryFilter", func(args []interface{}) ([]interface{}, error) {
		calls["SetDiscoveryFilter"]++
		return nil, nil
	})
	adapterObj.On("org.bluez.Adapter1.StartDiscovery", func(args []interface{}) ([]interface{}, error) {
		calls["StartDiscovery"]++
		adapterObj.SetProperty("org.bluez.Adapter1", "Discovering", true)
		return nil, nil
	})
	adapterObj.On("org.bluez.Adapter1.StopDiscovery", func(args []interface{}) ([]interface{}, error) {
		calls["StopDiscovery"]++
		adapterObj.SetProperty("org.bluez.Adapter1", "Discovering", false)
		return nil, nil
	})

	pool := ipc.NewWithConn(bus.AsConn(), nil)
	adapter := New(pool, "hci0")
	return pool, bus, adapter
}

func setManagedDevices(bus *dbustest.Bus, devs map[string]map[string]interface{}) {
	tree := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{}
	for mac, props := range devs {
		path := DevicePath("hci0", mac)
		ifaceProps := map[string]dbus.Variant{"Address": dbus.MakeVariant(mac)}
		for k, v := range props {
			ifaceProps[k] = dbus.MakeVariant(v)
		}
		tree[path] = map[string]map[string]dbus.Variant{"org.bluez.Device1": ifaceProps}
	}
	bus.WithManagedObjects(tree)
}

func TestAdapter_StartStopDiscovery(t *testing.T) {
	_, _, adapter := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, adapter.SetDiscoveryFilter(ctx, Filter{Transport: TransportLE}))
	require.NoError(t, adapter.StartDiscovery(ctx))

	st, err := adapter.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.Discovering)

	require.NoError(t, adapter.StopDiscovery(ctx))
	st, err = adapter.State(ctx)
	require.NoError(t, err)
	assert.False(t, st.Discovering)
}

func TestPassive_ForwardsOneDeduplicatedSnapshot(t *testing.T) {
	pool, bus, adapter := newTestRig(t)
	setManagedDevices(bus, map[string]map[string]interface{}{
		"aa:bb:cc:dd:ee:ff": {"Name": "widget", "AddressType": "random"},
	})

	var forwarded []Observation
	err := Passive(context.Background(), pool, adapter, Filter{}, 5*time.Millisecond, func(o Observation) {
		forwarded = append(forwarded, o)
	})
	require.NoError(t, err)
	require.Len(t, forwarded, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", forwarded[0].MAC)
	assert.Equal(t, "widget", forwarded[0].Name)
}

func TestNaggy_ForwardsOnSignatureChange(t *testing.T) {
	pool, bus, adapter := newTestRig(t)
	setManagedDevices(bus, map[string]map[string]interface{}{
		"11:22:33:44:55:66": {"Name": "thing", "RSSI": int16(-40)},
	})

	var forwarded []Observation
	done := make(chan error, 1)
	go func() {
		done <- Naggy(context.Background(), pool, adapter, Filter{}, 300*time.Millisecond, func(o Observation) {
			forwarded = append(forwarded, o)
		})
	}()

	time.Sleep(50 * time.Millisecond)
	setManagedDevices(bus, map[string]map[string]interface{}{
		"11:22:33:44:55:66": {"Name": "thing", "RSSI": int16(-20)},
	})

	require.NoError(t, <-done)
	require.GreaterOrEqual(t, len(forwarded), 2, "must forward initial observation and the RSSI change")
	assert.NotEqual(t, forwarded[0].Signature(), forwarded[len(forwarded)-1].Signature())
}

func TestPokey_FiltersToTargetMAC(t *testing.T) {
	pool, bus, adapter := newTestRig(t)
	setManagedDevices(bus, map[string]map[string]interface{}{
		"aa:aa:aa:aa:aa:aa": {"Name": "target"},
		"bb:bb:bb:bb:bb:bb": {"Name": "other"},
	})

	var forwarded []Observation
	err := Pokey(context.Background(), pool, adapter, Filter{}, 60*time.Millisecond, "aa:aa:aa:aa:aa:aa", func(o Observation) {
		forwarded = append(forwarded, o)
	})
	require.NoError(t, err)
	for _, o := range forwarded {
		assert.Equal(t, "aa:aa:aa:aa:aa:aa", o.MAC)
	}
	assert.NotEmpty(t, forwarded)
}

func TestBrute_SplitsBudgetAcrossTransports(t *testing.T) {
	pool, bus, adapter := newTestRig(t)
	setManagedDevices(bus, map[string]map[string]interface{}{
		"cc:cc:cc:cc:cc:cc": {"Name": "dual", "Class": uint32(0x240404)},
	})

	var forwarded []Observation
	err := Brute(context.Background(), pool, adapter, Filter{}, 40*time.Millisecond, func(o Observation) {
		forwarded = append(forwarded, o)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, forwarded)
}

func TestObservation_IsClassicLikely(t *testing.T) {
	o := Observation{Class: 0x240404}
	assert.True(t, o.IsClassicLikely(""))
	assert.False(t, o.IsClassicLikely("le"))
	assert.True(t, o.IsClassicLikely("bredr"))

	o2 := Observation{}
	assert.False(t, o2.IsClassicLikely(""))
}

func TestDevicePath_NormalizesMAC(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), DevicePath("hci0", "aa:bb:cc:dd:ee:ff"))
}
