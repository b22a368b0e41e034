package gatt

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/ipc/dbustest"
)

const (
	testDevicePath  = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	testServicePath = testDevicePath + "/service0010"
	testCharPath    = testServicePath + "/char0011"
	testCharUUID    = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

func newTestRig(t *testing.T) (*ipc.Pool, *dbustest.Bus, *Device) {
	t.Helper()
	bus := dbustest.NewBus()

	dev := bus.Object(string(testDevicePath))
	dev.SetProperty("org.bluez.Device1", "ServicesResolved", true)
	dev.On("org.bluez.Device1.Connect", func(args []interface{}) ([]interface{}, error) {
		return nil, nil
	})
	dev.On("org.bluez.Device1.Disconnect", func(args []interface{}) ([]interface{}, error) {
		return nil, nil
	})

	svc := bus.Object(string(testServicePath))
	svc.SetProperty("org.bluez.GattService1", "UUID", "0000fee0-0000-1000-8000-00805f9b34fb")
	svc.SetProperty("org.bluez.GattService1", "Primary", true)
	svc.SetProperty("org.bluez.GattService1", "Device", testDevicePath)

	ch := bus.Object(string(testCharPath))
	ch.SetProperty("org.bluez.GattCharacteristic1", "UUID", testCharUUID)
	ch.SetProperty("org.bluez.GattCharacteristic1", "Service", testServicePath)
	ch.SetProperty("org.bluez.GattCharacteristic1", "Flags", []string{"read", "write"})

	var stored []byte
	ch.On("org.bluez.GattCharacteristic1.ReadValue", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{stored}, nil
	})
	ch.On("org.bluez.GattCharacteristic1.WriteValue", func(args []interface{}) ([]interface{}, error) {
		if len(args) > 0 {
			if b, ok := args[0].([]byte); ok {
				stored = b
			}
		}
		return nil, nil
	})
	ch.On("org.bluez.GattCharacteristic1.StartNotify", func(args []interface{}) ([]interface{}, error) {
		return nil, nil
	})
	ch.On("org.bluez.GattCharacteristic1.StopNotify", func(args []interface{}) ([]interface{}, error) {
		return nil, nil
	})

	bus.WithManagedObjects(map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		testServicePath: {
			"org.bluez.GattService1": {
				"UUID":    dbus.MakeVariant("0000fee0-0000-1000-8000-00805f9b34fb"),
				"Primary": dbus.MakeVariant(true),
				"Device":  dbus.MakeVariant(testDevicePath),
			},
		},
		testCharPath: {
			"org.bluez.GattCharacteristic1": {
				"UUID":    dbus.MakeVariant(testCharUUID),
				"Service": dbus.MakeVariant(testServicePath),
				"Flags":   dbus.MakeVariant([]string{"read", "write"}),
			},
		},
	})

	pool := ipc.NewWithConn(bus.AsConn(), nil)
	d := New(pool, nil, nil, testDevicePath, "AA:BB:CC:DD:EE:FF")
	return pool, bus, d
}

func TestDevice_ConnectResolvesMapping(t *testing.T) {
	_, _, d := newTestRig(t)
	require.NoError(t, d.Connect(context.Background()))
	assert.Equal(t, StateIdle, d.State())

	svcUUID, ch, ok := d.Mapping().FindCharacteristic(testCharUUID)
	require.True(t, ok)
	assert.Equal(t, "0000fee0-0000-1000-8000-00805f9b34fb", svcUUID)
	assert.True(t, ch.HasFlag("read"))
	assert.True(t, ch.HasFlag("write"))
}

func TestDevice_ReadWriteRoundtrip(t *testing.T) {
	_, _, d := newTestRig(t)
	require.NoError(t, d.Connect(context.Background()))

	perms := make(PermissionMap)
	require.NoError(t, d.WriteCharacteristic(context.Background(), testCharUUID, []byte{0x42}, true, perms))

	value, err := d.ReadCharacteristic(context.Background(), testCharUUID, perms)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, value)
	assert.Empty(t, perms)
}

func TestConnectAndEnumerate_Passive(t *testing.T) {
	_, _, d := newTestRig(t)
	res, err := ConnectAndEnumerate(context.Background(), d, EnumerateOptions{Variant: VariantPassive})
	require.NoError(t, err)
	require.Len(t, res.Reads, 1)
	assert.Equal(t, testCharUUID, res.Reads[0].CharacteristicUUID)
	assert.False(t, res.Landmines.Has(testCharUUID))
}

func TestConnectAndEnumerate_Pokey(t *testing.T) {
	_, _, d := newTestRig(t)
	res, err := ConnectAndEnumerate(context.Background(), d, EnumerateOptions{Variant: VariantPokey})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(res.Reads), 3)
	assert.Len(t, res.WriteProbes, 2)
	assert.Equal(t, byte(0x00), res.WriteProbes[0].Payload)
	assert.Equal(t, byte(0x01), res.WriteProbes[1].Payload)
}

func TestBruteWriteRange_HonorsLandmineUnlessForced(t *testing.T) {
	_, _, d := newTestRig(t)
	require.NoError(t, d.Connect(context.Background()))

	landmines := make(LandmineMap)
	landmines.Mark(testCharUUID)
	perms := make(PermissionMap)

	results := BruteWriteRange(context.Background(), d, testCharUUID, [][]byte{{0x01}}, false, false, landmines, perms)
	assert.Nil(t, results)

	results = BruteWriteRange(context.Background(), d, testCharUUID, [][]byte{{0x01}, {0x02}}, true, true, landmines, perms)
	require.Len(t, results, 2)
	assert.True(t, results[0].Ok)
	assert.Equal(t, []byte{0x01}, results[0].VerifiedRead)
}

func TestMultiReadCharacteristic_RecordsEachRound(t *testing.T) {
	_, _, d := newTestRig(t)
	require.NoError(t, d.Connect(context.Background()))

	perms := make(PermissionMap)
	results := MultiReadCharacteristic(context.Background(), d, testCharUUID, 3, perms)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Round)
	assert.Equal(t, 3, results[2].Round)
}
