package orchestrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/ipc/dbustest"
	"github.com/srg/bleep/internal/store"
)

func newTestContext(t *testing.T, bus *dbustest.Bus) *Context {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "observations.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pool := ipc.NewWithConn(bus.AsConn(), nil)
	adapter := discovery.New(pool, "hci0")

	return &Context{
		Pool:     pool,
		Store:    st,
		Adapter:  adapter,
		Classify: classify.New(st, nil),
		AoI:      aoi.New(st),
	}
}

func setManagedDevices(bus *dbustest.Bus, devs map[string]map[string]interface{}) {
	tree := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{}
	for mac, props := range devs {
		path := discovery.DevicePath("hci0", mac)
		ifaceProps := map[string]dbus.Variant{"Address": dbus.MakeVariant(mac)}
		for k, v := range props {
			ifaceProps[k] = dbus.MakeVariant(v)
		}
		tree[path] = map[string]map[string]dbus.Variant{"org.bluez.Device1": ifaceProps}
	}
	bus.WithManagedObjects(tree)
}

func newScanBus(t *testing.T) *dbustest.Bus {
	t.Helper()
	bus := dbustest.NewBus()
	adapterObj := bus.Object("/org/bluez/hci0")
	adapterObj.On("org.bluez.Adapter1.SetDiscoveryFilter", func(args []interface{}) ([]interface{}, error) {
		return nil, nil
	})
	adapterObj.On("org.bluez.Adapter1.StartDiscovery", func(args []interface{}) ([]interface{}, error) {
		adapterObj.SetProperty("org.bluez.Adapter1", "Discovering", true)
		return nil, nil
	})
	adapterObj.On("org.bluez.Adapter1.StopDiscovery", func(args []interface{}) ([]interface{}, error) {
		adapterObj.SetProperty("org.bluez.Adapter1", "Discovering", false)
		return nil, nil
	})
	return bus
}

func TestRunPassive_PersistsAndClassifiesLEDevice(t *testing.T) {
	bus := newScanBus(t)
	setManagedDevices(bus, map[string]map[string]interface{}{
		"aa:bb:cc:dd:ee:ff": {"Name": "widget", "AddressType": "random"},
	})
	oc := newTestContext(t, bus)

	results, err := RunPassive(context.Background(), oc, Options{Duration: 5 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", results[0].Observation.MAC)
	assert.Equal(t, classify.ClassLE, results[0].Classification.Classification)

	dev, err := oc.Store.GetDevice(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, "widget", dev.Name)
}

func TestRunPassive_PublicAddressAloneIsUnknown(t *testing.T) {
	bus := newScanBus(t)
	setManagedDevices(bus, map[string]map[string]interface{}{
		"11:22:33:44:55:66": {"AddressType": "public"},
	})
	oc := newTestContext(t, bus)

	results, err := RunPassive(context.Background(), oc, Options{Duration: 5 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, classify.ClassUnknown, results[0].Classification.Classification)
}

func TestScoreFlagValue(t *testing.T) {
	assert.Greater(t, ScoreFlagValue([]byte("Flag2:SomeSecretValueHere")), 0.0)
	assert.Equal(t, 0.0, ScoreFlagValue(nil))
	assert.Less(t, ScoreFlagValue([]byte{0x00, 0x01, 0x02, 0xff}), minFlagConfidence)
}

func TestFindFlagCandidates_SortsByConfidenceDescending(t *testing.T) {
	reads := []gatt.ReadResult{
		{CharacteristicUUID: "noisy", Value: []byte{0x00, 0x01, 0x02}},
		{CharacteristicUUID: "flag-a", Value: []byte("Flag1:AAAAAAAAAAAA")},
		{CharacteristicUUID: "errored", Value: []byte("Flag9:unreadable"), Err: assertErr},
		{CharacteristicUUID: "flag-b", Value: []byte("hi")},
	}
	candidates := FindFlagCandidates(reads)
	require.NotEmpty(t, candidates)
	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].Confidence, candidates[i].Confidence)
	}
	for _, c := range candidates {
		assert.NotEqual(t, "errored", c.CharacteristicUUID)
	}
}

var assertErr = errFixture("boom")

type errFixture string

func (e errFixture) Error() string { return string(e) }
