package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/ipc/dbustest"
	"github.com/srg/bleep/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "observations.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const testDevPath = "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"

func TestFromSignal_PropertyChangeConnected(t *testing.T) {
	sig := &dbus.Signal{
		Path: dbus.ObjectPath(testDevPath),
		Name: propertiesChangedMember,
		Body: []interface{}{
			deviceInterface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
			[]string{},
		},
	}
	ev, ok := FromSignal(sig)
	require.True(t, ok)
	assert.Equal(t, SignalPropertyChange, ev.Type)
	assert.Equal(t, "Connected", ev.Property)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", ev.DeviceMAC)
	assert.Equal(t, "true", ev.Text)
}

func TestFromSignal_CharacteristicValueIsNotification(t *testing.T) {
	sig := &dbus.Signal{
		Path: dbus.ObjectPath(testDevPath + "/service0010/char0011"),
		Name: propertiesChangedMember,
		Body: []interface{}{
			gattCharInterface,
			map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{0x01, 0x02})},
			[]string{},
		},
	}
	ev, ok := FromSignal(sig)
	require.True(t, ok)
	assert.Equal(t, SignalNotification, ev.Type)
	assert.Equal(t, []byte{0x01, 0x02}, ev.Value)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", ev.DeviceMAC)
}

func TestRouter_DefaultRoutes_StoreConnectionState(t *testing.T) {
	st := newTestStore(t)
	r := New(st, nil)

	bus := dbustest.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan *dbus.Signal, 8)
	conn := bus.AsConn()
	conn.Signal(sigCh)

	go r.Run(ctx, sigCh)

	bus.Emit(&dbus.Signal{
		Path: dbus.ObjectPath(testDevPath),
		Name: propertiesChangedMember,
		Body: []interface{}{
			deviceInterface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
			[]string{},
		},
	})

	require.Eventually(t, func() bool {
		events, err := st.ListConnectionEvents(context.Background(), "AA:BB:CC:DD:EE:FF")
		return err == nil && len(events) == 1 && events[0].Connected
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_NotifyCallback_FiresOnValueChange(t *testing.T) {
	r := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	charPath := testDevPath + "/service0010/char0011"
	received := make(chan []byte, 1)
	require.NoError(t, r.Register(charPath, func(value []byte, at time.Time) {
		received <- value
	}))

	go r.Run(ctx, make(chan *dbus.Signal))
	r.Submit(Event{Type: SignalNotification, Path: charPath, Value: []byte{0xAA}})

	select {
	case v := <-received:
		assert.Equal(t, []byte{0xAA}, v)
	case <-time.After(time.Second):
		t.Fatal("notify callback never fired")
	}
}

func TestRouter_CallbackAction_Runs(t *testing.T) {
	r := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan Event, 1)
	r.RegisterCallback("test", func(ev Event) { fired <- ev })
	require.NoError(t, r.InstallRoute(Route{
		Name:    "callback-route",
		Enabled: true,
		Filter:  Filter{SignalType: SignalRead},
		Actions: []Action{{Kind: ActionCallback, CallbackName: "test"}},
	}))

	go r.Run(ctx, make(chan *dbus.Signal))
	r.Submit(Event{Type: SignalRead, DeviceMAC: "AA:BB:CC:DD:EE:FF", CharUUID: "2a00"})

	select {
	case ev := <-fired:
		assert.Equal(t, "2a00", ev.CharUUID)
	case <-time.After(time.Second):
		t.Fatal("callback action never ran")
	}
}

func TestFilter_MatchesMinMaxLength(t *testing.T) {
	f := Filter{MinLength: 2, MaxLength: 4}
	require.NoError(t, f.compile())
	assert.False(t, f.Matches(Event{Value: []byte{1}}))
	assert.True(t, f.Matches(Event{Value: []byte{1, 2}}))
	assert.False(t, f.Matches(Event{Value: []byte{1, 2, 3, 4, 5}}))
}

func TestConfigStore_SaveLoadRenameDelete(t *testing.T) {
	cs, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	cfg := Config{Name: "default", Routes: defaultRoutes()}
	require.NoError(t, cs.Save(cfg))

	loaded, err := cs.Load("default")
	require.NoError(t, err)
	assert.Len(t, loaded.Routes, len(defaultRoutes()))

	require.NoError(t, cs.Rename("default", "renamed"))
	_, err = cs.Load("default")
	assert.Error(t, err)
	loaded, err = cs.Load("renamed")
	require.NoError(t, err)
	assert.Equal(t, "default", loaded.Name)

	require.NoError(t, cs.Delete("renamed"))
	_, err = cs.Load("renamed")
	assert.Error(t, err)
}
