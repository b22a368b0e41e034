package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/ipc/dbustest"
)

func wirePoolToBus(bus *dbustest.Bus) *ipc.Pool {
	return ipc.NewWithConn(bus.AsConn(), nil)
}

func TestHealthMonitor_PublishesStalledThenRestarted(t *testing.T) {
	bus := dbustest.NewBus()
	failing := true
	bus.Object("/").On("org.freedesktop.DBus.ObjectManager.GetManagedObjects", func(args []interface{}) ([]interface{}, error) {
		if failing {
			return nil, errors.New("no reply")
		}
		return []interface{}{map[dbus.ObjectPath]map[string]map[string]dbus.Variant{}}, nil
	})

	pool := wirePoolToBus(bus)
	monitor := NewHealthMonitor(pool, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	select {
	case ev := <-monitor.Events():
		assert.Equal(t, EventStalled, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stalled event")
	}

	failing = false

	select {
	case ev := <-monitor.Events():
		assert.Equal(t, EventRestarted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for restarted event")
	}
}

func TestHealthMonitor_NoEventsWhileHealthy(t *testing.T) {
	bus := dbustest.NewBus()
	bus.WithManagedObjects(map[dbus.ObjectPath]map[string]map[string]dbus.Variant{})

	pool := wirePoolToBus(bus)
	monitor := NewHealthMonitor(pool, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	select {
	case ev := <-monitor.Events():
		t.Fatalf("unexpected event while healthy: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
