package gatt

import (
	"context"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/srg/bleep/internal/bleeperr"
	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/store"
)

// ReadCharacteristic reads a characteristic's current value (§4.6): it
// attempts ReadValue with no options first, and on a D-Bus signature
// rejection retries with an explicit empty options dictionary — some BlueZ
// versions require the argument present, others reject it when absent.
// Permission failures (NotAuthorized/NotPermitted/NotSupported) are recorded
// into perms and also returned as a typed error; all other failures are
// returned without being recorded.
func (d *Device) ReadCharacteristic(ctx context.Context, charUUID string, perms PermissionMap) ([]byte, error) {
	var value []byte
	err := d.runOp(ctx, "read", func(cctx context.Context) error {
		_, ch, ok := d.Mapping().FindCharacteristic(charUUID)
		if !ok {
			return bleeperr.New(bleeperr.UnknownObject, "read_characteristic", nil).WithDevice(d.mac).WithContext(charUUID)
		}

		p, err := d.pool.GetProxy(cctx, ipc.BlueZService, ch.Path, gattCharacteristicInterface)
		if err != nil {
			return err
		}

		call := p.Call(cctx, "ReadValue")
		if call.Err != nil {
			call = p.Call(cctx, "ReadValue", map[string]interface{}{})
		}
		if call.Err != nil {
			if kind, recorded := classifyAuthError(call.Err); recorded {
				if perms != nil {
					perms.Record(charUUID, OpRead, string(kind))
				}
				return bleeperr.New(kind, "read_characteristic", call.Err).WithDevice(d.mac).WithContext(charUUID)
			}
			if kind, ok := classifyTransportError(call.Err); ok {
				return bleeperr.New(kind, "read_characteristic", call.Err).WithDevice(d.mac).WithContext(charUUID)
			}
			return bleeperr.New(bleeperr.DeviceUnreachable, "read_characteristic", call.Err).WithDevice(d.mac).WithContext(charUUID)
		}
		if err := call.Store(&value); err != nil {
			return bleeperr.New(bleeperr.DeviceUnreachable, "read_characteristic", err).WithDevice(d.mac).WithContext(charUUID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.recordHistory(ctx, charUUID, value, store.SourceRead)
	return value, nil
}

// WriteCharacteristic writes data to a characteristic. withResponse selects
// the write flavour via BlueZ's "type" option ("request" vs "command"),
// corresponding to the characteristic's write/write-without-response
// property flags. Input is accepted as already-normalized bytes; callers
// translating hex/ASCII/integer input do so (e.g. via ExpandPayloadSpec)
// before calling this.
func (d *Device) WriteCharacteristic(ctx context.Context, charUUID string, data []byte, withResponse bool, perms PermissionMap) error {
	err := d.runOp(ctx, "write", func(cctx context.Context) error {
		_, ch, ok := d.Mapping().FindCharacteristic(charUUID)
		if !ok {
			return bleeperr.New(bleeperr.UnknownObject, "write_characteristic", nil).WithDevice(d.mac).WithContext(charUUID)
		}

		p, err := d.pool.GetProxy(cctx, ipc.BlueZService, ch.Path, gattCharacteristicInterface)
		if err != nil {
			return err
		}

		writeType := "request"
		if !withResponse {
			writeType = "command"
		}

		call := p.Call(cctx, "WriteValue", data, map[string]interface{}{"type": writeType})
		if call.Err != nil {
			call = p.Call(cctx, "WriteValue", data, map[string]interface{}{})
		}
		if call.Err != nil {
			if kind, recorded := classifyAuthError(call.Err); recorded {
				if perms != nil {
					perms.Record(charUUID, OpWrite, string(kind))
				}
				return bleeperr.New(kind, "write_characteristic", call.Err).WithDevice(d.mac).WithContext(charUUID)
			}
			if kind, ok := classifyTransportError(call.Err); ok {
				return bleeperr.New(kind, "write_characteristic", call.Err).WithDevice(d.mac).WithContext(charUUID)
			}
			return bleeperr.New(bleeperr.DeviceUnreachable, "write_characteristic", call.Err).WithDevice(d.mac).WithContext(charUUID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.recordHistory(ctx, charUUID, data, store.SourceWrite)
	return nil
}

// NotifyCallback receives one notification/indication value and the time it
// was delivered.
type NotifyCallback func(value []byte, at time.Time)

// Notifier registers/unregisters per-characteristic-path callbacks for
// PropertiesChanged("Value") delivery. Live signal dispatch is
// internal/router's responsibility (§4.8); gatt only depends on the
// interface so it can be wired once the router exists, and so tests can
// supply a fake.
type Notifier interface {
	Register(path string, cb NotifyCallback) error
	Unregister(path string)
}

// StartNotify enables notifications at the BlueZ layer and registers cb
// with the router keyed by characteristic path (§4.6). Delivered values are
// recorded into history with source=notification by the caller supplying a
// wrapping callback via RecordingNotifyCallback.
func (d *Device) StartNotify(ctx context.Context, charUUID string, router Notifier, cb NotifyCallback) error {
	var chPath dbus.ObjectPath
	err := d.runOp(ctx, "notify_start", func(cctx context.Context) error {
		_, ch, ok := d.Mapping().FindCharacteristic(charUUID)
		if !ok {
			return bleeperr.New(bleeperr.UnknownObject, "start_notify", nil).WithDevice(d.mac).WithContext(charUUID)
		}
		chPath = ch.Path
		p, err := d.pool.GetProxy(cctx, ipc.BlueZService, ch.Path, gattCharacteristicInterface)
		if err != nil {
			return err
		}
		if err := p.Call(cctx, "StartNotify").Err; err != nil {
			return classifyOrWrap(bleeperr.DeviceUnreachable, "start_notify", d.mac, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if router != nil {
		return router.Register(string(chPath), cb)
	}
	return nil
}

// StopNotify disables notifications and unregisters the router callback.
func (d *Device) StopNotify(ctx context.Context, charUUID string, router Notifier) error {
	_, ch, ok := d.Mapping().FindCharacteristic(charUUID)
	if !ok {
		return bleeperr.New(bleeperr.UnknownObject, "stop_notify", nil).WithDevice(d.mac).WithContext(charUUID)
	}
	if router != nil {
		router.Unregister(string(ch.Path))
	}
	return d.runOp(ctx, "notify_stop", func(cctx context.Context) error {
		p, err := d.pool.GetProxy(cctx, ipc.BlueZService, ch.Path, gattCharacteristicInterface)
		if err != nil {
			return err
		}
		if err := p.Call(cctx, "StopNotify").Err; err != nil {
			return classifyOrWrap(bleeperr.DeviceUnreachable, "stop_notify", d.mac, err)
		}
		return nil
	})
}

// RecordingNotifyCallback wraps cb so every delivered value is also written
// to history with source=notification before cb runs.
func (d *Device) RecordingNotifyCallback(serviceUUID, charUUID string, cb NotifyCallback) NotifyCallback {
	return func(value []byte, at time.Time) {
		if d.store != nil {
			_ = d.store.InsertCharHistory(context.Background(), d.mac, serviceUUID, charUUID, at, value, store.SourceNotification)
		}
		if cb != nil {
			cb(value, at)
		}
	}
}

func (d *Device) recordHistory(ctx context.Context, charUUID string, value []byte, source store.CharHistorySource) {
	if d.store == nil {
		return
	}
	svcUUID, _, ok := d.Mapping().FindCharacteristic(charUUID)
	if !ok {
		return
	}
	_ = d.store.InsertCharHistory(ctx, d.mac, svcUUID, charUUID, time.Now(), value, source)
}

// classifyAuthError maps a D-Bus error to a bleeperr.Kind when it names a
// recognised BlueZ authorisation rejection, reporting whether it should be
// recorded rather than treated as a transport failure.
func classifyAuthError(err error) (bleeperr.Kind, bool) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "org.bluez.Error.NotAuthorized"):
		return bleeperr.NotAuthorized, true
	case strings.Contains(msg, "org.bluez.Error.NotPermitted"):
		return bleeperr.NotPermitted, true
	case strings.Contains(msg, "org.bluez.Error.NotSupported"):
		return bleeperr.NotSupported, true
	}
	return "", false
}

// classifyTransportError recognises D-Bus's own no-reply rejection,
// distinct from a BlueZ authorisation error — this is what the staged
// recovery pipeline fires on alongside OperationTimeout (§4.2, §4.6).
func classifyTransportError(err error) (bleeperr.Kind, bool) {
	if strings.Contains(err.Error(), "org.freedesktop.DBus.Error.NoReply") {
		return bleeperr.NoReply, true
	}
	return "", false
}
