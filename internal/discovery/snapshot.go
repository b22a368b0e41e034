package discovery

import (
	"context"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/srg/bleep/internal/ipc"
)

const deviceInterface = "org.bluez.Device1"

// Observation is one device's properties as read from a GetManagedObjects
// snapshot, grounded on pible's bluezDevice (bluez_scan.go).
type Observation struct {
	Path            dbus.ObjectPath
	MAC             string
	Name            string
	AddressType     string
	RSSI            int16
	HasRSSI         bool
	TxPower         int16
	HasTxPower      bool
	UUIDs           []string
	ManufacturerData map[uint16][]byte
	ServiceData     map[string][]byte
	Class           uint32
	Icon            string
	Paired          bool
	Trusted         bool
	Connected       bool
	Blocked         bool
	LegacyPairing   bool
	Modalias        string
	Properties      map[string]interface{}
}

// IsClassicLikely reports whether this observation's properties point at a
// BR/EDR device rather than an LE-only peripheral. Grounded verbatim on
// pible's isClassicLikely: Type bredr/dual is conclusive either way, a bare
// LE hint is conclusive-false, and otherwise non-zero Class or legacy
// pairing support is the tell.
func (o Observation) IsClassicLikely(addrType string) bool {
	switch addrType {
	case "bredr", "dual":
		return true
	case "le":
		return false
	}
	return o.Class != 0 || o.LegacyPairing
}

// Signature is a change-detection fingerprint used by the naggy/pokey/brute
// scan variants to decide whether an observation differs from the last one
// forwarded for the same MAC, approximating per-advertisement delivery over
// repeated snapshots (see scan.go).
func (o Observation) Signature() string {
	var b strings.Builder
	b.WriteString(o.Name)
	b.WriteByte('|')
	b.WriteString(o.AddressType)
	b.WriteByte('|')
	if o.HasRSSI {
		b.WriteString(strconvItoa(int(o.RSSI)))
	}
	b.WriteByte('|')
	uuids := append([]string(nil), o.UUIDs...)
	sort.Strings(uuids)
	b.WriteString(strings.Join(uuids, ","))
	b.WriteByte('|')
	keys := make([]int, 0, len(o.ManufacturerData))
	for k := range o.ManufacturerData {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	for _, k := range keys {
		b.WriteString(strconvItoa(k))
		b.WriteByte(':')
		b.WriteString(hex.EncodeToString(o.ManufacturerData[uint16(k)]))
		b.WriteByte(';')
	}
	return b.String()
}

func strconvItoa(v int) string {
	neg := v < 0
	if neg {
		v = -v
	}
	if v == 0 {
		if neg {
			return "-0"
		}
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Snapshot reads the adapter's current GetManagedObjects tree and returns
// every org.bluez.Device1 object under it, grounded on
// bluezSnapshotWithConn/bluez_scan.go.
func Snapshot(ctx context.Context, pool *ipc.Pool, adapterID string) ([]Observation, error) {
	objs, err := pool.GetManagedObjects(ctx, ipc.BlueZService)
	if err != nil {
		return nil, err
	}
	prefix := "/org/bluez/" + adapterID + "/dev_"
	var out []Observation
	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceInterface]
		if !ok {
			continue
		}
		out = append(out, observationFromProps(path, props))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out, nil
}

func observationFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) Observation {
	o := Observation{Path: path, Properties: sanitizeProps(props)}
	if v, ok := props["Address"]; ok {
		o.MAC, _ = v.Value().(string)
	}
	o.MAC = strings.ToLower(o.MAC)
	if v, ok := props["Name"]; ok {
		o.Name, _ = v.Value().(string)
	}
	if v, ok := props["AddressType"]; ok {
		o.AddressType, _ = v.Value().(string)
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := toInt16(v.Value()); ok {
			o.RSSI, o.HasRSSI = rssi, true
		}
	}
	if v, ok := props["TxPower"]; ok {
		if tx, ok := toInt16(v.Value()); ok {
			o.TxPower, o.HasTxPower = tx, true
		}
	}
	if v, ok := props["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			o.UUIDs = uuids
		}
	}
	if v, ok := props["ManufacturerData"]; ok {
		o.ManufacturerData = parseManufacturerData(v.Value())
	}
	if v, ok := props["ServiceData"]; ok {
		o.ServiceData = parseServiceData(v.Value())
	}
	if v, ok := props["Class"]; ok {
		if cls, ok := v.Value().(uint32); ok {
			o.Class = cls
		}
	}
	if v, ok := props["Icon"]; ok {
		o.Icon, _ = v.Value().(string)
	}
	if v, ok := props["Paired"]; ok {
		o.Paired, _ = v.Value().(bool)
	}
	if v, ok := props["Trusted"]; ok {
		o.Trusted, _ = v.Value().(bool)
	}
	if v, ok := props["Connected"]; ok {
		o.Connected, _ = v.Value().(bool)
	}
	if v, ok := props["Blocked"]; ok {
		o.Blocked, _ = v.Value().(bool)
	}
	if v, ok := props["LegacyPairing"]; ok {
		o.LegacyPairing, _ = v.Value().(bool)
	}
	if v, ok := props["Modalias"]; ok {
		o.Modalias, _ = v.Value().(string)
	}
	return o
}

func toInt16(v interface{}) (int16, bool) {
	switch n := v.(type) {
	case int16:
		return n, true
	case int32:
		return int16(n), true
	case int64:
		return int16(n), true
	case int:
		return int16(n), true
	}
	return 0, false
}

// parseManufacturerData handles both wire shapes BlueZ has been observed to
// use for this property across versions: a plain map[uint16][]byte, or a
// map[uint16]dbus.Variant wrapping []byte.
func parseManufacturerData(raw interface{}) map[uint16][]byte {
	out := map[uint16][]byte{}
	switch m := raw.(type) {
	case map[uint16][]byte:
		for k, v := range m {
			out[k] = v
		}
	case map[uint16]dbus.Variant:
		for k, v := range m {
			if b, ok := v.Value().([]byte); ok {
				out[k] = b
			}
		}
	}
	return out
}

func parseServiceData(raw interface{}) map[string][]byte {
	out := map[string][]byte{}
	switch m := raw.(type) {
	case map[string][]byte:
		for k, v := range m {
			out[k] = v
		}
	case map[string]dbus.Variant:
		for k, v := range m {
			if b, ok := v.Value().([]byte); ok {
				out[k] = b
			}
		}
	}
	return out
}

// sanitizeProps renders a raw property map into JSON-friendly values:
// []byte becomes a hex string, dbus.ObjectPath becomes its string form, and
// nested maps/slices are walked recursively. Grounded on bluez_scan.go's
// sanitizeDBusValue.
func sanitizeProps(props map[string]dbus.Variant) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = sanitizeValue(v.Value())
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return hex.EncodeToString(x)
	case dbus.ObjectPath:
		return string(x)
	case dbus.Variant:
		return sanitizeValue(x.Value())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make([]interface{}, n)
		for i := 0; i < n; i++ {
			out[i] = sanitizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		for _, key := range rv.MapKeys() {
			out[toMapKeyString(key)] = sanitizeValue(rv.MapIndex(key).Interface())
		}
		return out
	}
	return v
}

func toMapKeyString(key reflect.Value) string {
	switch key.Kind() {
	case reflect.String:
		return key.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconvItoa(int(key.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconvItoa(int(key.Uint()))
	default:
		if str, ok := key.Interface().(fmt.Stringer); ok {
			return str.String()
		}
		return ""
	}
}
