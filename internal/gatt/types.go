// Package gatt is the device & GATT engine (§4.6): device lifecycle,
// service/characteristic resolution, read/write/notify primitives, and the
// four enumeration variants (passive/naggy/pokey/brute) built over it.
//
// Grounded on srgg-blecli's internal/device (ble_connection.go): the
// pooled-value/history/read-write-notify shape and the Service/
// Characteristic/Descriptor interface split are kept, re-pointed at BlueZ's
// org.bluez.GattCharacteristic1/GattDescriptor1 ReadValue/WriteValue/
// StartNotify/StopNotify over internal/ipc instead of go-ble.
package gatt

import "github.com/godbus/dbus/v5"

// State is a Device's lifecycle state (§4.6).
type State string

const (
	StateNew               State = "new"
	StateConnecting        State = "connecting"
	StateConnected         State = "connected"
	StateServicesResolving State = "services_resolving"
	StateServicesResolved  State = "services_resolved"
	StateEnumerating       State = "enumerating"
	StateIdle              State = "idle"
	StateDisconnecting     State = "disconnecting"
)

// Descriptor is one resolved GATT descriptor.
type Descriptor struct {
	UUID string
	Path dbus.ObjectPath
}

// Characteristic is one resolved GATT characteristic, with its flags
// (BlueZ's Flags property: "read", "write", "write-without-response",
// "notify", "indicate", ...) and any child descriptors.
type Characteristic struct {
	UUID        string
	Path        dbus.ObjectPath
	Handle      int
	Flags       []string
	Descriptors []Descriptor
}

// HasFlag reports whether the characteristic advertises the given flag.
func (c Characteristic) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Service is one resolved GATT service and its characteristics.
type Service struct {
	UUID            string
	Path            dbus.ObjectPath
	Primary         bool
	Characteristics []Characteristic
}

// Mapping is the full resolved GATT tree for one device (§4.6: "builds a
// map keyed by handle with cross-links to UUIDs").
type Mapping struct {
	Services []Service
}

// FindCharacteristic locates a characteristic by UUID across all services,
// returning its owning service UUID alongside it.
func (m Mapping) FindCharacteristic(uuid string) (svcUUID string, ch Characteristic, ok bool) {
	for _, svc := range m.Services {
		for _, c := range svc.Characteristics {
			if c.UUID == uuid {
				return svc.UUID, c, true
			}
		}
	}
	return "", Characteristic{}, false
}

// Walk calls fn for every characteristic in the mapping, in deterministic
// (service, then characteristic) object-path order, as Resolve sorts them — §4.6's "deterministic
// ordering" requirement for multi_read_all.
func (m Mapping) Walk(fn func(svcUUID string, ch Characteristic)) {
	for _, svc := range m.Services {
		for _, c := range svc.Characteristics {
			fn(svc.UUID, c)
		}
	}
}

// LandmineMap is the set of characteristics whose read caused a device
// stall or non-recoverable failure (§4.6). Keyed by characteristic UUID.
type LandmineMap map[string]struct{}

// Has reports whether uuid is landmined.
func (l LandmineMap) Has(uuid string) bool {
	_, ok := l[uuid]
	return ok
}

// Mark adds uuid to the landmine set.
func (l LandmineMap) Mark(uuid string) { l[uuid] = struct{}{} }

// Operation names used as PermissionMap's inner key.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// PermissionMap is the per-characteristic mapping from requested operation
// to observed error kind (§4.6), e.g. {"0000FFE1-...": {"read":
// "not_authorized", "write": "not_permitted"}}.
type PermissionMap map[string]map[string]string

// Record stores the observed error kind for (uuid, op).
func (p PermissionMap) Record(uuid, op, errKind string) {
	if p[uuid] == nil {
		p[uuid] = make(map[string]string)
	}
	p[uuid][op] = errKind
}

// Variant is one of the four enumeration policies (§4.6's table).
type Variant string

const (
	VariantPassive Variant = "passive"
	VariantNaggy   Variant = "naggy"
	VariantPokey   Variant = "pokey"
	VariantBrute   Variant = "brute"
)

// EnumerateOptions parametrizes connect_and_enumerate (§4.6).
type EnumerateOptions struct {
	Variant Variant
	Force   bool // brute: write even to landmined characteristics
	// BruteTarget names one characteristic UUID for brute's writes.
	// ConnectAndEnumerate does not read it and performs no brute writes.
	BruteTarget string
	Payloads    []byte2D
}

type byte2D = [][]byte

// ReadResult is one round's outcome for multi_read_characteristic/
// multi_read_all.
type ReadResult struct {
	CharacteristicUUID string
	Round              int
	Value              []byte
	Err                error
}

// WriteProbeResult is pokey's record of whether a writable characteristic
// accepted a probe payload.
type WriteProbeResult struct {
	CharacteristicUUID string
	Payload            byte
	Accepted           bool
	Err                error
}

// BruteWriteResult is one payload's outcome from brute_write_range.
type BruteWriteResult struct {
	Payload      []byte
	Ok           bool
	Err          error
	VerifiedRead []byte // set only if verify=true and the write succeeded
}

// EnumerateResult is connect_and_enumerate's return value.
type EnumerateResult struct {
	Mapping     Mapping
	Landmines   LandmineMap
	Permissions PermissionMap
	Reads       []ReadResult
	WriteProbes []WriteProbeResult
}
