package classify

import (
	"strconv"
	"time"

	"github.com/srg/bleep/internal/bledb"
)

// classicServiceClassUUIDs are Bluetooth SIG 16-bit service class UUIDs that
// only ever appear on BR/EDR (SDP) devices — profiles with no GATT
// equivalent. Short form, as bledb.NormalizeUUID returns it.
var classicServiceClassUUIDs = map[string]struct{}{
	"1101": {}, // Serial Port Profile
	"1105": {}, // OBEX Object Push
	"1106": {}, // OBEX File Transfer
	"1108": {}, // Headset
	"1112": {}, // Headset - Audio Gateway
	"111e": {}, // Handsfree
	"111f": {}, // Handsfree Audio Gateway
	"110a": {}, // Advanced Audio Distribution - Source
	"110b": {}, // Advanced Audio Distribution - Sink
	"110c": {}, // A/V Remote Control Target
	"110e": {}, // A/V Remote Control
	"1115": {}, // PAN - PANU
	"1116": {}, // PAN - NAP
	"112f": {}, // Phonebook Access - PSE
	"1132": {}, // Message Access Profile
}

// gattServiceUUIDs are 16-bit service UUIDs that are GATT-only (no SDP/RFCOMM
// analogue), used as LE_SERVICE_UUIDS evidence.
var gattServiceUUIDs = map[string]struct{}{
	"1800": {}, // Generic Access
	"1801": {}, // Generic Attribute
	"1802": {}, // Immediate Alert
	"1803": {}, // Link Loss
	"1804": {}, // Tx Power
	"180a": {}, // Device Information
	"180d": {}, // Heart Rate
	"180f": {}, // Battery Service
	"1810": {}, // Blood Pressure
	"1812": {}, // HID over GATT
	"181a": {}, // Environmental Sensing
	"181c": {}, // User Data
	"1819": {}, // Location and Navigation
	"fe9f": {}, // Fast Pair (Google)
}

// evidenceItem is a single emitted observation, staged before it's written
// to the store (one row per collectEvidence call, not yet merged with any
// history already on record for the device).
type evidenceItem struct {
	evidenceType string
	source       string
	value        string
	metadata     string
}

// collectEvidence derives every piece of evidence the snapshot's properties
// support, gated by mode per §4.10 ("higher-cost collectors (SDP, GATT) are
// disabled in passive"). It is a pure function: no IPC, no store access.
func collectEvidence(snap Snapshot) []evidenceItem {
	var items []evidenceItem

	if obs := snap.Observation; obs != nil {
		if obs.Class != 0 {
			items = append(items, evidenceItem{
				evidenceType: TypeClassicDeviceClass,
				source:       "device_class_property",
				value:        bledb.DeviceClassMajor(obs.Class),
			})
		}

		switch obs.AddressType {
		case "random":
			items = append(items, evidenceItem{
				evidenceType: TypeLEAddressTypeRandom,
				source:       "address_type_property",
				value:        "random",
			})
		case "public":
			items = append(items, evidenceItem{
				evidenceType: TypeLEAddressTypePublic,
				source:       "address_type_property",
				value:        "public",
			})
		}

		for _, u := range obs.UUIDs {
			short := bledb.NormalizeUUID(u)
			if len(short) > 4 {
				short = short[:4]
			}
			if _, ok := classicServiceClassUUIDs[short]; ok {
				items = append(items, evidenceItem{
					evidenceType: TypeClassicServiceUUIDs,
					source:       "uuids_property:" + u,
					value:        bledb.LookupService(u),
				})
			}
			if _, ok := gattServiceUUIDs[short]; ok {
				items = append(items, evidenceItem{
					evidenceType: TypeLEServiceUUIDs,
					source:       "uuids_property:" + u,
					value:        bledb.LookupService(u),
				})
			}
		}

		if len(obs.ManufacturerData) > 0 || len(obs.ServiceData) > 0 {
			items = append(items, evidenceItem{
				evidenceType: TypeLEAdvertisingData,
				source:       "advertising_data",
				value:        "present",
			})
		}
	}

	if snap.Mode != ModePassive {
		if snap.ServicesResolved && snap.GATT != nil && len(snap.GATT.Services) > 0 {
			items = append(items, evidenceItem{
				evidenceType: TypeLEGattServices,
				source:       "gatt_resolution",
				value:        strconv.Itoa(len(snap.GATT.Services)),
			})
		}
		if len(snap.SDPRecords) > 0 {
			items = append(items, evidenceItem{
				evidenceType: TypeClassicSDPRecords,
				source:       "sdp_enumeration",
				value:        strconv.Itoa(len(snap.SDPRecords)),
			})
		}
	}

	return items
}

// now is a seam for tests; production callers always get time.Now().
var now = time.Now
