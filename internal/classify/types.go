// Package classify is the device-type classifier (§4.10): a stateless,
// evidence-based decision over whatever properties, GATT resolution, and SDP
// records a caller has already collected for a device. It never issues IPC
// calls itself — internal/discovery, internal/gatt, and internal/classic own
// live collection; this package only scores what they hand it and persists
// the resulting evidence rows through internal/store.
//
// Grounded on internal/store/evidence.go, which was built ahead of this
// package specifically to hold its substrate (StoreDeviceTypeEvidence,
// ListEvidence, GetDeviceEvidenceSignature, EvidenceTypeSet).
package classify

import (
	"github.com/srg/bleep/internal/classic"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/store"
)

// Mode reuses gatt.Variant rather than declaring a parallel enum: mode-aware
// gating (§4.10) applies to SDP collection as much as to GATT collection, but
// the four names and their passive/naggy/pokey/brute meaning are already
// owned by gatt.
type Mode = gatt.Variant

const (
	ModePassive = gatt.VariantPassive
	ModeNaggy   = gatt.VariantNaggy
	ModePokey   = gatt.VariantPokey
	ModeBrute   = gatt.VariantBrute
)

// Evidence type identifiers, verbatim from §4.10's table.
const (
	TypeClassicDeviceClass  = "CLASSIC_DEVICE_CLASS"
	TypeClassicSDPRecords   = "CLASSIC_SDP_RECORDS"
	TypeClassicServiceUUIDs = "CLASSIC_SERVICE_UUIDS"
	TypeLEAddressTypeRandom = "LE_ADDRESS_TYPE_RANDOM"
	TypeLEAddressTypePublic = "LE_ADDRESS_TYPE_PUBLIC"
	TypeLEGattServices      = "LE_GATT_SERVICES"
	TypeLEServiceUUIDs      = "LE_SERVICE_UUIDS"
	TypeLEAdvertisingData   = "LE_ADVERTISING_DATA"
)

// category is which side of the classic/LE split a type counts toward; the
// LE_ADDRESS_TYPE_PUBLIC row is deliberately excluded from both (its weight
// is always inconclusive, so it never contributes to either count).
type category string

const (
	categoryClassic category = "classic"
	categoryLE      category = "le"
	categoryNone    category = ""
)

var typeMeta = map[string]struct {
	category category
	weight   store.EvidenceWeight
}{
	TypeClassicDeviceClass:  {categoryClassic, store.WeightConclusive},
	TypeClassicSDPRecords:   {categoryClassic, store.WeightConclusive},
	TypeClassicServiceUUIDs: {categoryClassic, store.WeightStrong},
	TypeLEAddressTypeRandom: {categoryLE, store.WeightConclusive},
	TypeLEAddressTypePublic: {categoryNone, store.WeightInconclusive},
	TypeLEGattServices:      {categoryLE, store.WeightStrong},
	TypeLEServiceUUIDs:      {categoryLE, store.WeightStrong},
	TypeLEAdvertisingData:   {categoryLE, store.WeightWeak},
}

// Snapshot is everything a caller has on hand about one device at
// classification time. Every field is optional; a nil/zero field simply
// means that collector hasn't run (or is mode-gated out), not that the
// property is absent.
type Snapshot struct {
	MAC  string
	Mode Mode

	// From internal/discovery: live or last-known adapter-reported
	// properties (Class, AddressType, UUIDs, advertising data presence).
	Observation *discovery.Observation

	// From internal/gatt: set once services have resolved.
	ServicesResolved bool
	GATT             *gatt.Mapping

	// From internal/classic: populated only when SDP collection ran
	// (pokey/brute).
	SDPRecords []classic.Record
}

// Result is the classifier's output for one Classify call.
type Result struct {
	MAC            string
	Classification string // "classic", "le", "dual", "unknown"
	Evidence       []store.Evidence
	Reasoning      []string
	CacheHit       bool
}

// Classification values.
const (
	ClassClassic = "classic"
	ClassLE      = "le"
	ClassDual    = "dual"
	ClassUnknown = "unknown"
)
