package aoi

import (
	"fmt"
	"sort"

	"github.com/srg/bleep/internal/classic"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/store"
)

// analyzeLandmines flags every characteristic that caused an unrecoverable
// read failure during enumeration (§4.6's landmine map).
func analyzeLandmines(landmines gatt.LandmineMap) []Finding {
	var out []Finding
	keys := make([]string, 0, len(landmines))
	for uuid := range landmines {
		keys = append(keys, uuid)
	}
	sort.Strings(keys)
	for _, uuid := range keys {
		out = append(out, Finding{
			Category:    CategoryLandmine,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("characteristic %s caused an unrecoverable stall or failure on read and was skipped on subsequent passes", uuid),
			Detail:      map[string]string{"characteristic_uuid": uuid},
		})
	}
	return out
}

// analyzePermissionWalls surfaces every characteristic where an operation
// was refused, since a tight permission wall on an otherwise-writable
// characteristic is itself a signal worth surfacing (either a misconfigured
// ACL or an access-control boundary worth probing further).
func analyzePermissionWalls(perms gatt.PermissionMap) []Finding {
	var out []Finding
	keys := make([]string, 0, len(perms))
	for uuid := range perms {
		keys = append(keys, uuid)
	}
	sort.Strings(keys)
	for _, uuid := range keys {
		ops := perms[uuid]
		for _, op := range []string{gatt.OpRead, gatt.OpWrite} {
			kind, ok := ops[op]
			if !ok {
				continue
			}
			out = append(out, Finding{
				Category:    CategoryPermissionWall,
				Severity:    SeverityLow,
				Description: fmt.Sprintf("%s on characteristic %s was refused (%s)", op, uuid, kind),
				Detail:      map[string]string{"characteristic_uuid": uuid, "operation": op, "error_kind": kind},
			})
		}
	}
	return out
}

// analyzeSDP surfaces anomalies already derived by classic.Analyze over a
// device's SDP record set — a profile implying a newer core spec version
// than the rest of the device is exactly the kind of asset-of-interest
// signal this component exists to collect.
func analyzeSDP(records []classic.Record) []Finding {
	if len(records) == 0 {
		return nil
	}
	analysis := classic.Analyze(records)
	var out []Finding
	for _, a := range analysis.Anomalies {
		out = append(out, Finding{
			Category:    CategorySDPAnomaly,
			Severity:    SeverityMedium,
			Description: a,
		})
	}
	return out
}

// analyzeEvidenceConflicts flags classification evidence that shouldn't
// coexist: an address-type row claiming both public and random (the
// property can't hold both values at once, so two rows on record means
// something changed address type between passes, worth a human's
// attention). That is the only conflict checked; whether conclusive Classic
// plus conclusive LE evidence resolved to dual is not examined here.
func analyzeEvidenceConflicts(evidence []store.Evidence) []Finding {
	var out []Finding
	hasRandom, hasPublic := false, false
	for _, e := range evidence {
		switch e.EvidenceType {
		case classify.TypeLEAddressTypeRandom:
			hasRandom = true
		case classify.TypeLEAddressTypePublic:
			hasPublic = true
		}
	}
	if hasRandom && hasPublic {
		out = append(out, Finding{
			Category:    CategoryEvidenceConflict,
			Severity:    SeverityLow,
			Description: "device has been observed with both a random and a public address type across passes; address may have rotated or two distinct devices share evidence history",
		})
	}
	return out
}

// analyzePairing flags weak pairing capability profiles: NoInputNoOutput
// bonds ("Just Works") authenticate without any out-of-band confirmation
// and are a known MITM weak point, worth surfacing whenever a bond exists.
func analyzePairing(bond *store.Bond) []Finding {
	if bond == nil {
		return nil
	}
	if bond.Capability == "NoInputNoOutput" {
		return []Finding{{
			Category:    CategoryPairingWeakness,
			Severity:    SeverityMedium,
			Description: "device is bonded under a NoInputNoOutput (Just Works) capability profile, which has no protection against a man-in-the-middle during pairing",
			Detail:      map[string]string{"capability": bond.Capability},
		}}
	}
	return nil
}
