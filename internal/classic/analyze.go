package classic

import (
	"fmt"

	"github.com/srg/bleep/internal/bledb"
)

// RelationshipGroup is a set of services that share a common profile UUID
// (§4.7's "service relationship groups").
type RelationshipGroup struct {
	ProfileUUID  string
	ProfileName  string
	ServiceUUIDs []string
}

// Analysis is the optional --analyze derivation over a device's SDP records
// (§4.7): the protocol set in use, a profile/version histogram, an inferred
// Bluetooth Core Spec version with confidence, anomalies, and service
// relationship groupings.
type Analysis struct {
	Protocols            []string
	ProfileVersionCounts map[string]map[string]int // profile UUID -> version -> count
	InferredCoreVersion  string
	InferredConfidence   string
	Anomalies            []string
	RelationshipGroups   []RelationshipGroup
}

// Analyze derives an Analysis from a device's collected SDP records.
func Analyze(records []Record) Analysis {
	protocolSet := map[string]struct{}{}
	counts := map[string]map[string]int{}
	groups := map[string][]string{}

	for _, rec := range records {
		if rec.RFCOMMChannel != nil {
			protocolSet["rfcomm"] = struct{}{}
		}
		if rec.UUID != "" {
			protocolSet[rec.UUID] = struct{}{}
		}
		for _, pd := range rec.ProfileDescriptors {
			if counts[pd.UUID] == nil {
				counts[pd.UUID] = map[string]int{}
			}
			counts[pd.UUID][pd.Version]++
			if rec.UUID != "" {
				groups[pd.UUID] = appendUnique(groups[pd.UUID], rec.UUID)
			}
		}
	}

	protocols := make([]string, 0, len(protocolSet))
	for p := range protocolSet {
		protocols = append(protocols, p)
	}

	var relGroups []RelationshipGroup
	for _, profileUUID := range sortedProfileNames(flattenCountKeys(counts)) {
		relGroups = append(relGroups, RelationshipGroup{
			ProfileUUID:  profileUUID,
			ProfileName:  bledb.LookupService(profileUUID),
			ServiceUUIDs: groups[profileUUID],
		})
	}

	version, confidence := InferVersion(nil, counts)
	anomalies := findAnomalies(counts)

	return Analysis{
		Protocols:           protocols,
		ProfileVersionCounts: counts,
		InferredCoreVersion: version,
		InferredConfidence:  confidence,
		Anomalies:           anomalies,
		RelationshipGroups:  relGroups,
	}
}

// findAnomalies flags profile versions that imply a newer Core Spec version
// than the rest of the device's profile set — e.g. a v5-implying profile
// advertised alongside otherwise v2-level profiles. Each profile is compared
// against the highest version any other profile implies, allowing one
// version step of difference.
func findAnomalies(counts map[string]map[string]int) []string {
	var anomalies []string
	for _, profileUUID := range sortedProfileNames(flattenCountKeys(counts)) {
		restRank := -1
		for other, versions := range counts {
			if other == profileUUID {
				continue
			}
			for v := range versions {
				if r := coreVersionRank(versionToCoreSpec(other, v)); r > restRank {
					restRank = r
				}
			}
		}
		for version := range counts[profileUUID] {
			rank := coreVersionRank(versionToCoreSpec(profileUUID, version))
			if restRank >= 0 && rank > restRank+1 {
				name := bledb.LookupService(profileUUID)
				if name == "" {
					name = profileUUID
				}
				anomalies = append(anomalies, fmt.Sprintf("%s v%s implies a newer core spec than the rest of the device's profile set", name, version))
			}
		}
	}
	return anomalies
}

func flattenCountKeys(counts map[string]map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k := range counts {
		out[k] = 0
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
