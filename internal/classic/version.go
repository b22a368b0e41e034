package classic

// coreSpecByLMP maps an LMP subversion-adjacent "LMP version" byte (as
// reported in HCI Read_Local_Version_Information, values 0-13 up to Core
// 5.4) to the Bluetooth Core Specification version it corresponds to.
var coreSpecByLMP = map[int]string{
	0:  "1.0b",
	1:  "1.1",
	2:  "1.2",
	3:  "2.0+EDR",
	4:  "2.1+EDR",
	5:  "3.0+HS",
	6:  "4.0",
	7:  "4.1",
	8:  "4.2",
	9:  "5.0",
	10: "5.1",
	11: "5.2",
	12: "5.3",
	13: "5.4",
}

// coreSpecByProfileVersion maps a profile's own version number (as found in
// its BluetoothProfileDescriptorList entry) to the earliest Core Spec
// version that profile version implies. Raw profile versions vary by
// profile; this table only covers the handful whose version numbering is
// widely used as an informal spec-version proxy (A2DP, AVRCP, HID, HFP).
var coreSpecByProfileVersion = map[string]map[string]string{
	// A2DP
	"110b": {"1.0": "2.0+EDR", "1.2": "2.1+EDR", "1.3": "4.0"},
	// AVRCP
	"110e": {"1.0": "1.1", "1.3": "2.1+EDR", "1.4": "3.0+HS", "1.5": "4.1", "1.6": "5.0"},
	// HFP
	"111e": {"1.5": "2.1+EDR", "1.6": "4.0", "1.7": "4.1", "1.8": "5.2"},
	// HID
	"1124": {"1.0": "2.1+EDR", "1.1": "4.2"},
}

var coreVersionOrder = []string{
	"1.0b", "1.1", "1.2", "2.0+EDR", "2.1+EDR", "3.0+HS",
	"4.0", "4.1", "4.2", "5.0", "5.1", "5.2", "5.3", "5.4",
}

// coreVersionRank returns version's position in coreVersionOrder, or -1 if
// unrecognised, so anomaly detection can compare spec versions ordinally.
func coreVersionRank(version string) int {
	for i, v := range coreVersionOrder {
		if v == version {
			return i
		}
	}
	return -1
}

// versionToCoreSpec maps one profile's (UUID, version) pair to the Core
// Spec version it implies, or "" if the profile isn't in the informal
// lookup table.
func versionToCoreSpec(profileUUID, version string) string {
	if table, ok := coreSpecByProfileVersion[profileUUID]; ok {
		if spec, ok := table[version]; ok {
			return spec
		}
	}
	return ""
}

// InferVersion derives the device's likely Bluetooth Core Spec version
// (§4.7). When lmpVersion is known (sourced from the adapter/controller
// layer, not SDP itself) it is authoritative and reported with "high"
// confidence. Otherwise the highest Core Spec version any collected
// profile's version number implies is used, with "heuristic" confidence —
// lower because a device can expose a newer-profile-capable stack while the
// controller itself predates it.
func InferVersion(lmpVersion *int, profileVersionCounts map[string]map[string]int) (version string, confidence string) {
	if lmpVersion != nil {
		if spec, ok := coreSpecByLMP[*lmpVersion]; ok {
			return spec, "high"
		}
	}

	bestRank := -1
	best := ""
	for profileUUID, versions := range profileVersionCounts {
		for v := range versions {
			spec := versionToCoreSpec(profileUUID, v)
			if spec == "" {
				continue
			}
			if rank := coreVersionRank(spec); rank > bestRank {
				bestRank = rank
				best = spec
			}
		}
	}
	if best == "" {
		return "", "unknown"
	}
	return best, "heuristic"
}
