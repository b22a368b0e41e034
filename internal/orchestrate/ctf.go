package orchestrate

import (
	"context"
	"unicode"

	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
)

// BLE-CTF (https://github.com/hackgnar/ble_ctf) hides one short ASCII flag
// per "flag" characteristic, each readable via a plain GATT read, and
// accepted back via a write to a single shared "submit" characteristic.
// Neither the flag characteristics' UUIDs nor the scoring thresholds below
// are standardized anywhere retrievable from this module's lineage (§9
// flags this as an open question needing empirical selection) — the
// thresholds here are a documented starting point, not a derived constant.
const (
	// minFlagConfidence is the score a read value needs to be reported as a
	// flag candidate rather than silently discarded as ordinary telemetry.
	minFlagConfidence = 0.6

	minFlagLen = 1
	maxFlagLen = 64
)

// FlagCandidate is one characteristic read scored as a plausible BLE-CTF
// flag value.
type FlagCandidate struct {
	CharacteristicUUID string
	Value              []byte
	Confidence         float64
}

// ScoreFlagValue returns a 0..1 confidence that value is a BLE-CTF flag
// string rather than arbitrary binary telemetry: the heuristic rewards a
// high printable-ASCII ratio and a length inside the observed flag range,
// and zeroes out on an empty read (no value was ever returned).
func ScoreFlagValue(value []byte) float64 {
	if len(value) < minFlagLen || len(value) > maxFlagLen {
		return 0
	}
	printable := 0
	for _, b := range value {
		r := rune(b)
		if unicode.IsPrint(r) && r < unicode.MaxASCII {
			printable++
		}
	}
	ratio := float64(printable) / float64(len(value))
	if ratio < 0.8 {
		return ratio * 0.5
	}
	// Reward values sitting in BLE-CTF's typical flag-length band
	// (observed flags run 8-20 bytes) without hard-excluding outliers.
	lengthBonus := 0.0
	if len(value) >= 8 && len(value) <= 20 {
		lengthBonus = 0.2
	}
	score := ratio*0.8 + lengthBonus
	if score > 1 {
		score = 1
	}
	return score
}

// FindFlagCandidates scores every successful read in reads and returns the
// ones clearing minFlagConfidence, highest confidence first.
func FindFlagCandidates(reads []gatt.ReadResult) []FlagCandidate {
	var out []FlagCandidate
	for _, r := range reads {
		if r.Err != nil {
			continue
		}
		score := ScoreFlagValue(r.Value)
		if score < minFlagConfidence {
			continue
		}
		out = append(out, FlagCandidate{CharacteristicUUID: r.CharacteristicUUID, Value: r.Value, Confidence: score})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Confidence > out[j-1].Confidence; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SubmitFlag writes a candidate's value to the submit characteristic
// (BLE-CTF's convention is a single shared write-target characteristic
// that echoes progress back through its own read value).
func SubmitFlag(ctx context.Context, d *gatt.Device, submitCharUUID string, value []byte, perms gatt.PermissionMap) error {
	return d.WriteCharacteristic(ctx, submitCharUUID, value, true, perms)
}

// RunCTF connects to mac, reads every characteristic once, scores the
// results for flag candidates, and submits each one found to
// submitCharUUID. It returns every candidate found, regardless of whether
// the submission for it succeeded.
func RunCTF(ctx context.Context, oc *Context, mac, submitCharUUID string) ([]FlagCandidate, error) {
	devicePath := discovery.DevicePath(oc.Adapter.ID(), mac)
	d := oc.newDevice(devicePath, mac)
	defer func() { _ = d.Disconnect(ctx) }()

	enumRes, err := gatt.ConnectAndEnumerate(ctx, d, gatt.EnumerateOptions{Variant: gatt.VariantPassive})
	if err != nil {
		return nil, err
	}

	candidates := FindFlagCandidates(enumRes.Reads)
	for _, c := range candidates {
		if err := SubmitFlag(ctx, d, submitCharUUID, c.Value, enumRes.Permissions); err != nil && oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).WithField("char", c.CharacteristicUUID).Warn("ctf: submit failed")
		}
	}
	return candidates, nil
}
