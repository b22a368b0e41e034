package classify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "observations.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const testMAC = "CC:DD:EE:00:11:22"

// TestClassify_DualMode reproduces §8's S5 scenario: a device with a
// non-zero device class, random address, a classic A2DP-sink UUID and a
// GATT Generic Access UUID, GATT resolved to 3 services.
func TestClassify_DualMode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, testMAC, store.DeviceAttrs{}))

	snap := Snapshot{
		MAC:  testMAC,
		Mode: ModePokey,
		Observation: &discovery.Observation{
			MAC:         testMAC,
			Class:       0x5a020c,
			AddressType: "random",
			UUIDs:       []string{"0000110B-0000-1000-8000-00805f9b34fb", "00001800-0000-1000-8000-00805f9b34fb"},
		},
		ServicesResolved: true,
		GATT: &gatt.Mapping{Services: []gatt.Service{
			{UUID: "1800"}, {UUID: "1801"}, {UUID: "180F"},
		}},
	}

	c := New(st, nil)
	result, err := c.Classify(ctx, snap)
	require.NoError(t, err)

	assert.Equal(t, ClassDual, result.Classification)
	assert.False(t, result.CacheHit)

	joined := ""
	for _, r := range result.Reasoning {
		joined += r + "\n"
	}
	assert.Contains(t, joined, TypeClassicDeviceClass)
	assert.Contains(t, joined, TypeLEAddressTypeRandom)
}

func TestClassify_PublicAddressAloneIsInconclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, testMAC, store.DeviceAttrs{}))

	snap := Snapshot{
		MAC:  testMAC,
		Mode: ModePassive,
		Observation: &discovery.Observation{
			MAC:         testMAC,
			AddressType: "public",
		},
	}

	c := New(st, nil)
	result, err := c.Classify(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, ClassUnknown, result.Classification)
}

func TestClassify_PassiveModeSkipsGATTAndSDPCollection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, testMAC, store.DeviceAttrs{}))

	snap := Snapshot{
		MAC:              testMAC,
		Mode:             ModePassive,
		ServicesResolved: true,
		GATT:             &gatt.Mapping{Services: []gatt.Service{{UUID: "1800"}, {UUID: "1801"}}},
	}

	c := New(st, nil)
	result, err := c.Classify(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, ClassUnknown, result.Classification)

	evidence, err := st.ListEvidence(ctx, testMAC)
	require.NoError(t, err)
	assert.Empty(t, evidence)
}

func TestClassify_LEViaTwoStrongPieces(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, testMAC, store.DeviceAttrs{}))

	snap := Snapshot{
		MAC:  testMAC,
		Mode: ModeNaggy,
		Observation: &discovery.Observation{
			MAC:   testMAC,
			UUIDs: []string{"00001800-0000-1000-8000-00805f9b34fb"},
		},
		ServicesResolved: true,
		GATT:             &gatt.Mapping{Services: []gatt.Service{{UUID: "1800"}}},
	}

	c := New(st, nil)
	result, err := c.Classify(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, ClassLE, result.Classification)
}

func TestClassify_CacheHitOnUnchangedEvidence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, testMAC, store.DeviceAttrs{}))

	snap := Snapshot{
		MAC:  testMAC,
		Mode: ModePokey,
		Observation: &discovery.Observation{
			MAC:         testMAC,
			Class:       0x5a020c,
			AddressType: "random",
		},
	}

	c := New(st, nil)
	first, err := c.Classify(ctx, snap)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := c.Classify(ctx, snap)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Classification, second.Classification)
}

func TestJaccard(t *testing.T) {
	a := map[string]struct{}{"x": {}, "y": {}, "z": {}, "w": {}}
	b := map[string]struct{}{"x": {}, "y": {}, "z": {}}
	assert.InDelta(t, 0.75, jaccard(a, b), 0.001)
	assert.Equal(t, 1.0, jaccard(nil, nil))
}

func TestDecide_ClassicOnly(t *testing.T) {
	evidence := []store.Evidence{
		{EvidenceType: TypeClassicDeviceClass, Weight: store.WeightConclusive, Source: "device_class_property"},
	}
	classification, reasoning := decide(evidence)
	assert.Equal(t, ClassClassic, classification)
	assert.Len(t, reasoning, 1)
}
