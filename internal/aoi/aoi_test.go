package aoi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/classic"
	"github.com/srg/bleep/internal/classify"
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

const testMAC = "AA:BB:CC:DD:EE:FF"

func TestAggregator_Build_CollectsFindingsAcrossAnalyzers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, testMAC, store.DeviceAttrs{}))
	require.NoError(t, st.UpsertBond(ctx, testMAC, "NoInputNoOutput", time.Now()))
	require.NoError(t, st.StoreDeviceTypeEvidence(ctx, testMAC, classify.TypeLEAddressTypeRandom, store.WeightConclusive, "address_type_property", "random", "", time.Now()))
	require.NoError(t, st.StoreDeviceTypeEvidence(ctx, testMAC, classify.TypeLEAddressTypePublic, store.WeightInconclusive, "address_type_property", "public", "", time.Now()))

	landmines := gatt.LandmineMap{"0000FFE1-0000-1000-8000-00805f9b34fb": struct{}{}}
	perms := gatt.PermissionMap{}
	perms.Record("0000FFE1-0000-1000-8000-00805f9b34fb", gatt.OpRead, "not_authorized")
	perms.Record("0000FFE1-0000-1000-8000-00805f9b34fb", gatt.OpWrite, "not_permitted")

	a := New(st)
	snap, err := a.Build(ctx, testMAC, Inputs{
		Landmines:   landmines,
		Permissions: perms,
	})
	require.NoError(t, err)

	var categories []Category
	for _, f := range snap.Findings {
		categories = append(categories, f.Category)
	}
	assert.Contains(t, categories, CategoryLandmine)
	assert.Contains(t, categories, CategoryPermissionWall)
	assert.Contains(t, categories, CategoryEvidenceConflict)
	assert.Contains(t, categories, CategoryPairingWeakness)
}

func TestAggregator_Build_SDPRecordsDoNotErrorWithoutAnomalies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, testMAC, store.DeviceAttrs{}))

	records := []classic.Record{
		{UUID: "110b", ProfileDescriptors: []classic.ProfileDescriptor{{UUID: "110b", Version: "1.0"}}},
	}

	a := New(st)
	snap, err := a.Build(ctx, testMAC, Inputs{SDPRecords: records})
	require.NoError(t, err)
	for _, f := range snap.Findings {
		assert.NotEqual(t, CategorySDPAnomaly, f.Category)
	}
}

func TestSnapshot_HighestSeverity(t *testing.T) {
	snap := Snapshot{Findings: []Finding{
		{Severity: SeverityLow},
		{Severity: SeverityHigh},
		{Severity: SeverityInfo},
	}}
	assert.Equal(t, SeverityHigh, snap.HighestSeverity())
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	snap := Snapshot{
		DeviceMAC:      testMAC,
		GeneratedAt:    time.Now().UTC().Truncate(time.Second),
		Classification: "dual",
		Findings: []Finding{
			{Category: CategoryLandmine, Severity: SeverityMedium, Description: "test"},
		},
	}
	require.NoError(t, Save(dir, snap))

	loaded, err := Load(dir, testMAC)
	require.NoError(t, err)
	assert.Equal(t, snap.DeviceMAC, loaded.DeviceMAC)
	assert.Equal(t, snap.Classification, loaded.Classification)
	assert.Len(t, loaded.Findings, 1)
}
