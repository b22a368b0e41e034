package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observations.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

func TestUpsertDevice_CreatesRowWithFirstAndLastSeenEqual(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDevice(ctx, "AA:BB:CC:DD:EE:FF", DeviceAttrs{RSSI: intPtr(-40)}))

	d, err := s.GetDevice(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", d.MAC)
	assert.Equal(t, d.FirstSeen, d.LastSeen)
	assert.Equal(t, ClassificationUnknown, d.Classification)
}

func TestUpsertDevice_FirstSeenNeverAdvancesLastSeenAlwaysDoes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "11:22:33:44:55:66"

	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{}))
	first, err := s.GetDevice(ctx, mac)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{Name: strPtr("widget")}))
	second, err := s.GetDevice(ctx, mac)
	require.NoError(t, err)

	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.True(t, second.LastSeen.After(first.LastSeen) || second.LastSeen.Equal(first.LastSeen))
	assert.Equal(t, "widget", second.Name)
}

func TestUpsertDevice_ClassificationOnlyAdvancesOnStrongerEvidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "aa:aa:aa:aa:aa:aa"

	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{Classification: ClassificationLE}))
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{Classification: ClassificationUnknown}))

	d, err := s.GetDevice(ctx, mac)
	require.NoError(t, err)
	assert.Equal(t, ClassificationLE, d.Classification, "weaker classification must not overwrite a stronger one")

	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{Classification: ClassificationDual}))
	d, err = s.GetDevice(ctx, mac)
	require.NoError(t, err)
	assert.Equal(t, ClassificationDual, d.Classification)
}

func TestInsertAdv_AppendOnlyWithMonotoneSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "bb:bb:bb:bb:bb:bb"
	now := time.Now().UTC()

	require.NoError(t, s.InsertAdv(ctx, mac, now, -50, []byte{0x01, 0x02}, `{}`))
	require.NoError(t, s.InsertAdv(ctx, mac, now, -48, []byte{0x03}, `{}`))

	reports, err := s.ListAdvertisements(ctx, mac)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, int64(1), reports[0].Sequence)
	assert.Equal(t, int64(2), reports[1].Sequence)
}

func TestInsertAdv_CreatesMinimalDeviceRowWhenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "cc:cc:cc:cc:cc:cc"

	require.NoError(t, s.InsertAdv(ctx, mac, time.Now(), -60, nil, ""))

	d, err := s.GetDevice(ctx, mac)
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestUpsertServices_CreatedOnFirstResolutionUpdatedInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "dd:dd:dd:dd:dd:dd"
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{}))

	require.NoError(t, s.UpsertServices(ctx, mac, []ServiceInput{{UUID: "180F", Name: "Battery"}}))
	require.NoError(t, s.UpsertServices(ctx, mac, []ServiceInput{{UUID: "180f", HandleStart: intPtr(1)}}))

	var gotName string
	var gotHandle int
	err := s.db.QueryRowContext(ctx, `SELECT name, handle_start FROM gatt_services WHERE device_id = (SELECT id FROM devices WHERE mac = ?)`, mac).
		Scan(&gotName, &gotHandle)
	require.NoError(t, err)
	assert.Equal(t, "Battery", gotName, "case-insensitive UUID reconciliation must update the same row")
	assert.Equal(t, 1, gotHandle)
}

func TestUpsertCharacteristics_ConvertsHexHandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "ee:ee:ee:ee:ee:ee"
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{}))
	require.NoError(t, s.UpsertServices(ctx, mac, []ServiceInput{{UUID: "180f"}}))

	require.NoError(t, s.UpsertCharacteristics(ctx, mac, "180f", []CharacteristicInput{
		{UUID: "2A19", HandleHex: "0x002a", Flags: []string{"read", "notify"}},
	}))

	var handle int
	var flags string
	err := s.db.QueryRowContext(ctx, `SELECT handle, flags FROM gatt_characteristics WHERE uuid = ?`, "2a19").
		Scan(&handle, &flags)
	require.NoError(t, err)
	assert.Equal(t, 0x2a, handle)
	assert.Equal(t, "read,notify", flags)
}

func TestInsertCharHistory_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "ff:ff:ff:ff:ff:ff"
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{}))

	now := time.Now()
	require.NoError(t, s.InsertCharHistory(ctx, mac, "180f", "2a19", now, []byte{0x64}, SourceRead))
	require.NoError(t, s.InsertCharHistory(ctx, mac, "180f", "2a19", now, []byte{0x63}, SourceNotification))

	rows, err := s.ListCharHistory(ctx, mac, "180f", "2a19")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].Sequence)
	assert.Equal(t, int64(2), rows[1].Sequence)
	assert.Equal(t, SourceRead, rows[0].Source)
	assert.Equal(t, SourceNotification, rows[1].Source)
}

func TestStoreDeviceTypeEvidence_UpsertsByUniqueKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "01:02:03:04:05:06"
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{}))

	require.NoError(t, s.StoreDeviceTypeEvidence(ctx, mac, "LE_GATT_SERVICES", WeightStrong, "gatt", "", "", time.Now()))
	require.NoError(t, s.StoreDeviceTypeEvidence(ctx, mac, "LE_GATT_SERVICES", WeightConclusive, "gatt", "updated", "", time.Now()))

	evidence, err := s.ListEvidence(ctx, mac)
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Equal(t, WeightConclusive, evidence[0].Weight)
	assert.Equal(t, "updated", evidence[0].Value)
}

func TestGetDeviceEvidenceSignature_StableAcrossCollectionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "02:02:02:02:02:02"
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{}))

	require.NoError(t, s.StoreDeviceTypeEvidence(ctx, mac, "LE_ADVERTISING_DATA", WeightWeak, "adv", "", "", time.Now()))
	require.NoError(t, s.StoreDeviceTypeEvidence(ctx, mac, "LE_SERVICE_UUIDS", WeightStrong, "uuids", "", "", time.Now()))
	sigA, err := s.GetDeviceEvidenceSignature(ctx, mac)
	require.NoError(t, err)

	mac2 := "03:03:03:03:03:03"
	require.NoError(t, s.UpsertDevice(ctx, mac2, DeviceAttrs{}))
	require.NoError(t, s.StoreDeviceTypeEvidence(ctx, mac2, "LE_SERVICE_UUIDS", WeightStrong, "uuids", "", "", time.Now()))
	require.NoError(t, s.StoreDeviceTypeEvidence(ctx, mac2, "LE_ADVERTISING_DATA", WeightWeak, "adv", "", "", time.Now()))
	sigB, err := s.GetDeviceEvidenceSignature(ctx, mac2)
	require.NoError(t, err)

	assert.Equal(t, sigA, sigB, "signature must not depend on collection order")
}

func TestDeviceExport_HexEncodesByteFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := "04:04:04:04:04:04"
	require.NoError(t, s.UpsertDevice(ctx, mac, DeviceAttrs{ManufacturerData: []byte{0xde, 0xad, 0xbe, 0xef}}))

	d, err := s.GetDevice(ctx, mac)
	require.NoError(t, err)
	exp := d.ToExport()

	data, err := json.Marshal(exp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"deadbeef"`)
}

func strPtr(v string) *string { return &v }
