package store

import (
	"context"
	"strings"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// UpsertClassicServiceRecord stores one SDP record (§3, §4.7). Unique per
// (device, service uuid, handle); re-collection (e.g. a later --analyze
// pass) updates the row in place.
func (s *Store) UpsertClassicServiceRecord(ctx context.Context, rec ClassicServiceRecord) error {
	mac := normalizeMAC(rec.DeviceMAC)
	uuid := strings.ToLower(strings.TrimSpace(rec.ServiceUUID))

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_classic_service_record", err).WithDevice(mac)
	}
	if !exists {
		return bleeperr.New(bleeperr.UnknownObject, "upsert_classic_service_record", nil).WithDevice(mac)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO classic_service_records (
	device_id, service_uuid, rfcomm_channel, name, handle, profile_descriptors, service_version, description, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id, service_uuid, handle) DO UPDATE SET
	rfcomm_channel      = COALESCE(excluded.rfcomm_channel, classic_service_records.rfcomm_channel),
	name                = COALESCE(NULLIF(excluded.name, ''), classic_service_records.name),
	profile_descriptors = COALESCE(NULLIF(excluded.profile_descriptors, ''), classic_service_records.profile_descriptors),
	service_version     = COALESCE(NULLIF(excluded.service_version, ''), classic_service_records.service_version),
	description         = COALESCE(NULLIF(excluded.description, ''), classic_service_records.description),
	timestamp           = excluded.timestamp
`, id, uuid, rec.RFCOMMChannel, rec.Name, rec.Handle, rec.ProfileDescriptors, rec.ServiceVersion, rec.Description, ts.Format(timeLayout))
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_classic_service_record", err).WithDevice(mac).WithContext(uuid)
	}
	return nil
}

// ListClassicServiceRecords returns every SDP record on record for mac.
func (s *Store) ListClassicServiceRecords(ctx context.Context, mac string) ([]ClassicServiceRecord, error) {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_classic_service_records", err).WithDevice(mac)
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT service_uuid, rfcomm_channel, COALESCE(name,''), handle, COALESCE(profile_descriptors,''),
       COALESCE(service_version,''), COALESCE(description,''), timestamp
FROM classic_service_records WHERE device_id = ? ORDER BY service_uuid`, id)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_classic_service_records", err).WithDevice(mac)
	}
	defer rows.Close()

	var out []ClassicServiceRecord
	for rows.Next() {
		var r ClassicServiceRecord
		var ts string
		r.DeviceMAC = mac
		if err := rows.Scan(&r.ServiceUUID, &r.RFCOMMChannel, &r.Name, &r.Handle, &r.ProfileDescriptors,
			&r.ServiceVersion, &r.Description, &ts); err != nil {
			return nil, bleeperr.New(bleeperr.WriteConflict, "list_classic_service_records", err).WithDevice(mac)
		}
		r.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
