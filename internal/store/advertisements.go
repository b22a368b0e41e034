package store

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// InsertAdv implements insert_adv(mac, ts, rssi, raw, decoded) (§4.4):
// append-only, commits immediately. Ensures the owning device row exists
// (minimal upsert) before writing, since an advertisement report is always
// owned by a device. The sequence counter makes same-millisecond reports
// orderable per §5's ordering guarantee.
func (s *Store) InsertAdv(ctx context.Context, mac string, ts time.Time, rssi int, raw []byte, decoded string) error {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_adv", err).WithDevice(mac)
	}
	if !exists {
		now := ts.UTC().Format(timeLayout)
		res, err := s.db.ExecContext(ctx, `
INSERT INTO devices (mac, rssi_last, rssi_min, rssi_max, first_seen, last_seen, classification)
VALUES (?, ?, ?, ?, ?, ?, ?)`, mac, rssi, rssi, rssi, now, now, string(ClassificationUnknown))
		if err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "insert_adv", err).WithDevice(mac)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "insert_adv", err).WithDevice(mac)
		}
	} else {
		if _, err := s.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE id = ?`, ts.UTC().Format(timeLayout), id); err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "insert_adv", err).WithDevice(mac)
		}
	}

	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence),0)+1 FROM advertisement_reports WHERE device_id = ?`, id).Scan(&seq); err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_adv", err).WithDevice(mac)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO advertisement_reports (device_id, timestamp, sequence, rssi, raw, decoded)
VALUES (?, ?, ?, ?, ?, ?)`, id, ts.UTC().Format(timeLayout), seq, rssi, raw, decoded)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_adv", err).WithDevice(mac)
	}
	return nil
}

// ListAdvertisements returns every advertisement report for mac in
// insertion order, for reporting/export.
func (s *Store) ListAdvertisements(ctx context.Context, mac string) ([]AdvertisementReport, error) {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_advertisements", err).WithDevice(mac)
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, timestamp, sequence, COALESCE(rssi,0), raw, COALESCE(decoded,'')
FROM advertisement_reports WHERE device_id = ? ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_advertisements", err).WithDevice(mac)
	}
	defer rows.Close()

	var out []AdvertisementReport
	for rows.Next() {
		var r AdvertisementReport
		var ts string
		r.DeviceMAC = mac
		if err := rows.Scan(&r.ID, &ts, &r.Sequence, &r.RSSI, &r.Raw, &r.Decoded); err != nil {
			return nil, bleeperr.New(bleeperr.WriteConflict, "list_advertisements", err).WithDevice(mac)
		}
		r.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
