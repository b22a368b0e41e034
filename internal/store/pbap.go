package store

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// UpsertPbapPull records one completed phonebook pull's metadata row (§4.7).
// JobID is unique per pull attempt; retrying the same job (e.g. a
// watchdog-aborted pull retried by the caller) updates the row in place.
func (s *Store) UpsertPbapPull(ctx context.Context, p PbapPull) error {
	mac := normalizeMAC(p.DeviceMAC)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_pbap_pull", err).WithDevice(mac)
	}
	if !exists {
		return bleeperr.New(bleeperr.UnknownObject, "upsert_pbap_pull", nil).WithDevice(mac)
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO pbap_pulls (
	device_id, job_id, repository, vcard_format, entry_count, content_hash, dest_path, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	entry_count  = excluded.entry_count,
	content_hash = excluded.content_hash,
	dest_path    = excluded.dest_path,
	timestamp    = excluded.timestamp
`, id, p.JobID, p.Repository, p.VCardFormat, p.EntryCount, p.ContentHash, p.DestPath, ts.Format(timeLayout))
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_pbap_pull", err).WithDevice(mac).WithContext(p.JobID)
	}
	return nil
}

// ListPbapPulls returns every recorded phonebook pull for mac, most recent
// first.
func (s *Store) ListPbapPulls(ctx context.Context, mac string) ([]PbapPull, error) {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_pbap_pulls", err).WithDevice(mac)
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, repository, vcard_format, entry_count, content_hash, dest_path, timestamp
FROM pbap_pulls WHERE device_id = ? ORDER BY timestamp DESC`, id)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_pbap_pulls", err).WithDevice(mac)
	}
	defer rows.Close()

	var out []PbapPull
	for rows.Next() {
		var p PbapPull
		var ts string
		p.DeviceMAC = mac
		if err := rows.Scan(&p.JobID, &p.Repository, &p.VCardFormat, &p.EntryCount, &p.ContentHash, &p.DestPath, &ts); err != nil {
			return nil, bleeperr.New(bleeperr.WriteConflict, "list_pbap_pulls", err).WithDevice(mac)
		}
		p.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, p)
	}
	return out, rows.Err()
}
