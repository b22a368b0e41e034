package store

import (
	"context"
	"strings"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// InsertCharHistory implements insert_char_history(mac, svc, chr, ts, value,
// source) (§4.4): append-only, committed synchronously so a crash never
// loses an acknowledged write. Characteristic history rows are never
// updated (§3's invariant) — this type has no corresponding Update.
func (s *Store) InsertCharHistory(ctx context.Context, mac, serviceUUID, charUUID string, ts time.Time, value []byte, source CharHistorySource) error {
	mac = normalizeMAC(mac)
	serviceUUID = strings.ToLower(strings.TrimSpace(serviceUUID))
	charUUID = strings.ToLower(strings.TrimSpace(charUUID))
	if source == "" {
		source = SourceUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_char_history", err).WithDevice(mac)
	}
	if !exists {
		return bleeperr.New(bleeperr.UnknownObject, "insert_char_history", nil).WithDevice(mac)
	}

	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence),0)+1 FROM characteristic_history WHERE device_id = ?`, id).Scan(&seq); err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_char_history", err).WithDevice(mac)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO characteristic_history (device_id, service_uuid, characteristic_uuid, timestamp, sequence, value, source)
VALUES (?, ?, ?, ?, ?, ?, ?)`, id, serviceUUID, charUUID, ts.UTC().Format(timeLayout), seq, value, string(source))
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_char_history", err).WithDevice(mac).WithContext(charUUID)
	}
	return nil
}

// ListCharHistory returns the append-only history for one characteristic, in
// insertion (sequence) order.
func (s *Store) ListCharHistory(ctx context.Context, mac, serviceUUID, charUUID string) ([]HistoryRow, error) {
	mac = normalizeMAC(mac)
	serviceUUID = strings.ToLower(strings.TrimSpace(serviceUUID))
	charUUID = strings.ToLower(strings.TrimSpace(charUUID))

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_char_history", err).WithDevice(mac)
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, sequence, value, source FROM characteristic_history
WHERE device_id = ? AND service_uuid = ? AND characteristic_uuid = ?
ORDER BY sequence ASC`, id, serviceUUID, charUUID)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_char_history", err).WithDevice(mac)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		var ts, src string
		r.DeviceMAC = mac
		r.ServiceUUID = serviceUUID
		r.CharacteristicUUID = charUUID
		if err := rows.Scan(&ts, &r.Sequence, &r.Value, &src); err != nil {
			return nil, bleeperr.New(bleeperr.WriteConflict, "list_char_history", err).WithDevice(mac)
		}
		r.Timestamp, _ = time.Parse(timeLayout, ts)
		r.Source = CharHistorySource(src)
		out = append(out, r)
	}
	return out, rows.Err()
}

// HistoryRow is one Characteristic History Row (§3).
type HistoryRow struct {
	DeviceMAC          string
	ServiceUUID        string
	CharacteristicUUID string
	Timestamp          time.Time
	Sequence           int64
	Value              []byte
	Source             CharHistorySource
}
