package store

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// InsertConnectionEvent appends one device connection-state transition
// (§4.4, §4.8's default "store property-change for device connection state"
// route). Append-only like InsertAdv; ensures the owning device row exists
// first since a Connected PropertiesChanged can in principle race ahead of
// any other device write.
func (s *Store) InsertConnectionEvent(ctx context.Context, mac string, connected bool, ts time.Time) error {
	mac = normalizeMAC(mac)
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_connection_event", err).WithDevice(mac)
	}
	if !exists {
		now := ts.Format(timeLayout)
		res, err := s.db.ExecContext(ctx, `
INSERT INTO devices (mac, rssi_last, rssi_min, rssi_max, first_seen, last_seen, classification)
VALUES (?, 0, 0, 0, ?, ?, ?)`, mac, now, now, string(ClassificationUnknown))
		if err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "insert_connection_event", err).WithDevice(mac)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "insert_connection_event", err).WithDevice(mac)
		}
	}

	connectedInt := 0
	if connected {
		connectedInt = 1
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO connection_events (device_id, connected, timestamp) VALUES (?, ?, ?)`,
		id, connectedInt, ts.Format(timeLayout)); err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "insert_connection_event", err).WithDevice(mac)
	}
	return nil
}

// ConnectionEvent is one row from ListConnectionEvents.
type ConnectionEvent struct {
	ID        int64
	DeviceMAC string
	Connected bool
	Timestamp time.Time
}

// ListConnectionEvents returns every recorded connection-state transition
// for mac, oldest first.
func (s *Store) ListConnectionEvents(ctx context.Context, mac string) ([]ConnectionEvent, error) {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT ce.id, ce.connected, ce.timestamp
FROM connection_events ce
JOIN devices d ON d.id = ce.device_id
WHERE d.mac = ?
ORDER BY ce.timestamp ASC, ce.id ASC`, mac)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_connection_events", err).WithDevice(mac)
	}
	defer rows.Close()

	var out []ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		var connectedInt int
		var ts string
		if err := rows.Scan(&ev.ID, &connectedInt, &ts); err != nil {
			return nil, bleeperr.New(bleeperr.WriteConflict, "list_connection_events", err).WithDevice(mac)
		}
		ev.DeviceMAC = mac
		ev.Connected = connectedInt != 0
		ev.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}
