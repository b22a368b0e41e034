package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// Bond is one persisted pairing-agent bond record (§4.9), keyed by device.
type Bond struct {
	ID         int64
	DeviceMAC  string
	Capability string
	BondedAt   time.Time
}

// UpsertBond records (or refreshes) a device's bond after the pairing agent
// reaches Complete on a bondable capability profile.
func (s *Store) UpsertBond(ctx context.Context, mac, capability string, bondedAt time.Time) error {
	mac = normalizeMAC(mac)
	if bondedAt.IsZero() {
		bondedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_bond", err).WithDevice(mac)
	}
	if !exists {
		return bleeperr.New(bleeperr.UnknownObject, "upsert_bond", nil).WithDevice(mac)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO bonds (device_id, capability, bonded_at) VALUES (?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET capability = excluded.capability, bonded_at = excluded.bonded_at
`, id, capability, bondedAt.Format(timeLayout))
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_bond", err).WithDevice(mac)
	}
	return nil
}

// GetBond returns the bond record for mac, nil if unbonded.
func (s *Store) GetBond(ctx context.Context, mac string) (*Bond, error) {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
SELECT b.capability, b.bonded_at
FROM bonds b
JOIN devices d ON d.id = b.device_id
WHERE d.mac = ?`, mac)

	var capability, bondedAt string
	if err := row.Scan(&capability, &bondedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, bleeperr.New(bleeperr.WriteConflict, "get_bond", err).WithDevice(mac)
	}
	b := &Bond{DeviceMAC: mac, Capability: capability}
	b.BondedAt, _ = time.Parse(timeLayout, bondedAt)
	return b, nil
}

// DeleteBond removes a device's bond record (e.g. on RemoveDevice/unpair).
func (s *Store) DeleteBond(ctx context.Context, mac string) error {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "delete_bond", err).WithDevice(mac)
	}
	if !exists {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bonds WHERE device_id = ?`, id); err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "delete_bond", err).WithDevice(mac)
	}
	return nil
}
