package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/srg/bleep/internal/bleeperr"
)

// UpsertServices implements upsert_services(mac, list) (§4.4): services are
// created on first resolution and updated in place on re-enumeration,
// unique per (device, uuid) case-insensitively (NOCASE collation on the
// uuid column handles the reconciliation).
func (s *Store) UpsertServices(ctx context.Context, mac string, services []ServiceInput) error {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_services", err).WithDevice(mac)
	}
	if !exists {
		return bleeperr.New(bleeperr.UnknownObject, "upsert_services", nil).WithDevice(mac)
	}

	for _, svc := range services {
		uuid := strings.ToLower(strings.TrimSpace(svc.UUID))
		if uuid == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
INSERT INTO gatt_services (device_id, uuid, handle_start, handle_end, name)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(device_id, uuid) DO UPDATE SET
	handle_start = COALESCE(excluded.handle_start, gatt_services.handle_start),
	handle_end   = COALESCE(excluded.handle_end, gatt_services.handle_end),
	name         = COALESCE(NULLIF(excluded.name, ''), gatt_services.name)
`, id, uuid, svc.HandleStart, svc.HandleEnd, svc.Name)
		if err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "upsert_services", err).WithDevice(mac).WithContext(uuid)
		}
	}
	return nil
}

func (s *Store) serviceID(ctx context.Context, deviceID int64, uuid string) (int64, bool, error) {
	uuid = strings.ToLower(strings.TrimSpace(uuid))
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM gatt_services WHERE device_id = ? AND uuid = ?`, deviceID, uuid).Scan(&id)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// parseHandle converts a hex string (as the GATT engine reads handles off
// the bus, e.g. "0x002a") to an integer. Empty or malformed input yields
// (0, false) rather than an error: a missing handle is not fatal to an
// otherwise-valid characteristic row.
func parseHandle(hex string) (int, bool) {
	hex = strings.TrimSpace(hex)
	hex = strings.TrimPrefix(strings.ToLower(hex), "0x")
	if hex == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// UpsertCharacteristics implements upsert_characteristics(service_id, list)
// (§4.4): case-insensitive key reconciliation against the enumerator's
// possibly-varying input shapes, with hex-string-to-integer handle
// conversion, committed once per batch.
func (s *Store) UpsertCharacteristics(ctx context.Context, mac, serviceUUID string, chars []CharacteristicInput) error {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_characteristics", err).WithDevice(mac)
	}
	if !exists {
		return bleeperr.New(bleeperr.UnknownObject, "upsert_characteristics", nil).WithDevice(mac)
	}
	serviceID, ok, _ := s.serviceID(ctx, deviceID, serviceUUID)
	if !ok {
		return bleeperr.New(bleeperr.UnknownObject, "upsert_characteristics", nil).WithDevice(mac).WithContext(serviceUUID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_characteristics", err).WithDevice(mac)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chars {
		uuid := strings.ToLower(strings.TrimSpace(c.UUID))
		if uuid == "" {
			continue
		}
		handle, _ := parseHandle(c.HandleHex)
		flags := strings.Join(c.Flags, ",")

		var handleArg interface{}
		if handle != 0 {
			handleArg = handle
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO gatt_characteristics (service_id, uuid, handle, flags, last_value, permissions)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(service_id, uuid) DO UPDATE SET
	handle      = COALESCE(excluded.handle, gatt_characteristics.handle),
	flags       = COALESCE(NULLIF(excluded.flags, ''), gatt_characteristics.flags),
	last_value  = COALESCE(excluded.last_value, gatt_characteristics.last_value),
	permissions = COALESCE(NULLIF(excluded.permissions, ''), gatt_characteristics.permissions)
`, serviceID, uuid, handleArg, flags, nullBytes(c.LastValue), c.Permissions)
		if err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "upsert_characteristics", err).WithDevice(mac).WithContext(uuid)
		}
	}
	if err := tx.Commit(); err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_characteristics", err).WithDevice(mac)
	}
	return nil
}
