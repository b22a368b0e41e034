package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

const timeLayout = time.RFC3339Nano

// UpsertDevice implements upsert_device(mac, attrs) (§4.4): first_seen is set
// only on the row's creation, last_seen always advances to now, and
// classification is only ever overwritten with a strictly stronger one
// (§3's invariant that first_seen is monotone and last_seen only advances).
func (s *Store) UpsertDevice(ctx context.Context, mac string, attrs DeviceAttrs) error {
	mac = normalizeMAC(mac)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_device", err).WithDevice(mac)
	}

	if !exists {
		classification := attrs.Classification
		if classification == "" {
			classification = ClassificationUnknown
		}
		_, err := s.db.ExecContext(ctx, `
INSERT INTO devices (
	mac, address_type, name, appearance, device_class, manufacturer_id,
	manufacturer_data, rssi_last, rssi_min, rssi_max, first_seen, last_seen, classification, notes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mac,
			derefStr(attrs.AddressType),
			derefStr(attrs.Name),
			derefInt(attrs.Appearance),
			derefInt(attrs.DeviceClass),
			derefInt(attrs.ManufacturerID),
			nullBytes(attrs.ManufacturerData),
			derefInt(attrs.RSSI),
			derefInt(attrs.RSSI),
			derefInt(attrs.RSSI),
			now.Format(timeLayout),
			now.Format(timeLayout),
			string(classification),
			derefStr(attrs.Notes),
		)
		if err != nil {
			return bleeperr.New(bleeperr.WriteConflict, "upsert_device", err).WithDevice(mac)
		}
		return nil
	}

	return s.updateDevice(ctx, id, mac, now, attrs)
}

func (s *Store) updateDevice(ctx context.Context, id int64, mac string, now time.Time, attrs DeviceAttrs) error {
	var existingClass string
	var rssiMin, rssiMax sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT classification, rssi_min, rssi_max FROM devices WHERE id = ?`, id).
		Scan(&existingClass, &rssiMin, &rssiMax)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_device", err).WithDevice(mac)
	}

	fields := []string{"last_seen = ?"}
	args := []interface{}{now.Format(timeLayout)}

	if attrs.AddressType != nil {
		fields = append(fields, "address_type = ?")
		args = append(args, *attrs.AddressType)
	}
	if attrs.Name != nil {
		fields = append(fields, "name = ?")
		args = append(args, *attrs.Name)
	}
	if attrs.Appearance != nil {
		fields = append(fields, "appearance = ?")
		args = append(args, *attrs.Appearance)
	}
	if attrs.DeviceClass != nil {
		fields = append(fields, "device_class = ?")
		args = append(args, *attrs.DeviceClass)
	}
	if attrs.ManufacturerID != nil {
		fields = append(fields, "manufacturer_id = ?")
		args = append(args, *attrs.ManufacturerID)
	}
	if attrs.ManufacturerData != nil {
		fields = append(fields, "manufacturer_data = ?")
		args = append(args, attrs.ManufacturerData)
	}
	if attrs.RSSI != nil {
		fields = append(fields, "rssi_last = ?")
		args = append(args, *attrs.RSSI)
		if !rssiMin.Valid || int64(*attrs.RSSI) < rssiMin.Int64 {
			fields = append(fields, "rssi_min = ?")
			args = append(args, *attrs.RSSI)
		}
		if !rssiMax.Valid || int64(*attrs.RSSI) > rssiMax.Int64 {
			fields = append(fields, "rssi_max = ?")
			args = append(args, *attrs.RSSI)
		}
	}
	if attrs.Notes != nil {
		fields = append(fields, "notes = ?")
		args = append(args, *attrs.Notes)
	}
	if attrs.Classification != "" && classificationRank(attrs.Classification) > classificationRank(Classification(existingClass)) {
		fields = append(fields, "classification = ?")
		args = append(args, string(attrs.Classification))
	}

	q := "UPDATE devices SET " + joinSet(fields) + " WHERE id = ?"
	args = append(args, id)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "upsert_device", err).WithDevice(mac)
	}
	return nil
}

// GetDevice returns the current row for mac, or (nil, nil) if unknown.
func (s *Store) GetDevice(ctx context.Context, mac string) (*Device, error) {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
SELECT id, mac, COALESCE(address_type,''), COALESCE(name,''), COALESCE(appearance,0), COALESCE(device_class,0),
       COALESCE(manufacturer_id,0), manufacturer_data, COALESCE(rssi_last,0), COALESCE(rssi_min,0), COALESCE(rssi_max,0),
       first_seen, last_seen, classification, COALESCE(notes,'')
FROM devices WHERE mac = ?`, mac)

	var d Device
	var firstSeen, lastSeen string
	var classification string
	var manufacturerData []byte
	if err := row.Scan(&d.ID, &d.MAC, &d.AddressType, &d.Name, &d.Appearance, &d.DeviceClass,
		&d.ManufacturerID, &manufacturerData, &d.RSSILast, &d.RSSIMin, &d.RSSIMax,
		&firstSeen, &lastSeen, &classification, &d.Notes); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, bleeperr.New(bleeperr.WriteConflict, "get_device", err).WithDevice(mac)
	}
	d.ManufacturerData = manufacturerData
	d.Classification = Classification(classification)
	d.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
	d.LastSeen, _ = time.Parse(timeLayout, lastSeen)
	return &d, nil
}

func derefStr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func derefInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullBytes(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

func joinSet(fields []string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += ", " + f
	}
	return out
}
