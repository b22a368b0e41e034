package store

import (
	"encoding/hex"
	"encoding/json"
)

// HexBytes marshals to a hex string instead of encoding/json's default
// base64, per §4.4: "Bytes values must be hex-encoded in any JSON export."
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = nil
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// DeviceExport is the JSON-export shape of a Device, with byte fields
// hex-encoded.
type DeviceExport struct {
	MAC              string         `json:"mac"`
	AddressType      string         `json:"address_type"`
	Name             string         `json:"name"`
	Appearance       int            `json:"appearance"`
	DeviceClass      int            `json:"device_class"`
	ManufacturerID   int            `json:"manufacturer_id"`
	ManufacturerData HexBytes       `json:"manufacturer_data"`
	RSSILast         int            `json:"rssi_last"`
	RSSIMin          int            `json:"rssi_min"`
	RSSIMax          int            `json:"rssi_max"`
	FirstSeen        string         `json:"first_seen"`
	LastSeen         string         `json:"last_seen"`
	Classification   Classification `json:"classification"`
	Notes            string         `json:"notes"`
}

// ToExport converts a Device to its hex-encoded JSON-export shape.
func (d *Device) ToExport() DeviceExport {
	return DeviceExport{
		MAC:              d.MAC,
		AddressType:      d.AddressType,
		Name:             d.Name,
		Appearance:       d.Appearance,
		DeviceClass:      d.DeviceClass,
		ManufacturerID:   d.ManufacturerID,
		ManufacturerData: HexBytes(d.ManufacturerData),
		RSSILast:         d.RSSILast,
		RSSIMin:          d.RSSIMin,
		RSSIMax:          d.RSSIMax,
		FirstSeen:        d.FirstSeen.Format(timeLayout),
		LastSeen:         d.LastSeen.Format(timeLayout),
		Classification:   d.Classification,
		Notes:            d.Notes,
	}
}

// HistoryRowExport is the JSON-export shape of a HistoryRow, value hex-encoded.
type HistoryRowExport struct {
	ServiceUUID        string            `json:"service_uuid"`
	CharacteristicUUID string            `json:"characteristic_uuid"`
	Timestamp          string            `json:"timestamp"`
	Sequence           int64             `json:"sequence"`
	Value              HexBytes          `json:"value"`
	Source             CharHistorySource `json:"source"`
}

// ToExport converts a HistoryRow to its hex-encoded JSON-export shape.
func (r *HistoryRow) ToExport() HistoryRowExport {
	return HistoryRowExport{
		ServiceUUID:        r.ServiceUUID,
		CharacteristicUUID: r.CharacteristicUUID,
		Timestamp:          r.Timestamp.Format(timeLayout),
		Sequence:           r.Sequence,
		Value:              HexBytes(r.Value),
		Source:             r.Source,
	}
}
