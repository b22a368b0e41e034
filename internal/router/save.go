package router

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// saveEvent appends ev to act.SaveFile in act.SaveFormat, creating the file
// (and, for CSV, its header row) on first write.
func saveEvent(act Action, ev Event) error {
	if act.SaveFile == "" {
		return fmt.Errorf("router: save action has no file")
	}
	switch act.SaveFormat {
	case SaveJSON:
		return saveJSON(act.SaveFile, ev)
	default:
		return saveCSV(act.SaveFile, ev)
	}
}

type savedEvent struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	DeviceMAC   string `json:"device_mac"`
	ServiceUUID string `json:"service_uuid,omitempty"`
	CharUUID    string `json:"char_uuid,omitempty"`
	Property    string `json:"property,omitempty"`
	ValueHex    string `json:"value_hex,omitempty"`
	At          string `json:"at"`
}

func toSaved(ev Event) savedEvent {
	return savedEvent{
		Type:        string(ev.Type),
		Path:        ev.Path,
		DeviceMAC:   ev.DeviceMAC,
		ServiceUUID: ev.ServiceUUID,
		CharUUID:    ev.CharUUID,
		Property:    ev.Property,
		ValueHex:    hex.EncodeToString(ev.Value),
		At:          ev.At.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// saveJSON appends one JSON-lines record per event; a plain JSON array would
// require rewriting the whole file on every append.
func saveJSON(file string, ev Event) error {
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(toSaved(ev))
}

func saveCSV(file string, ev Event) error {
	_, err := os.Stat(file)
	newFile := os.IsNotExist(err)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if newFile {
		if err := w.Write([]string{"type", "path", "device_mac", "service_uuid", "char_uuid", "property", "value_hex", "at"}); err != nil {
			return err
		}
	}
	s := toSaved(ev)
	return w.Write([]string{s.Type, s.Path, s.DeviceMAC, s.ServiceUUID, s.CharUUID, s.Property, s.ValueHex, s.At})
}
