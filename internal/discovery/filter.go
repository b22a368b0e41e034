package discovery

import "github.com/godbus/dbus/v5"

// Transport is the BlueZ discovery-filter transport selector.
type Transport string

const (
	TransportLE    Transport = "le"
	TransportBREDR Transport = "bredr"
	TransportAuto  Transport = "auto"
)

// Filter is the discovery filter accepted by SetDiscoveryFilter (§4.5): a
// UUID allowlist, signal-strength bounds, transport, and duplicate policy.
type Filter struct {
	UUIDs         []string
	MinRSSI       *int16
	MaxPathloss   *uint16
	Transport     Transport
	DuplicateData bool
}

// ToVariantMap renders the filter as the property dictionary
// org.bluez.Adapter1.SetDiscoveryFilter expects. Zero-value fields are
// omitted so BlueZ's own defaults apply.
func (f Filter) ToVariantMap() map[string]dbus.Variant {
	m := map[string]dbus.Variant{}
	if len(f.UUIDs) > 0 {
		m["UUIDs"] = dbus.MakeVariant(f.UUIDs)
	}
	if f.MinRSSI != nil {
		m["RSSI"] = dbus.MakeVariant(*f.MinRSSI)
	}
	if f.MaxPathloss != nil {
		m["Pathloss"] = dbus.MakeVariant(*f.MaxPathloss)
	}
	if f.Transport != "" {
		m["Transport"] = dbus.MakeVariant(string(f.Transport))
	}
	m["DuplicateData"] = dbus.MakeVariant(f.DuplicateData)
	return m
}
