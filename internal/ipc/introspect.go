package ipc

import "encoding/xml"

// introspectNode mirrors the subset of the D-Bus introspection XML schema
// (org.freedesktop.DBus.Introspectable) this package needs: the interface
// names declared at a node.
type introspectNode struct {
	Interfaces []introspectInterface `xml:"interface"`
}

type introspectInterface struct {
	Name string `xml:"name,attr"`
}

// parseInterfaceNames extracts every <interface name="..."> from an
// introspection XML document, skipping the standard freedesktop
// introspection/properties/peer interfaces that every object implements.
func parseInterfaceNames(doc string) []string {
	var node introspectNode
	if err := xml.Unmarshal([]byte(doc), &node); err != nil {
		return nil
	}
	names := make([]string, 0, len(node.Interfaces))
	for _, iface := range node.Interfaces {
		switch iface.Name {
		case introspectableInterface, propertiesInterface, objectManagerInterface,
			"org.freedesktop.DBus.Peer":
			continue
		}
		if iface.Name == "" {
			continue
		}
		names = append(names, iface.Name)
	}
	return names
}
