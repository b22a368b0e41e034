package gatt

import (
	"context"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/srg/bleep/internal/ipc"
)

const (
	gattServiceInterface        = "org.bluez.GattService1"
	gattCharacteristicInterface = "org.bluez.GattCharacteristic1"
	gattDescriptorInterface     = "org.bluez.GattDescriptor1"
)

// Resolve walks the object tree under the device's path, classifying
// children by interface into Service/Characteristic/Descriptor (§4.6) and
// cross-linking them by the parent-path properties BlueZ exposes (Device on
// GattService1, Service on GattCharacteristic1, Characteristic on
// GattDescriptor1) rather than by path-string prefix matching, since BlueZ
// does not guarantee path nesting depth.
func (d *Device) Resolve(ctx context.Context) (Mapping, error) {
	objs, err := d.pool.GetManagedObjects(ctx, ipc.BlueZService)
	if err != nil {
		return Mapping{}, err
	}

	services := map[dbus.ObjectPath]*Service{}
	var serviceOrder []dbus.ObjectPath
	charsByService := map[dbus.ObjectPath][]dbus.ObjectPath{}
	descsByChar := map[dbus.ObjectPath][]dbus.ObjectPath{}

	for path, ifaces := range objs {
		if props, ok := ifaces[gattServiceInterface]; ok {
			devPath, _ := props["Device"].Value().(dbus.ObjectPath)
			if devPath != d.path {
				continue
			}
			uuid, _ := props["UUID"].Value().(string)
			primary, _ := props["Primary"].Value().(bool)
			services[path] = &Service{UUID: strings.ToLower(uuid), Path: path, Primary: primary}
			serviceOrder = append(serviceOrder, path)
		}
	}

	for path, ifaces := range objs {
		props, ok := ifaces[gattCharacteristicInterface]
		if !ok {
			continue
		}
		svcPath, _ := props["Service"].Value().(dbus.ObjectPath)
		if _, ok := services[svcPath]; !ok {
			continue
		}
		charsByService[svcPath] = append(charsByService[svcPath], path)
	}

	for path, ifaces := range objs {
		props, ok := ifaces[gattDescriptorInterface]
		if !ok {
			continue
		}
		charPath, _ := props["Characteristic"].Value().(dbus.ObjectPath)
		descsByChar[charPath] = append(descsByChar[charPath], path)
	}

	sort.Slice(serviceOrder, func(i, j int) bool { return serviceOrder[i] < serviceOrder[j] })

	var out Mapping
	for _, svcPath := range serviceOrder {
		svc := services[svcPath]
		charPaths := charsByService[svcPath]
		sort.Slice(charPaths, func(i, j int) bool { return charPaths[i] < charPaths[j] })

		for _, cp := range charPaths {
			cprops := objs[cp][gattCharacteristicInterface]
			uuid, _ := cprops["UUID"].Value().(string)
			ch := Characteristic{
				UUID:   strings.ToLower(uuid),
				Path:   cp,
				Handle: intProperty(cprops, "Handle"),
				Flags:  stringSliceProperty(cprops, "Flags"),
			}

			descPaths := descsByChar[cp]
			sort.Slice(descPaths, func(i, j int) bool { return descPaths[i] < descPaths[j] })
			for _, dp := range descPaths {
				dprops := objs[dp][gattDescriptorInterface]
				duuid, _ := dprops["UUID"].Value().(string)
				ch.Descriptors = append(ch.Descriptors, Descriptor{UUID: strings.ToLower(duuid), Path: dp})
			}

			svc.Characteristics = append(svc.Characteristics, ch)
		}
		out.Services = append(out.Services, *svc)
	}
	return out, nil
}

func intProperty(props map[string]dbus.Variant, name string) int {
	v, ok := props[name]
	if !ok {
		return 0
	}
	switch n := v.Value().(type) {
	case uint16:
		return int(n)
	case int16:
		return int(n)
	case uint32:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	}
	return 0
}

func stringSliceProperty(props map[string]dbus.Variant, name string) []string {
	v, ok := props[name]
	if !ok {
		return nil
	}
	s, _ := v.Value().([]string)
	return s
}
