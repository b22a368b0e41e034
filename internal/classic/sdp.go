// Package classic is the Classic/SDP/OBEX/PBAP component (§4.7): SDP record
// collection and analysis, a generic RFCOMM dialer, and PBAP phonebook
// pulls over OBEX.
//
// No example repo in the retrieval pack talks Bluetooth Classic (the
// teacher, srgg-blecli, is BLE-only), so this package is grounded directly
// on pible's dbus call conventions (method/property access through
// internal/ipc's pooled proxies, the same way internal/discovery and
// internal/gatt already do) plus the ObexClient1/PhonebookAccess1 interface
// shapes named in the core's external-interface contract.
package classic

import (
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/srg/bleep/internal/bledb"
	"github.com/srg/bleep/internal/bleeperr"
	"github.com/srg/bleep/internal/ipc"
)

const deviceInterface = "org.bluez.Device1"

// SDP attribute IDs this package understands (Bluetooth Assigned Numbers).
const (
	attrServiceRecordHandle            = 0x0000
	attrServiceClassIDList             = 0x0001
	attrProtocolDescriptorList         = 0x0004
	attrBluetoothProfileDescriptorList = 0x0009
	attrServiceName                    = 0x0100
	attrServiceDescription             = 0x0101
	attrServiceVersion                 = 0x0200
)

// rfcommUUID is the Bluetooth SIG base RFCOMM protocol UUID (0x0003),
// normalized to the short form bledb.NormalizeUUID returns for any base-UUID
// input.
const rfcommUUID = "0003"

// ProfileDescriptor is one (UUID, version) pair from a service's
// BluetoothProfileDescriptorList.
type ProfileDescriptor struct {
	UUID    string
	Version string // "major.minor"
}

// Record is one SDP service record, normalized from its raw binary form
// (§4.7).
type Record struct {
	UUID               string
	RFCOMMChannel      *int
	Name               string
	Handle             *int
	ProfileDescriptors []ProfileDescriptor
	ServiceVersion     string
	Description        string
}

// PreCheck runs a connectionless reachability ping before attempting SDP
// (§4.7): up to attempts pings (default 3), aborting early with a typed
// error if none succeed within the cap (default 13s). SDP itself does not
// require a full connection, so this only gates against a clearly
// unreachable device; it does not establish one.
func PreCheck(ctx context.Context, mac string, attempts int, cap time.Duration) error {
	if attempts <= 0 {
		attempts = 3
	}
	if cap <= 0 {
		cap = 13 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, cap)
	defer cancel()

	var lastErr error
	for i := 0; i < attempts; i++ {
		cmd := exec.CommandContext(cctx, "l2ping", "-c", "1", mac)
		if err := cmd.Run(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-cctx.Done():
			return bleeperr.New(bleeperr.DeviceUnreachable, "sdp_precheck", cctx.Err()).WithDevice(mac)
		default:
		}
	}
	return bleeperr.New(bleeperr.DeviceUnreachable, "sdp_precheck", lastErr).WithDevice(mac)
}

// FullSDP performs full SDP enumeration via the device's GetServiceRecords
// method, returning typed Records. When BlueZ's native call produces
// nothing (older versions expose no such method, or the device returns an
// empty set), FallbackSDPTool parses an external SDP tool's textual output
// instead (§4.7).
func FullSDP(ctx context.Context, pool *ipc.Pool, devicePath dbus.ObjectPath, mac string) ([]Record, error) {
	p, err := pool.GetProxy(ctx, ipc.BlueZService, devicePath, deviceInterface)
	if err != nil {
		return nil, err
	}

	var raw [][]byte
	call := p.Call(ctx, "GetServiceRecords")
	if call.Err == nil {
		if err := call.Store(&raw); err == nil && len(raw) > 0 {
			return decodeRecords(raw)
		}
	}

	return FallbackSDPTool(ctx, mac)
}

func decodeRecords(raw [][]byte) ([]Record, error) {
	records := make([]Record, 0, len(raw))
	for _, b := range raw {
		rec, err := decodeRecord(b)
		if err != nil {
			continue // a single malformed record shouldn't abort the whole scan
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeRecord parses one SDP service record: a top-level Data Element
// Sequence of alternating (uint16 attribute ID, value element) pairs.
func decodeRecord(b []byte) (Record, error) {
	el, _, err := decodeElement(b)
	if err != nil {
		return Record{}, err
	}
	if el.kind != elemSequence {
		return Record{}, fmt.Errorf("sdp record: expected top-level sequence")
	}

	attrs := map[uint16]element{}
	for i := 0; i+1 < len(el.seq); i += 2 {
		idEl := el.seq[i]
		if idEl.kind != elemUint {
			continue
		}
		attrs[uint16(idEl.uintVal)] = el.seq[i+1]
	}

	var rec Record
	if idEl, ok := attrs[attrServiceClassIDList]; ok && len(idEl.seq) > 0 && idEl.seq[0].kind == elemUUID {
		rec.UUID = idEl.seq[0].strVal
	}
	if h, ok := attrs[attrServiceRecordHandle]; ok {
		v := int(h.uintVal)
		rec.Handle = &v
	}
	if n, ok := attrs[attrServiceName]; ok {
		rec.Name = n.strVal
	}
	if d, ok := attrs[attrServiceDescription]; ok {
		rec.Description = d.strVal
	}
	if v, ok := attrs[attrServiceVersion]; ok {
		rec.ServiceVersion = formatVersion(uint16(v.uintVal))
	}

	if pdl, ok := attrs[attrProtocolDescriptorList]; ok {
		rec.RFCOMMChannel = extractRFCOMMChannel(pdl)
	}
	if pfl, ok := attrs[attrBluetoothProfileDescriptorList]; ok {
		rec.ProfileDescriptors = extractProfileDescriptors(pfl)
	}

	return rec, nil
}

func extractRFCOMMChannel(protocolList element) *int {
	for _, proto := range protocolList.seq {
		if len(proto.seq) == 0 || proto.seq[0].kind != elemUUID {
			continue
		}
		if bledb.NormalizeUUID(proto.seq[0].strVal) != rfcommUUID {
			continue
		}
		if len(proto.seq) > 1 && proto.seq[1].kind == elemUint {
			ch := int(proto.seq[1].uintVal)
			return &ch
		}
	}
	return nil
}

func extractProfileDescriptors(profileList element) []ProfileDescriptor {
	var out []ProfileDescriptor
	for _, profile := range profileList.seq {
		if len(profile.seq) < 2 || profile.seq[0].kind != elemUUID {
			continue
		}
		out = append(out, ProfileDescriptor{
			UUID:    profile.seq[0].strVal,
			Version: formatVersion(uint16(profile.seq[1].uintVal)),
		})
	}
	return out
}

func formatVersion(v uint16) string {
	return fmt.Sprintf("%d.%d", v>>8, v&0xFF)
}

// FallbackSDPTool parses the textual output of `sdptool records <mac>` when
// native SDP produces nothing (§4.7's stated fallback path).
func FallbackSDPTool(ctx context.Context, mac string) ([]Record, error) {
	cmd := exec.CommandContext(ctx, "sdptool", "records", mac)
	out, err := cmd.Output()
	if err != nil {
		return nil, bleeperr.New(bleeperr.DeviceUnreachable, "sdp_fallback", err).WithDevice(mac)
	}
	return parseSdptoolOutput(string(out)), nil
}

func parseSdptoolOutput(text string) []Record {
	var records []Record
	var cur *Record

	flush := func() {
		if cur != nil {
			records = append(records, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Service Name:"):
			flush()
			cur = &Record{Name: strings.TrimSpace(strings.TrimPrefix(line, "Service Name:"))}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "Service Description:"):
			cur.Description = strings.TrimSpace(strings.TrimPrefix(line, "Service Description:"))
		case strings.HasPrefix(line, "Service RecHandle:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "Service RecHandle:"))
			if n, err := strconv.ParseInt(strings.TrimPrefix(v, "0x"), 16, 64); err == nil {
				h := int(n)
				cur.Handle = &h
			}
		case strings.HasPrefix(line, "Channel:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "Channel:"))
			if n, err := strconv.Atoi(v); err == nil {
				cur.RFCOMMChannel = &n
			}
		}
	}
	flush()
	return records
}

// element is one decoded SDP Data Element.
type elementKind int

const (
	elemNil elementKind = iota
	elemUint
	elemInt
	elemUUID
	elemString
	elemBool
	elemSequence
	elemAlternative
	elemURL
)

type element struct {
	kind    elementKind
	uintVal uint64
	strVal  string
	seq     []element
}

// decodeElement decodes one Data Element (type/size header, §5.2 of the SDP
// binary transport format) and returns it plus the number of bytes
// consumed.
func decodeElement(b []byte) (element, int, error) {
	if len(b) < 1 {
		return element{}, 0, fmt.Errorf("sdp: empty element")
	}
	header := b[0]
	typ := header >> 3
	sizeIdx := header & 0x07

	var size int
	var headerLen int
	switch {
	case typ == 0: // nil, always size index 0
		return element{kind: elemNil}, 1, nil
	case sizeIdx <= 4:
		size = 1 << sizeIdx
		headerLen = 1
	case sizeIdx == 5:
		if len(b) < 2 {
			return element{}, 0, fmt.Errorf("sdp: truncated 1-byte length")
		}
		size = int(b[1])
		headerLen = 2
	case sizeIdx == 6:
		if len(b) < 3 {
			return element{}, 0, fmt.Errorf("sdp: truncated 2-byte length")
		}
		size = int(binary.BigEndian.Uint16(b[1:3]))
		headerLen = 3
	case sizeIdx == 7:
		if len(b) < 5 {
			return element{}, 0, fmt.Errorf("sdp: truncated 4-byte length")
		}
		size = int(binary.BigEndian.Uint32(b[1:5]))
		headerLen = 5
	}
	end := headerLen + size
	if end > len(b) {
		return element{}, 0, fmt.Errorf("sdp: element overruns buffer")
	}
	payload := b[headerLen:end]

	switch typ {
	case 1: // unsigned int
		return element{kind: elemUint, uintVal: decodeUint(payload)}, end, nil
	case 2: // signed int — stored as uint64 of the raw bits, sign handling left to callers
		return element{kind: elemInt, uintVal: decodeUint(payload)}, end, nil
	case 3: // UUID
		return element{kind: elemUUID, strVal: decodeUUID(payload)}, end, nil
	case 4: // text string
		return element{kind: elemString, strVal: string(payload)}, end, nil
	case 5: // boolean
		return element{kind: elemBool, uintVal: uint64(payload[0])}, end, nil
	case 6, 7: // sequence, alternative
		kind := elemSequence
		if typ == 7 {
			kind = elemAlternative
		}
		children, err := decodeSequence(payload)
		if err != nil {
			return element{}, 0, err
		}
		return element{kind: kind, seq: children}, end, nil
	case 8: // URL
		return element{kind: elemURL, strVal: string(payload)}, end, nil
	}
	return element{}, 0, fmt.Errorf("sdp: unknown element type %d", typ)
}

func decodeSequence(b []byte) ([]element, error) {
	var out []element
	for len(b) > 0 {
		el, n, err := decodeElement(b)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
		b = b[n:]
	}
	return out, nil
}

func decodeUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func decodeUUID(b []byte) string {
	switch len(b) {
	case 2:
		return bledb.NormalizeUUID(fmt.Sprintf("%04x", binary.BigEndian.Uint16(b)))
	case 4:
		return bledb.NormalizeUUID(fmt.Sprintf("%08x", binary.BigEndian.Uint32(b)))
	case 16:
		return bledb.NormalizeUUID(fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]))
	default:
		return fmt.Sprintf("%x", b)
	}
}

// sortedProfileNames returns profile UUIDs in a deterministic order, for
// analysis output that needs stable iteration over a map.
func sortedProfileNames(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
