package classic

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test fixture encoders (mirror image of decodeElement, for building
// raw SDP bytes without a real BlueZ/SDP daemon) ---

func encUint(bits int, v uint64) []byte {
	var sizeIdx byte
	var payload []byte
	switch bits {
	case 16:
		sizeIdx = 1
		payload = make([]byte, 2)
		binary.BigEndian.PutUint16(payload, uint16(v))
	case 32:
		sizeIdx = 2
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload, uint32(v))
	case 8:
		sizeIdx = 0
		payload = []byte{byte(v)}
	}
	header := byte(1<<3) | sizeIdx
	return append([]byte{header}, payload...)
}

func encUUID16(v uint16) []byte {
	header := byte(3<<3) | 1
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, v)
	return append([]byte{header}, payload...)
}

func encString(s string) []byte {
	header := byte(4<<3) | 5 // 1-byte length follows
	return append([]byte{header, byte(len(s))}, []byte(s)...)
}

func encSeq(elements ...[]byte) []byte {
	var body []byte
	for _, e := range elements {
		body = append(body, e...)
	}
	header := byte(6<<3) | 5 // 1-byte length follows
	return append([]byte{header, byte(len(body))}, body...)
}

func TestDecodeRecord_ExtractsRFCOMMChannelAndProfile(t *testing.T) {
	record := encSeq(
		encUint(16, attrServiceRecordHandle), encUint(32, 0x00010001),
		encUint(16, attrServiceClassIDList), encSeq(encUUID16(0x1101)),
		encUint(16, attrProtocolDescriptorList), encSeq(
			encSeq(encUUID16(0x0100)),
			encSeq(encUUID16(0x0003), encUint(8, 5)),
		),
		encUint(16, attrBluetoothProfileDescriptorList), encSeq(
			encSeq(encUUID16(0x1101), encUint(16, 0x0102)),
		),
		encUint(16, attrServiceName), encString("Serial Port"),
	)

	rec, err := decodeRecord(record)
	require.NoError(t, err)

	assert.Equal(t, "1101", rec.UUID)
	require.NotNil(t, rec.RFCOMMChannel)
	assert.Equal(t, 5, *rec.RFCOMMChannel)
	assert.Equal(t, "Serial Port", rec.Name)
	require.Len(t, rec.ProfileDescriptors, 1)
	assert.Equal(t, "1101", rec.ProfileDescriptors[0].UUID)
	assert.Equal(t, "1.2", rec.ProfileDescriptors[0].Version)
	require.NotNil(t, rec.Handle)
	assert.Equal(t, 0x00010001, *rec.Handle)
}

func TestParseSdptoolOutput_FallbackPath(t *testing.T) {
	text := `
Service Name: Serial Port
Service RecHandle: 0x10000
Service Class ID List:
  "Serial Port" (0x1101)
Channel: 5

Service Name: Headset
Service RecHandle: 0x10001
Channel: 7
`
	records := parseSdptoolOutput(text)
	require.Len(t, records, 2)
	assert.Equal(t, "Serial Port", records[0].Name)
	require.NotNil(t, records[0].RFCOMMChannel)
	assert.Equal(t, 5, *records[0].RFCOMMChannel)
	assert.Equal(t, "Headset", records[1].Name)
}

func TestInferVersion_FromProfileTable(t *testing.T) {
	counts := map[string]map[string]int{
		"110e": {"1.6": 1}, // AVRCP 1.6 implies Core 5.0
	}
	version, confidence := InferVersion(nil, counts)
	assert.Equal(t, "5.0", version)
	assert.Equal(t, "heuristic", confidence)
}

func TestInferVersion_LMPAuthoritative(t *testing.T) {
	lmp := 9
	version, confidence := InferVersion(&lmp, nil)
	assert.Equal(t, "5.0", version)
	assert.Equal(t, "high", confidence)
}

func TestAnalyze_GroupsServicesByProfile(t *testing.T) {
	records := []Record{
		{UUID: "1101", ProfileDescriptors: []ProfileDescriptor{{UUID: "1101", Version: "1.2"}}, RFCOMMChannel: intPtr(5)},
	}
	analysis := Analyze(records)
	assert.Contains(t, analysis.Protocols, "rfcomm")
	assert.Contains(t, analysis.Protocols, "1101")
	require.Len(t, analysis.RelationshipGroups, 1)
	assert.Equal(t, "1101", analysis.RelationshipGroups[0].ProfileUUID)
	assert.Contains(t, analysis.RelationshipGroups[0].ServiceUUIDs, "1101")
}

func TestEncodeBdaddr_ReversesByteOrder(t *testing.T) {
	b, err := encodeBdaddr("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, b)
}

func intPtr(v int) *int { return &v }
