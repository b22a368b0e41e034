package gatt

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ExpandPayloadSpec expands one payload-iterator token (§4.6) into the
// payloads it denotes, in order:
//
//   - "0xNN-0xMM": every single byte from NN to MM inclusive, one payload
//     each.
//   - "ascii:<string>": the string's bytes, one payload.
//   - "inc:<len>": a length-prefixed incrementing sequence: [len, 0, 1, ...,
//     len-1].
//   - "alt:<len>": len bytes alternating 0x55/0xAA starting at 0x55.
//   - "repeat:<byte>:<len>": byte repeated len times.
//   - "hex:<string>": the hex string decoded to raw bytes, one payload.
func ExpandPayloadSpec(spec string) ([][]byte, error) {
	spec = strings.TrimSpace(spec)
	if rng, ok := parseByteRange(spec); ok {
		return rng, nil
	}

	parts := strings.SplitN(spec, ":", 3)
	switch parts[0] {
	case "ascii":
		if len(parts) < 2 {
			return nil, fmt.Errorf("payload spec %q: ascii requires a value", spec)
		}
		return [][]byte{[]byte(strings.Join(parts[1:], ":"))}, nil

	case "hex":
		if len(parts) < 2 {
			return nil, fmt.Errorf("payload spec %q: hex requires a value", spec)
		}
		b, err := hex.DecodeString(strings.Join(parts[1:], ":"))
		if err != nil {
			return nil, fmt.Errorf("payload spec %q: %w", spec, err)
		}
		return [][]byte{b}, nil

	case "inc":
		if len(parts) != 2 {
			return nil, fmt.Errorf("payload spec %q: inc requires a length", spec)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("payload spec %q: invalid length", spec)
		}
		b := make([]byte, n+1)
		b[0] = byte(n)
		for i := 0; i < n; i++ {
			b[i+1] = byte(i)
		}
		return [][]byte{b}, nil

	case "alt":
		if len(parts) != 2 {
			return nil, fmt.Errorf("payload spec %q: alt requires a length", spec)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("payload spec %q: invalid length", spec)
		}
		b := make([]byte, n)
		for i := range b {
			if i%2 == 0 {
				b[i] = 0x55
			} else {
				b[i] = 0xAA
			}
		}
		return [][]byte{b}, nil

	case "repeat":
		if len(parts) != 3 {
			return nil, fmt.Errorf("payload spec %q: repeat requires byte and length", spec)
		}
		byteVal, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("payload spec %q: invalid byte", spec)
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("payload spec %q: invalid length", spec)
		}
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(byteVal)
		}
		return [][]byte{b}, nil
	}

	return nil, fmt.Errorf("payload spec %q: unrecognised pattern", spec)
}

func parseByteRange(spec string) ([][]byte, bool) {
	lo, hi, found := strings.Cut(spec, "-")
	if !found {
		return nil, false
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if !strings.HasPrefix(lo, "0x") || !strings.HasPrefix(hi, "0x") {
		return nil, false
	}
	loV, err1 := strconv.ParseUint(strings.TrimPrefix(lo, "0x"), 16, 8)
	hiV, err2 := strconv.ParseUint(strings.TrimPrefix(hi, "0x"), 16, 8)
	if err1 != nil || err2 != nil || loV > hiV {
		return nil, false
	}
	out := make([][]byte, 0, hiV-loV+1)
	for v := loV; v <= hiV; v++ {
		out = append(out, []byte{byte(v)})
	}
	return out, true
}

// ExpandPayloadSet expands a list of specs in order, concatenating their
// payloads — the full payload set brute_write_range iterates.
func ExpandPayloadSet(specs []string) ([][]byte, error) {
	var out [][]byte
	for _, spec := range specs {
		payloads, err := ExpandPayloadSpec(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, payloads...)
	}
	return out, nil
}
