package gatt

import (
	"context"
	"time"
)

const (
	flagRead             = "read"
	flagWrite            = "write"
	flagWriteWithoutResp = "write-without-response"
)

func isReadable(ch Characteristic) bool { return ch.HasFlag(flagRead) }

func isWritable(ch Characteristic) bool {
	return ch.HasFlag(flagWrite) || ch.HasFlag(flagWriteWithoutResp)
}

// ConnectAndEnumerate connects to the device and runs the variant's
// enumeration policy (§4.6's table) over the resolved mapping, returning the
// mapping alongside everything the run discovered: landmines, permission
// observations, and read/write results.
func ConnectAndEnumerate(ctx context.Context, d *Device, opts EnumerateOptions) (EnumerateResult, error) {
	if err := d.Connect(ctx); err != nil {
		return EnumerateResult{}, err
	}
	d.setState(StateEnumerating)
	defer d.setState(StateIdle)

	res := EnumerateResult{
		Mapping:     d.Mapping(),
		Landmines:   make(LandmineMap),
		Permissions: make(PermissionMap),
	}

	switch opts.Variant {
	case VariantPassive:
		res.Reads = passiveReads(ctx, d, res.Mapping, res.Landmines, res.Permissions)
	case VariantNaggy:
		res.Reads = naggyReads(ctx, d, res.Mapping, res.Landmines, res.Permissions, 3)
	case VariantPokey:
		res.Reads = naggyReads(ctx, d, res.Mapping, res.Landmines, res.Permissions, 3)
		res.WriteProbes = pokeyProbes(ctx, d, res.Mapping, res.Landmines, res.Permissions, opts.Force)
	case VariantBrute:
		if len(opts.Payloads) == 0 {
			// optional reads: brute still benefits from a baseline snapshot.
			res.Reads = passiveReads(ctx, d, res.Mapping, res.Landmines, res.Permissions)
		}
		res.WriteProbes = nil
	}

	return res, nil
}

// passiveReads attempts a read on every characteristic once, readable or
// not: the advertised "read" flag is a hint, not a guarantee, and a
// characteristic that doesn't advertise it can still reject the attempt
// with its own permission error (NotAuthorized/NotPermitted) — the only way
// that rejection gets observed and recorded into perms is by attempting the
// read (§4.6). A failure marks the characteristic as landmined (one-shot:
// never retried this run).
func passiveReads(ctx context.Context, d *Device, m Mapping, landmines LandmineMap, perms PermissionMap) []ReadResult {
	var out []ReadResult
	m.Walk(func(_ string, ch Characteristic) {
		if landmines.Has(ch.UUID) {
			return
		}
		value, err := d.ReadCharacteristic(ctx, ch.UUID, perms)
		if err != nil {
			landmines.Mark(ch.UUID)
		}
		out = append(out, ReadResult{CharacteristicUUID: ch.UUID, Round: 1, Value: value, Err: err})
	})
	return out
}

// naggyReads attempts a read on every characteristic (readable or not, same
// rationale as passiveReads) for `rounds` rounds, retrying a characteristic
// that failed ("stubborn") with exponential backoff before moving on rather
// than landmining it immediately.
func naggyReads(ctx context.Context, d *Device, m Mapping, landmines LandmineMap, perms PermissionMap, rounds int) []ReadResult {
	var out []ReadResult
	m.Walk(func(_ string, ch Characteristic) {
		backoff := 50 * time.Millisecond
		for round := 1; round <= rounds; round++ {
			if landmines.Has(ch.UUID) {
				break
			}
			value, err := d.ReadCharacteristic(ctx, ch.UUID, perms)
			out = append(out, ReadResult{CharacteristicUUID: ch.UUID, Round: round, Value: value, Err: err})
			if err == nil {
				continue
			}
			if round == rounds {
				landmines.Mark(ch.UUID)
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	})
	return out
}

// pokeyProbes sends a single 0x00 then 0x01 write probe to every writable
// characteristic in addition to naggy's reads, honoring landmines unless
// force is set.
func pokeyProbes(ctx context.Context, d *Device, m Mapping, landmines LandmineMap, perms PermissionMap, force bool) []WriteProbeResult {
	var out []WriteProbeResult
	m.Walk(func(_ string, ch Characteristic) {
		if !isWritable(ch) {
			return
		}
		if landmines.Has(ch.UUID) && !force {
			return
		}
		withResponse := ch.HasFlag(flagWrite)
		for _, probe := range []byte{0x00, 0x01} {
			err := d.WriteCharacteristic(ctx, ch.UUID, []byte{probe}, withResponse, perms)
			if err != nil {
				landmines.Mark(ch.UUID)
			}
			out = append(out, WriteProbeResult{CharacteristicUUID: ch.UUID, Payload: probe, Accepted: err == nil, Err: err})
		}
	})
	return out
}

// MultiReadCharacteristic reads one characteristic repeats times in
// sequence, in round order.
func MultiReadCharacteristic(ctx context.Context, d *Device, charUUID string, repeats int, perms PermissionMap) []ReadResult {
	out := make([]ReadResult, 0, repeats)
	for round := 1; round <= repeats; round++ {
		value, err := d.ReadCharacteristic(ctx, charUUID, perms)
		out = append(out, ReadResult{CharacteristicUUID: charUUID, Round: round, Value: value, Err: err})
	}
	return out
}

// MultiReadAll reads every characteristic in the mapping that advertises the
// "read" flag for `rounds` rounds (others are skipped), in the mapping's deterministic (service, then characteristic)
// order, keyed by characteristic UUID in the result set.
func MultiReadAll(ctx context.Context, d *Device, m Mapping, rounds int, perms PermissionMap) []ReadResult {
	var out []ReadResult
	m.Walk(func(_ string, ch Characteristic) {
		if !isReadable(ch) {
			return
		}
		for round := 1; round <= rounds; round++ {
			value, err := d.ReadCharacteristic(ctx, ch.UUID, perms)
			out = append(out, ReadResult{CharacteristicUUID: ch.UUID, Round: round, Value: value, Err: err})
		}
	})
	return out
}

// BruteWriteRange iterates payloads over charUUID, writing each in turn.
// When verify is true, a successful write is followed by a read whose value
// is attached to the result. Landmined characteristics are skipped unless
// force is set.
func BruteWriteRange(ctx context.Context, d *Device, charUUID string, payloads [][]byte, verify, force bool, landmines LandmineMap, perms PermissionMap) []BruteWriteResult {
	if landmines.Has(charUUID) && !force {
		return nil
	}
	_, ch, ok := d.Mapping().FindCharacteristic(charUUID)
	withResponse := ok && ch.HasFlag(flagWrite)

	out := make([]BruteWriteResult, 0, len(payloads))
	for _, payload := range payloads {
		err := d.WriteCharacteristic(ctx, charUUID, payload, withResponse, perms)
		r := BruteWriteResult{Payload: payload, Ok: err == nil, Err: err}
		if err != nil {
			landmines.Mark(charUUID)
		} else if verify {
			if value, rerr := d.ReadCharacteristic(ctx, charUUID, perms); rerr == nil {
				r.VerifiedRead = value
			}
		}
		out = append(out, r)
	}
	return out
}
