package orchestrate

import (
	"context"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
)

// RunBrute drives one brute pass (§4.5): half the duration budget on LE
// scanning, half on BR/EDR inquiry (internal/discovery.Brute owns the
// split), then a GATT connection with brute_write_range run against every
// writable characteristic (§4.6), and SDP collection against opts.Target,
// same as pokey.
func RunBrute(ctx context.Context, oc *Context, opts Options) (DeviceResult, error) {
	var last discovery.Observation
	haveObs := false

	sink := func(o discovery.Observation) {
		if err := oc.persistObservation(ctx, o); err != nil && oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", o.MAC).Warn("brute: persist observation failed")
		}
		last, haveObs = o, true
	}

	if err := discovery.Brute(ctx, oc.Pool, oc.Adapter, opts.Filter, opts.Duration, sink); err != nil {
		return DeviceResult{}, err
	}
	if !haveObs {
		last = discovery.Observation{MAC: opts.Target}
	}

	records := oc.collectSDP(ctx, opts.Target)

	mac := opts.Target
	devicePath := discovery.DevicePath(oc.Adapter.ID(), mac)
	d := oc.newDevice(devicePath, mac)
	defer func() { _ = d.Disconnect(ctx) }()

	res := DeviceResult{Observation: last, SDPRecords: records}

	enumRes, err := gatt.ConnectAndEnumerate(ctx, d, gatt.EnumerateOptions{Variant: gatt.VariantBrute, Force: opts.Force})
	if err != nil {
		if oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: brute enumerate failed")
		}
		snap := classify.Snapshot{MAC: mac, Mode: gatt.VariantBrute, Observation: &last, SDPRecords: records}
		if result, report, cErr := oc.classifyAndReport(ctx, snap, aoi.Inputs{SDPRecords: records}); cErr == nil {
			res.Classification, res.AoI = result, report
		}
		return res, nil
	}
	res.Enumerate = &enumRes
	oc.persistGATT(ctx, mac, enumRes)

	if len(opts.Payloads) > 0 {
		enumRes.Mapping.Walk(func(svcUUID string, ch gatt.Characteristic) {
			if !isWritableUUID(ch) {
				return
			}
			writes := gatt.BruteWriteRange(ctx, d, ch.UUID, opts.Payloads, true, opts.Force, enumRes.Landmines, enumRes.Permissions)
			for _, w := range writes {
				if w.Ok {
					res.Enumerate.WriteProbes = append(res.Enumerate.WriteProbes, gatt.WriteProbeResult{
						CharacteristicUUID: ch.UUID,
						Accepted:           true,
					})
				}
			}
		})
	}

	snap := classify.Snapshot{
		MAC:              mac,
		Mode:             gatt.VariantBrute,
		Observation:      &last,
		ServicesResolved: true,
		GATT:             &enumRes.Mapping,
		SDPRecords:       records,
	}
	result, report, err := oc.classifyAndReport(ctx, snap, aoi.Inputs{
		Landmines:   enumRes.Landmines,
		Permissions: enumRes.Permissions,
		SDPRecords:  records,
	})
	if err != nil && oc.Log != nil {
		oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: classify failed")
	}
	res.Classification, res.AoI = result, report
	return res, nil
}

func isWritableUUID(ch gatt.Characteristic) bool {
	for _, f := range ch.Flags {
		if f == "write" || f == "write-without-response" {
			return true
		}
	}
	return false
}
