package orchestrate

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/store"
)

// RunNaggy drives one naggy pass (§4.5): every advertisement is forwarded
// as it arrives (no dedup), and every distinct MAC seen is then connected
// to and GATT-enumerated with 3 read rounds (§4.6's naggy variant), so the
// classifier gets GATT-resolved evidence in addition to advertised
// properties.
func RunNaggy(ctx context.Context, oc *Context, opts Options) ([]DeviceResult, error) {
	seen := map[string]discovery.Observation{}

	sink := func(o discovery.Observation) {
		if err := oc.persistObservation(ctx, o); err != nil && oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", o.MAC).Warn("naggy: persist observation failed")
		}
		seen[o.MAC] = o
	}

	if err := discovery.Naggy(ctx, oc.Pool, oc.Adapter, opts.Filter, opts.Duration, sink); err != nil {
		return nil, err
	}

	var results []DeviceResult
	for mac, o := range seen {
		results = append(results, oc.enumerateAndClassify(ctx, o, mac, gatt.EnumerateOptions{Variant: gatt.VariantNaggy}))
	}
	return results, nil
}

// enumerateAndClassify connects to mac, runs ConnectAndEnumerate under the
// given variant, persists the resolved GATT tree, and classifies the
// device with both the original observation and the GATT results folded
// in. Only naggy calls it; pokey uses enumerateAndClassifyWithSDP, which
// also folds in SDP records, and brute runs its own connect-and-write flow.
func (oc *Context) enumerateAndClassify(ctx context.Context, o discovery.Observation, mac string, eopts gatt.EnumerateOptions) DeviceResult {
	variant := eopts.Variant
	devicePath := discovery.DevicePath(oc.Adapter.ID(), mac)
	d := oc.newDevice(devicePath, mac)
	defer func() { _ = d.Disconnect(ctx) }()

	res := DeviceResult{Observation: o}

	enumRes, err := gatt.ConnectAndEnumerate(ctx, d, eopts)
	if err != nil {
		if oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: enumerate failed")
		}
		snap := classify.Snapshot{MAC: mac, Mode: variant, Observation: &o}
		if result, report, cErr := oc.classifyAndReport(ctx, snap, aoi.Inputs{}); cErr == nil {
			res.Classification, res.AoI = result, report
		}
		return res
	}
	res.Enumerate = &enumRes
	oc.persistGATT(ctx, mac, enumRes)

	snap := classify.Snapshot{
		MAC:              mac,
		Mode:             variant,
		Observation:      &o,
		ServicesResolved: true,
		GATT:             &enumRes.Mapping,
	}
	result, report, err := oc.classifyAndReport(ctx, snap, aoi.Inputs{
		Landmines:   enumRes.Landmines,
		Permissions: enumRes.Permissions,
	})
	if err != nil && oc.Log != nil {
		oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: classify failed")
	}
	res.Classification, res.AoI = result, report
	return res
}

// persistGATT reconciles the resolved service/characteristic tree into the
// store (§4.4's upsert_services / upsert_characteristics), best-effort:
// failures are logged, never fatal to the pass.
func (oc *Context) persistGATT(ctx context.Context, mac string, r gatt.EnumerateResult) {
	svcInputs := make([]store.ServiceInput, 0, len(r.Mapping.Services))
	for _, svc := range r.Mapping.Services {
		svcInputs = append(svcInputs, store.ServiceInput{UUID: svc.UUID})
	}
	if err := oc.Store.UpsertServices(ctx, mac, svcInputs); err != nil {
		if oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: upsert services failed")
		}
		return
	}

	for _, svc := range r.Mapping.Services {
		chInputs := make([]store.CharacteristicInput, 0, len(svc.Characteristics))
		for _, ch := range svc.Characteristics {
			chInputs = append(chInputs, store.CharacteristicInput{
				UUID:  ch.UUID,
				Flags: ch.Flags,
			})
		}
		if err := oc.Store.UpsertCharacteristics(ctx, mac, svc.UUID, chInputs); err != nil && oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: upsert characteristics failed")
		}
	}

	for _, rr := range r.Reads {
		if rr.Err != nil {
			continue
		}
		svcUUID, _, ok := r.Mapping.FindCharacteristic(rr.CharacteristicUUID)
		if !ok {
			continue
		}
		_ = oc.Store.InsertCharHistory(ctx, mac, svcUUID, rr.CharacteristicUUID, time.Now().UTC(), rr.Value, store.SourceRead)
	}
}
