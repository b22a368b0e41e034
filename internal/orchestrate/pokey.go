package orchestrate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classic"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/store"
)

// RunPokey drives one pokey pass (§4.5): 1-second on/off scan cycles
// targeting opts.Target, followed by GATT enumeration with write probes
// (§4.6's pokey variant) and SDP collection (§4.7) — the higher-cost
// collectors §4.10 gates out of passive mode.
func RunPokey(ctx context.Context, oc *Context, opts Options) (DeviceResult, error) {
	var last discovery.Observation
	haveObs := false

	sink := func(o discovery.Observation) {
		if err := oc.persistObservation(ctx, o); err != nil && oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", o.MAC).Warn("pokey: persist observation failed")
		}
		last, haveObs = o, true
	}

	if err := discovery.Pokey(ctx, oc.Pool, oc.Adapter, opts.Filter, opts.Duration, opts.Target, sink); err != nil {
		return DeviceResult{}, err
	}
	if !haveObs {
		last = discovery.Observation{MAC: opts.Target}
	}

	records := oc.collectSDP(ctx, opts.Target)

	res := oc.enumerateAndClassifyWithSDP(ctx, last, opts.Target, gatt.EnumerateOptions{Variant: gatt.VariantPokey}, records)
	return res, nil
}

// collectSDP runs a Classic pre-check, then a full SDP browse, falling
// back to sdptool when the D-Bus path comes up empty (§4.7's fallback
// rule). Errors are logged and treated as "no records" rather than
// aborting the pass — a device with no Classic/SDP support is a valid
// outcome, not a failure.
func (oc *Context) collectSDP(ctx context.Context, mac string) []classic.Record {
	if mac == "" {
		return nil
	}
	if err := classic.PreCheck(ctx, mac, 3, 5*time.Second); err != nil {
		if oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Debug("orchestrate: classic precheck failed, skipping SDP")
		}
		return nil
	}

	devicePath := discovery.DevicePath(oc.Adapter.ID(), mac)
	records, err := classic.FullSDP(ctx, oc.Pool, devicePath, mac)
	if err == nil && len(records) > 0 {
		oc.persistSDP(ctx, mac, records)
		return records
	}
	if oc.Log != nil && err != nil {
		oc.Log.WithError(err).WithField("mac", mac).Debug("orchestrate: full SDP failed, trying sdptool fallback")
	}

	records, err = classic.FallbackSDPTool(ctx, mac)
	if err != nil {
		if oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: sdptool fallback failed")
		}
		return nil
	}
	oc.persistSDP(ctx, mac, records)
	return records
}

func (oc *Context) persistSDP(ctx context.Context, mac string, records []classic.Record) {
	for _, r := range records {
		descriptors, err := json.Marshal(r.ProfileDescriptors)
		if err != nil {
			descriptors = []byte("[]")
		}
		rec := store.ClassicServiceRecord{
			DeviceMAC:          mac,
			ServiceUUID:        r.UUID,
			RFCOMMChannel:      r.RFCOMMChannel,
			Name:               r.Name,
			Handle:             r.Handle,
			ProfileDescriptors: string(descriptors),
			ServiceVersion:     r.ServiceVersion,
			Description:        r.Description,
			Timestamp:          time.Now().UTC(),
		}
		if err := oc.Store.UpsertClassicServiceRecord(ctx, rec); err != nil && oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: persist SDP record failed")
		}
	}
}

// enumerateAndClassifyWithSDP is enumerateAndClassify plus SDP records
// folded into both the classifier snapshot and the AoI inputs.
func (oc *Context) enumerateAndClassifyWithSDP(ctx context.Context, o discovery.Observation, mac string, eopts gatt.EnumerateOptions, records []classic.Record) DeviceResult {
	variant := eopts.Variant
	devicePath := discovery.DevicePath(oc.Adapter.ID(), mac)
	d := oc.newDevice(devicePath, mac)
	defer func() { _ = d.Disconnect(ctx) }()

	res := DeviceResult{Observation: o, SDPRecords: records}

	enumRes, err := gatt.ConnectAndEnumerate(ctx, d, eopts)
	if err != nil {
		if oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", mac).Warn("orchestrate: enumerate failed")
		}
		snap := classify.Snapshot{MAC: mac, Mode: variant, Observation: &o, SDPRecords: records}
		if result, report, cErr := oc.classifyAndReport(ctx, snap, aoi.Inputs{SDPRecords: records}); cErr == nil {
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
	return res
}
