package orchestrate

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/store"
)

// persistObservation upserts the device row and appends an advertisement
// history entry for one discovery.Observation (§4.4's upsert_device /
// insert_adv operations). Discovery sinks run on the scanning goroutine
// without synchronizing store writes themselves (internal/discovery's own
// contract), so every mode flow funnels through this one function instead
// of writing to the store from more than one place.
func (oc *Context) persistObservation(ctx context.Context, o discovery.Observation) error {
	attrs := store.DeviceAttrs{RSSI: ptrInt16(o)}
	if o.AddressType != "" {
		attrs.AddressType = &o.AddressType
	}
	if o.Name != "" {
		attrs.Name = &o.Name
	}
	if o.Class != 0 {
		cls := int(o.Class)
		attrs.DeviceClass = &cls
	}
	if err := oc.Store.UpsertDevice(ctx, o.MAC, attrs); err != nil {
		return err
	}

	decoded := o.Signature()
	rssi := 0
	if o.HasRSSI {
		rssi = int(o.RSSI)
	}
	return oc.Store.InsertAdv(ctx, o.MAC, time.Now().UTC(), rssi, nil, decoded)
}

func ptrInt16(o discovery.Observation) *int {
	if !o.HasRSSI {
		return nil
	}
	v := int(o.RSSI)
	return &v
}

// classifyAndReport runs the classifier over snap, then (when oc.AoI is set)
// aggregates an AoI snapshot reflecting the result and, if oc.AoIDir is set,
// persists it. A classifier error is returned to the caller; AoI
// aggregation and persistence are best-effort beyond that point, since
// neither should block the scan pass that produced the evidence from
// completing.
func (oc *Context) classifyAndReport(ctx context.Context, snap classify.Snapshot, in aoi.Inputs) (classify.Result, aoi.Snapshot, error) {
	result, err := oc.Classify.Classify(ctx, snap)
	if err != nil {
		return classify.Result{}, aoi.Snapshot{}, err
	}

	if oc.AoI == nil {
		return result, aoi.Snapshot{}, nil
	}
	in.Classification = &result
	report, err := oc.AoI.Build(ctx, snap.MAC, in)
	if err != nil {
		if oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", snap.MAC).Warn("aoi: build failed")
		}
		return result, aoi.Snapshot{}, nil
	}
	if oc.AoIDir != "" {
		if err := aoi.Save(oc.AoIDir, report); err != nil && oc.Log != nil {
			oc.Log.WithError(err).WithField("mac", snap.MAC).Warn("aoi: save failed")
		}
	}
	return result, report, nil
}
