package orchestrate

import (
	"context"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
)

// RunPassive drives one passive pass (§4.5): a deduplicated one-shot
// snapshot of whatever is currently advertising, persisted and classified
// on purely-observed properties. No GATT connection, no SDP collection —
// §4.10's mode gate keeps the classifier from crediting either.
func RunPassive(ctx context.Context, oc *Context, opts Options) ([]DeviceResult, error) {
	var results []DeviceResult
	var firstErr error

	sink := func(o discovery.Observation) {
		if err := oc.persistObservation(ctx, o); err != nil {
			if oc.Log != nil {
				oc.Log.WithError(err).WithField("mac", o.MAC).Warn("passive: persist observation failed")
			}
			if firstErr == nil {
				firstErr = err
			}
			return
		}

		snap := classify.Snapshot{MAC: o.MAC, Mode: classify.ModePassive, Observation: &o}
		result, report, err := oc.classifyAndReport(ctx, snap, aoi.Inputs{})
		if err != nil {
			if oc.Log != nil {
				oc.Log.WithError(err).WithField("mac", o.MAC).Warn("passive: classify failed")
			}
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		results = append(results, DeviceResult{Observation: o, Classification: result, AoI: report})
	}

	if err := discovery.Passive(ctx, oc.Pool, oc.Adapter, opts.Filter, opts.Duration, sink); err != nil {
		return results, err
	}
	return results, firstErr
}
