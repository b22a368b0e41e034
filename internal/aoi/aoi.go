package aoi

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/classic"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/gatt"
	"github.com/srg/bleep/internal/store"
)

// Aggregator builds Snapshots from the store's on-record evidence and bond
// state, plus whatever GATT/Classic collection results a caller passes in
// directly from the pass that just ran.
type Aggregator struct {
	st *store.Store
}

// New builds an Aggregator. st must not be nil.
func New(st *store.Store) *Aggregator {
	return &Aggregator{st: st}
}

// Inputs is everything one Build call can fold in, all optional: a caller
// only has whatever collectors actually ran for this pass.
type Inputs struct {
	Landmines      gatt.LandmineMap
	Permissions    gatt.PermissionMap
	SDPRecords     []classic.Record
	Classification *classify.Result
}

// Build assembles a Snapshot for mac: it reloads evidence and bond state
// from the store, runs every analyzer over whatever Inputs were supplied,
// and returns the aggregated report. Build never writes to the store;
// Save persists the result to disk.
func (a *Aggregator) Build(ctx context.Context, mac string, in Inputs) (Snapshot, error) {
	evidence, err := a.st.ListEvidence(ctx, mac)
	if err != nil {
		return Snapshot{}, err
	}
	bond, err := a.st.GetBond(ctx, mac)
	if err != nil {
		return Snapshot{}, err
	}

	var findings []Finding
	findings = append(findings, analyzeLandmines(in.Landmines)...)
	findings = append(findings, analyzePermissionWalls(in.Permissions)...)
	findings = append(findings, analyzeSDP(in.SDPRecords)...)
	findings = append(findings, analyzeEvidenceConflicts(evidence)...)
	findings = append(findings, analyzePairing(bond)...)

	snap := Snapshot{
		DeviceMAC:   mac,
		GeneratedAt: time.Now().UTC(),
		Findings:    findings,
	}
	if in.Classification != nil {
		snap.Classification = in.Classification.Classification
	}
	return snap, nil
}
