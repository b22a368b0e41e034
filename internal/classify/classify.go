package classify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleep/internal/store"
)

// Classifier runs Classify against a device's evidence, persisting every
// collected item and caching decisions per §4.10.
type Classifier struct {
	st    *store.Store
	log   *logrus.Entry
	cache *cache
}

// New builds a Classifier backed by st. st must not be nil; evidence
// persistence is the only way Classify accumulates history across calls.
func New(st *store.Store, log *logrus.Entry) *Classifier {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Classifier{
		st:    st,
		log:   log.WithField("component", "classify"),
		cache: newCache(),
	}
}

// Classify derives evidence from snap (gated by snap.Mode), persists it,
// and returns the device's current classification. If the device's evidence
// signature hasn't materially changed since the last call (exact match, or
// at least 80% jaccard overlap of evidence types), the cached decision is
// returned directly without re-running decide().
func (c *Classifier) Classify(ctx context.Context, snap Snapshot) (Result, error) {
	ts := now()
	for _, item := range collectEvidence(snap) {
		meta := typeMeta[item.evidenceType]
		if err := c.st.StoreDeviceTypeEvidence(ctx, snap.MAC, item.evidenceType, meta.weight, item.source, item.value, item.metadata, ts); err != nil {
			c.log.WithError(err).WithField("device", snap.MAC).Warn("failed to persist classification evidence")
		}
	}

	evidence, err := c.st.ListEvidence(ctx, snap.MAC)
	if err != nil {
		return Result{}, err
	}
	types := store.EvidenceTypeSet(evidence)

	sig, err := c.st.GetDeviceEvidenceSignature(ctx, snap.MAC)
	if err != nil {
		return Result{}, err
	}

	if cached, hit := c.cache.lookup(snap.MAC, sig, types); hit {
		cached.CacheHit = true
		return cached, nil
	}

	classification, reasoning := decide(evidence)
	result := Result{
		MAC:            snap.MAC,
		Classification: classification,
		Evidence:       evidence,
		Reasoning:      reasoning,
	}
	c.cache.store(snap.MAC, sig, types, result)
	return result, nil
}
