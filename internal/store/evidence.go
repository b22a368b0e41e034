package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// StoreDeviceTypeEvidence implements store_device_type_evidence(mac, type,
// weight, source, value, meta, ts) (§4.4): upsert by the (device,
// evidence-type, source) unique key (§3).
func (s *Store) StoreDeviceTypeEvidence(ctx context.Context, mac, evidenceType string, weight EvidenceWeight, source, value, metadata string, ts time.Time) error {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "store_device_type_evidence", err).WithDevice(mac)
	}
	if !exists {
		return bleeperr.New(bleeperr.UnknownObject, "store_device_type_evidence", nil).WithDevice(mac)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO evidence (device_id, evidence_type, weight, source, value, metadata, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id, evidence_type, source) DO UPDATE SET
	weight    = excluded.weight,
	value     = excluded.value,
	metadata  = excluded.metadata,
	timestamp = excluded.timestamp
`, id, evidenceType, string(weight), source, value, metadata, ts.UTC().Format(timeLayout))
	if err != nil {
		return bleeperr.New(bleeperr.WriteConflict, "store_device_type_evidence", err).WithDevice(mac).WithContext(evidenceType)
	}
	return nil
}

// ListEvidence returns every evidence row currently on record for mac.
func (s *Store) ListEvidence(ctx context.Context, mac string) ([]Evidence, error) {
	mac = normalizeMAC(mac)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists, err := s.deviceIDByMAC(ctx, mac)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_evidence", err).WithDevice(mac)
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT evidence_type, weight, source, COALESCE(value,''), COALESCE(metadata,''), timestamp
FROM evidence WHERE device_id = ? ORDER BY evidence_type, source`, id)
	if err != nil {
		return nil, bleeperr.New(bleeperr.WriteConflict, "list_evidence", err).WithDevice(mac)
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		var e Evidence
		var weight, ts string
		e.DeviceMAC = mac
		if err := rows.Scan(&e.EvidenceType, &weight, &e.Source, &e.Value, &e.Metadata, &ts); err != nil {
			return nil, bleeperr.New(bleeperr.WriteConflict, "list_evidence", err).WithDevice(mac)
		}
		e.Weight = EvidenceWeight(weight)
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDeviceEvidenceSignature implements get_device_evidence_signature(mac)
// (§4.4): a stable hash of the current evidence set, for cache keying by the
// device-type classifier (§4.10). The signature is order-independent (the
// evidence (type, source, weight) triples are sorted before hashing) so
// collection order never perturbs the cache key.
func (s *Store) GetDeviceEvidenceSignature(ctx context.Context, mac string) (string, error) {
	evidence, err := s.ListEvidence(ctx, mac)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(evidence))
	for _, e := range evidence {
		keys = append(keys, strings.Join([]string{e.EvidenceType, e.Source, string(e.Weight)}, "|"))
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EvidenceTypeSet returns the distinct evidence types in evidence,
// for the classifier's Jaccard-similarity cache-hit check (§4.10). Since the
// signature itself is an opaque hash, the classifier keeps the type set
// alongside it rather than deriving one from the hash.
func EvidenceTypeSet(evidence []Evidence) map[string]struct{} {
	set := make(map[string]struct{}, len(evidence))
	for _, e := range evidence {
		set[e.EvidenceType] = struct{}{}
	}
	return set
}
