package discovery

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/ipc"
)

// Sink receives one forwarded observation. Scan variants call it from the
// scanning goroutine; callers that need to touch shared state (the
// observation store, a router queue) must synchronise themselves.
type Sink func(Observation)

// pollInterval is how often naggy/pokey/brute re-snapshot the adapter's
// managed-object tree while hunting for changes. BlueZ only flushes its
// internal advertisement cache at StopDiscovery, so there is no event to
// subscribe to mid-scan without the signal-level plumbing that belongs to
// the router component; polling at this interval is the approximation.
const pollInterval = 250 * time.Millisecond

// Passive runs a single scan window and forwards one deduplicated snapshot
// per device at the end, per the variant table: "deduplicated / one shot,
// stop after timeout / no inquiry phase".
func Passive(ctx context.Context, pool *ipc.Pool, adapter *Adapter, f Filter, duration time.Duration, sink Sink) error {
	f.Transport = TransportLE
	if err := adapter.SetDiscoveryFilter(ctx, f); err != nil {
		return err
	}
	if err := adapter.StartDiscovery(ctx); err != nil {
		return err
	}
	defer adapter.StopDiscovery(ctx)

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return ctx.Err()
	}

	obs, err := Snapshot(ctx, pool, adapterIDOf(adapter))
	if err != nil {
		return err
	}
	for _, o := range obs {
		sink(o)
	}
	return nil
}

// Naggy forwards every advertisement, one shot, no inquiry phase. Without
// per-advertisement signals it polls at pollInterval and forwards whenever a
// device's signature changes from the last poll, which is the best
// approximation of "forward every advertisement" available at the snapshot
// boundary.
func Naggy(ctx context.Context, pool *ipc.Pool, adapter *Adapter, f Filter, duration time.Duration, sink Sink) error {
	f.Transport = TransportLE
	f.DuplicateData = true
	if err := adapter.SetDiscoveryFilter(ctx, f); err != nil {
		return err
	}
	if err := adapter.StartDiscovery(ctx); err != nil {
		return err
	}
	defer adapter.StopDiscovery(ctx)

	return pollUntil(ctx, pool, adapterIDOf(adapter), duration, nil, sink)
}

// Pokey cycles discovery on/off every second until the overall timeout,
// because the underlying stack only flushes its advertisement cache at
// StopDiscovery — restarting forces a flush far more often than one final
// stop would. When target is non-empty, forwarding is restricted to that
// MAC: BlueZ's SetDiscoveryFilter has no address-allowlist field, so the
// filter is applied to the forwarded observations, not the filter call.
func Pokey(ctx context.Context, pool *ipc.Pool, adapter *Adapter, f Filter, duration time.Duration, target string, sink Sink) error {
	f.Transport = TransportLE
	f.DuplicateData = true
	if err := adapter.SetDiscoveryFilter(ctx, f); err != nil {
		return err
	}

	deadline := time.Now().Add(duration)
	seen := map[string]string{}
	for time.Now().Before(deadline) {
		cycle := time.Second
		if remaining := time.Until(deadline); remaining < cycle {
			cycle = remaining
		}
		if err := adapter.StartDiscovery(ctx); err != nil {
			return err
		}
		if err := pollForDuration(ctx, pool, adapterIDOf(adapter), cycle, seen, target, sink); err != nil {
			adapter.StopDiscovery(ctx)
			return err
		}
		if err := adapter.StopDiscovery(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Brute splits the budget in half: LE discovery for the first half, then a
// BR/EDR inquiry for the second, per the variant table's "one shot with
// half the budget / BR/EDR inquiry for the other half".
func Brute(ctx context.Context, pool *ipc.Pool, adapter *Adapter, f Filter, duration time.Duration, sink Sink) error {
	half := duration / 2

	leFilter := f
	leFilter.Transport = TransportLE
	leFilter.DuplicateData = true
	if err := adapter.SetDiscoveryFilter(ctx, leFilter); err != nil {
		return err
	}
	if err := adapter.StartDiscovery(ctx); err != nil {
		return err
	}
	leErr := pollUntil(ctx, pool, adapterIDOf(adapter), half, nil, sink)
	adapter.StopDiscovery(ctx)
	if leErr != nil {
		return leErr
	}

	bredrFilter := f
	bredrFilter.Transport = TransportBREDR
	bredrFilter.DuplicateData = true
	if err := adapter.SetDiscoveryFilter(ctx, bredrFilter); err != nil {
		return err
	}
	if err := adapter.StartDiscovery(ctx); err != nil {
		return err
	}
	defer adapter.StopDiscovery(ctx)
	return pollUntil(ctx, pool, adapterIDOf(adapter), duration-half, nil, sink)
}

// pollUntil polls for the given duration, forwarding observations whose
// signature changed since the last poll (a fresh seen map each call).
func pollUntil(ctx context.Context, pool *ipc.Pool, adapterID string, duration time.Duration, seen map[string]string, sink Sink) error {
	if seen == nil {
		seen = map[string]string{}
	}
	return pollForDuration(ctx, pool, adapterID, duration, seen, "", sink)
}

func pollForDuration(ctx context.Context, pool *ipc.Pool, adapterID string, duration time.Duration, seen map[string]string, target string, sink Sink) error {
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	poll := func() error {
		obs, err := Snapshot(ctx, pool, adapterID)
		if err != nil {
			return err
		}
		for _, o := range obs {
			if target != "" && o.MAC != target {
				continue
			}
			sig := o.Signature()
			if prev, ok := seen[o.MAC]; ok && prev == sig {
				continue
			}
			seen[o.MAC] = sig
			sink(o)
		}
		return nil
	}

	if err := poll(); err != nil {
		return err
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		case <-time.After(remaining):
			return poll()
		}
	}
}

func adapterIDOf(a *Adapter) string { return a.id }
