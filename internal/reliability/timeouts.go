// Package reliability applies uniform per-operation timeouts, health
// monitoring, and staged recovery across every IPC operation (§4.2), so
// device-facing packages (discovery, gatt, classic, agent) don't each
// reimplement timeout/retry plumbing.
package reliability

import (
	"context"
	"time"

	"github.com/srg/bleep/internal/bleeperr"
)

// TimeoutProvider supplies the per-operation timeout budget. *config.Config
// satisfies this directly via its OperationTimeout method.
type TimeoutProvider interface {
	OperationTimeout(op string) time.Duration
}

// OperationNames lists every op string a TimeoutProvider recognises and
// every op Metrics.Observe/DetectIssues tracks (§4.2's timeout table). The
// health monitor's issue sweep covers exactly this set.
var OperationNames = []string{
	"connect", "disconnect", "pair",
	"get_property", "set_property",
	"read", "write", "notify_start", "notify_stop",
}

// WithTimeout runs fn under a context bounded by timeouts.OperationTimeout(op).
// A context.DeadlineExceeded from fn (or from the bound itself elapsing) is
// translated into a bleeperr.OperationTimeout carrying op as context.
func WithTimeout(ctx context.Context, timeouts TimeoutProvider, op string, fn func(ctx context.Context) error) error {
	budget := timeouts.OperationTimeout(op)
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	if cctx.Err() == context.DeadlineExceeded {
		return bleeperr.New(bleeperr.OperationTimeout, op, err).WithContext(budget.String())
	}
	return err
}
