package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleep/internal/bleeperr"
)

type fakeTimeouts map[string]time.Duration

func (f fakeTimeouts) OperationTimeout(op string) time.Duration {
	if d, ok := f[op]; ok {
		return d
	}
	return 10 * time.Second
}

func TestWithTimeout_PropagatesSuccess(t *testing.T) {
	err := WithTimeout(context.Background(), fakeTimeouts{}, "read", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithTimeout_NonDeadlineErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("boom")
	err := WithTimeout(context.Background(), fakeTimeouts{}, "read", func(ctx context.Context) error {
		return sentinel
	})
	assert.Same(t, sentinel, err)
}

func TestWithTimeout_DeadlineExceededBecomesOperationTimeout(t *testing.T) {
	timeouts := fakeTimeouts{"read": 10 * time.Millisecond}
	err := WithTimeout(context.Background(), timeouts, "read", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, bleeperr.Is(err, bleeperr.OperationTimeout))
}
