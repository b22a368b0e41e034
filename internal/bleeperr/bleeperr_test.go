package bleeperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceErrorFormatting(t *testing.T) {
	err := New(NotPermitted, "write_characteristic", fmt.Errorf("dbus: rejected")).
		WithDevice("aa:bb:cc:dd:ee:01").
		WithContext("0000ffe1-0000-1000-8000-00805f9b34fb")

	msg := err.Error()
	assert.Contains(t, msg, "write_characteristic")
	assert.Contains(t, msg, "not_permitted")
	assert.Contains(t, msg, "aa:bb:cc:dd:ee:01")
	assert.Contains(t, msg, "0000ffe1")
	assert.Contains(t, msg, "dbus: rejected")
}

func TestIsMatchesByKindAcrossWrapping(t *testing.T) {
	base := New(OperationTimeout, "connect", nil).WithDevice("aa:bb:cc:dd:ee:02")
	wrapped := fmt.Errorf("staged recovery exhausted: %w", base)

	assert.True(t, Is(wrapped, OperationTimeout))
	assert.False(t, Is(wrapped, NotPermitted))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, OperationTimeout, kind)
}

func TestDeviceErrorIsComparesOnlyKind(t *testing.T) {
	a := New(NotConnected, "read", nil).WithDevice("aa:bb:cc:dd:ee:01")
	b := New(NotConnected, "write", nil).WithDevice("ff:ff:ff:ff:ff:ff")

	assert.True(t, errors.Is(a, b), "DeviceError.Is must compare by Kind only, ignoring op/device")

	c := New(NotPermitted, "read", nil)
	assert.False(t, errors.Is(a, c))
}

func TestUnwrapExposesUnderlyingCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(WriteConflict, "upsert_device", cause)
	assert.ErrorIs(t, err, cause)
}
