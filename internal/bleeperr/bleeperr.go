// Package bleeperr defines the error taxonomy shared across the BLEEP core.
//
// Every subsystem returns one of these sentinel kinds, wrapped with device
// context via DeviceError so callers can branch with errors.Is/errors.As
// instead of matching on message strings.
package bleeperr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure from §7 of the core specification.
type Kind string

// Transport errors.
const (
	IPCUnavailable      Kind = "ipc_unavailable"
	OperationTimeout    Kind = "operation_timeout"
	NoReply             Kind = "no_reply"
	IntrospectionFailed Kind = "introspection_failed"
)

// State errors.
const (
	NotConnected  Kind = "not_connected"
	NotResolved   Kind = "not_resolved"
	InProgress    Kind = "in_progress"
	AlreadyExists Kind = "already_exists"
	UnknownObject Kind = "unknown_object"
)

// Authorisation errors.
const (
	NotAuthorized          Kind = "not_authorized"
	NotPermitted           Kind = "not_permitted"
	AuthenticationFailed   Kind = "authentication_failed"
	AuthenticationCanceled Kind = "authentication_cancelled"
)

// Argument errors.
const (
	InvalidArgs  Kind = "invalid_args"
	NotSupported Kind = "not_supported"
	InvalidUUID  Kind = "invalid_uuid"
)

// Device errors.
const (
	ControllerStall   Kind = "controller_stall"
	DeviceUnreachable Kind = "device_unreachable"
	PairingFailed     Kind = "pairing_failed"
)

// Storage errors.
const (
	SchemaMismatch Kind = "schema_mismatch"
	MigrationFailed Kind = "migration_failed"
	WriteConflict   Kind = "write_conflict"
)

// Policy results — not fatal, but typed so callers can recognise them.
const (
	LandmineSkipped Kind = "landmine_skipped"
	PermissionWall  Kind = "permission_wall"
)

// DeviceError wraps a Kind with the device/context that produced it.
type DeviceError struct {
	Kind    Kind
	Device  string // MAC address, empty if not device-scoped
	Op      string // operation name, e.g. "connect", "read_characteristic"
	Context string // free-form extra context, e.g. a characteristic UUID
	Err     error  // underlying cause, may be nil
}

func (e *DeviceError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Device != "" {
		msg = fmt.Sprintf("%s [device=%s]", msg, e.Device)
	}
	if e.Context != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Context)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is reports equality by Kind, so errors.Is(err, bleeperr.New(bleeperr.NotConnected, ...))
// matches any DeviceError of the same kind, and errors.Is(err, bleeperr.NotConnected)
// is not valid Go — use Is(err, kind) below instead.
func (e *DeviceError) Is(target error) bool {
	var other *DeviceError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a DeviceError for the given kind.
func New(kind Kind, op string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Err: err}
}

// WithDevice attaches device context and returns the same error for chaining.
func (e *DeviceError) WithDevice(mac string) *DeviceError {
	e.Device = mac
	return e
}

// WithContext attaches free-form context (e.g. a characteristic UUID) and returns
// the same error for chaining.
func (e *DeviceError) WithContext(ctx string) *DeviceError {
	e.Context = ctx
	return e
}

// Is reports whether the first DeviceError in err's chain carries the given
// Kind; a DeviceError wrapped further down is not consulted.
func Is(err error, kind Kind) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, if any, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
