// Package agent is the pairing agent component (§4.9): an IPC object
// exposed by the core and registered with the host Bluetooth stack's
// AgentManager1, routing RequestPinCode/RequestPasskey/RequestConfirmation/
// RequestAuthorization/AuthorizeService through a configurable IO handler
// and a per-device pairing state machine, persisting a bond record on
// successful completion.
//
// Grounded on internal/classic's obex_agent.go for the Export/RegisterAgent
// idiom (conn.Export(agent, path, iface) then a RegisterAgent method call is
// the standard godbus way to expose an object rather than only consume
// one), generalized from obexd's single Authorize method to BlueZ core's
// full Agent1 surface.
package agent

import "fmt"

// CapabilityProfile selects which Agent1 methods the host stack will
// actually invoke, matched to the registering process's I/O capability.
type CapabilityProfile string

const (
	NoInputNoOutput CapabilityProfile = "NoInputNoOutput"
	DisplayOnly     CapabilityProfile = "DisplayOnly"
	DisplayYesNo    CapabilityProfile = "DisplayYesNo"
	KeyboardOnly    CapabilityProfile = "KeyboardOnly"
	KeyboardDisplay CapabilityProfile = "KeyboardDisplay"
)

// State is one node of the per-device pairing state machine (§4.9).
type State string

const (
	StateIdle            State = "idle"
	StateRequested       State = "requested"
	StateWaitingForInput State = "waiting_for_input"
	StateConfirming      State = "confirming"
	StateBonding         State = "bonding"
	StateComplete        State = "complete"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// isTerminal reports whether s ends a pairing session.
func (s State) isTerminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// transitions enumerates every state machine edge this package drives
// through. It exists as documentation and a tripwire: setState logs a
// warning for any edge not listed here (and still applies it), since a stray
// "Confirming -> WaitingForInput" would mean the method dispatch logic took a
// path the model doesn't expect.
var transitions = map[State][]State{
	StateIdle:            {StateRequested},
	StateRequested:       {StateWaitingForInput, StateConfirming, StateCancelled, StateFailed},
	StateWaitingForInput: {StateBonding, StateCancelled, StateFailed},
	StateConfirming:      {StateBonding, StateCancelled, StateFailed},
	StateBonding:         {StateComplete, StateFailed, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// errInvalidTransition reports a state machine edge setState refused to take.
type errInvalidTransition struct{ from, to State }

func (e errInvalidTransition) Error() string {
	return fmt.Sprintf("agent: invalid pairing transition %s -> %s", e.from, e.to)
}
