package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleep/internal/bleeperr"
	"github.com/srg/bleep/internal/reliability"
	"github.com/srg/bleep/internal/store"
)

const (
	agentManagerInterface = "org.bluez.AgentManager1"
	agentInterface        = "org.bluez.Agent1"
)

// Path is the object path the agent registers itself under.
const Path = dbus.ObjectPath("/bleep/agent")

// session tracks one device's in-flight pairing state machine and the
// cancel func for whatever IOHandler call is currently blocking on it.
type session struct {
	state  State
	cancel context.CancelFunc
}

// Agent is the IPC-exposed pairing agent (§4.9). Export it on a real
// *dbus.Conn at Path with agentInterface, then call RegisterAgent to hand
// it to the host stack.
type Agent struct {
	log        *logrus.Entry
	io         IOHandler
	capability CapabilityProfile
	timeouts   reliability.TimeoutProvider
	st         *store.Store
	bondable   bool

	mu       sync.Mutex
	sessions map[string]*session
	pending  []string // device paths awaiting input, most recent last (for bare Cancel)

	OnComplete  func(device string)
	OnFailed    func(device string, err error)
	OnCancelled func(device string)
}

// New builds an Agent. io may be nil for NoInputNoOutput (AutoAcceptIO is
// used); st may be nil to skip bond persistence.
func New(capability CapabilityProfile, io IOHandler, timeouts reliability.TimeoutProvider, st *store.Store, log *logrus.Entry) *Agent {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	if io == nil {
		io = AutoAcceptIO{}
	}
	return &Agent{
		log:        log.WithField("component", "agent"),
		io:         io,
		capability: capability,
		timeouts:   timeouts,
		st:         st,
		bondable:   true,
		sessions:   make(map[string]*session),
	}
}

// SetBondable controls whether Complete persists a bond record (default true).
func (a *Agent) SetBondable(b bool) { a.bondable = b }

func (a *Agent) setState(devicePath string, to State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[devicePath]
	if !ok {
		s = &session{state: StateIdle}
		a.sessions[devicePath] = s
	}
	if !canTransition(s.state, to) && s.state != to {
		a.log.WithError(errInvalidTransition{s.state, to}).Warn("pairing state machine")
	}
	s.state = to
	if to.isTerminal() {
		delete(a.sessions, devicePath)
		a.removePending(devicePath)
	}
}

func (a *Agent) State(devicePath string) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[devicePath]; ok {
		return s.state
	}
	return StateIdle
}

func (a *Agent) beginIO(devicePath string, waitState State) context.Context {
	ctx := context.Background()
	if a.timeouts != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeouts.OperationTimeout("pair"))
		a.mu.Lock()
		a.sessions[devicePath] = &session{state: waitState, cancel: cancel}
		a.pending = append(a.pending, devicePath)
		a.mu.Unlock()
	}
	a.setState(devicePath, waitState)
	return ctx
}

func (a *Agent) removePending(devicePath string) {
	for i, p := range a.pending {
		if p == devicePath {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			return
		}
	}
}

func (a *Agent) finish(devicePath string, err error) *dbus.Error {
	if err != nil {
		if err == context.Canceled {
			a.setState(devicePath, StateCancelled)
			if a.OnCancelled != nil {
				a.OnCancelled(devicePath)
			}
			return dbus.MakeFailedError(bleeperr.New(bleeperr.AuthenticationCanceled, "pair", err).WithDevice(devicePath))
		}
		if err == context.DeadlineExceeded {
			a.setState(devicePath, StateFailed)
			if a.OnFailed != nil {
				a.OnFailed(devicePath, err)
			}
			return dbus.MakeFailedError(bleeperr.New(bleeperr.OperationTimeout, "pair", err).WithDevice(devicePath))
		}
		a.setState(devicePath, StateFailed)
		if a.OnFailed != nil {
			a.OnFailed(devicePath, err)
		}
		return dbus.MakeFailedError(bleeperr.New(bleeperr.AuthenticationFailed, "pair", err).WithDevice(devicePath))
	}
	a.complete(devicePath)
	return nil
}

func (a *Agent) complete(devicePath string) {
	a.setState(devicePath, StateBonding)
	a.setState(devicePath, StateComplete)
	if a.bondable && a.st != nil {
		if mac := macFromPath(devicePath); mac != "" {
			if err := a.st.UpsertBond(context.Background(), mac, string(a.capability), time.Now().UTC()); err != nil {
				a.log.WithError(err).Warn("failed to persist bond record")
			}
		}
	}
	if a.OnComplete != nil {
		a.OnComplete(devicePath)
	}
}

// macFromPath extracts "AA:BB:CC:DD:EE:FF" out of a BlueZ object path
// segment "dev_AA_BB_CC_DD_EE_FF", returning "" if the path carries none.
func macFromPath(objPath string) string {
	for _, seg := range strings.Split(objPath, "/") {
		if strings.HasPrefix(seg, "dev_") {
			return strings.Join(strings.Split(strings.TrimPrefix(seg, "dev_"), "_"), ":")
		}
	}
	return ""
}

// Release is called by the host stack to announce it has released the agent.
func (a *Agent) Release() *dbus.Error {
	a.log.Info("agent released by host stack")
	return nil
}

// RequestPinCode handles legacy PIN-based pairing (KeyboardOnly/KeyboardDisplay).
func (a *Agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	devicePath := string(device)
	a.setState(devicePath, StateRequested)
	ctx := a.beginIO(devicePath, StateWaitingForInput)
	pin, err := a.io.PinCode(ctx, devicePath)
	if derr := a.finish(devicePath, err); derr != nil {
		return "", derr
	}
	return pin, nil
}

// DisplayPinCode shows a PIN the remote side expects typed on it (DisplayOnly/KeyboardDisplay).
func (a *Agent) DisplayPinCode(device dbus.ObjectPath, pin string) *dbus.Error {
	a.log.WithFields(logrus.Fields{"device": device, "pin": pin}).Info("display pin code")
	return nil
}

// RequestPasskey handles numeric-passkey pairing (KeyboardOnly/KeyboardDisplay).
func (a *Agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	devicePath := string(device)
	a.setState(devicePath, StateRequested)
	ctx := a.beginIO(devicePath, StateWaitingForInput)
	passkey, err := a.io.Passkey(ctx, devicePath)
	if derr := a.finish(devicePath, err); derr != nil {
		return 0, derr
	}
	return passkey, nil
}

// DisplayPasskey shows a passkey as it's entered digit by digit (DisplayOnly/KeyboardDisplay).
func (a *Agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	a.log.WithFields(logrus.Fields{"device": device, "passkey": passkey, "entered": entered}).Info("display passkey")
	return nil
}

// RequestConfirmation asks the user to confirm a passkey shown on both sides
// (DisplayYesNo/KeyboardDisplay).
func (a *Agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	devicePath := string(device)
	a.setState(devicePath, StateRequested)
	ctx := a.beginIO(devicePath, StateConfirming)
	ok, err := a.io.Confirm(ctx, devicePath, "confirm passkey")
	if err == nil && !ok {
		err = bleeperr.New(bleeperr.AuthenticationFailed, "pair", nil).WithContext("confirmation rejected")
	}
	return a.finish(devicePath, err)
}

// RequestAuthorization asks whether to allow pairing with no passkey/pin at
// all (just-works, NoInputNoOutput/DisplayYesNo).
func (a *Agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	devicePath := string(device)
	a.setState(devicePath, StateRequested)
	ctx := a.beginIO(devicePath, StateConfirming)
	ok, err := a.io.Confirm(ctx, devicePath, "authorize pairing")
	if err == nil && !ok {
		err = bleeperr.New(bleeperr.AuthenticationFailed, "pair", nil).WithContext("authorization rejected")
	}
	return a.finish(devicePath, err)
}

// AuthorizeService asks whether device may use the service identified by
// uuid, independent of the pairing flow itself (can fire post-bond too).
func (a *Agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	devicePath := string(device)
	ctx := context.Background()
	if a.timeouts != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeouts.OperationTimeout("pair"))
		defer cancel()
	}
	ok, err := a.io.Confirm(ctx, devicePath, "authorize service "+uuid)
	if err != nil {
		return dbus.MakeFailedError(bleeperr.New(bleeperr.AuthenticationFailed, "authorize_service", err).WithDevice(devicePath))
	}
	if !ok {
		return dbus.MakeFailedError(bleeperr.New(bleeperr.NotAuthorized, "authorize_service", nil).WithDevice(devicePath).WithContext(uuid))
	}
	return nil
}

// Cancel is called by the host stack to withdraw whatever request is
// currently pending; BlueZ's Agent1.Cancel takes no device argument, so the
// most recently issued pending request is the one cancelled.
func (a *Agent) Cancel() *dbus.Error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	devicePath := a.pending[len(a.pending)-1]
	s := a.sessions[devicePath]
	a.mu.Unlock()
	if s != nil && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Register exports the agent at Path on conn and registers it with
// AgentManager1 using capability, optionally requesting default-agent
// status.
func Register(conn *dbus.Conn, a *Agent, asDefault bool) error {
	if err := conn.Export(a, Path, agentInterface); err != nil {
		return err
	}
	mgr := conn.Object("org.bluez", dbus.ObjectPath("/org/bluez"))
	if err := mgr.Call(agentManagerInterface+".RegisterAgent", 0, Path, string(a.capability)).Err; err != nil {
		return err
	}
	if asDefault {
		return mgr.Call(agentManagerInterface+".RequestDefaultAgent", 0, Path).Err
	}
	return nil
}

// Unregister undoes Register.
func Unregister(conn *dbus.Conn) error {
	mgr := conn.Object("org.bluez", dbus.ObjectPath("/org/bluez"))
	return mgr.Call(agentManagerInterface+".UnregisterAgent", 0, Path).Err
}

// WatchRestarts re-registers a on every EventRestarted from events, so a
// BlueZ restart (which drops every registered agent) is transparently
// recovered from without operator intervention (§4.9's integration note).
// Runs until ctx is cancelled.
func WatchRestarts(ctx context.Context, events <-chan reliability.Event, conn *dbus.Conn, a *Agent, asDefault bool, log *logrus.Entry) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != reliability.EventRestarted {
				continue
			}
			if err := Register(conn, a, asDefault); err != nil {
				log.WithError(err).Warn("failed to re-register pairing agent after restart")
			} else {
				log.Info("re-registered pairing agent after stack restart")
			}
		}
	}
}
