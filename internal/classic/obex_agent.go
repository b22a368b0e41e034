package classic

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	obexAgentManagerInterface = "org.bluez.obex.AgentManager1"
	obexAgentInterface        = "org.bluez.obex.Agent1"
)

// ObexAgentPath is the object path the auto-accept agent registers itself
// under.
const ObexAgentPath = dbus.ObjectPath("/bleep/obex_agent")

// ObexAgent is an optional in-process org.bluez.obex.Agent1 implementation
// that auto-accepts authorization prompts for transfers it's asked about
// (§4.7). It is exported on the session bus the same way conn.Export is
// used elsewhere in the ecosystem to expose a D-Bus object rather than only
// consume one.
type ObexAgent struct {
	log *logrus.Entry
}

// NewObexAgent returns an agent ready to Export on a session-bus connection.
func NewObexAgent(log *logrus.Entry) *ObexAgent {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &ObexAgent{log: log.WithField("component", "obex_agent")}
}

// Authorize is called by obexd for each incoming transfer needing
// confirmation; returning an empty error auto-accepts it.
func (a *ObexAgent) Authorize(transfer dbus.ObjectPath) (string, *dbus.Error) {
	a.log.WithField("transfer", transfer).Info("auto-accepting obex transfer")
	return string(transfer), nil
}

// Cancel is called when a pending authorization request is withdrawn.
func (a *ObexAgent) Cancel() *dbus.Error {
	return nil
}

// Release is called when the agent is unregistered or obexd exits.
func (a *ObexAgent) Release() *dbus.Error {
	return nil
}

// RegisterObexAgent exports agent at ObexAgentPath on sessionConn and
// registers it with obexd's AgentManager1.
func RegisterObexAgent(sessionConn *dbus.Conn, agent *ObexAgent) error {
	if err := sessionConn.Export(agent, ObexAgentPath, obexAgentInterface); err != nil {
		return err
	}
	mgr := sessionConn.Object(obexService, dbus.ObjectPath("/org/bluez/obex"))
	return mgr.Call(obexAgentManagerInterface+".RegisterAgent", 0, ObexAgentPath).Err
}

// UnregisterObexAgent undoes RegisterObexAgent.
func UnregisterObexAgent(sessionConn *dbus.Conn) error {
	mgr := sessionConn.Object(obexService, dbus.ObjectPath("/org/bluez/obex"))
	return mgr.Call(obexAgentManagerInterface+".UnregisterAgent", 0, ObexAgentPath).Err
}
