package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/store"
)

const propertiesChangedMember = "org.freedesktop.DBus.Properties.PropertiesChanged"
const interfacesAddedMember = "org.freedesktop.DBus.ObjectManager.InterfacesAdded"
const interfacesRemovedMember = "org.freedesktop.DBus.ObjectManager.InterfacesRemoved"

const deviceInterface = "org.bluez.Device1"
const gattCharInterface = "org.bluez.GattCharacteristic1"

// CallbackFunc is a named, registerable Callback action handler.
type CallbackFunc func(Event)

// TransformFunc rewrites an event before later actions in the same route
// run. Returning ok=false drops the event from every remaining action in
// the route (but not from later routes).
type TransformFunc func(Event) (Event, bool)

// Router is the single-threaded dispatcher of §4.8: one goroutine drains
// raw bus signals plus synthesized events, walks enabled routes in
// declaration order, and runs each matching route's actions in order.
// Action failure is logged and does not cancel remaining actions or routes.
type Router struct {
	log   *logrus.Entry
	store *store.Store

	mu        sync.RWMutex
	routes    []*Route
	callbacks map[string]CallbackFunc
	transforms map[string]TransformFunc
	notify    map[string][]NotifyCallback // path -> registered Notifier callbacks
	forwarders map[string]chan<- Event

	events chan Event
	done   chan struct{}
}

// New builds a Router with the default routes installed (§4.8): log all
// notifications, store every read/write/notification in observation, store
// property-change for device connection state.
func New(st *store.Store, log *logrus.Entry) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	r := &Router{
		log:        log.WithField("component", "router"),
		store:      st,
		callbacks:  make(map[string]CallbackFunc),
		transforms: make(map[string]TransformFunc),
		notify:     make(map[string][]NotifyCallback),
		forwarders: make(map[string]chan<- Event),
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
	}
	for _, rt := range defaultRoutes() {
		_ = r.InstallRoute(rt)
	}
	return r
}

func defaultRoutes() []Route {
	return []Route{
		{
			Name:    "log-all-notifications",
			Enabled: true,
			Filter:  Filter{SignalType: SignalNotification},
			Actions: []Action{{Kind: ActionLog, LogLevel: "info"}},
		},
		{
			Name:    "store-reads",
			Enabled: true,
			Filter:  Filter{SignalType: SignalRead},
			Actions: []Action{{Kind: ActionStoreObs}},
		},
		{
			Name:    "store-writes",
			Enabled: true,
			Filter:  Filter{SignalType: SignalWrite},
			Actions: []Action{{Kind: ActionStoreObs}},
		},
		{
			Name:    "store-notifications",
			Enabled: true,
			Filter:  Filter{SignalType: SignalNotification},
			Actions: []Action{{Kind: ActionStoreObs}},
		},
		{
			Name:    "store-connection-state",
			Enabled: true,
			Filter:  Filter{SignalType: SignalPropertyChange, Property: "Connected"},
			Actions: []Action{{Kind: ActionStoreObs}},
		},
	}
}

// InstallRoute appends or replaces (by Name) one route, compiling its
// filter's regex fields up front so Dispatch never returns a compile error.
func (r *Router) InstallRoute(rt Route) error {
	if err := rt.Filter.compile(); err != nil {
		return err
	}
	owned := rt
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.routes {
		if existing.Name == owned.Name {
			r.routes[i] = &owned
			return nil
		}
	}
	r.routes = append(r.routes, &owned)
	return nil
}

// RemoveRoute drops a route by name.
func (r *Router) RemoveRoute(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.routes {
		if existing.Name == name {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return
		}
	}
}

// Routes returns a snapshot of installed routes in declaration order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, len(r.routes))
	for i, rt := range r.routes {
		out[i] = *rt
	}
	return out
}

// RegisterCallback makes name available to Callback actions.
func (r *Router) RegisterCallback(name string, fn CallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[name] = fn
}

// RegisterTransform makes name available to Transform actions.
func (r *Router) RegisterTransform(name string, fn TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = fn
}

// RegisterForwarder makes target available to Forward actions: matching
// events are sent (non-blocking, dropped if full) on ch.
func (r *Router) RegisterForwarder(target string, ch chan<- Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwarders[target] = ch
}

// Register implements internal/gatt's Notifier interface: characteristic
// path -> callback, invoked whenever a Value PropertiesChanged signal for
// that path is dispatched.
func (r *Router) Register(path string, cb NotifyCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify[path] = append(r.notify[path], cb)
	return nil
}

// Unregister implements internal/gatt's Notifier interface.
func (r *Router) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notify, path)
}

// Submit enqueues a synthesized event (e.g. a read or write that never
// arrives as a bus signal) for dispatch on the router's single thread.
func (r *Router) Submit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case r.events <- ev:
	default:
		r.log.Warn("event queue full, dropping event")
	}
}

// Run is the single dispatcher thread (§4.8): it drains sigCh (raw bus
// signals, translated via FromSignal) and r.events (synthesized events)
// until ctx is cancelled.
func (r *Router) Run(ctx context.Context, sigCh <-chan *dbus.Signal) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				sigCh = nil
				continue
			}
			if ev, ok := FromSignal(sig); ok {
				r.dispatch(ev)
			}
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

// Done closes once Run returns.
func (r *Router) Done() <-chan struct{} { return r.done }

func (r *Router) dispatch(ev Event) {
	if len(ev.Value) > 0 && ev.Text == "" {
		ev.Text = string(ev.Value)
	}

	r.mu.RLock()
	routes := make([]*Route, len(r.routes))
	copy(routes, r.routes)
	r.mu.RUnlock()

	if cbs := r.notifyCallbacks(ev); len(cbs) > 0 {
		for _, cb := range cbs {
			cb(ev.Value, ev.At)
		}
	}

	for _, rt := range routes {
		if !rt.Enabled || !rt.Filter.Matches(ev) {
			continue
		}
		current := ev
		for _, act := range rt.Actions {
			next, keep := r.runAction(act, current)
			if !keep {
				break
			}
			current = next
		}
	}
}

func (r *Router) notifyCallbacks(ev Event) []NotifyCallback {
	if ev.Type != SignalNotification && ev.Type != SignalIndication {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cbs := r.notify[ev.Path]
	out := make([]NotifyCallback, len(cbs))
	copy(out, cbs)
	return out
}

// runAction executes one action, returning the (possibly transformed) event
// and whether later actions in the same route should still run.
func (r *Router) runAction(act Action, ev Event) (Event, bool) {
	var err error
	switch act.Kind {
	case ActionLog:
		r.logEvent(act, ev)
	case ActionSave:
		err = saveEvent(act, ev)
	case ActionCallback:
		err = r.runCallback(act, ev)
	case ActionStoreObs:
		err = r.storeObservation(ev)
	case ActionForward:
		r.forward(act, ev)
	case ActionTransform:
		var ok bool
		ev, ok = r.runTransform(act, ev)
		if !ok {
			return ev, false
		}
	}
	if err != nil {
		r.log.WithError(err).WithField("action", act.Kind).Warn("route action failed")
	}
	return ev, true
}

func (r *Router) logEvent(act Action, ev Event) {
	entry := r.log.WithFields(logrus.Fields{
		"type": ev.Type, "device": ev.DeviceMAC, "path": ev.Path, "property": ev.Property,
	})
	switch strings.ToLower(act.LogLevel) {
	case "debug":
		entry.Debug("router event")
	case "warn", "warning":
		entry.Warn("router event")
	case "error":
		entry.Error("router event")
	default:
		entry.Info("router event")
	}
}

func (r *Router) runCallback(act Action, ev Event) error {
	r.mu.RLock()
	fn := r.callbacks[act.CallbackName]
	r.mu.RUnlock()
	if fn == nil {
		return errNoCallback(act.CallbackName)
	}
	fn(ev)
	return nil
}

func (r *Router) runTransform(act Action, ev Event) (Event, bool) {
	r.mu.RLock()
	fn := r.transforms[act.TransformName]
	r.mu.RUnlock()
	if fn == nil {
		r.log.WithField("transform", act.TransformName).Warn("unknown transform, passing event through")
		return ev, true
	}
	return fn(ev)
}

func (r *Router) forward(act Action, ev Event) {
	r.mu.RLock()
	ch := r.forwarders[act.ForwardTarget]
	r.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		r.log.WithField("target", act.ForwardTarget).Warn("forward target full, dropping event")
	}
}

func (r *Router) storeObservation(ev Event) error {
	if r.store == nil {
		return nil
	}
	ctx := context.Background()
	switch ev.Type {
	case SignalRead:
		return r.store.InsertCharHistory(ctx, ev.DeviceMAC, ev.ServiceUUID, ev.CharUUID, ev.At, ev.Value, store.SourceRead)
	case SignalWrite:
		return r.store.InsertCharHistory(ctx, ev.DeviceMAC, ev.ServiceUUID, ev.CharUUID, ev.At, ev.Value, store.SourceWrite)
	case SignalNotification, SignalIndication:
		return r.store.InsertCharHistory(ctx, ev.DeviceMAC, ev.ServiceUUID, ev.CharUUID, ev.At, ev.Value, store.SourceNotification)
	case SignalPropertyChange:
		if ev.Property == "Connected" {
			connected := strings.EqualFold(ev.Text, "true") || (len(ev.Value) == 1 && ev.Value[0] != 0)
			return r.store.InsertConnectionEvent(ctx, ev.DeviceMAC, connected, ev.At)
		}
	}
	return nil
}

// FromSignal translates a raw org.bluez D-Bus signal into an Event.
// PropertiesChanged on a Device1/GattCharacteristic1 path becomes a typed
// event; InterfacesAdded/InterfacesRemoved become SignalAny events carrying
// only the path. Returns ok=false for every other signal.
func FromSignal(sig *dbus.Signal) (Event, bool) {
	if sig == nil {
		return Event{}, false
	}
	switch sig.Name {
	case propertiesChangedMember:
		return fromPropertiesChanged(sig)
	case interfacesAddedMember, interfacesRemovedMember:
		return Event{Type: SignalAny, Path: string(sig.Path), At: time.Now().UTC()}, true
	}
	return Event{}, false
}

func fromPropertiesChanged(sig *dbus.Signal) (Event, bool) {
	if len(sig.Body) < 2 {
		return Event{}, false
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	if len(changed) == 0 {
		return Event{}, false
	}

	mac := macFromPath(string(sig.Path))
	base := Event{Path: string(sig.Path), DeviceMAC: mac, At: time.Now().UTC()}

	switch iface {
	case gattCharInterface:
		if v, ok := changed["Value"]; ok {
			base.Type = SignalNotification
			base.Property = "Value"
			if b, ok := v.Value().([]byte); ok {
				base.Value = b
			}
			return base, true
		}
	case deviceInterface:
		for name, v := range changed {
			base.Type = SignalPropertyChange
			base.Property = name
			base.Text = renderVariant(v)
			return base, true
		}
	}
	return Event{}, false
}

func renderVariant(v dbus.Variant) string {
	switch val := v.Value().(type) {
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return val
	default:
		return v.String()
	}
}

// macFromPath extracts "AA:BB:CC:DD:EE:FF" out of a BlueZ object path
// segment "dev_AA_BB_CC_DD_EE_FF", returning "" if the path carries none.
func macFromPath(objPath string) string {
	parts := strings.Split(objPath, "/")
	for _, seg := range parts {
		if strings.HasPrefix(seg, "dev_") {
			mac := strings.TrimPrefix(seg, "dev_")
			mac = strings.Join(strings.Split(mac, "_"), ":")
			return mac
		}
	}
	return ""
}

// SignalMatchOptions builds the AddMatchSignal options the router subscribes
// with: every PropertiesChanged and object-manager signal on the BlueZ
// service.
func SignalMatchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(ipc.BlueZService),
	}
}

type errNoCallback string

func (e errNoCallback) Error() string { return "router: no callback registered: " + string(e) }
