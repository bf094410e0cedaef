// Package connector implements the client-side half of a server-driven
// component: the Connector.
//
// A Connector owns one shared-state object mirroring the server
// component, its place in the connector hierarchy, a change-notification
// bus and the RPC plumbing in both directions. Concrete widgets wrap a
// Connector (see Type.New) and react to its hooks.
//
// Connectors live in a Map, an arena indexed by connector id. Parent
// links are stored as ids, so the hierarchy is always a strict tree of
// Map entries.
//
// Nothing in this package is safe for concurrent use. The connection
// drives every connector from its single event loop.
package connector

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/elizafairlady/go-uiconn/ui/event"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// Connection is the handle a connector uses to reach the server: a
// sender for outbound calls and the proxy-construction table.
type Connection interface {
	rpc.Sender
	Proxies() *rpc.Proxies
}

// Optional hooks implemented by the concrete connector built by Type.New.
type (
	// Initializer runs once, after the id and connection are assigned
	// and before any state is applied. Register RPC implementations here.
	Initializer interface {
		Init() error
	}

	// Unregisterer runs when the connector is removed from its map.
	Unregisterer interface {
		OnUnregister()
	}

	// StateChangeReactor sees every state change before the bus
	// subscribers do.
	StateChangeReactor interface {
		OnStateChanged(evt *event.StateChangeEvent) error
	}

	// HierarchyChangeReactor is told when the child list of the
	// connector was replaced, with the children it had before.
	HierarchyChangeReactor interface {
		OnHierarchyChanged(old []*Connector) error
	}

	// WidgetEnabler is told the effective enabled status each time
	// UpdateEnabledState is called on the connector.
	WidgetEnabler interface {
		SetWidgetEnabled(enabled bool)
	}
)

// Connector is the client-side proxy of one server component.
type Connector struct {
	id     string
	typ    *Type
	conn   Connection
	m      *Map
	logger *slog.Logger

	state    Shared
	parent   string
	children []string

	lastEnabled bool

	bus     *event.Bus
	rpcs    *rpc.Registry
	proxies map[reflect.Type]any

	value any
}

// ID returns the connector id. It never changes.
func (c *Connector) ID() string { return c.id }

// Type returns the registration metadata of the connector.
func (c *Connector) Type() *Type { return c.typ }

// Connection returns the connection handle.
func (c *Connector) Connection() Connection { return c.conn }

// Value returns the concrete connector built by Type.New, or nil.
func (c *Connector) Value() any { return c.value }

func (c *Connector) String() string {
	return fmt.Sprintf("%s (%s)", c.typ.Name, c.id)
}

// --- State ---

// StateErr returns the shared state, building the default one on first
// use. It fails with a ConfigError if the type cannot build a state.
func (c *Connector) StateErr() (Shared, error) {
	if c.state != nil {
		return c.state, nil
	}
	if c.typ.NewState == nil {
		return nil, &ConfigError{Kind: "state", Name: c.typ.Name, Err: ErrNoStateType}
	}
	s := c.typ.NewState()
	if s == nil || s.Shared() == nil {
		return nil, &ConfigError{Kind: "state", Name: c.typ.Name, Err: ErrNoStateType}
	}
	c.state = s
	return s, nil
}

// State is StateErr for callers that treat a configuration error as
// fatal. It panics with the *ConfigError.
func (c *Connector) State() Shared {
	s, err := c.StateErr()
	if err != nil {
		panic(err)
	}
	return s
}

// ResetState puts the type's default state back and decodes props over
// it. The state keeps its identity, so pointers from StateOf stay valid.
func (c *Connector) ResetState(props map[string]string) error {
	state, err := c.StateErr()
	if err != nil {
		return err
	}
	fresh := c.typ.NewState()
	if err := DecodeState(fresh, props); err != nil {
		return err
	}
	dst, src := reflect.ValueOf(state), reflect.ValueOf(fresh)
	if dst.Kind() != reflect.Pointer || dst.Type() != src.Type() {
		return &ConfigError{Kind: "state", Name: c.typ.Name, Err: fmt.Errorf("cannot reset %T", state)}
	}
	dst.Elem().Set(src.Elem())
	return nil
}

// StateOf returns the state of c as a *T. It panics if the state has a
// different type, which is a registration mismatch.
func StateOf[T any](c *Connector) *T {
	s, ok := any(c.State()).(*T)
	if !ok {
		panic(&ConfigError{
			Kind: "state",
			Name: c.typ.Name,
			Err:  fmt.Errorf("state is %T, not %v", c.State(), reflect.TypeFor[*T]()),
		})
	}
	return s
}

// HasEventListener reports whether the server registered a listener for
// the given event id, meaning the event is worth sending.
func (c *Connector) HasEventListener(id string) bool {
	return slices.Contains(c.State().Shared().RegisteredEventListeners, id)
}

// --- Hierarchy ---

// Parent returns the parent connector, or nil for a root.
func (c *Connector) Parent() *Connector {
	if c.parent == "" {
		return nil
	}
	return c.m.conns[c.parent]
}

// SetParent sets the parent link. It does not touch the parent's child
// list nor recompute enablement; the hierarchy builder does both.
func (c *Connector) SetParent(p *Connector) error {
	if p == nil {
		c.parent = ""
		return nil
	}
	if p.m != c.m {
		return fmt.Errorf("connector: set parent of %s: %w", c, ErrForeign)
	}
	if c.m.checks && p.hasAncestorOrSelf(c) {
		return fmt.Errorf("connector: set parent of %s to %s: %w", c, p, ErrCycle)
	}
	c.parent = p.id
	return nil
}

// Children returns the child connectors in order. The slice is a fresh
// copy and is empty, not nil, when there are no children.
func (c *Connector) Children() []*Connector {
	out := make([]*Connector, 0, len(c.children))
	for _, id := range c.children {
		if child, ok := c.m.conns[id]; ok {
			out = append(out, child)
		}
	}
	return out
}

// SetChildren replaces the child list. Like SetParent it is a plain
// setter.
func (c *Connector) SetChildren(children []*Connector) error {
	ids := make([]string, 0, len(children))
	for _, child := range children {
		if child.m != c.m {
			return fmt.Errorf("connector: set children of %s: %w", c, ErrForeign)
		}
		if c.m.checks && c.hasAncestorOrSelf(child) {
			return fmt.Errorf("connector: add child %s to %s: %w", child, c, ErrCycle)
		}
		ids = append(ids, child.id)
	}
	c.children = ids
	return nil
}

// hasAncestorOrSelf reports whether a is c or one of c's ancestors.
func (c *Connector) hasAncestorOrSelf(a *Connector) bool {
	seen := make(map[string]bool)
	for p := c; p != nil; p = p.Parent() {
		if p == a {
			return true
		}
		if seen[p.id] {
			return true
		}
		seen[p.id] = true
	}
	return false
}

// --- Enablement ---

// IsEnabled reports the effective enabled status: the connector's own
// flag and, if it has a parent, the parent's effective status.
func (c *Connector) IsEnabled() bool {
	if !c.State().Shared().Enabled {
		return false
	}
	if p := c.Parent(); p != nil {
		return p.IsEnabled()
	}
	return true
}

// UpdateEnabledState records enabled as the effective status. When it
// differs from the recorded one, every direct child is asked to
// recompute with UpdateEnabledState(child.IsEnabled()), exactly once
// each; the children decide for themselves whether to go further.
//
// The concrete connector's WidgetEnabler hook sees every call.
func (c *Connector) UpdateEnabledState(enabled bool) {
	if c.lastEnabled != enabled {
		c.lastEnabled = enabled
		for _, child := range c.Children() {
			child.UpdateEnabledState(child.IsEnabled())
		}
	}
	if we, ok := c.value.(WidgetEnabler); ok {
		we.SetWidgetEnabled(c.IsEnabled())
	}
}

// EnabledState returns the last effective status recorded by
// UpdateEnabledState.
func (c *Connector) EnabledState() bool { return c.lastEnabled }

// --- State change notification ---

// Subscribe adds a handler for every state change of the connector.
func (c *Connector) Subscribe(h *event.Handler) event.Registration {
	return c.bus.Subscribe(h)
}

// SubscribeProperty adds a handler for changes of one state property.
func (c *Connector) SubscribeProperty(name string, h *event.Handler) event.Registration {
	return c.bus.SubscribeProperty(name, h)
}

// Unsubscribe removes a global handler.
func (c *Connector) Unsubscribe(h *event.Handler) { c.bus.Unsubscribe(h) }

// UnsubscribeProperty removes a property handler.
func (c *Connector) UnsubscribeProperty(name string, h *event.Handler) {
	c.bus.UnsubscribeProperty(name, h)
}

// Bus returns the connector's change-notification bus.
func (c *Connector) Bus() *event.Bus { return c.bus }

// FireStateChange notifies the connector that its state changed. The
// concrete connector reacts first, then the effective enabled status is
// recomputed, then the bus subscribers are notified. Failures are
// isolated and joined into the returned error.
func (c *Connector) FireStateChange(evt *event.StateChangeEvent) error {
	var reactErr error
	if r, ok := c.value.(StateChangeReactor); ok {
		if err := r.OnStateChanged(evt); err != nil {
			c.logger.Error("connector state change failed", "connector", c.id, "error", err)
			reactErr = fmt.Errorf("connector: %s: %w", c, err)
		}
	}
	c.UpdateEnabledState(c.IsEnabled())
	return errors.Join(reactErr, c.bus.Fire(evt))
}

// FireHierarchyChange tells the concrete connector that its children
// changed from old to Children().
func (c *Connector) FireHierarchyChange(old []*Connector) error {
	r, ok := c.value.(HierarchyChangeReactor)
	if !ok {
		return nil
	}
	if err := r.OnHierarchyChanged(old); err != nil {
		c.logger.Error("connector hierarchy change failed", "connector", c.id, "error", err)
		return fmt.Errorf("connector: %s: %w", c, err)
	}
	return nil
}

// --- RPC ---

// RegisterRPC adds impl as a receiver of server calls on iface.
func (c *Connector) RegisterRPC(iface rpc.Interface, impl rpc.Implementation) {
	c.rpcs.Register(iface, impl)
}

// UnregisterRPC removes impl. It is a no-op if impl is not registered.
func (c *Connector) UnregisterRPC(iface rpc.Interface, impl rpc.Implementation) {
	c.rpcs.Unregister(iface, impl)
}

// RPCImplementations returns the receivers registered for iface.
func (c *Connector) RPCImplementations(iface rpc.Interface) []rpc.Implementation {
	return c.rpcs.Implementations(iface)
}

// RPC returns the inbound registry.
func (c *Connector) RPC() *rpc.Registry { return c.rpcs }

// Proxy returns the outbound proxy of type T for c. The proxy is built
// on first request and reused afterwards. A missing factory is a
// configuration error.
func Proxy[T any](c *Connector) (T, error) {
	var zero T
	t := reflect.TypeFor[T]()
	if p, ok := c.proxies[t]; ok {
		return p.(T), nil
	}
	v, err := c.conn.Proxies().New(t, c.id, c.conn)
	if err != nil {
		return zero, &ConfigError{Kind: "proxy", Name: t.String(), Err: err}
	}
	p, ok := v.(T)
	if !ok {
		return zero, &ConfigError{Kind: "proxy", Name: t.String(), Err: fmt.Errorf("factory built %T", v)}
	}
	c.proxies[t] = v
	return p, nil
}
