package connector

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/elizafairlady/go-uiconn/ui/event"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// MapOption configures a Map.
type MapOption func(*Map)

// WithLogger sets the logger used by the map and its connectors.
func WithLogger(l *slog.Logger) MapOption {
	return func(m *Map) { m.logger = l }
}

// WithHierarchyChecks turns the cycle checks of SetParent and
// SetChildren on or off. They are on by default.
func WithHierarchyChecks(on bool) MapOption {
	return func(m *Map) { m.checks = on }
}

// WithBusOptions passes options to the bus of every new connector.
func WithBusOptions(opts ...event.Option) MapOption {
	return func(m *Map) { m.busOpts = append(m.busOpts, opts...) }
}

// Map is the arena holding the connectors of one connection.
type Map struct {
	conn    Connection
	types   *Types
	conns   map[string]*Connector
	root    string
	checks  bool
	logger  *slog.Logger
	busOpts []event.Option
}

// NewMap creates an empty map whose connectors talk through conn and are
// built from types.
func NewMap(conn Connection, types *Types, opts ...MapOption) *Map {
	m := &Map{
		conn:   conn,
		types:  types,
		conns:  make(map[string]*Connector),
		checks: true,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create builds and registers a connector of the named type. An empty id
// gets a generated one. The concrete connector's Init hook has run when
// Create returns; if it fails the connector is not registered.
func (m *Map) Create(id, typeName string) (*Connector, error) {
	t, err := m.types.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if t.NewState == nil {
		return nil, &ConfigError{Kind: "state", Name: t.Name, Err: ErrNoStateType}
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := m.conns[id]; exists {
		return nil, fmt.Errorf("connector: id %q: %w", id, ErrDuplicate)
	}

	l := m.logger.With("connector", id, "type", t.Name)
	c := &Connector{
		id:          id,
		typ:         t,
		conn:        m.conn,
		m:           m,
		logger:      l,
		children:    []string{},
		lastEnabled: true,
		bus:         event.NewBus(append([]event.Option{event.WithLogger(l)}, m.busOpts...)...),
		rpcs:        rpc.NewRegistry(),
		proxies:     make(map[reflect.Type]any),
	}
	if t.New != nil {
		c.value = t.New(c)
	}
	m.conns[id] = c

	if in, ok := c.value.(Initializer); ok {
		if err := in.Init(); err != nil {
			delete(m.conns, id)
			return nil, fmt.Errorf("connector: init %s: %w", c, err)
		}
	}
	l.Debug("connector registered")
	return c, nil
}

// Get returns the connector with the given id.
func (m *Map) Get(id string) (*Connector, bool) {
	c, ok := m.conns[id]
	return c, ok
}

// Len returns the number of registered connectors.
func (m *Map) Len() int { return len(m.conns) }

// IDs returns the registered ids, sorted.
func (m *Map) IDs() []string {
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetRoot marks id as the root connector of the connection.
func (m *Map) SetRoot(id string) { m.root = id }

// Root returns the root connector, or nil if none is set.
func (m *Map) Root() *Connector { return m.conns[m.root] }

// Unregister removes a connector: the concrete connector's OnUnregister
// hook runs and every subscriber is released. Unknown ids are ignored.
func (m *Map) Unregister(id string) {
	c, ok := m.conns[id]
	if !ok {
		return
	}
	if u, ok := c.value.(Unregisterer); ok {
		u.OnUnregister()
	}
	c.bus.Clear()
	delete(m.conns, id)
	if m.root == id {
		m.root = ""
	}
	c.logger.Debug("connector unregistered")
}

// Verify checks the hierarchy for consistency and returns one error per
// problem found: parents that do not list their children, child lists
// naming unregistered or foreign connectors, detached connectors that
// were never unregistered, and cycles.
func (m *Map) Verify() []error {
	var errs []error
	for _, id := range m.IDs() {
		c := m.conns[id]
		if c.parent != "" {
			p, ok := m.conns[c.parent]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("connector %s: parent %q is not registered", c, c.parent))
			case !contains(p.children, c.id):
				errs = append(errs, fmt.Errorf("connector %s: parent %s does not list it as a child", c, p))
			}
			if p != nil && p.hasAncestorOrSelf(c) {
				errs = append(errs, fmt.Errorf("connector %s: %w", c, ErrCycle))
			}
		} else if id != m.root {
			errs = append(errs, fmt.Errorf("connector %s: not attached to a parent but not unregistered", c))
		}
		for _, cid := range c.children {
			child, ok := m.conns[cid]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("connector %s: child %q is not registered", c, cid))
			case child.parent != c.id:
				errs = append(errs, fmt.Errorf("connector %s: lists child %s whose parent is %q", c, child, child.parent))
			}
		}
	}
	return errs
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
