package rpc

import (
	"fmt"
	"reflect"
	"sync"
)

// Caller is handed to proxy factories. It stamps every call with the
// owning connector id and the interface wire name.
type Caller struct {
	connectorID string
	iface       Interface
	sender      Sender
}

// NewCaller returns a caller sending through s.
func NewCaller(connectorID string, iface Interface, s Sender) *Caller {
	return &Caller{connectorID: connectorID, iface: iface, sender: s}
}

// ConnectorID returns the connector the calls are addressed from.
func (c *Caller) ConnectorID() string { return c.connectorID }

// Call sends method with args to the server.
func (c *Caller) Call(method string, args map[string]string) {
	if args == nil {
		args = map[string]string{}
	}
	c.sender.Send(&Invocation{
		ConnectorID: c.connectorID,
		Interface:   c.iface.Name(),
		Method:      method,
		Args:        args,
	})
}

type proxyFactory struct {
	iface Interface
	build func(*Caller) any
}

// Proxies is the proxy-construction mechanism: a table from Go interface
// type to the factory able to build a proxy for it. It is safe for
// concurrent use; registration normally happens at startup.
type Proxies struct {
	mu        sync.RWMutex
	factories map[reflect.Type]proxyFactory
}

// NewProxies creates an empty factory table.
func NewProxies() *Proxies {
	return &Proxies{factories: make(map[reflect.Type]proxyFactory)}
}

// RegisterProxy registers the factory building proxies of type T for
// iface. T is normally a Go interface type.
func RegisterProxy[T any](p *Proxies, iface Interface, build func(*Caller) T) error {
	t := reflect.TypeFor[T]()
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.factories[t]; exists {
		return fmt.Errorf("%w: proxy for %v", ErrDuplicate, t)
	}
	p.factories[t] = proxyFactory{
		iface: iface,
		build: func(c *Caller) any { return build(c) },
	}
	return nil
}

// New builds a proxy of type t for the given connector.
func (p *Proxies) New(t reflect.Type, connectorID string, s Sender) (any, error) {
	p.mu.RLock()
	f, ok := p.factories[t]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %v", ErrNoProxy, t)
	}
	return f.build(NewCaller(connectorID, f.iface, s)), nil
}

// Interface returns the interface a proxy type is registered for.
func (p *Proxies) Interface(t reflect.Type) (Interface, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.factories[t]
	return f.iface, ok
}
