// Package rpc holds the two one-directional call channels of a
// connector.
//
// Outbound calls go through proxies: one value per Go interface type
// and connector, built by a factory registered in Proxies, which turns
// method calls into Invocations handed to a Sender.
//
// Inbound calls arrive as Invocations addressed by connector id and
// interface name, and are dispatched by a Registry to every
// Implementation registered for that interface.
package rpc

import (
	"errors"
	"fmt"
)

// ErrNoProxy is returned when no proxy factory is registered for a type.
var ErrNoProxy = errors.New("rpc: no proxy factory")

// ErrDuplicate is returned when a proxy factory is registered twice.
var ErrDuplicate = errors.New("rpc: already registered")

// Interface identifies a remote-call interface. Declare each one once,
// as a package-level variable, and use that value as the registry key:
//
//	var ButtonServer = rpc.NewInterface("button.server")
//
// The name is what travels on the wire and must match the server side.
type Interface struct {
	name string
}

// NewInterface declares an interface with the given wire name.
func NewInterface(name string) Interface {
	if name == "" {
		panic("rpc: empty interface name")
	}
	return Interface{name: name}
}

// Name returns the wire name.
func (i Interface) Name() string { return i.name }

func (i Interface) String() string { return i.name }

// Invocation is one method call, in either direction.
type Invocation struct {
	ConnectorID string
	Interface   string
	Method      string
	Args        map[string]string
}

func (inv *Invocation) String() string {
	return fmt.Sprintf("%s %s.%s", inv.ConnectorID, inv.Interface, inv.Method)
}

// Arg returns the named argument, or "" if absent.
func (inv *Invocation) Arg(name string) string {
	return inv.Args[name]
}

// Implementation receives inbound calls for one interface.
//
// Registrations are compared with ==, so implementations must be of a
// comparable type; pointers are the usual choice.
type Implementation interface {
	Invoke(inv *Invocation) error
}

// ImplementationFunc adapts a function to Implementation. Use
// NewImplementation so that the registration has a pointer identity.
type ImplementationFunc struct {
	Fn func(*Invocation) error
}

// NewImplementation wraps fn.
func NewImplementation(fn func(*Invocation) error) *ImplementationFunc {
	return &ImplementationFunc{Fn: fn}
}

// Invoke runs the wrapped function.
func (f *ImplementationFunc) Invoke(inv *Invocation) error {
	return f.Fn(inv)
}

// Sender accepts outbound invocations. The connection queues them and
// the transport ships them to the server.
type Sender interface {
	Send(inv *Invocation)
}
