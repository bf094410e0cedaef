package rpc

import (
	"errors"
	"fmt"
)

// Registry maps interfaces to the implementations listening on them.
// Registration is additive: several implementations of the same
// interface all receive every dispatched call.
type Registry struct {
	impls map[Interface][]Implementation
	names map[string]Interface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		impls: make(map[Interface][]Implementation),
		names: make(map[string]Interface),
	}
}

// Register adds impl to the set for iface. Registering the same
// implementation twice is a no-op.
func (r *Registry) Register(iface Interface, impl Implementation) {
	if impl == nil {
		panic("rpc: nil implementation")
	}
	list := r.impls[iface]
	for _, v := range list {
		if v == impl {
			return
		}
	}
	r.impls[iface] = append(list, impl)
	r.names[iface.Name()] = iface
}

// Unregister removes impl from the set for iface. It is a no-op if impl
// was never registered.
func (r *Registry) Unregister(iface Interface, impl Implementation) {
	list, ok := r.impls[iface]
	if !ok {
		return
	}
	for i, v := range list {
		if v != impl {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		break
	}
	if len(list) == 0 {
		delete(r.impls, iface)
		delete(r.names, iface.Name())
		return
	}
	r.impls[iface] = list
}

// Implementations returns the implementations registered for iface.
// The result is a copy and is never nil.
func (r *Registry) Implementations(iface Interface) []Implementation {
	return append([]Implementation{}, r.impls[iface]...)
}

// Lookup resolves a wire name to a registered interface.
func (r *Registry) Lookup(name string) (Interface, bool) {
	iface, ok := r.names[name]
	return iface, ok
}

// Dispatch delivers inv to every implementation of its interface.
// An interface without implementations silently drops the call.
// Every implementation is invoked even if an earlier one fails; the
// failures are joined.
func (r *Registry) Dispatch(inv *Invocation) error {
	iface, ok := r.names[inv.Interface]
	if !ok {
		return nil
	}
	var errs []error
	for _, impl := range r.Implementations(iface) {
		if err := impl.Invoke(inv); err != nil {
			errs = append(errs, fmt.Errorf("rpc: %s: %w", inv, err))
		}
	}
	return errors.Join(errs...)
}
