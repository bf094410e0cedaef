// Package event implements the per-connector change-notification bus.
//
// A Bus delivers StateChangeEvents either to global subscribers, which
// see every event, or to subscribers scoped to one state property, which
// see an event only when that property is reported as changed.
//
// Delivery is synchronous: when Fire returns, every subscriber that was
// registered at the time of the call has been invoked exactly once.
// A failing subscriber never prevents delivery to the ones after it.
package event

import "strings"

// StateChangeEvent reports that the shared state of one connector changed.
type StateChangeEvent struct {
	// ConnectorID is the id of the connector whose state changed.
	ConnectorID string

	// Properties is the set of top-level or dotted property names
	// carried by the update.
	Properties []string

	// Initial is set for the first event of a newly created connector.
	// Every property counts as changed for an initial event.
	Initial bool
}

// NewStateChangeEvent returns an event for the given connector and
// changed properties.
func NewStateChangeEvent(connectorID string, initial bool, props ...string) *StateChangeEvent {
	return &StateChangeEvent{
		ConnectorID: connectorID,
		Properties:  props,
		Initial:     initial,
	}
}

// HasPropertyChanged reports whether name is affected by the event.
//
// A dotted name is affected when one of its ancestors was replaced
// ("a" changed affects "a.b"), and a name is affected when one of its
// descendants changed ("a.b" changed affects "a").
func (e *StateChangeEvent) HasPropertyChanged(name string) bool {
	if e.Initial {
		return true
	}
	for _, p := range e.Properties {
		if p == name {
			return true
		}
		if strings.HasPrefix(p, name+".") || strings.HasPrefix(name, p+".") {
			return true
		}
	}
	return false
}

// Handler wraps a subscriber callback. Subscriptions are identified by
// the Handler pointer, so the same *Handler must be passed to
// Unsubscribe.
type Handler struct {
	Fn   func(*StateChangeEvent) error
	once bool
}

// NewHandler returns a handler running fn.
func NewHandler(fn func(*StateChangeEvent) error) *Handler {
	return &Handler{Fn: fn}
}

// RunOnce marks the handler to be removed after its first delivery.
func (h *Handler) RunOnce() *Handler {
	h.once = true
	return h
}

// Handle runs the callback.
func (h *Handler) Handle(evt *StateChangeEvent) error {
	return h.Fn(evt)
}

// HandlerError is returned (joined) by Fire for each failing subscriber.
type HandlerError struct {
	ConnectorID string
	Property    string // "" for global subscribers
	Err         error
}

func (e *HandlerError) Error() string {
	if e.Property == "" {
		return "event: state change handler for " + e.ConnectorID + ": " + e.Err.Error()
	}
	return "event: state change handler for " + e.ConnectorID + "/" + e.Property + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }
