package event

import (
	"errors"
	"fmt"
	"log/slog"
)

// all is the registry key for global subscribers.
const all = ""

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report failing subscribers.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithFailureHook sets a callback run for every failing subscriber,
// after the failure has been logged.
func WithFailureHook(fn func(*HandlerError)) Option {
	return func(b *Bus) { b.onFailure = fn }
}

// Bus is a connector-scoped publish/subscribe registry.
//
// A Bus is not safe for concurrent use; like the connector owning it,
// it is driven from the single UI event loop.
type Bus struct {
	handlers  map[string]*handlers
	props     []string // scoped property keys in first-subscription order
	logger    *slog.Logger
	onFailure func(*HandlerError)
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string]*handlers),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registration removes the subscription it was returned for.
type Registration struct {
	bus      *Bus
	property string
	handler  *Handler
}

// Remove cancels the subscription. Calling it more than once is harmless.
func (r Registration) Remove() {
	if r.bus == nil {
		return
	}
	r.bus.remove(r.property, r.handler)
}

// Subscribe adds a global subscriber that receives every fired event.
func (b *Bus) Subscribe(h *Handler) Registration {
	return b.add(all, h)
}

// SubscribeProperty adds a subscriber that receives an event only if
// the event reports name as changed.
func (b *Bus) SubscribeProperty(name string, h *Handler) Registration {
	if name == all {
		panic("event: empty property name")
	}
	return b.add(name, h)
}

// Unsubscribe removes a global subscriber. It is a no-op if h is not
// subscribed.
func (b *Bus) Unsubscribe(h *Handler) {
	b.remove(all, h)
}

// UnsubscribeProperty removes a scoped subscriber. It is a no-op if h is
// not subscribed to name.
func (b *Bus) UnsubscribeProperty(name string, h *Handler) {
	b.remove(name, h)
}

// Len returns the total number of subscriptions.
func (b *Bus) Len() int {
	n := 0
	for _, hs := range b.handlers {
		n += len(hs.list)
	}
	return n
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.handlers = make(map[string]*handlers)
	b.props = nil
}

// Fire delivers evt to every global subscriber and then, for each
// scoped property reported as changed by evt, to that property's
// subscribers. Subscribers added or removed during delivery take effect
// for the next event.
//
// Failing subscribers are logged and skipped; their errors are joined
// into the returned error.
func (b *Bus) Fire(evt *StateChangeEvent) error {
	type delivery struct {
		prop string
		list []*Handler
	}
	var plan []delivery
	if hs, ok := b.handlers[all]; ok {
		plan = append(plan, delivery{all, hs.snapshot()})
	}
	for _, p := range b.props {
		if hs, ok := b.handlers[p]; ok && evt.HasPropertyChanged(p) {
			plan = append(plan, delivery{p, hs.snapshot()})
		}
	}

	var errs []error
	for _, d := range plan {
		errs = b.deliver(d.prop, d.list, evt, errs)
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(prop string, list []*Handler, evt *StateChangeEvent, errs []error) []error {
	for _, h := range list {
		if h.once {
			b.remove(prop, h)
		}
		if err := invoke(h, evt); err != nil {
			herr := &HandlerError{ConnectorID: evt.ConnectorID, Property: prop, Err: err}
			b.logger.Error("state change handler failed",
				"connector", evt.ConnectorID,
				"property", prop,
				"error", err)
			if b.onFailure != nil {
				b.onFailure(herr)
			}
			errs = append(errs, herr)
		}
	}
	return errs
}

// invoke runs the handler, turning a panic into an error.
func invoke(h *Handler, evt *StateChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(evt)
}

func (b *Bus) add(key string, h *Handler) Registration {
	if h == nil || h.Fn == nil {
		panic("event: nil handler")
	}
	hs, ok := b.handlers[key]
	if !ok {
		hs = &handlers{}
		b.handlers[key] = hs
		if key != all {
			b.props = append(b.props, key)
		}
	}
	hs.add(h)
	return Registration{bus: b, property: key, handler: h}
}

func (b *Bus) remove(key string, h *Handler) {
	hs, ok := b.handlers[key]
	if !ok {
		return
	}
	hs.remove(h)
	if len(hs.list) > 0 {
		return
	}
	delete(b.handlers, key)
	for i, p := range b.props {
		if p == key {
			b.props = append(b.props[:i], b.props[i+1:]...)
			break
		}
	}
}

// handlers is an insertion-ordered handler list.
type handlers struct {
	list []*Handler
}

func (hs *handlers) add(h *Handler) {
	hs.list = append(hs.list, h)
}

func (hs *handlers) remove(h *Handler) {
	for i, v := range hs.list {
		if v == h {
			hs.list = append(hs.list[:i], hs.list[i+1:]...)
			return
		}
	}
}

func (hs *handlers) snapshot() []*Handler {
	return append([]*Handler(nil), hs.list...)
}
