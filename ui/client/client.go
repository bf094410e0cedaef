// Package client implements the message handler that keeps a connector
// hierarchy in step with a server.
//
// A Client applies server updates (see package proto) to its
// connector.Map and sends back the calls its connectors queue:
//   - node lines create connectors from the registered types
//   - node lines for a known id of another type replace that connector
//   - prop lines are decoded into the connectors' shared state; unset
//     lines return properties to the type's default
//   - child lines rebuild the hierarchy and tell containers about their
//     old children; connectors that fall out of it are unregistered at
//     the end of the update
//   - every touched connector fires one state change event
//   - rpc lines are dispatched to the registered implementations
//
// All connector work happens on the goroutine running Run (or calling
// Apply). Defer is the only entry point safe for other goroutines.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/elizafairlady/go-uiconn/ui/connector"
	"github.com/elizafairlady/go-uiconn/ui/event"
	"github.com/elizafairlady/go-uiconn/ui/proto"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// Inbound delivers server updates.
type Inbound interface {
	Receive(ctx context.Context) (*proto.Update, error)
}

// Outbound carries serialized call batches to the server.
type Outbound interface {
	SendCalls(ctx context.Context, text string) error
}

// Transport is both directions of a connection.
type Transport interface {
	Inbound
	Outbound
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger of the client and its connectors.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithDebug turns on hierarchy verification after every update.
func WithDebug(on bool) Option {
	return func(cl *Client) { cl.debug = on }
}

// WithOutbound sets where Flush sends calls. Run sets it to its
// transport when unset.
func WithOutbound(out Outbound) Option {
	return func(cl *Client) { cl.out = out }
}

// WithFlushInterval makes Run flush queued calls periodically, in
// addition to after each update and deferred batch.
func WithFlushInterval(d time.Duration) Option {
	return func(cl *Client) { cl.flushEvery = d }
}

// WithMetrics replaces the client's metrics.
func WithMetrics(m *Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithTracer sets the tracer used for apply and flush spans.
func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) { cl.tracer = t }
}

// WithMapOptions passes options to the connector map.
func WithMapOptions(opts ...connector.MapOption) Option {
	return func(cl *Client) { cl.mapOpts = append(cl.mapOpts, opts...) }
}

// Client is the connector-side end of one server connection.
type Client struct {
	m       *connector.Map
	proxies *rpc.Proxies
	queue   *rpc.Queue

	out        Outbound
	logger     *slog.Logger
	debug      bool
	flushEvery time.Duration
	metrics    *Metrics
	tracer     trace.Tracer
	mapOpts    []connector.MapOption

	props map[string]map[string]string // last properties received per connector

	rev    uint64 // sync id of the last applied update
	syncID uint64 // sync id of the last sent batch

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}

	// Notify is called after each applied update.
	Notify func()

	// CallLog records flushed call batches (for debugging).
	// Set to non-nil to enable logging.
	CallLog []string
}

// New creates a client building connectors from types.
func New(types *connector.Types, opts ...Option) *Client {
	cl := &Client{
		proxies: rpc.NewProxies(),
		queue:   rpc.NewQueue(),
		props:   make(map[string]map[string]string),
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/elizafairlady/go-uiconn/ui/client"),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(cl)
	}
	if cl.metrics == nil {
		cl.metrics = NewMetrics("uiconn")
	}
	mapOpts := []connector.MapOption{
		connector.WithLogger(cl.logger),
		connector.WithBusOptions(event.WithFailureHook(func(*event.HandlerError) {
			cl.metrics.SubscriberFailures.Inc()
		})),
	}
	cl.m = connector.NewMap(cl, types, append(mapOpts, cl.mapOpts...)...)
	return cl
}

// Send queues an outbound call until the next Flush.
func (cl *Client) Send(inv *rpc.Invocation) { cl.queue.Send(inv) }

// Proxies returns the table of outbound proxy factories.
func (cl *Client) Proxies() *rpc.Proxies { return cl.proxies }

// Map returns the connector map.
func (cl *Client) Map() *connector.Map { return cl.m }

// Root returns the root connector, or nil before the first update.
func (cl *Client) Root() *connector.Connector { return cl.m.Root() }

// Connector returns the connector with the given id.
func (cl *Client) Connector(id string) (*connector.Connector, bool) { return cl.m.Get(id) }

// Rev returns the sync id of the last applied update.
func (cl *Client) Rev() uint64 { return cl.rev }

// Metrics returns the client's metrics.
func (cl *Client) Metrics() *Metrics { return cl.metrics }

// --- Applying updates ---

// Apply applies one server update. It fails only on configuration
// errors and malformed state; subscriber and RPC failures are logged
// and counted.
func (cl *Client) Apply(ctx context.Context, u *proto.Update) error {
	_, span := cl.tracer.Start(ctx, "uiconn.apply", trace.WithAttributes(
		attribute.Int64("uiconn.sync", int64(u.Sync)),
		attribute.Int("uiconn.connectors", len(u.Order)),
		attribute.Int("uiconn.rpc", len(u.RPC)),
	))
	defer span.End()

	if err := cl.apply(u); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (cl *Client) apply(u *proto.Update) error {
	created := make(map[string]bool)
	for _, id := range u.Order {
		typ, ok := u.Types[id]
		if !ok {
			continue
		}
		if err := cl.create(id, typ); err != nil {
			return fmt.Errorf("client: sync %d: %w", u.Sync, err)
		}
		created[id] = true
	}
	if u.Root != "" {
		cl.m.SetRoot(u.Root)
	}

	changed := make(map[string][]string)
	for _, id := range u.Order {
		props, unset := u.Props[id], u.Unset[id]
		if len(props) == 0 && len(unset) == 0 {
			continue
		}
		c, ok := cl.m.Get(id)
		if !ok {
			cl.logger.Warn("state for unknown connector", "connector", id, "sync", u.Sync)
			continue
		}
		state, err := c.StateErr()
		if err != nil {
			return fmt.Errorf("client: sync %d: %w", u.Sync, err)
		}
		raw := cl.props[id]
		if raw == nil {
			raw = make(map[string]string)
			cl.props[id] = raw
		}
		maps.Copy(raw, props)
		for _, k := range unset {
			delete(raw, k)
		}
		if len(unset) > 0 {
			err = c.ResetState(raw)
		} else {
			err = connector.DecodeState(state, props)
		}
		if err != nil {
			return fmt.Errorf("client: sync %d: %s: %w", u.Sync, c, err)
		}
		changed[id] = append(sortedKeys(props), unset...)
	}

	hier, err := cl.updateHierarchy(u)
	if err != nil {
		return fmt.Errorf("client: sync %d: %w", u.Sync, err)
	}
	for _, hc := range hier.changes {
		if err := hc.c.FireHierarchyChange(hc.old); err != nil {
			cl.logger.Debug("hierarchy change had failures", "connector", hc.c.ID(), "error", err)
		}
	}

	for _, id := range u.Order {
		c, ok := cl.m.Get(id)
		if !ok {
			continue
		}
		props, hasProps := changed[id]
		if !created[id] && !hasProps {
			continue
		}
		evt := event.NewStateChangeEvent(id, created[id], props...)
		cl.metrics.StateChanges.Inc()
		if err := c.FireStateChange(evt); err != nil {
			cl.logger.Debug("state change had failures", "connector", id, "error", err)
		}
	}

	for _, inv := range u.RPC {
		cl.dispatch(inv)
	}

	for _, id := range hier.detached {
		delete(cl.props, id)
		cl.m.Unregister(id)
	}

	if cl.debug {
		for _, err := range cl.m.Verify() {
			cl.logger.Error("inconsistent connector hierarchy", "sync", u.Sync, "error", err)
		}
	}

	cl.rev = u.Sync
	cl.metrics.UpdatesApplied.Inc()
	cl.metrics.Connectors.Set(float64(cl.m.Len()))
	if cl.Notify != nil {
		cl.Notify()
	}
	return nil
}

// create registers connector id. A node line for an id already
// registered under another type replaces that connector in place: the
// new one takes over its parent, children and root status.
func (cl *Client) create(id, typ string) error {
	old, ok := cl.m.Get(id)
	if !ok || old.Type().Name == typ {
		_, err := cl.m.Create(id, typ)
		return err
	}
	parent, kids := old.Parent(), old.Children()
	wasRoot := cl.m.Root() == old
	delete(cl.props, id)
	cl.m.Unregister(id)

	c, err := cl.m.Create(id, typ)
	if err != nil {
		return err
	}
	if err := c.SetParent(parent); err != nil {
		return err
	}
	if err := c.SetChildren(kids); err != nil {
		return err
	}
	if wasRoot {
		cl.m.SetRoot(id)
	}
	cl.logger.Debug("connector replaced", "connector", id, "was", old.Type().Name)
	return nil
}

// hierarchyChange records a replaced child list for the connector's
// HierarchyChangeReactor.
type hierarchyChange struct {
	c   *connector.Connector
	old []*connector.Connector
}

// hierarchyResult collects what updateHierarchy did.
type hierarchyResult struct {
	detached []string
	changes  []hierarchyChange
}

// detach drops c and, recursively, the children still parented by it.
// Children that were moved elsewhere by the same update stay attached.
// Every detached connector that had children sees them cleared.
func (r *hierarchyResult) detach(c *connector.Connector) {
	r.detached = append(r.detached, c.ID())
	old := c.Children()
	if len(old) == 0 {
		return
	}
	c.SetChildren(nil)
	r.changes = append(r.changes, hierarchyChange{c: c, old: old})
	for _, child := range old {
		if child.Parent() != c {
			continue
		}
		child.SetParent(nil)
		r.detach(child)
	}
}

// updateHierarchy replaces the child lists the update names. It returns
// the ids of the connectors that are no longer attached, descendants
// included, and the child lists that changed.
func (cl *Client) updateHierarchy(u *proto.Update) (*hierarchyResult, error) {
	var removed, moved []*connector.Connector
	r := &hierarchyResult{}
	for _, pid := range u.Order {
		ids, ok := u.Children[pid]
		if !ok {
			continue
		}
		p, ok := cl.m.Get(pid)
		if !ok {
			cl.logger.Warn("children for unknown connector", "connector", pid, "sync", u.Sync)
			continue
		}
		old := p.Children()
		kids := make([]*connector.Connector, 0, len(ids))
		for _, id := range ids {
			c, ok := cl.m.Get(id)
			if !ok {
				cl.logger.Warn("unknown child", "connector", id, "parent", pid, "sync", u.Sync)
				continue
			}
			kids = append(kids, c)
		}
		if err := p.SetChildren(kids); err != nil {
			return nil, err
		}
		if !slices.Equal(old, kids) {
			r.changes = append(r.changes, hierarchyChange{c: p, old: old})
		}
		for _, c := range kids {
			if c.Parent() == p {
				continue
			}
			if err := c.SetParent(p); err != nil {
				return nil, err
			}
			moved = append(moved, c)
		}
		for _, c := range old {
			if c.Parent() == p && !slices.Contains(kids, c) {
				c.SetParent(nil)
				removed = append(removed, c)
			}
		}
	}

	for _, c := range moved {
		c.UpdateEnabledState(c.IsEnabled())
	}

	root := cl.m.Root()
	for _, c := range removed {
		if c.Parent() != nil || c == root {
			continue
		}
		r.detach(c)
	}
	return r, nil
}

// dispatch delivers one server call. Calls to unknown connectors or
// interfaces without implementations are dropped.
func (cl *Client) dispatch(inv *rpc.Invocation) {
	c, ok := cl.m.Get(inv.ConnectorID)
	if !ok {
		cl.logger.Warn("rpc for unknown connector", "call", inv.String())
		cl.metrics.RPCDispatched.WithLabelValues(inv.Interface, "dropped").Inc()
		return
	}
	if err := c.RPC().Dispatch(inv); err != nil {
		cl.logger.Error("rpc failed", "call", inv.String(), "error", err)
		cl.metrics.RPCDispatched.WithLabelValues(inv.Interface, "error").Inc()
		return
	}
	cl.metrics.RPCDispatched.WithLabelValues(inv.Interface, "ok").Inc()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Sending calls ---

// Flush sends every queued call as one batch with the next sync id. It
// does nothing when no call is queued.
func (cl *Client) Flush(ctx context.Context) error {
	if cl.queue.Len() == 0 {
		return nil
	}
	if cl.out == nil {
		return errors.New("client: flush: no outbound connection")
	}
	calls := cl.queue.Drain()
	cl.syncID++

	ctx, span := cl.tracer.Start(ctx, "uiconn.flush", trace.WithAttributes(
		attribute.Int64("uiconn.sync", int64(cl.syncID)),
		attribute.Int("uiconn.calls", len(calls)),
	))
	defer span.End()

	text := proto.SerializeCalls(&proto.Batch{Sync: cl.syncID, Calls: calls})
	if cl.CallLog != nil {
		cl.CallLog = append(cl.CallLog, strings.Split(strings.TrimSuffix(text, "\n"), "\n")...)
	}
	if err := cl.out.SendCalls(ctx, text); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("client: flush sync %d: %w", cl.syncID, err)
	}
	cl.metrics.CallsSent.Add(float64(len(calls)))
	return nil
}

// --- Scheduling ---

// Defer schedules fn to run on the event loop after the current turn.
// Callbacks run in the order they were deferred. It is safe to call from
// any goroutine.
func (cl *Client) Defer(fn func()) {
	cl.mu.Lock()
	cl.pending = append(cl.pending, fn)
	cl.mu.Unlock()
	select {
	case cl.wake <- struct{}{}:
	default:
	}
}

// RunPending runs the callbacks deferred so far. Callbacks they defer
// wait for the next call.
func (cl *Client) RunPending() {
	cl.mu.Lock()
	fns := cl.pending
	cl.pending = nil
	cl.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Run is the client's event loop. It applies every update t delivers,
// runs deferred callbacks and flushes queued calls, until t reports
// io.EOF, an update fails, or ctx is done.
func (cl *Client) Run(ctx context.Context, t Transport) error {
	if cl.out == nil {
		cl.out = t
	}
	g, ctx := errgroup.WithContext(ctx)
	updates := make(chan *proto.Update)

	g.Go(func() error {
		defer close(updates)
		for {
			u, err := t.Receive(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("client: receive: %w", err)
			}
			select {
			case updates <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	g.Go(func() error { return cl.loop(ctx, updates) })
	return g.Wait()
}

func (cl *Client) loop(ctx context.Context, updates <-chan *proto.Update) error {
	var tick <-chan time.Time
	if cl.flushEvery > 0 {
		t := time.NewTicker(cl.flushEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				cl.RunPending()
				return cl.Flush(ctx)
			}
			if err := cl.Apply(ctx, u); err != nil {
				return err
			}
		case <-cl.wake:
		case <-tick:
		}
		cl.RunPending()
		if err := cl.Flush(ctx); err != nil {
			return err
		}
	}
}
