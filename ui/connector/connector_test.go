package connector

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/elizafairlady/go-uiconn/ui/event"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

type fakeConn struct {
	*rpc.Queue
	proxies *rpc.Proxies
}

func (f *fakeConn) Proxies() *rpc.Proxies { return f.proxies }

type testState struct {
	SharedState `state:",squash"`
	Caption     string `state:"caption"`
	Size        struct {
		Width int    `state:"width"`
		Unit  string `state:"unit"`
	} `state:"size"`
}

func newTestState() Shared {
	return &testState{SharedState: DefaultSharedState()}
}

// recorder is a concrete connector recording its hook calls.
type recorder struct {
	c        *Connector
	inits    int
	enabled  []bool
	changes  int
	unregged bool
	initErr  error
	oldKids  [][]string
}

func (p *recorder) Init() error              { p.inits++; return p.initErr }
func (p *recorder) SetWidgetEnabled(on bool) { p.enabled = append(p.enabled, on) }
func (p *recorder) OnUnregister()            { p.unregged = true }
func (p *recorder) OnHierarchyChanged(old []*Connector) error {
	ids := []string{}
	for _, c := range old {
		ids = append(ids, c.ID())
	}
	p.oldKids = append(p.oldKids, ids)
	return nil
}
func (p *recorder) OnStateChanged(*event.StateChangeEvent) error {
	p.changes++
	return nil
}

func newTestMap(t *testing.T) *Map {
	t.Helper()
	types := NewTypes()
	if err := types.Register(Type{
		Name:     "recorder",
		NewState: newTestState,
		New:      func(c *Connector) any { return &recorder{c: c} },
	}); err != nil {
		t.Fatal(err)
	}
	if err := types.Register(Type{Name: "stateless"}); err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{Queue: rpc.NewQueue(), proxies: rpc.NewProxies()}
	return NewMap(conn, types, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func mustCreate(t *testing.T, m *Map, id string) *Connector {
	t.Helper()
	c, err := m.Create(id, "recorder")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// link makes child a child of parent on both sides.
func link(t *testing.T, parent *Connector, children ...*Connector) {
	t.Helper()
	for _, c := range children {
		if err := c.SetParent(parent); err != nil {
			t.Fatal(err)
		}
	}
	if err := parent.SetChildren(append(parent.Children(), children...)); err != nil {
		t.Fatal(err)
	}
}

func setOwnEnabled(c *Connector, on bool) {
	c.State().Shared().Enabled = on
}

func recorderOf(c *Connector) *recorder { return c.Value().(*recorder) }

func TestCreateRunsInitOnce(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	if n := recorderOf(c).inits; n != 1 {
		t.Errorf("inits = %d, want 1", n)
	}
	if c.ID() != "1" {
		t.Errorf("id = %q", c.ID())
	}
	if _, err := m.Create("1", "recorder"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate id err = %v", err)
	}
}

func TestCreateGeneratesID(t *testing.T) {
	m := newTestMap(t)
	a := mustCreate(t, m, "")
	b := mustCreate(t, m, "")
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("generated ids %q, %q", a.ID(), b.ID())
	}
}

func TestCreateInitFailure(t *testing.T) {
	types := NewTypes()
	boom := errors.New("boom")
	types.Register(Type{
		Name:     "bad",
		NewState: newTestState,
		New:      func(c *Connector) any { return &recorder{c: c, initErr: boom} },
	})
	m := NewMap(&fakeConn{Queue: rpc.NewQueue(), proxies: rpc.NewProxies()}, types)
	if _, err := m.Create("x", "bad"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if m.Len() != 0 {
		t.Errorf("failed connector stayed registered")
	}
}

func TestConfigErrors(t *testing.T) {
	m := newTestMap(t)
	_, err := m.Create("1", "nope")
	if !errors.Is(err, ErrUnknownType) || !IsConfigError(err) {
		t.Errorf("unknown type err = %v", err)
	}
	_, err = m.Create("2", "stateless")
	if !errors.Is(err, ErrNoStateType) || !IsConfigError(err) {
		t.Errorf("stateless err = %v", err)
	}
}

func TestStateLazyAndStable(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	s1 := c.State()
	if s1 == nil {
		t.Fatal("state is nil")
	}
	if s2 := c.State(); s1 != s2 {
		t.Error("second State call returned a different instance")
	}
	if !s1.Shared().Enabled {
		t.Error("default state is disabled")
	}
	if got := StateOf[testState](c); got != s1.(*testState) {
		t.Error("StateOf returned a different instance")
	}
}

func TestChildrenEmptyNotNil(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	for i := 0; i < 2; i++ {
		ch := c.Children()
		if ch == nil {
			t.Fatal("Children returned nil")
		}
		if len(ch) != 0 {
			t.Errorf("children = %d", len(ch))
		}
	}
}

func TestChildrenCopy(t *testing.T) {
	m := newTestMap(t)
	p := mustCreate(t, m, "p")
	a := mustCreate(t, m, "a")
	link(t, p, a)

	ch := p.Children()
	ch[0] = p
	if got := p.Children()[0]; got != a {
		t.Errorf("mutating the returned slice changed the children")
	}
}

func TestIsEnabled(t *testing.T) {
	m := newTestMap(t)
	root := mustCreate(t, m, "root")
	mid := mustCreate(t, m, "mid")
	leaf := mustCreate(t, m, "leaf")
	link(t, root, mid)
	link(t, mid, leaf)

	cases := []struct {
		root, mid, leaf bool
	}{
		{true, true, true},
		{false, true, true},
		{true, false, true},
		{true, true, false},
		{false, false, false},
	}
	for _, tc := range cases {
		setOwnEnabled(root, tc.root)
		setOwnEnabled(mid, tc.mid)
		setOwnEnabled(leaf, tc.leaf)
		if got := root.IsEnabled(); got != tc.root {
			t.Errorf("%+v: root = %v", tc, got)
		}
		if got, want := mid.IsEnabled(), tc.mid && tc.root; got != want {
			t.Errorf("%+v: mid = %v, want %v", tc, got, want)
		}
		if got, want := leaf.IsEnabled(), tc.leaf && tc.mid && tc.root; got != want {
			t.Errorf("%+v: leaf = %v, want %v", tc, got, want)
		}
	}
}

func TestUpdateEnabledStateUnchangedSkipsChildren(t *testing.T) {
	m := newTestMap(t)
	root := mustCreate(t, m, "root")
	child := mustCreate(t, m, "child")
	link(t, root, child)

	root.UpdateEnabledState(true) // cache starts at true
	if n := len(recorderOf(child).enabled); n != 0 {
		t.Errorf("child visited %d times, want 0", n)
	}
	if !root.EnabledState() {
		t.Error("cache changed")
	}
}

func TestUpdateEnabledStateVisitsEveryChildOnce(t *testing.T) {
	m := newTestMap(t)
	root := mustCreate(t, m, "root")
	a := mustCreate(t, m, "a")
	b := mustCreate(t, m, "b")
	grand := mustCreate(t, m, "grand")
	link(t, root, a, b)
	link(t, b, grand)

	// b is already disabled on its own and has recorded it, so the
	// parent's change does not change b's effective status.
	setOwnEnabled(b, false)
	b.UpdateEnabledState(false)
	recorderOf(b).enabled = nil
	recorderOf(grand).enabled = nil

	setOwnEnabled(root, false)
	root.UpdateEnabledState(false)

	if got := recorderOf(a).enabled; len(got) != 1 || got[0] {
		t.Errorf("a hook calls = %v, want [false]", got)
	}
	if got := recorderOf(b).enabled; len(got) != 1 {
		t.Errorf("b hook calls = %v, want one call", got)
	}
	if got := recorderOf(grand).enabled; len(got) != 0 {
		t.Errorf("grandchild visited through unchanged b: %v", got)
	}
	if a.EnabledState() {
		t.Error("a cache still enabled")
	}
}

func TestDisableRootWithDisabledChild(t *testing.T) {
	m := newTestMap(t)
	a := mustCreate(t, m, "A")
	b := mustCreate(t, m, "B")
	link(t, a, b)
	setOwnEnabled(b, false)

	if !a.IsEnabled() || b.IsEnabled() {
		t.Fatalf("A=%v B=%v, want true,false", a.IsEnabled(), b.IsEnabled())
	}

	setOwnEnabled(a, false)
	a.UpdateEnabledState(false)
	if b.EnabledState() {
		t.Error("B cache = true, want false")
	}
	if a.EnabledState() {
		t.Error("A cache = true, want false")
	}
}

func TestSetParentRejectsCycle(t *testing.T) {
	m := newTestMap(t)
	a := mustCreate(t, m, "a")
	b := mustCreate(t, m, "b")
	link(t, a, b)

	if err := a.SetParent(b); !errors.Is(err, ErrCycle) {
		t.Errorf("SetParent cycle err = %v", err)
	}
	if err := a.SetParent(a); !errors.Is(err, ErrCycle) {
		t.Errorf("self parent err = %v", err)
	}
	if err := b.SetChildren([]*Connector{a}); !errors.Is(err, ErrCycle) {
		t.Errorf("SetChildren cycle err = %v", err)
	}
}

func TestHierarchyChecksOff(t *testing.T) {
	types := NewTypes()
	types.Register(Type{Name: "recorder", NewState: newTestState})
	m := NewMap(&fakeConn{Queue: rpc.NewQueue(), proxies: rpc.NewProxies()}, types, WithHierarchyChecks(false))
	a, _ := m.Create("a", "recorder")
	if err := a.SetParent(a); err != nil {
		t.Errorf("unchecked SetParent err = %v", err)
	}
	if errs := m.Verify(); len(errs) == 0 {
		t.Error("Verify missed the self-parent cycle")
	}
}

func TestForeignConnectors(t *testing.T) {
	m1 := newTestMap(t)
	m2 := newTestMap(t)
	a := mustCreate(t, m1, "a")
	b := mustCreate(t, m2, "b")
	if err := a.SetParent(b); !errors.Is(err, ErrForeign) {
		t.Errorf("err = %v", err)
	}
}

func TestRPCRegistration(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	iface := rpc.NewInterface("recorder.client")
	impl := rpc.NewImplementation(func(*rpc.Invocation) error { return nil })

	c.RegisterRPC(iface, impl)
	if got := c.RPCImplementations(iface); len(got) != 1 || got[0] != impl {
		t.Errorf("implementations = %v", got)
	}
	c.UnregisterRPC(iface, impl)
	c.UnregisterRPC(iface, impl)
	if got := c.RPCImplementations(iface); len(got) != 0 {
		t.Errorf("implementations after unregister = %v", got)
	}
}

type pinger interface{ Ping() }

type pingerProxy struct{ c *rpc.Caller }

func (p *pingerProxy) Ping() { p.c.Call("ping", nil) }

func TestProxyCached(t *testing.T) {
	m := newTestMap(t)
	iface := rpc.NewInterface("recorder.server")
	if err := rpc.RegisterProxy(m.conn.Proxies(), iface, func(c *rpc.Caller) pinger { return &pingerProxy{c} }); err != nil {
		t.Fatal(err)
	}
	c := mustCreate(t, m, "1")
	p1, err := Proxy[pinger](c)
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := Proxy[pinger](c)
	if p1 != p2 {
		t.Error("Proxy returned two instances")
	}

	p1.Ping()
	calls := m.conn.(*fakeConn).Drain()
	if len(calls) != 1 || calls[0].ConnectorID != "1" || calls[0].Interface != "recorder.server" {
		t.Errorf("calls = %v", calls)
	}

	other := mustCreate(t, m, "2")
	p3, _ := Proxy[pinger](other)
	if p3 == p1 {
		t.Error("proxy shared between connectors")
	}
}

func TestProxyMissing(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	_, err := Proxy[pinger](c)
	if !errors.Is(err, rpc.ErrNoProxy) || !IsConfigError(err) {
		t.Errorf("err = %v", err)
	}
}

func TestFireStateChangeOrder(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	var sawReactor bool
	c.SubscribeProperty("caption", event.NewHandler(func(*event.StateChangeEvent) error {
		sawReactor = recorderOf(c).changes == 1
		return nil
	}))

	setOwnEnabled(c, false)
	if err := c.FireStateChange(event.NewStateChangeEvent("1", false, "caption")); err != nil {
		t.Fatal(err)
	}
	if !sawReactor {
		t.Error("subscriber ran before the connector reacted")
	}
	if c.EnabledState() {
		t.Error("enablement not recomputed on state change")
	}
}

func TestHasEventListener(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	if err := DecodeState(c.State(), map[string]string{"registeredEventListeners": "focus,blur"}); err != nil {
		t.Fatal(err)
	}
	if !c.HasEventListener("blur") || c.HasEventListener("click") {
		t.Errorf("listeners = %v", c.State().Shared().RegisteredEventListeners)
	}
}

func TestDecodeState(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	s := StateOf[testState](c)
	s.Size.Unit = "px"

	err := DecodeState(s, map[string]string{
		"caption":    "OK",
		"enabled":    "0",
		"size.width": "120",
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Caption != "OK" || s.Enabled || s.Size.Width != 120 {
		t.Errorf("state = %+v", s)
	}
	if s.Size.Unit != "px" {
		t.Errorf("untouched nested field reset: %q", s.Size.Unit)
	}

	if err := DecodeState(s, map[string]string{"size.width": "wide"}); err == nil {
		t.Error("expected decode error")
	}
}

func TestUnregister(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	c.Subscribe(event.NewHandler(func(*event.StateChangeEvent) error { return nil }))
	m.SetRoot("1")

	m.Unregister("1")
	m.Unregister("1")
	if !recorderOf(c).unregged {
		t.Error("OnUnregister not called")
	}
	if c.Bus().Len() != 0 {
		t.Error("subscribers not released")
	}
	if _, ok := m.Get("1"); ok || m.Root() != nil {
		t.Error("connector still registered")
	}
}

func TestVerify(t *testing.T) {
	m := newTestMap(t)
	root := mustCreate(t, m, "root")
	child := mustCreate(t, m, "child")
	m.SetRoot("root")
	link(t, root, child)
	if errs := m.Verify(); len(errs) != 0 {
		t.Errorf("healthy tree: %v", errs)
	}

	mustCreate(t, m, "orphan")
	root.SetChildren(nil)
	errs := m.Verify()
	if len(errs) != 2 {
		t.Errorf("Verify = %v, want 2 problems", errs)
	}
}

func TestStateOfWrongType(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	if got := StateOf[testState](c); got.Shared() != c.State().Shared() {
		t.Error("StateOf returned a different instance")
	}
	defer func() {
		err, _ := recover().(error)
		if !IsConfigError(err) {
			t.Errorf("recovered %v, want a config error", err)
		}
	}()
	StateOf[SharedState](c)
	t.Error("StateOf did not panic")
}

func TestFireHierarchyChange(t *testing.T) {
	m := newTestMap(t)
	root := mustCreate(t, m, "root")
	a := mustCreate(t, m, "a")
	link(t, root, a)

	if err := root.SetChildren(nil); err != nil {
		t.Fatal(err)
	}
	if err := root.FireHierarchyChange([]*Connector{a}); err != nil {
		t.Fatal(err)
	}
	got := recorderOf(root).oldKids
	if len(got) != 1 || len(got[0]) != 1 || got[0][0] != "a" {
		t.Errorf("old children = %v, want [[a]]", got)
	}

	plain, err := m.Create("s", "stateless")
	if err != nil {
		t.Fatal(err)
	}
	if err := plain.FireHierarchyChange(nil); err != nil {
		t.Errorf("connector without hook: %v", err)
	}
}

func TestVerifyStaleChildren(t *testing.T) {
	m := newTestMap(t)
	root := mustCreate(t, m, "root")
	a := mustCreate(t, m, "a")
	b := mustCreate(t, m, "b")
	m.SetRoot("root")
	link(t, root, a, b)
	gone := mustCreate(t, m, "gone")
	link(t, a, gone)
	if errs := m.Verify(); len(errs) != 0 {
		t.Fatalf("healthy tree: %v", errs)
	}

	m.Unregister("gone")
	if errs := m.Verify(); len(errs) != 1 {
		t.Errorf("Verify = %v, want the unregistered child", errs)
	}
	a.SetChildren(nil)

	moved := mustCreate(t, m, "moved")
	link(t, a, moved)
	link(t, b, moved)
	if errs := m.Verify(); len(errs) != 1 {
		t.Errorf("Verify = %v, want the stale child of a", errs)
	}
}

func TestResetState(t *testing.T) {
	m := newTestMap(t)
	c := mustCreate(t, m, "1")
	s := StateOf[testState](c)
	if err := DecodeState(s, map[string]string{"caption": "Go", "enabled": "false", "size.width": "3"}); err != nil {
		t.Fatal(err)
	}

	if err := c.ResetState(map[string]string{"caption": "Go"}); err != nil {
		t.Fatal(err)
	}
	if StateOf[testState](c) != s {
		t.Error("state object replaced")
	}
	if s.Caption != "Go" || !s.Enabled || s.Size.Width != 0 {
		t.Errorf("state = %+v, want caption kept and the rest at defaults", s)
	}
}
