package rpc

import (
	"errors"
	"reflect"
	"testing"
)

var testIface = NewInterface("test.client")

func TestRegisterRoundTrip(t *testing.T) {
	r := NewRegistry()
	impl := NewImplementation(func(*Invocation) error { return nil })

	r.Register(testIface, impl)
	got := r.Implementations(testIface)
	if len(got) != 1 || got[0] != impl {
		t.Fatalf("implementations = %v, want [impl]", got)
	}

	r.Unregister(testIface, impl)
	if got := r.Implementations(testIface); len(got) != 0 {
		t.Errorf("implementations after unregister = %v", got)
	}
}

func TestImplementationsNeverNil(t *testing.T) {
	r := NewRegistry()
	if got := r.Implementations(testIface); got == nil {
		t.Error("Implementations returned nil")
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	a := NewImplementation(func(*Invocation) error { return nil })
	b := NewImplementation(func(*Invocation) error { return nil })
	r.Unregister(testIface, a)

	r.Register(testIface, a)
	r.Unregister(testIface, b)
	if got := r.Implementations(testIface); len(got) != 1 {
		t.Errorf("implementations = %d, want 1", len(got))
	}
}

func TestDispatchAdditive(t *testing.T) {
	r := NewRegistry()
	var calls []string
	rec := func(name string) *ImplementationFunc {
		return NewImplementation(func(inv *Invocation) error {
			calls = append(calls, name+":"+inv.Method+":"+inv.Arg("x"))
			return nil
		})
	}
	r.Register(testIface, rec("a"))
	r.Register(testIface, rec("b"))

	err := r.Dispatch(&Invocation{ConnectorID: "1", Interface: "test.client", Method: "poke", Args: map[string]string{"x": "9"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0] != "a:poke:9" || calls[1] != "b:poke:9" {
		t.Errorf("calls = %v", calls)
	}
}

func TestDispatchWithoutListenersIsSilent(t *testing.T) {
	r := NewRegistry()
	if err := r.Dispatch(&Invocation{Interface: "nobody.home", Method: "x"}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestDispatchJoinsErrors(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	var second bool
	r.Register(testIface, NewImplementation(func(*Invocation) error { return boom }))
	r.Register(testIface, NewImplementation(func(*Invocation) error { second = true; return nil }))

	err := r.Dispatch(&Invocation{Interface: "test.client", Method: "x"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if !second {
		t.Error("second implementation not invoked")
	}
}

type greeter interface {
	Greet(name string)
}

type greeterProxy struct{ c *Caller }

func (p greeterProxy) Greet(name string) {
	p.c.Call("greet", map[string]string{"name": name})
}

func TestProxyFactory(t *testing.T) {
	p := NewProxies()
	server := NewInterface("test.server")
	if err := RegisterProxy(p, server, func(c *Caller) greeter { return greeterProxy{c} }); err != nil {
		t.Fatal(err)
	}
	if err := RegisterProxy(p, server, func(c *Caller) greeter { return greeterProxy{c} }); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate err = %v", err)
	}

	q := NewQueue()
	v, err := p.New(reflect.TypeFor[greeter](), "42", q)
	if err != nil {
		t.Fatal(err)
	}
	v.(greeter).Greet("glenda")

	calls := q.Drain()
	if len(calls) != 1 {
		t.Fatalf("queued = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.ConnectorID != "42" || c.Interface != "test.server" || c.Method != "greet" || c.Arg("name") != "glenda" {
		t.Errorf("call = %+v", c)
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained")
	}
}

func TestProxyMissingFactory(t *testing.T) {
	p := NewProxies()
	_, err := p.New(reflect.TypeFor[greeter](), "1", NewQueue())
	if !errors.Is(err, ErrNoProxy) {
		t.Errorf("err = %v, want ErrNoProxy", err)
	}
}
