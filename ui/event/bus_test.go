package event

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func quietBus(opts ...Option) *Bus {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewBus(opts...)
}

func counter(n *int) *Handler {
	return NewHandler(func(*StateChangeEvent) error {
		*n++
		return nil
	})
}

func TestFireScopedDelivery(t *testing.T) {
	b := quietBus()
	var global1, global2, a, c int
	b.Subscribe(counter(&global1))
	b.Subscribe(counter(&global2))
	b.SubscribeProperty("a", counter(&a))
	b.SubscribeProperty("c", counter(&c))

	if err := b.Fire(NewStateChangeEvent("1", false, "a", "b")); err != nil {
		t.Fatal(err)
	}
	if global1 != 1 || global2 != 1 {
		t.Errorf("global = %d,%d, want 1,1", global1, global2)
	}
	if a != 1 {
		t.Errorf("a = %d, want 1", a)
	}
	if c != 0 {
		t.Errorf("c = %d, want 0", c)
	}
}

func TestFireInsertionOrder(t *testing.T) {
	b := quietBus()
	var got []string
	rec := func(s string) *Handler {
		return NewHandler(func(*StateChangeEvent) error {
			got = append(got, s)
			return nil
		})
	}
	b.SubscribeProperty("x", rec("x1"))
	b.Subscribe(rec("g1"))
	b.SubscribeProperty("x", rec("x2"))
	b.Subscribe(rec("g2"))

	b.Fire(NewStateChangeEvent("1", false, "x"))
	want := []string{"g1", "g2", "x1", "x2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInitialEventReachesEveryProperty(t *testing.T) {
	b := quietBus()
	var a, z int
	b.SubscribeProperty("a", counter(&a))
	b.SubscribeProperty("z", counter(&z))

	b.Fire(NewStateChangeEvent("1", true))
	if a != 1 || z != 1 {
		t.Errorf("a,z = %d,%d, want 1,1", a, z)
	}
}

func TestHasPropertyChangedNested(t *testing.T) {
	e := NewStateChangeEvent("1", false, "caption.text", "width")
	for name, want := range map[string]bool{
		"caption":      true,
		"caption.text": true,
		"caption.icon": false,
		"width":        true,
		"width.unit":   true,
		"widthx":       false,
		"height":       false,
	} {
		if got := e.HasPropertyChanged(name); got != want {
			t.Errorf("HasPropertyChanged(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := quietBus()
	var g, p int
	gh := counter(&g)
	ph := counter(&p)
	b.Subscribe(gh)
	b.SubscribeProperty("p", ph)

	b.Unsubscribe(gh)
	b.UnsubscribeProperty("p", ph)
	// absent subscriptions are a no-op
	b.Unsubscribe(gh)
	b.UnsubscribeProperty("nope", ph)

	b.Fire(NewStateChangeEvent("1", false, "p"))
	if g != 0 || p != 0 {
		t.Errorf("g,p = %d,%d after unsubscribe", g, p)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestRegistrationRemove(t *testing.T) {
	b := quietBus()
	var n int
	reg := b.SubscribeProperty("p", counter(&n))
	reg.Remove()
	reg.Remove()
	Registration{}.Remove()

	b.Fire(NewStateChangeEvent("1", false, "p"))
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestRunOnce(t *testing.T) {
	b := quietBus()
	var n int
	b.Subscribe(counter(&n).RunOnce())

	b.Fire(NewStateChangeEvent("1", false))
	b.Fire(NewStateChangeEvent("1", false))
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestFailingSubscriberIsolated(t *testing.T) {
	var failures []*HandlerError
	b := quietBus(WithFailureHook(func(e *HandlerError) { failures = append(failures, e) }))
	boom := errors.New("boom")
	var after int
	b.Subscribe(NewHandler(func(*StateChangeEvent) error { return boom }))
	b.Subscribe(NewHandler(func(*StateChangeEvent) error { panic("kaput") }))
	b.Subscribe(counter(&after))

	err := b.Fire(NewStateChangeEvent("7", false, "x"))
	if after != 1 {
		t.Errorf("subscriber after failures ran %d times, want 1", after)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want it to wrap boom", err)
	}
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(failures))
	}
	if failures[0].ConnectorID != "7" {
		t.Errorf("failure connector = %q", failures[0].ConnectorID)
	}
}

func TestSubscribeDuringFire(t *testing.T) {
	b := quietBus()
	var late int
	b.Subscribe(NewHandler(func(*StateChangeEvent) error {
		b.Subscribe(counter(&late))
		return nil
	}).RunOnce())

	b.Fire(NewStateChangeEvent("1", false))
	if late != 0 {
		t.Errorf("late subscriber ran during the same fire")
	}
	b.Fire(NewStateChangeEvent("1", false))
	if late != 1 {
		t.Errorf("late = %d, want 1", late)
	}
}

func TestUnsubscribeDuringFire(t *testing.T) {
	b := quietBus()
	var scoped, late int
	h := counter(&scoped)
	b.SubscribeProperty("a", h)
	b.Subscribe(NewHandler(func(*StateChangeEvent) error {
		b.UnsubscribeProperty("a", h)
		b.SubscribeProperty("a", counter(&late))
		return nil
	}))

	b.Fire(NewStateChangeEvent("1", false, "a"))
	if scoped != 1 {
		t.Errorf("scoped = %d, want 1: removal took effect during the fire", scoped)
	}
	if late != 0 {
		t.Errorf("late = %d, want 0: addition took effect during the fire", late)
	}
}
