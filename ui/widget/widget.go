// Package widget provides the reference connectors: containers, a
// label, a button, a checkbox and a text box.
//
// Each widget wraps a connector.Connector, keeps the effective enabled
// status reported through SetWidgetEnabled and ignores user input
// while disabled. User input reaches the server through the proxies of
// the *Server interfaces; server calls arrive on the *.client
// interfaces registered in Init.
package widget

import (
	"errors"
	"strconv"

	"github.com/elizafairlady/go-uiconn/ui/connector"
	"github.com/elizafairlady/go-uiconn/ui/event"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// ErrDisabled is returned for user input on a disabled widget.
var ErrDisabled = errors.New("widget: disabled")

// Server-side interfaces, one per widget type.
var (
	ButtonServerRPC   = rpc.NewInterface("button.server")
	CheckboxServerRPC = rpc.NewInterface("checkbox.server")
	TextBoxServerRPC  = rpc.NewInterface("textbox.server")

	// FocusRPC is the client interface every focusable widget answers:
	// method "focus" moves the input focus to the widget.
	FocusRPC = rpc.NewInterface("focusable.client")
)

// Register adds every widget type to types and the outbound proxies of
// the server interfaces to proxies.
func Register(types *connector.Types, proxies *rpc.Proxies) error {
	all := []connector.Type{
		boxType("vbox"),
		boxType("hbox"),
		labelType,
		buttonType,
		checkboxType,
		textBoxType,
	}
	var errs []error
	for _, t := range all {
		errs = append(errs, types.Register(t))
	}
	errs = append(errs,
		rpc.RegisterProxy(proxies, ButtonServerRPC, func(c *rpc.Caller) ButtonServer { return buttonProxy{c} }),
		rpc.RegisterProxy(proxies, CheckboxServerRPC, func(c *rpc.Caller) CheckboxServer { return checkboxProxy{c} }),
		rpc.RegisterProxy(proxies, TextBoxServerRPC, func(c *rpc.Caller) TextBoxServer { return textBoxProxy{c} }),
	)
	return errors.Join(errs...)
}

// base holds what every widget shares.
type base struct {
	c       *connector.Connector
	enabled bool
	focused bool

	// OnChange is called after every state change of the widget.
	OnChange func(evt *event.StateChangeEvent)
}

func newBase(c *connector.Connector) base {
	return base{c: c, enabled: true}
}

// Connector returns the wrapped connector.
func (b *base) Connector() *connector.Connector { return b.c }

// Enabled reports the effective enabled status last reported to the
// widget.
func (b *base) Enabled() bool { return b.enabled }

// Focused reports whether the server moved the focus here.
func (b *base) Focused() bool { return b.focused }

func (b *base) SetWidgetEnabled(enabled bool) { b.enabled = enabled }

func (b *base) OnStateChanged(evt *event.StateChangeEvent) error {
	if b.OnChange != nil {
		b.OnChange(evt)
	}
	return nil
}

// registerFocus answers the server's focus calls.
func (b *base) registerFocus() {
	b.c.RegisterRPC(FocusRPC, rpc.NewImplementation(func(inv *rpc.Invocation) error {
		if inv.Method != "focus" {
			return errors.New("unknown method " + inv.Method)
		}
		b.focused = true
		return nil
	}))
}

// input checks that user input may be sent for the event.
func (b *base) input() error {
	if !b.enabled {
		return ErrDisabled
	}
	return nil
}

// --- Containers ---

// BoxState is the state of vbox and hbox.
type BoxState struct {
	connector.SharedState `state:",squash"`
	Spacing               int `state:"spacing"`
}

// Box is a container; its children are its connector's children.
type Box struct {
	base

	// OnChildren is called after the child list was replaced, with the
	// children the box had before.
	OnChildren func(old []*connector.Connector)
}

func (b *Box) OnHierarchyChanged(old []*connector.Connector) error {
	if b.OnChildren != nil {
		b.OnChildren(old)
	}
	return nil
}

func boxType(name string) connector.Type {
	return connector.Type{
		Name:     name,
		NewState: func() connector.Shared { return &BoxState{SharedState: connector.DefaultSharedState()} },
		New:      func(c *connector.Connector) any { return &Box{base: newBase(c)} },
	}
}

// State returns the box state.
func (b *Box) State() *BoxState { return connector.StateOf[BoxState](b.c) }

// Widgets returns the concrete widgets of the children, in order.
func (b *Box) Widgets() []any {
	kids := b.c.Children()
	out := make([]any, 0, len(kids))
	for _, k := range kids {
		out = append(out, k.Value())
	}
	return out
}

// --- Label ---

// LabelState is the state of a label.
type LabelState struct {
	connector.SharedState `state:",squash"`
	Text                  string `state:"text"`
}

// Label displays text.
type Label struct {
	base
}

var labelType = connector.Type{
	Name:     "label",
	NewState: func() connector.Shared { return &LabelState{SharedState: connector.DefaultSharedState()} },
	New:      func(c *connector.Connector) any { return &Label{base: newBase(c)} },
}

// Text returns the displayed text.
func (l *Label) Text() string { return connector.StateOf[LabelState](l.c).Text }

func formatBool(v bool) string { return strconv.FormatBool(v) }
