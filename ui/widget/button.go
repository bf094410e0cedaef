package widget

import (
	"strconv"

	"github.com/elizafairlady/go-uiconn/ui/connector"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// ButtonServer is the server side of a button.
type ButtonServer interface {
	Click(button int)
}

type buttonProxy struct{ c *rpc.Caller }

func (p buttonProxy) Click(button int) {
	p.c.Call("click", map[string]string{"button": strconv.Itoa(button)})
}

// ButtonState is the state of a button.
type ButtonState struct {
	connector.SharedState `state:",squash"`
	Caption               string `state:"caption"`
}

// Button sends clicks to the server.
type Button struct {
	base
}

var buttonType = connector.Type{
	Name:     "button",
	NewState: func() connector.Shared { return &ButtonState{SharedState: connector.DefaultSharedState()} },
	New:      func(c *connector.Connector) any { return &Button{base: newBase(c)} },
}

func (b *Button) Init() error {
	b.registerFocus()
	return nil
}

// Caption returns the button text.
func (b *Button) Caption() string { return connector.StateOf[ButtonState](b.c).Caption }

// Click reports a click with the given mouse button. Clicks on a
// disabled button are refused; clicks nobody listens for are dropped.
func (b *Button) Click(button int) error {
	if err := b.input(); err != nil {
		return err
	}
	if !b.c.HasEventListener("click") {
		return nil
	}
	srv, err := connector.Proxy[ButtonServer](b.c)
	if err != nil {
		return err
	}
	srv.Click(button)
	return nil
}
