package widget

import (
	"strconv"

	"github.com/elizafairlady/go-uiconn/ui/connector"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// --- Checkbox ---

// CheckboxServer is the server side of a checkbox.
type CheckboxServer interface {
	Toggle(checked bool)
}

type checkboxProxy struct{ c *rpc.Caller }

func (p checkboxProxy) Toggle(checked bool) {
	p.c.Call("toggle", map[string]string{"checked": formatBool(checked)})
}

// CheckboxState is the state of a checkbox.
type CheckboxState struct {
	connector.SharedState `state:",squash"`
	Caption               string `state:"caption"`
	Checked               bool   `state:"checked"`
}

// Checkbox is a two-state toggle. The local state flips immediately;
// the server confirms or corrects it with its next update.
type Checkbox struct {
	base
}

var checkboxType = connector.Type{
	Name:     "checkbox",
	NewState: func() connector.Shared { return &CheckboxState{SharedState: connector.DefaultSharedState()} },
	New:      func(c *connector.Connector) any { return &Checkbox{base: newBase(c)} },
}

func (cb *Checkbox) Init() error {
	cb.registerFocus()
	return nil
}

// Checked returns the current value.
func (cb *Checkbox) Checked() bool { return cb.state().Checked }

// Caption returns the checkbox text.
func (cb *Checkbox) Caption() string { return cb.state().Caption }

func (cb *Checkbox) state() *CheckboxState { return connector.StateOf[CheckboxState](cb.c) }

// Toggle flips the value and tells the server.
func (cb *Checkbox) Toggle() error {
	if err := cb.input(); err != nil {
		return err
	}
	s := cb.state()
	s.Checked = !s.Checked
	if !cb.c.HasEventListener("toggle") {
		return nil
	}
	srv, err := connector.Proxy[CheckboxServer](cb.c)
	if err != nil {
		return err
	}
	srv.Toggle(s.Checked)
	return nil
}

// --- TextBox ---

// TextBoxServer is the server side of a text box.
type TextBoxServer interface {
	Input(text string, cursor int)
}

type textBoxProxy struct{ c *rpc.Caller }

func (p textBoxProxy) Input(text string, cursor int) {
	p.c.Call("input", map[string]string{"text": text, "cursor": strconv.Itoa(cursor)})
}

// TextBoxState is the state of a text box.
type TextBoxState struct {
	connector.SharedState `state:",squash"`
	Text                  string `state:"text"`
	Placeholder           string `state:"placeholder"`
	MaxLength             int    `state:"maxLength"`
}

// TextBox is a single-line text input.
type TextBox struct {
	base
}

var textBoxType = connector.Type{
	Name:     "textbox",
	NewState: func() connector.Shared { return &TextBoxState{SharedState: connector.DefaultSharedState()} },
	New:      func(c *connector.Connector) any { return &TextBox{base: newBase(c)} },
}

func (tb *TextBox) Init() error {
	tb.registerFocus()
	return nil
}

// Text returns the current text.
func (tb *TextBox) Text() string { return tb.state().Text }

func (tb *TextBox) state() *TextBoxState { return connector.StateOf[TextBoxState](tb.c) }

// SetText replaces the text as if typed and sends it when it changed.
// Text beyond MaxLength runes is cut off.
func (tb *TextBox) SetText(text string) error {
	if err := tb.input(); err != nil {
		return err
	}
	s := tb.state()
	if r := []rune(text); s.MaxLength > 0 && len(r) > s.MaxLength {
		text = string(r[:s.MaxLength])
	}
	if text == s.Text {
		return nil
	}
	s.Text = text
	if !tb.c.HasEventListener("input") {
		return nil
	}
	srv, err := connector.Proxy[TextBoxServer](tb.c)
	if err != nil {
		return err
	}
	srv.Input(text, len([]rune(text)))
	return nil
}
