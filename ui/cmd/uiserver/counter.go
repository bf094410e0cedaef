package main

import (
	"strconv"

	"github.com/elizafairlady/go-uiconn/ui/rpc"
	"github.com/elizafairlady/go-uiconn/ui/view"
)

// counterApp shows a counter with increment/decrement buttons, a text
// input and a checkbox.
type counterApp struct{}

func (a *counterApp) View(s view.State) *view.Node {
	count, _ := strconv.Atoi(s.Get("count"))

	return view.VBox("root",
		view.Label("title", "Counter Demo"),
		view.HBox("counter",
			view.Button("dec", "-"),
			view.Label("count", strconv.Itoa(count)),
			view.Button("inc", "+"),
		).PropInt("spacing", 4),
		view.HBox("input-row",
			view.Label("label", "Name:"),
			view.TextBox("name", "").Prop("bind", "name").Prop("placeholder", "type here...").PropInt("maxLength", 40),
		).PropInt("spacing", 4),
		view.Label("greeting", greeting(s.Get("name"))),
		view.Checkbox("agree", "I agree", false).Prop("bind", "agree"),
		view.Button("submit", "Submit").Enabled(s.Get("agree") == "true"),
	).PropInt("spacing", 2)
}

func greeting(name string) string {
	if name == "" {
		return ""
	}
	return "Hello, " + name + "!"
}

func (a *counterApp) Handle(s view.State, call *rpc.Invocation) {
	if call.Method != "click" {
		return
	}
	n, _ := strconv.Atoi(s.Get("count"))
	switch call.ConnectorID {
	case "inc":
		s.Set("count", strconv.Itoa(n+1))
	case "dec":
		s.Set("count", strconv.Itoa(n-1))
	case "submit":
		s.Set("count", "0")
		s.Set("name", "")
	}
}
