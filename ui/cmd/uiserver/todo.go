package main

import (
	"sort"
	"strconv"
	"strings"

	"github.com/elizafairlady/go-uiconn/ui/rpc"
	"github.com/elizafairlady/go-uiconn/ui/view"
)

// todoApp keeps a list of items with checkboxes bound to
// items/<id>/done and an input bound to input.
type todoApp struct{}

func (a *todoApp) View(s view.State) *view.Node {
	ids := s.List("items")
	sort.Slice(ids, func(i, j int) bool {
		ni, _ := strconv.Atoi(ids[i])
		nj, _ := strconv.Atoi(ids[j])
		return ni < nj
	})

	done := 0
	var items []*view.Node
	for _, id := range ids {
		if isDone(s, id) {
			done++
		}
		items = append(items,
			view.Checkbox("item-"+id, s.Get("items/"+id+"/text"), false).
				Prop("bind", "items/"+id+"/done"),
		)
	}
	if len(items) == 0 {
		items = append(items, view.Label("empty", "No items yet."))
	}

	status := strconv.Itoa(done) + "/" + strconv.Itoa(len(ids)) + " done"
	if len(ids) == 0 {
		status = "no items"
	}

	return view.VBox("root",
		view.HBox("input-row",
			view.TextBox("input", "").Prop("bind", "input").Prop("placeholder", "new todo..."),
			view.Button("add", "Add"),
			view.Button("clear", "Clear").Enabled(done > 0),
		).PropInt("spacing", 4),
		view.VBox("items", items...).PropInt("spacing", 2),
		view.Label("status", status),
	)
}

func (a *todoApp) Handle(s view.State, call *rpc.Invocation) {
	if call.Method != "click" {
		return
	}
	switch call.ConnectorID {
	case "add":
		a.addItem(s)
	case "clear":
		a.clearDone(s)
	}
}

// addItem takes the current input text, creates a new todo item,
// and clears the input.
func (a *todoApp) addItem(s view.State) {
	text := strings.TrimSpace(s.Get("input"))
	if text == "" {
		return
	}
	next, _ := strconv.Atoi(s.Get("next"))
	next++
	id := strconv.Itoa(next)

	s.Set("items/"+id+"/text", text)
	s.Set("items/"+id+"/done", "false")
	s.Set("next", id)
	s.Set("input", "")
}

// clearDone removes all completed items from state.
func (a *todoApp) clearDone(s view.State) {
	for _, id := range s.List("items") {
		if isDone(s, id) {
			s.Del("items/" + id + "/text")
			s.Del("items/" + id + "/done")
		}
	}
}

func isDone(s view.State, id string) bool {
	v := s.Get("items/" + id + "/done")
	return v == "1" || v == "true"
}
