// Package view provides the server-side Go API for building
// declarative component trees and the App/State interfaces a server
// hosts.
//
// An application implements the App interface, providing View to
// build a node tree from state, and Handle to process the calls its
// clients send. Diff turns two consecutive trees into the proto.Update
// that brings a client from the first to the second.
package view

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/elizafairlady/go-uiconn/ui/proto"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// Node is a component tree node with an ID, type, props, and children.
// Props are the shared state properties of the component.
type Node struct {
	ID       string
	Type     string
	Props    map[string]string
	Children []*Node
}

// State is a hierarchical key-value store for application state.
type State interface {
	Get(path string) string
	Set(path, value string)
	Del(path string)
	List(dir string) []string
}

// App is the application interface. The server calls View to get the
// current component tree, and Handle for every client call.
type App interface {
	View(s State) *Node
	Handle(s State, call *rpc.Invocation)
}

// --- Node builder helpers ---

// N creates a new node with the given id and type.
func N(id, typ string) *Node {
	return &Node{
		ID:    id,
		Type:  typ,
		Props: make(map[string]string),
	}
}

// Prop sets a property on the node and returns it for chaining.
func (n *Node) Prop(k, v string) *Node {
	n.Props[k] = v
	return n
}

// PropInt sets an integer property.
func (n *Node) PropInt(k string, v int) *Node {
	n.Props[k] = strconv.Itoa(v)
	return n
}

// PropBool sets a boolean property.
func (n *Node) PropBool(k string, v bool) *Node {
	n.Props[k] = strconv.FormatBool(v)
	return n
}

// Enabled sets the component's own enabled flag.
func (n *Node) Enabled(on bool) *Node {
	return n.PropBool("enabled", on)
}

// On registers server-side listeners for the given client events, so
// the client knows they are worth sending.
func (n *Node) On(events ...string) *Node {
	return n.Prop("registeredEventListeners", strings.Join(events, ","))
}

// Child appends child nodes and returns the parent for chaining.
func (n *Node) Child(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// --- Node types (convenience constructors) ---

// VBox creates a vertical box container.
func VBox(id string, children ...*Node) *Node {
	return N(id, "vbox").Child(children...)
}

// HBox creates a horizontal box container.
func HBox(id string, children ...*Node) *Node {
	return N(id, "hbox").Child(children...)
}

// Label creates a text display node.
func Label(id, text string) *Node {
	return N(id, "label").Prop("text", text)
}

// Button creates a button listening for clicks.
func Button(id, caption string) *Node {
	return N(id, "button").Prop("caption", caption).On("click")
}

// Checkbox creates a checkbox.
func Checkbox(id, caption string, checked bool) *Node {
	return N(id, "checkbox").Prop("caption", caption).PropBool("checked", checked).On("toggle")
}

// TextBox creates a text input node.
func TextBox(id, text string) *Node {
	return N(id, "textbox").Prop("text", text).On("input")
}

// --- Diffing ---

// Diff returns the update that turns a client showing prev into one
// showing next. prev may be nil for the first update. Nodes are matched
// by id; a node missing from next leaves the client when its parent's
// new child list is applied. A node whose type changed is declared
// again with all its props, which makes the client replace it. Props
// dropped from a node are unset.
func Diff(prev, next *Node, sync uint64) *proto.Update {
	u := proto.NewUpdate(sync)
	old := make(map[string]*Node)
	Walk(prev, func(n *Node) { old[n.ID] = n })

	if prev == nil || prev.ID != next.ID {
		u.Root = next.ID
	}
	Walk(next, func(n *Node) {
		o, seen := old[n.ID]
		if !seen || o.Type != n.Type {
			u.AddNode(n.ID, n.Type)
			o = nil
		}
		for _, k := range sortedKeys(n.Props) {
			if o == nil || o.Props[k] != n.Props[k] {
				u.SetProp(n.ID, k, n.Props[k])
			}
		}
		if o != nil {
			for _, k := range sortedKeys(o.Props) {
				if _, kept := n.Props[k]; !kept {
					u.UnsetProp(n.ID, k)
				}
			}
		}
		ids := childIDs(n)
		if o == nil {
			if len(ids) > 0 {
				u.SetChildren(n.ID, ids...)
			}
			return
		}
		if !slices.Equal(ids, childIDs(o)) {
			u.SetChildren(n.ID, ids...)
		}
	})
	return u
}

// Walk visits the tree in preorder. A nil tree is empty.
func Walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		Walk(child, fn)
	}
}

func childIDs(n *Node) []string {
	ids := make([]string, 0, len(n.Children))
	for _, child := range n.Children {
		ids = append(ids, child.ID)
	}
	return ids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// --- In-memory State implementation ---

// MemState is a simple in-memory hierarchical state store.
type MemState struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemState creates a new empty in-memory state.
func NewMemState() *MemState {
	return &MemState{data: make(map[string]string)}
}

// Get returns the value at path, or "" if not set.
func (s *MemState) Get(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[path]
}

// Set sets the value at path.
func (s *MemState) Set(path, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = value
}

// Del deletes the value at path.
func (s *MemState) Del(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, path)
}

// List returns the direct children under dir, sorted.
// Keys are stored as "dir/child"; this returns the "child" parts.
func (s *MemState) List(dir string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := dir + "/"
	seen := make(map[string]bool)
	var result []string
	for k := range s.data {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}
	slices.Sort(result)
	return result
}

// GetInt returns the integer value at path, or def if not set or invalid.
func (s *MemState) GetInt(path string, def int) int {
	n, err := strconv.Atoi(s.Get(path))
	if err != nil {
		return def
	}
	return n
}

// GetBool returns the boolean value at path (truthy: "1", "true").
func (s *MemState) GetBool(path string) bool {
	v := s.Get(path)
	return v == "1" || v == "true"
}
