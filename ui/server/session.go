// Package server implements the reference server side of the
// protocol.
//
// It hosts a view.App, keeps the last component tree sent to the
// client, and answers every call batch with the update that brings the
// client to the new tree. Data bindings connect inputs to state paths:
//   - a textbox with bind=X sets X on input and shows X when rebuilt
//   - a checkbox with bind=X sets X on toggle and shows X when rebuilt
//
// Handler exports sessions over websockets, one per connection, and
// echoes the client's empty keepalive frames.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/elizafairlady/go-uiconn/ui/proto"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
	"github.com/elizafairlady/go-uiconn/ui/view"
)

// Session is the server state of one client connection.
type Session struct {
	mu     sync.Mutex
	app    view.App
	st     *view.MemState
	tree   *view.Node // last tree sent
	rev    uint64     // sync id of the last update sent
	calls  uint64     // sync id of the last batch handled
	rpc    []*rpc.Invocation
	logger *slog.Logger

	// Focus is the id of the component last focused with SetFocus.
	Focus string

	// CallLog records handled calls (for debugging).
	// Set to non-nil to enable logging.
	CallLog []string
}

// NewSession creates a session for app with empty state.
func NewSession(app view.App, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		app:    app,
		st:     view.NewMemState(),
		logger: logger,
	}
}

// State returns the state store.
func (s *Session) State() *view.MemState { return s.st }

// Rev returns the sync id of the last update sent.
func (s *Session) Rev() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Update rebuilds the tree and returns the update for the client, or
// nil when nothing changed since the last one.
func (s *Session) Update() *proto.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update()
}

// update must be called with mu held.
func (s *Session) update() *proto.Update {
	next := s.app.View(s.st)
	if next == nil {
		return nil
	}
	s.populateBindings(next)
	u := view.Diff(s.tree, next, s.rev+1)
	u.RPC, s.rpc = s.rpc, nil
	if s.tree != nil && u.Root == "" && len(u.Order) == 0 && len(u.RPC) == 0 {
		return nil
	}
	s.rev++
	s.tree = next
	return u
}

// HandleBatch runs every call of b through the app and returns the
// resulting update. Batches must arrive with increasing sync ids; a
// repeated or older batch is rejected without being handled.
func (s *Session) HandleBatch(b *proto.Batch) (*proto.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Sync <= s.calls {
		return nil, fmt.Errorf("server: stale batch %d, last was %d", b.Sync, s.calls)
	}
	s.calls = b.Sync
	for _, call := range b.Calls {
		if s.CallLog != nil {
			s.CallLog = append(s.CallLog, call.String())
		}
		s.resolveBinding(call)
		s.app.Handle(s.st, call)
	}
	return s.update(), nil
}

// Call queues a server-to-client call for the next update.
func (s *Session) Call(inv *rpc.Invocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpc = append(s.rpc, inv)
}

// SetFocus asks the client to focus the component id.
func (s *Session) SetFocus(id string) {
	s.Call(&rpc.Invocation{ConnectorID: id, Interface: "focusable.client", Method: "focus", Args: map[string]string{}})
	s.mu.Lock()
	s.Focus = id
	s.mu.Unlock()
}

// resolveBinding stores the value carried by an input or toggle call
// at the path bound to the calling component.
func (s *Session) resolveBinding(call *rpc.Invocation) {
	var node *view.Node
	view.Walk(s.tree, func(n *view.Node) {
		if n.ID == call.ConnectorID {
			node = n
		}
	})
	if node == nil {
		s.logger.Warn("call for unknown component", "call", call.String())
		return
	}
	bindPath := node.Props["bind"]
	if bindPath == "" {
		return
	}
	switch {
	case node.Type == "textbox" && call.Method == "input":
		s.st.Set(bindPath, call.Arg("text"))
	case node.Type == "checkbox" && call.Method == "toggle":
		s.st.Set(bindPath, call.Arg("checked"))
	}
}

// populateBindings fills bound values from state: the text of a
// textbox and the checked flag of a checkbox.
func (s *Session) populateBindings(root *view.Node) {
	view.Walk(root, func(n *view.Node) {
		bindPath := n.Props["bind"]
		if bindPath == "" {
			return
		}
		switch n.Type {
		case "textbox":
			if n.Props["text"] == "" {
				n.Props["text"] = s.st.Get(bindPath)
			}
		case "checkbox":
			n.PropBool("checked", s.st.GetBool(bindPath))
		}
	})
}

// String describes the session for logs.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "session rev=%d calls=%d", s.rev, s.calls)
	if s.Focus != "" {
		fmt.Fprintf(&b, " focus=%s", s.Focus)
	}
	return b.String()
}
