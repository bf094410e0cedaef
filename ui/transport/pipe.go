package transport

import (
	"context"
	"io"
	"sync"

	"github.com/elizafairlady/go-uiconn/ui/proto"
)

// ServerEnd is the server side of a Pipe.
type ServerEnd struct {
	p *pipe
}

type pipe struct {
	updates chan string
	calls   chan string

	clientDone chan struct{}
	serverDone chan struct{}
	clientOnce sync.Once
	serverOnce sync.Once
}

type pipeConn struct{ p *pipe }

// Pipe returns the two ends of an in-memory connection. Messages go
// through the text codec exactly as over a websocket.
func Pipe() (Conn, *ServerEnd) {
	p := &pipe{
		updates:    make(chan string),
		calls:      make(chan string),
		clientDone: make(chan struct{}),
		serverDone: make(chan struct{}),
	}
	return &pipeConn{p}, &ServerEnd{p}
}

func (c *pipeConn) Receive(ctx context.Context) (*proto.Update, error) {
	select {
	case text := <-c.p.updates:
		return proto.ParseUpdate(text)
	case <-c.p.serverDone:
		return nil, io.EOF
	case <-c.p.clientDone:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) SendCalls(ctx context.Context, text string) error {
	select {
	case c.p.calls <- text:
		return nil
	case <-c.p.serverDone:
		return ErrClosed
	case <-c.p.clientDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.p.clientOnce.Do(func() { close(c.p.clientDone) })
	return nil
}

// Send delivers an update to the client end.
func (s *ServerEnd) Send(ctx context.Context, u *proto.Update) error {
	select {
	case s.p.updates <- proto.SerializeUpdate(u):
		return nil
	case <-s.p.clientDone:
		return ErrClosed
	case <-s.p.serverDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next call batch from the client end.
func (s *ServerEnd) Receive(ctx context.Context) (*proto.Batch, error) {
	select {
	case text := <-s.p.calls:
		return proto.ParseCalls(text)
	case <-s.p.clientDone:
		return nil, io.EOF
	case <-s.p.serverDone:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the connection; the client end then receives io.EOF.
func (s *ServerEnd) Close() error {
	s.p.serverOnce.Do(func() { close(s.p.serverDone) })
	return nil
}
