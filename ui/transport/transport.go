// Package transport carries proto updates and call batches between a
// server and a client.Client.
//
// Dial connects over a websocket: each text frame holds one serialized
// update (server to client) or call batch (client to server). Empty
// frames are keepalive pings, sent every PingTimeout and answered by the
// server with an empty frame; readers drop them. PingTimeout must stay
// below ReadTimeout. Pipe
// connects the two ends in memory.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/elizafairlady/go-uiconn/ui/proto"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is the client end of a connection.
type Conn interface {
	// Receive blocks for the next update. It returns io.EOF once the
	// server has closed the connection cleanly.
	Receive(ctx context.Context) (*proto.Update, error)
	SendCalls(ctx context.Context, text string) error
	Close() error
}

// Settings tunes a websocket connection.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingTimeout      time.Duration

	// SendRate limits outgoing batches per second; zero means no limit.
	SendRate  float64
	SendBurst int

	BufferSize int
	Logger     *slog.Logger
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      30 * time.Second,
		PingTimeout:      10 * time.Second,
		SendRate:         50,
		SendBurst:        10,
		BufferSize:       32,
	}
}

type wsConn struct {
	ws       *websocket.Conn
	settings Settings
	logger   *slog.Logger
	limiter  *rate.Limiter

	receive chan *proto.Update
	send    chan string
	readErr error

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
	once   sync.Once
}

// Dial opens a websocket connection to url.
func Dial(ctx context.Context, url string, s Settings) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newWSConn(ws, s), nil
}

func newWSConn(ws *websocket.Conn, s Settings) *wsConn {
	if s.BufferSize <= 0 {
		s.BufferSize = 1
	}
	limit := rate.Inf
	if s.SendRate > 0 {
		limit = rate.Limit(s.SendRate)
	}
	burst := max(s.SendBurst, 1)
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	c := &wsConn{
		ws:       ws,
		settings: s,
		logger:   logger.With("remote", ws.RemoteAddr().String()),
		limiter:  rate.NewLimiter(limit, burst),
		receive:  make(chan *proto.Update, s.BufferSize),
		send:     make(chan string, s.BufferSize),
		ctx:      gctx,
		cancel:   cancel,
		g:        g,
	}
	g.Go(c.readLoop)
	g.Go(c.writeLoop)
	return c
}

func (c *wsConn) readLoop() error {
	defer close(c.receive)
	for {
		if c.settings.ReadTimeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		}
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			c.readErr = fmt.Errorf("transport: read: %w", err)
			return c.readErr
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("dropping non-text frame", "type", messageType)
			continue
		}
		if len(message) == 0 {
			// ping
			continue
		}
		u, err := proto.ParseUpdate(string(message))
		if err != nil {
			c.readErr = err
			return err
		}
		select {
		case c.receive <- u:
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *wsConn) writeLoop() error {
	var ping <-chan time.Time
	if c.settings.PingTimeout > 0 {
		t := time.NewTicker(c.settings.PingTimeout)
		defer t.Stop()
		ping = t.C
	}
	for {
		var message []byte
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case text := <-c.send:
			message = []byte(text)
		case <-ping:
			message = []byte{}
		}
		if c.settings.WriteTimeout > 0 {
			c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return fmt.Errorf("transport: write: %w", err)
		}
	}
}

func (c *wsConn) Receive(ctx context.Context) (*proto.Update, error) {
	select {
	case u, ok := <-c.receive:
		if !ok {
			if c.readErr != nil {
				return nil, c.readErr
			}
			return nil, io.EOF
		}
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsConn) SendCalls(ctx context.Context, text string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	select {
	case c.send <- text:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		waitTimeout(c.g, c.settings.WriteTimeout)
		err = c.ws.Close()
	})
	return err
}

// waitTimeout waits up to d for the reader and writer to finish. A
// reader still blocked on the socket is released by the ws.Close that
// follows.
func waitTimeout(g *errgroup.Group, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}
