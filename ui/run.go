// Package ui provides the top-level API for running a connector client.
//
// Example usage:
//
//	cfg, err := config.Load("uiconn.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = ui.Run(ctx, cfg, ui.WithTypes(widget.Register))
//	if err != nil {
//		log.Fatal(err)
//	}
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/elizafairlady/go-uiconn/ui/client"
	"github.com/elizafairlady/go-uiconn/ui/config"
	"github.com/elizafairlady/go-uiconn/ui/connector"
	"github.com/elizafairlady/go-uiconn/ui/rpc"
	"github.com/elizafairlady/go-uiconn/ui/transport"
)

// RegisterFunc adds connector types and outbound proxies, as
// widget.Register does.
type RegisterFunc func(*connector.Types, *rpc.Proxies) error

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	register []RegisterFunc
	onClient []func(*client.Client)
	logger   *slog.Logger
}

// WithTypes registers connector types before connecting.
func WithTypes(fn RegisterFunc) Option {
	return func(o *runOptions) { o.register = append(o.register, fn) }
}

// WithClient calls fn with the client before it starts, to set Notify
// or subscribe to the map.
func WithClient(fn func(*client.Client)) Option {
	return func(o *runOptions) { o.onClient = append(o.onClient, fn) }
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// Run connects to cfg.ServerURL and runs the client until the server
// closes the connection or ctx is done. When cfg.MetricsAddr is set,
// the client's metrics are served there at /metrics.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) error {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		l, err := cfg.Logger(os.Stderr)
		if err != nil {
			return err
		}
		logger = l
	}

	types := connector.NewTypes()
	cl := client.New(types,
		client.WithLogger(logger),
		client.WithDebug(cfg.Debug),
		client.WithFlushInterval(cfg.FlushInterval),
	)
	for _, fn := range o.register {
		if err := fn(types, cl.Proxies()); err != nil {
			return fmt.Errorf("ui: register types: %w", err)
		}
	}
	for _, fn := range o.onClient {
		fn(cl)
	}

	conn, err := transport.Dial(ctx, cfg.ServerURL, transportSettings(cfg, logger))
	if err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	defer conn.Close()
	logger.Info("connected", "url", cfg.ServerURL, "types", types.Names())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(cl.Metrics().Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ui: metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return cl.Run(gctx, conn)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func transportSettings(cfg *config.Config, logger *slog.Logger) transport.Settings {
	s := transport.DefaultSettings()
	t := cfg.Transport
	if t.HandshakeTimeout > 0 {
		s.HandshakeTimeout = t.HandshakeTimeout
	}
	if t.ReadTimeout > 0 {
		s.ReadTimeout = t.ReadTimeout
	}
	if t.WriteTimeout > 0 {
		s.WriteTimeout = t.WriteTimeout
	}
	if t.PingTimeout > 0 {
		s.PingTimeout = t.PingTimeout
	}
	s.SendRate = t.SendRate
	if t.SendBurst > 0 {
		s.SendBurst = t.SendBurst
	}
	s.Logger = logger
	return s
}
