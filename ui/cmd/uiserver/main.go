// Uiserver serves the demo apps over websockets.
//
// Usage: uiserver [-addr :8080] [-app counter|todo] [-v]
//
// Connect with uiclient -url ws://localhost:8080/ui.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elizafairlady/go-uiconn/ui/server"
	"github.com/elizafairlady/go-uiconn/ui/view"
)

var apps = map[string]func() view.App{
	"counter": func() view.App { return &counterApp{} },
	"todo":    func() view.App { return &todoApp{} },
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	app := flag.String("app", "counter", "app to serve: counter or todo")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	newApp, ok := apps[*app]
	if !ok {
		log.Fatalf("uiserver: unknown app %q", *app)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	h := server.NewHandler(newApp, logger)
	if *app == "todo" {
		h.OnSession = func(s *server.Session) { s.SetFocus("input") }
	}
	mux := http.NewServeMux()
	mux.Handle("/ui", h)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving", "addr", *addr, "app", *app)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
