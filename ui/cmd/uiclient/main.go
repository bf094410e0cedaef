// Uiclient connects to a uiserver and prints the connector tree after
// every update it applies.
//
// Usage: uiclient [-config uiconn.yaml] [-url ws://localhost:8080/ui]
//
// Settings come from the config file, then UICONN_* environment
// variables, then flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/elizafairlady/go-uiconn/ui"
	"github.com/elizafairlady/go-uiconn/ui/client"
	"github.com/elizafairlady/go-uiconn/ui/config"
	"github.com/elizafairlady/go-uiconn/ui/connector"
	"github.com/elizafairlady/go-uiconn/ui/widget"
)

func main() {
	path := flag.String("config", "", "config file")
	url := flag.String("url", "", "server websocket url")
	debug := flag.Bool("debug", false, "verify the connector map after every update")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatal(err)
	}
	if *url != "" {
		cfg.ServerURL = *url
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = ui.Run(ctx, cfg,
		ui.WithTypes(widget.Register),
		ui.WithClient(func(cl *client.Client) {
			cl.Notify = func() { printTree(cl) }
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
}

func printTree(cl *client.Client) {
	var b strings.Builder
	fmt.Fprintf(&b, "--- rev %d\n", cl.Rev())
	outline(&b, cl.Root(), 0)
	os.Stdout.WriteString(b.String())
}

func outline(b *strings.Builder, c *connector.Connector, depth int) {
	if c == nil {
		return
	}
	fmt.Fprintf(b, "%s%s", strings.Repeat("  ", depth), c)
	if !c.IsEnabled() {
		b.WriteString(" (disabled)")
	}
	if l, ok := c.Value().(*widget.Label); ok {
		fmt.Fprintf(b, " %q", l.Text())
	}
	b.WriteByte('\n')
	for _, child := range c.Children() {
		outline(b, child, depth+1)
	}
}
