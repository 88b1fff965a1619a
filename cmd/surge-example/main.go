// Command surge-example wires every surge component into a small running
// server: a DI-backed greeting service, a couple of routed endpoints, a
// static file mount, request logging, panic recovery, and graceful
// shutdown on SIGINT/SIGTERM. Grounded on bolt's examples/hello/main.go,
// adapted from bolt's fluent App builder to surge's explicit
// router/di/chain/config wiring.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/yourusername/surge/pkg/surge/chain"
	"github.com/yourusername/surge/pkg/surge/config"
	"github.com/yourusername/surge/pkg/surge/di"
	"github.com/yourusername/surge/pkg/surge/router"
	"github.com/yourusername/surge/pkg/surge/server"
	"github.com/yourusername/surge/pkg/surge/staticfile"
	"github.com/yourusername/surge/pkg/surge/surgelog"
)

// greeter is a tiny StoragePersistent service resolved through the DI
// container, demonstrating spec.md §4.I's per-request service lifetime.
type greeter struct{ calls int }

func (g *greeter) Greet(name string) string {
	g.calls++
	return "hello, " + name
}

// Clone lets the container hand out a *greeter for StoragePersistent use.
func (g *greeter) Clone() any {
	cp := *g
	return &cp
}

var greeterType = reflect.TypeOf((*greeter)(nil))

func newRouter(logger *surgelog.Logger) *router.Router {
	r := router.New()

	must := func(err error) {
		if err != nil {
			log.Fatalf("surge-example: route registration: %v", err)
		}
	}

	must(r.Route("GET", "/", func(c *chain.Context) error {
		return c.Resp.WriteJSON(c, 200, []byte(`{"message":"hello from surge"}`))
	}))

	must(r.Route("GET", "/healthz", func(c *chain.Context) error {
		return c.Resp.WriteText(c, 200, []byte("ok"))
	}))

	must(r.Route("GET", "/greet/*", router.ExtractedHandler(
		func(c *chain.Context, args []any) error {
			name, _ := args[0].(string)
			if name == "" {
				name = "stranger"
			}
			v, err := c.Container.Get(greeterType, c.Storage)
			if err != nil {
				return c.Resp.WriteText(c, 500, []byte("greeter unavailable"))
			}
			msg := v.(*greeter).Greet(name)
			return c.Resp.WriteText(c, 200, []byte(msg))
		},
		router.PathFragment(2),
	)))

	return r
}

func notFoundHandler(c *chain.Context) error {
	return c.Resp.WriteText(c, 404, []byte("not found"))
}

func main() {
	logger := surgelog.New(os.Stdout)

	cfg := config.DefaultConfig()
	cfg.ListenAddresses = []string{":8080"}
	cfg.StaticFile = config.StaticFileConfig{
		URLBase:  "/static",
		PathBase: "./public",
	}

	r := newRouter(logger)
	staticHandler := cfg.NewStaticHandler()

	// ConvertErrors must wrap the router/static handlers rather than sit
	// innermost: a matched route handler's error is just the return value
	// of router.Handler's closure, so only middleware listed before the
	// router sees it.
	middlewares := []chain.Middleware{
		chain.Recover(),
		surgelog.Middleware(logger, "/healthz"),
		chain.ConvertErrors(),
		r.Handler,
	}
	if staticHandler != nil {
		middlewares = append(middlewares, staticHandler.Handler)
	}

	handlers := chain.New([]chain.Handler{notFoundHandler}, middlewares...)

	newContainer := func() *di.Container {
		c := di.New()
		c.Add(greeterType, func(*di.Container, *di.Storage) any {
			return &greeter{}
		}, di.StoragePersistent)
		return c
	}

	srv := server.New(cfg.ServerConfig(), handlers, newContainer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("surge-example: start: %v", err)
	}
	logger.Info("surge-example listening on " + cfg.ListenAddresses[0])

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("surge-example: shutdown: %v", err)
	}
	logger.Info("stopped")
}
