package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/nbrennan/segproxy/internal/config"
	"github.com/nbrennan/segproxy/internal/handler"
	"github.com/nbrennan/segproxy/internal/logger"
	"github.com/nbrennan/segproxy/internal/resolver"
	"github.com/nbrennan/segproxy/internal/segmentation"
	"github.com/nbrennan/segproxy/internal/server"
	"github.com/nbrennan/segproxy/pkg/format"
)

func main() {
	startTime := time.Now()

	flags, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "segproxy: %v\n", err)
		os.Exit(2)
	}

	settings, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "segproxy: %v\n", err)
		os.Exit(2)
	}

	if flags.ValidateRules {
		config.PrintRules(os.Stdout, settings.Rules)
		os.Exit(0)
	}

	logInstance, cleanup, err := logger.New(logger.Config{Level: settings.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "segproxy: failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	logInstance.Info("starting segproxy", "pid", os.Getpid(), "listen", fmt.Sprintf("%s:%d", settings.ListenHost, settings.ListenPort))

	res := buildResolver(settings)
	engine, err := segmentation.NewEngine(settings.Rules, settings.DefaultSegmentationPolicy)
	if err != nil {
		logger.FatalWithLogger(logInstance, "invalid segmentation rules", "error", err)
	}

	h := handler.New(handler.Deps{
		Settings:     settings,
		Resolver:     res,
		Segmentation: engine,
		Logger:       logInstance,
	})

	addr := fmt.Sprintf("%s:%d", settings.ListenHost, settings.ListenPort)
	srv := server.New(addr, settings.MaxConnections, h, logInstance)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logInstance.Info("shutdown signal received", "signal", sig.String())
		cancel()
		_ = srv.Shutdown()
	}()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve() }()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			logInstance.Error("accept loop exited", "error", err)
		}
	}

	_ = srv.Shutdown()
	<-serveErrCh

	reportProcessStats(logInstance, srv.Snapshot(), startTime)
	logInstance.Info("segproxy has shut down")
}

func buildResolver(settings config.Settings) resolver.Resolver {
	var base resolver.Resolver
	if settings.DNSServer != "" {
		addr := settings.DNSServer
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, strconv.Itoa(settings.DNSPort))
		}
		base = resolver.NewCustom(addr, settings.DNSTransport)
	} else {
		base = resolver.NewSystem()
	}
	return resolver.NewCaching(base, settings.DNSCacheSize)
}

// reportProcessStats logs a small shutdown summary: connections served,
// uptime, and heap usage. Scoped down from the teacher's nerdstats-driven
// report to the handful of fields relevant to a proxy daemon.
func reportProcessStats(log *slog.Logger, stats server.Stats, startTime time.Time) {
	runtime.GC()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	log.Info("process stats",
		"uptime", format.Duration(time.Since(startTime)),
		"total_connections", stats.TotalConnections,
		"active_at_shutdown", stats.ActiveAtShutdown,
		"heap_alloc", format.Bytes(mem.HeapAlloc),
		"heap_sys", format.Bytes(mem.HeapSys),
		"num_goroutines", runtime.NumGoroutine(),
	)
}
