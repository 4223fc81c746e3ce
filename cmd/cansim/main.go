package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/go-cansim/internal/command"
	"github.com/kstaniek/go-cansim/internal/controller"
	"github.com/kstaniek/go-cansim/internal/metrics"
	"github.com/kstaniek/go-cansim/internal/profile"
	"github.com/kstaniek/go-cansim/internal/statusfeed"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("cansim %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	drv, err := initBackend(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	defer func() { _ = drv.Close() }()

	ctrl := controller.New(drv, profile.Default,
		controller.WithLogger(l),
		controller.WithTickPeriod(cfg.tickPeriod),
		controller.WithTransmitTimeout(cfg.txTimeout),
		controller.WithDrainTimeout(cfg.drainTimeout),
	)

	hub := command.NewHub()
	handler := command.NewHandler(ctrl, version, l)
	srv := command.NewServer(
		command.WithListenAddr(cfg.listenAddr),
		command.WithHub(hub),
		command.WithHandler(handler),
		command.WithLogger(l),
		command.WithMaxClients(cfg.maxClients),
		command.WithReadDeadline(cfg.clientReadTO),
	)

	// Command clients get their status updates from the hub; dashboards
	// hang off controller state changes. Wired before any surface starts
	// accepting mutations.
	var feed *statusfeed.Feed
	if cfg.metricsAddr != "" {
		feed = statusfeed.New(handler.Status, l)
		ctrl.OnStateChange(func() { feed.Broadcast(handler.Status()) })
	}

	ctrl.Run(ctx, &wg)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("command_server_error", "error", err)
			cancel()
		}
	}()

	if cfg.serialEnable {
		sl := command.NewSerialListener(cfg.serialDev, cfg.serialBaud, handler, hub,
			command.WithSerialLogger(l))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sl.Run(ctx); err != nil {
				l.Error("serial_listener_error", "error", err)
			}
		}()
	}

	if feed != nil {
		mux := http.NewServeMux()
		feed.Attach(mux)
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr, mux)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	// Start mDNS advertisement once the listener is bound.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	sdCtx, sdCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		l.Warn("command_shutdown_error", "error", err)
	}
	_ = drv.Close()
	wg.Wait()
}
