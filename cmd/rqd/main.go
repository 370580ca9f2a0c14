// Command rqd runs the per-host render farm execution agent: it accepts
// frame launch requests over the inbound Frame RPC, accounts for cores on
// the Core Ledger, spawns and supervises frame subprocesses through the
// Frame Attendant, and reports status and completions to the dispatcher.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencue/rqd/attendant"
	"github.com/opencue/rqd/cmn"
	"github.com/opencue/rqd/cmn/nlog"
	"github.com/opencue/rqd/core"
	"github.com/opencue/rqd/idle"
	"github.com/opencue/rqd/rpc"
	"github.com/opencue/rqd/stats"
	"github.com/opencue/rqd/super"
	"github.com/opencue/rqd/tracing"
)

var (
	configPath = flag.String("config", "", "path to a JSON config file overlaying the defaults")
	desktop    = flag.String("desktop", "", "'true' classifies this host as an interactive workstation (nice-wraps frames)")
	logLevel   = flag.String("log-level", "info", "debug|info|warn|error")
	jsonLogs   = flag.Bool("json-logs", false, "emit structured JSON logs instead of the human-readable console encoder")
)

const version = "1.0.0"

func main() {
	flag.Parse()
	nlog.Init(*logLevel, *jsonLogs)
	defer nlog.Flush()

	cfg, err := cmn.LoadFile(*configPath)
	if err != nil {
		nlog.Fatalf("rqd: load config: %v", err)
	}

	platform := attendant.NewPlatformOps(*desktop == "true", cfg.WindowsLogShare)

	topo, err := platform.ProbeTopology()
	if err != nil {
		nlog.Fatalf("rqd: probe topology: %v", err)
	}

	if err := tracing.Init(&cfg.Tracing, cfg.HostName, version); err != nil {
		nlog.Errorf("rqd: tracing init failed (continuing without tracing): %v", err)
	}
	defer tracing.Shutdown()

	ledger := core.NewLedger(topo.TotalCentiCores, topo.HyperthreadPool)
	cache := core.NewCache()
	state := core.NewDaemonState()
	state.Tags = topo.Tags

	dispatcher := rpc.NewHTTPDispatcherClient(cfg.DispatcherURL)
	dispatcher.HTTP = tracing.NewTraceableClient(dispatcher.HTTP)

	var audit *idle.AuditSink
	if cfg.AuditDBPath != "" {
		audit, err = idle.OpenAuditSink(cfg.AuditDBPath, cfg.AuditTTL)
		if err != nil {
			nlog.Fatalf("rqd: open idle-lock audit sink: %v", err)
		}
		defer audit.Close()
	}

	sup := super.New(ledger, cache, state, platform, dispatcher, cfg, cfg.HostName, audit)

	metrics := stats.NewCollector(cfg.HostName)
	sup.SetMetrics(metrics)

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := dispatcher.ReportStartup(startupCtx, rpc.HostBootReport{
		HostName:        cfg.HostName,
		TotalCentiCores: topo.TotalCentiCores,
		TotalMemBytes:   topo.TotalMemBytes,
		Tags:            topo.Tags,
		NimbyEnabled:    cfg.IdleThreshold > 0,
	}); err != nil {
		nlog.Warningf("rqd: startup report failed (non-fatal): %v", err)
	}
	cancel()

	rssTicker, heartbeatTicker := sup.StartTimers()
	defer rssTicker.Stop()
	defer heartbeatTicker.Stop()

	server := rpc.NewServer(cfg.ListenAddr, sup, []byte(cfg.JWTSigningKey), cfg.RequireAuth)
	server.WrapHandler(func(h http.Handler) http.Handler { return tracing.NewTraceableHandler(h, "rqd") })

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nlog.Errorf("rqd: metrics listener: %v", err)
		}
	}()

	shutdownDone := make(chan struct{})
	sup.OnShutdownComplete = func() {
		nlog.Infof("rqd: shutdown complete, stopping listener")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		metricsServer.Shutdown(ctx)
		close(shutdownDone)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		nlog.Infof("rqd: received %v, shutting down now", sig)
		sup.ShutdownRqdNow()
	}()

	nlog.Infof("rqd: listening on %s (%d centi-cores, %d MB)", cfg.ListenAddr, topo.TotalCentiCores, topo.TotalMemBytes/(1<<20))
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nlog.Fatalf("rqd: listener: %v", err)
		}
	}()

	<-shutdownDone
}
