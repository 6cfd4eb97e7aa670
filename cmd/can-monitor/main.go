// can-monitor dumps, streams and injects CAN traffic. Frames come either
// from a SocketCAN interface (through the canif library) or from an SLCAN
// serial adapter; they are printed candump-style and optionally streamed
// to TCP clients as text lines, which can in turn inject frames back.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	canif "github.com/kstaniek/go-canif"
	"github.com/kstaniek/go-canif/internal/hub"
	"github.com/kstaniek/go-canif/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-monitor %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	if cfg.hubPolicy == "kick" {
		h.Policy = hub.PolicyKick
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	src := cfg.canIf
	if cfg.backend == "slcan" {
		src = "slcan"
	}
	sink := func(fr canif.Frame) {
		if !cfg.quiet {
			fmt.Println(formatFrame(src, &fr))
		}
		h.Broadcast(fr)
	}

	send, cleanup, err := initBackend(ctx, cfg, sink, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// One-shot injection mode.
	if cfg.send != "" {
		fr, err := parseTextFrame(cfg.send)
		if err != nil {
			l.Error("send_parse_error", "error", err)
			os.Exit(1)
		}
		if err := send(fr); err != nil {
			l.Error("send_error", "error", err)
			os.Exit(1)
		}
		l.Info("frame_sent", "frame", cfg.send)
		return
	}

	var srv *streamServer
	if cfg.listenAddr != "" {
		srv = newStreamServer(cfg, h, send, l)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				l.Error("stream_server_error", "error", err)
				cancel()
			}
		}()
		go func() {
			select {
			case <-srv.Ready():
			case <-ctx.Done():
				return
			}
			port := 0
			if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
				port, _ = strconv.Atoi(p)
			}
			cleanupMDNS, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			if cfg.mdnsEnable {
				l.Info("mdns_started", "service", mdnsServiceType, "port", port)
			}
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}()
	}

	metrics.SetReadinessFunc(func() bool {
		if srv != nil {
			select {
			case <-srv.Ready():
			default:
				return false
			}
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Close() }()
	}

	<-ctx.Done()
	l.Info("shutdown")
	wg.Wait()
}
