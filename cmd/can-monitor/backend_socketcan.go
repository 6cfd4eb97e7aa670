//go:build linux

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	canif "github.com/kstaniek/go-canif"
)

const polledPumpMsec = 100

// initSocketCANBackend brings the CAN interface up through the library,
// registers an RX handler feeding sink, and returns a frame sender and
// cleanup.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, sink func(canif.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(canif.Frame) error, func(), error) {
	cif := canif.Request(cfg.canIf)
	if err := cif.Init(cfg.canifConfig()); err != nil {
		return nil, func() {}, err
	}
	l.Info("socketcan_open", "if", cfg.canIf, "index", cif.Index())

	filters, err := parseFilters(cfg.filters)
	if err != nil {
		_ = cif.Close()
		return nil, func() {}, err
	}
	rx := func(fr *canif.Frame, ts unix.Timeval) { sink(*fr) }
	if err := cif.RegisterRxHandler(rx, filters); err != nil {
		_ = cif.Close()
		return nil, func() {}, err
	}

	// In polled mode the library starts no driver goroutine; pump here.
	if cfg.polled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if err := cif.PollMsec(polledPumpMsec); err != nil {
					l.Warn("poll_error", "error", err)
					time.Sleep(time.Duration(polledPumpMsec) * time.Millisecond)
				}
			}
		}()
	}

	send := func(fr canif.Frame) error { return cif.SendFrame(&fr) }
	cleanup := func() { _ = cif.Close() }
	return send, cleanup, nil
}
