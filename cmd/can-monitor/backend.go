package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	canif "github.com/kstaniek/go-canif"
)

// initBackend selects the frame source, starts its RX path feeding sink,
// and returns a frame sender plus cleanup. It returns an error instead of
// exiting the process so the caller can shut down gracefully.
func initBackend(ctx context.Context, cfg *appConfig, sink func(canif.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(canif.Frame) error, func(), error) {
	switch cfg.backend {
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, sink, l, wg)
	case "slcan":
		return initSLCANBackend(ctx, cfg, sink, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use socketcan|slcan)", cfg.backend)
	}
}
