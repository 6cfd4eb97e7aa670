//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	canif "github.com/kstaniek/go-canif"
)

// SocketCAN needs Linux; the stub keeps the tool compiling elsewhere so
// the slcan backend remains usable.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, sink func(canif.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(canif.Frame) error, func(), error) {
	return nil, func() {}, errors.New("socketcan backend requires linux")
}
