package main

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	canif "github.com/kstaniek/go-canif"
	"github.com/kstaniek/go-canif/internal/hub"
	"github.com/kstaniek/go-canif/internal/metrics"
)

// streamServer exposes received frames as text lines over TCP and accepts
// cansend-style lines back from clients for injection.
type streamServer struct {
	addr       string
	source     string
	hub        *hub.Hub
	send       func(canif.Frame) error
	maxClients int
	logger     *slog.Logger

	mu       sync.Mutex
	bound    string
	ready    chan struct{}
	readyOne sync.Once
	wg       sync.WaitGroup
}

func newStreamServer(cfg *appConfig, h *hub.Hub, send func(canif.Frame) error, l *slog.Logger) *streamServer {
	src := cfg.canIf
	if cfg.backend == "slcan" {
		src = "slcan"
	}
	return &streamServer{
		addr:       cfg.listenAddr,
		source:     src,
		hub:        h,
		send:       send,
		maxClients: cfg.maxClients,
		logger:     l,
		ready:      make(chan struct{}),
	}
}

func (s *streamServer) Ready() <-chan struct{} { return s.ready }

func (s *streamServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Serve accepts stream clients until ctx is cancelled.
func (s *streamServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	s.readyOne.Do(func() { close(s.ready) })
	s.logger.Info("stream_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			s.wg.Wait()
			return err
		}
		if s.maxClients > 0 && s.hub.Count() >= s.maxClients {
			s.logger.Warn("stream_reject_max", "max_clients", s.maxClients)
			_ = conn.Close()
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetKeepAlive(true)
		}
		s.startClient(ctx, conn)
	}
}

func (s *streamServer) startClient(ctx context.Context, conn net.Conn) {
	cl := &hub.Client{
		Out:    make(chan canif.Frame, s.hub.OutBufSize),
		Closed: make(chan struct{}),
	}
	s.hub.Add(cl)
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("stream_client_connected")

	// Writer: hub frames out as text lines.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.hub.Remove(cl)
			logger.Info("stream_client_disconnected")
		}()
		w := bufio.NewWriter(conn)
		for {
			select {
			case fr := <-cl.Out:
				if _, err := w.WriteString(formatFrame(s.source, &fr) + "\n"); err != nil {
					metrics.IncError(metrics.ErrStreamWrite)
					return
				}
				// Flush opportunistically once the burst is drained.
				if len(cl.Out) == 0 {
					if err := w.Flush(); err != nil {
						metrics.IncError(metrics.ErrStreamWrite)
						return
					}
				}
			case <-cl.Closed:
				_ = w.Flush()
				return
			case <-ctx.Done():
				_ = w.Flush()
				return
			}
		}
	}()

	// Reader: ID#HEXDATA lines injected onto the bus.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cl.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			fr, err := parseTextFrame(line)
			if err != nil {
				logger.Warn("stream_bad_frame", "line", line, "error", err)
				continue
			}
			if s.send == nil {
				continue
			}
			if err := s.send(fr); err != nil {
				logger.Warn("stream_send_failed", "error", err)
			}
		}
	}()
}
