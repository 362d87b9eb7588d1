package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// startBackgroundServices forwards coordinator events to WebSocket clients
func (s *Server) startBackgroundServices() {
	events := s.coord.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.coord.Unsubscribe(events)
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev := <-events:
				s.broadcast(ev)
			}
		}
	}()
}

// Start listens on the configured port and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", s.cfg.Port)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.startBackgroundServices()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setState(ServerStateRunning)
	s.logger.Infow("HTTP server listening", "addr", ln.Addr().String())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop drains requests, closes event clients and waits for goroutines
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		// Shutdown does not wait for hijacked WebSocket connections
		shutdownErr = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clientsToClose = append(clientsToClose, c)
	}
	s.mu.Unlock()
	for _, c := range clientsToClose {
		c.conn.Close()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out", "timeout", ShutdownTimeout)
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "broadcast_drops", s.broadcastDrops.Load())

	if shutdownErr != nil {
		return errors.Wrap(shutdownErr, "http shutdown")
	}
	return nil
}
