package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Listener is the part of *http.Server a Server drives.
type Listener interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Server runs a Listener as a suture.Service.
type Server struct {
	listener        Listener
	shutdownTimeout time.Duration
}

func NewServer(listener Listener, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &Server{listener: listener, shutdownTimeout: shutdownTimeout}
}

// Serve blocks until ctx is done or the listener fails, then shuts the
// listener down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.listener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.listener.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "http-server"
}
