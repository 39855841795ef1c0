package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crowdspot/internal/shared"
)

const shutdownTimeout = 5 * time.Second

// CallbackServer serves one OAuth redirect.
type CallbackServer struct {
	handler  *OAuthHandler
	http     *http.Server
	listener net.Listener
	errs     chan error
	logger   *log.Logger
}

// NewCallbackServer prepares a server on addr delivering codes to receiver.
func NewCallbackServer(addr string, receiver CodeReceiver, logger *log.Logger) *CallbackServer {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	logger = shared.WithLogger(logger, "component", "callback")

	handler := NewOAuthHandler(receiver)
	router := NewBasicRouter()
	router.Use(Logging(logger))
	router.Handler(handler)

	return &CallbackServer{
		handler: handler,
		http:    &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		errs:    make(chan error, 1),
		logger:  logger,
	}
}

// Start binds the address and serves in the background. It returns the bound address.
func (s *CallbackServer) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
	}()

	s.logger.Info("waiting for authorization redirect", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Wait blocks until one callback is handled, the server fails or ctx ends, then shuts down.
func (s *CallbackServer) Wait(ctx context.Context) error {
	defer func() {
		if err := s.Shutdown(); err != nil {
			s.logger.Warn("error shutting down callback server", "error", err)
		}
	}()

	select {
	case err := <-s.handler.Result():
		return err
	case err := <-s.errs:
		return fmt.Errorf("callback server failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the server, waiting up to five seconds for open requests.
func (s *CallbackServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("callback server shutdown: %w", err)
	}
	return nil
}

// ListenForCode serves addr until receiver gets one authorization code or ctx ends.
func ListenForCode(ctx context.Context, addr string, receiver CodeReceiver, logger *log.Logger) error {
	srv := NewCallbackServer(addr, receiver, logger)
	if _, err := srv.Start(); err != nil {
		return err
	}
	return srv.Wait(ctx)
}
