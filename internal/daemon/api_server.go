package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"imagepipe/internal/logging"
)

// shutdownTimeout bounds how long in-flight uploads may finish once the daemon
// is stopping.
const shutdownTimeout = 30 * time.Second

type apiServer struct {
	bind   string
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, handler http.Handler, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}
	return &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			// Batch uploads and event streams hold the response open, so there
			// is no write deadline.
			IdleTimeout: 60 * time.Second,
		},
	}
}

// start listens on the bind address. Request contexts derive from ctx so that
// event streams end when the daemon stops.
func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.WarnWithContext(s.logger, "api server shutdown incomplete", "api_shutdown_timeout",
				logging.Error(err),
				logging.String(logging.FieldImpact, "in-flight uploads were cut off"),
			)
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
