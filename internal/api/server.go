package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/pdejuan/gcnl-lite/internal/config"
	"github.com/pdejuan/gcnl-lite/internal/utils"
)

// NewRouter wires the routes and middleware around handler.
func NewRouter(logger *utils.Logger, handler *Handler) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, handler)
	return WithRequestID(WithLogging(logger, mux))
}

// Serve listens on cfg.Addr() until ctx is cancelled, then shuts down
// gracefully. When MaxConnections is set, at most that many connections are
// accepted at once.
func Serve(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger, h http.Handler) error {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	timeout := time.Duration(cfg.HttpTimeoutSeconds) * time.Second
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(nil, "Listening on %s", ln.Addr())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(nil, "Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
