package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"strategylab/internal/config"
)

// Server hosts the HTTP and gRPC endpoints of one Service.
type Server struct {
	svc      *Service
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// NewServer creates a Server listening on the addresses in cfg. A zero gRPC
// port disables the gRPC listener.
func NewServer(cfg config.Server, svc *Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		svc:      svc,
		httpAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		log:      log.With("component", "server"),
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
	}

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	mux.Handle("GET /metrics", MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.httpSrv = &http.Server{
		Addr:              s.httpAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpcSrv = grpc.NewServer()
	RegisterBacktestServer(s.grpcSrv, NewGRPCServer(svc))
	reflection.Register(s.grpcSrv)
	return s
}

// HTTPHandler returns the server's HTTP handler.
func (s *Server) HTTPHandler() http.Handler { return s.httpSrv.Handler }

// GRPCServer returns the underlying gRPC server.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcSrv }

// ListenAndServe starts the HTTP and gRPC listeners and blocks until ctx is
// cancelled or a listener fails. On cancellation it shuts both down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 2)

	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	go func() {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	if s.grpcAddr != "" {
		grpcLn, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		go func() {
			s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
			if err := s.grpcSrv.Serve(grpcLn); err != nil {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		s.Shutdown(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(done)
	}()
	err := s.httpSrv.Shutdown(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
	s.log.Info("server stopped")
	return err
}
