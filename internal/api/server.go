// Package api provides the HTTP, websocket and gRPC server for alphafactory,
// exposing backtest submission and stored report retrieval.
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

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"alphafactory/internal/config"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	svc      *Service
	httpAddr string
	grpcAddr string
	log      *slog.Logger
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
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	var grpcLn net.Listener
	if s.grpcAddr != "" {
		grpcLn, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs on pre-opened listeners. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.svc.hub != nil {
		g.Go(func() error {
			if err := s.svc.hub.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	httpSrv := &http.Server{
		Handler:           s.svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := httpSrv.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if grpcLn != nil {
		gs := grpc.NewServer()
		s.svc.RegisterGRPC(gs)
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := gs.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}
