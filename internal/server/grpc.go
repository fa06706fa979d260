package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"riskengine/internal/observability"
	"riskengine/internal/query"
)

// Server hosts the gRPC endpoint (health and reflection) and the HTTP/JSON
// API built on the gateway mux.
type Server struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	log           zerolog.Logger
}

func New(grpcAddr, httpAddr string, qs *query.Service, hc *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) (*Server, error) {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	api := newAPI(qs, metrics, log)
	mux := runtime.NewServeMux()
	if err := api.register(mux); err != nil {
		return nil, fmt.Errorf("register http routes: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", hc.LivenessHandler)
	httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           httpMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: hc,
		log:           log.With().Str("component", "server").Logger(),
	}, nil
}

// StartGRPC serves gRPC until ctx is cancelled (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("grpc server shutting down")
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("grpc server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is cancelled (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
