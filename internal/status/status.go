// Package status serves the progress of a running profile over HTTP and the
// standard gRPC health protocol.
package status

import (
	"FlowSpectra/internal/config"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "flowprofile"

// ProgressFunc returns a JSON-encodable progress snapshot.
type ProgressFunc func() any

// NewRouter builds the HTTP routes: /metrics for Prometheus and /status for
// the progress snapshot.
func NewRouter(gatherer prometheus.Gatherer, progress ProgressFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/status", statusHandler(progress)).Methods("GET")
	return r
}

func statusHandler(progress ProgressFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonBytes, err := json.Marshal(progress())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to marshal status: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(jsonBytes)
	}
}

// Server runs the optional status endpoints.
type Server struct {
	httpServer *http.Server
	httpLis    net.Listener
	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server
}

// Start listens on the addresses in cfg. An empty address disables that
// endpoint. The health status starts as SERVING.
func Start(cfg config.StatusConfig, gatherer prometheus.Gatherer, progress ProgressFunc) (*Server, error) {
	s := &Server{}

	if cfg.HTTPListen != "" {
		lis, err := net.Listen("tcp", cfg.HTTPListen)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.HTTPListen, err)
		}
		s.httpLis = lis
		s.httpServer = &http.Server{
			Handler:           NewRouter(gatherer, progress),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("Status server starting on %s", lis.Addr())
			if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Status server stopped: %v", err)
			}
		}()
	}

	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			s.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPCListen, err)
		}
		s.grpcLis = lis
		s.grpcServer = grpc.NewServer()
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		s.SetServing(true)
		go func() {
			log.Infof("gRPC health server starting on %s", lis.Addr())
			if err := s.grpcServer.Serve(lis); err != nil {
				log.Errorf("gRPC health server stopped: %v", err)
			}
		}()
	}
	return s, nil
}

// SetServing updates the gRPC health status of the overall server and of
// ServiceName.
func (s *Server) SetServing(serving bool) {
	if s.health == nil {
		return
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// HTTPAddr returns the bound HTTP address, or "" when disabled.
func (s *Server) HTTPAddr() string {
	if s.httpLis == nil {
		return ""
	}
	return s.httpLis.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// Shutdown stops both endpoints.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Warnf("Status server forced to shutdown: %v", err)
		}
	} else if s.httpLis != nil {
		s.httpLis.Close()
	}
	if s.grpcServer != nil {
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}
}
