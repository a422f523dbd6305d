package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"stablecore/internal/ingestion"
	"stablecore/internal/observability"
	"stablecore/internal/persistence"
	"stablecore/internal/query"
)

// GRPCServer wraps the gRPC server and the operational HTTP server.
// Services use a JSON codec over hand-rolled service descriptors, so
// any gRPC client that sets the json content-subtype can call them
// without generated stubs.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	TakeSnapshot  func(ctx context.Context) (int64, error)
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// jsonCodec marshals gRPC messages as JSON. The service types are
// plain structs, not protobufs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))

	grpcServer.RegisterService(&queryServiceDesc, &queryServiceImpl{qs: deps.QueryService})
	grpcServer.RegisterService(&ingestServiceDesc, &ingestServiceImpl{svc: deps.IngestService})
	grpcServer.RegisterService(&adminServiceDesc, &adminServiceImpl{
		db:           deps.DB,
		snapMgr:      deps.SnapshotMgr,
		queryService: deps.QueryService,
		takeSnapshot: deps.TakeSnapshot,
		startTime:    deps.StartTime,
	})

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the operational HTTP server with the health probes
// and the Prometheus metrics endpoint (blocking).
func (s *GRPCServer) StartHTTP(ctx context.Context) error {
	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.Handler())

	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
