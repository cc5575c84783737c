// Package server exposes a JIT runtime over Connect. The same handlers
// answer Connect (HTTP/JSON), gRPC and gRPC-Web clients.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/chazu/pyjion/host"
)

var log = commonlog.GetLogger("pyjion.server")

// JitServer is the control server wrapping a host.
type JitServer struct {
	worker *HostWorker
	health *health.Server
	grpc   *grpc.Server
	mux    *http.ServeMux
	http   *http.Server
}

// ServerOption configures a JitServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	handlers map[string]http.Handler
}

// WithHandler mounts an extra handler on the server's mux, e.g. a metrics
// endpoint.
func WithHandler(pattern string, h http.Handler) ServerOption {
	return func(c *serverConfig) { c.handlers[pattern] = h }
}

// New creates a JitServer wrapping the given host.
func New(h *host.Host, opts ...ServerOption) *JitServer {
	cfg := &serverConfig{handlers: map[string]http.Handler{}}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &JitServer{
		worker: NewHostWorker(h),
		health: health.NewServer(),
		grpc:   grpc.NewServer(),
		mux:    http.NewServeMux(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.mux.Handle("/"+healthpb.Health_ServiceDesc.ServiceName+"/", s.grpc)

	svc := NewJitService(s.worker, s.SyncHealth)
	interceptors := connect.WithInterceptors(loggingInterceptor())
	for procedure, fn := range map[string]func(context.Context, *structRequest) (*structResponse, error){
		EnableProcedure:  svc.Enable,
		DisableProcedure: svc.Disable,
		ConfigProcedure:  svc.Config,
		InfoProcedure:    svc.Info,
		DisProcedure:     svc.Dis,
		GraphProcedure:   svc.Graph,
		UnitsProcedure:   svc.Units,
		CallProcedure:    svc.Call,
	} {
		s.mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, interceptors))
	}
	for pattern, handler := range cfg.handlers {
		s.mux.Handle(pattern, handler)
	}

	s.SyncHealth()
	return s
}

// Handler returns the server's root handler.
func (s *JitServer) Handler() http.Handler {
	return s.mux
}

// Health returns the gRPC health server.
func (s *JitServer) Health() *health.Server {
	return s.health
}

// SyncHealth reports SERVING for the JIT service while the runtime is
// enabled and NOT_SERVING otherwise.
func (s *JitServer) SyncHealth() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.worker.Host().Runtime().Enabled() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(JitServiceName, status)
	s.health.SetServingStatus("", status)
}

// ListenAndServe starts the HTTP server on the given address. HTTP/2
// without TLS is accepted so gRPC clients can connect directly.
func (s *JitServer) ListenAndServe(addr string) error {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		Protocols:         &protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, UnitsProcedure)
	log.Infof("  gRPC health:         grpc://%s", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the server.
func (s *JitServer) Stop() {
	s.health.Shutdown()
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			log.Warningf("shutdown: %s", err)
		}
	}
	s.grpc.Stop()
	s.worker.Stop()
}

// loggingInterceptor logs every call at debug level and failures as
// warnings.
func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			name := procedureName(req.Spec().Procedure)
			if err != nil {
				log.Warningf("%s failed after %s: %s", name, time.Since(start), err)
			} else {
				log.Debugf("%s ok in %s", name, time.Since(start))
			}
			return resp, err
		}
	}
}
