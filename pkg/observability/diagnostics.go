package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const readHeaderTimeout = 5 * time.Second

// DiagnosticsServer serves /healthz, /readyz, an optional /metrics and any
// extra routes.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	done     chan struct{}
}

type diagnosticsOptions struct {
	metrics http.Handler
	checks  []ReadyCheck
	routes  map[string]http.Handler
	tracer  trace.Tracer
	logger  *slog.Logger
}

// DiagnosticsOption configures NewDiagnosticsServer.
type DiagnosticsOption func(*diagnosticsOptions)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.metrics = h
	}
}

// WithReadyChecks adds /readyz checks.
func WithReadyChecks(checks ...ReadyCheck) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// WithRoute mounts h at pattern.
func WithRoute(pattern string, h http.Handler) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.routes[pattern] = h
	}
}

// WithServerTracer wraps every route in HTTPMiddleware.
func WithServerTracer(tr trace.Tracer) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.tracer = tr
	}
}

// WithServerLogger sets the logger for serve errors.
func WithServerLogger(logger *slog.Logger) DiagnosticsOption {
	return func(o *diagnosticsOptions) {
		o.logger = logger
	}
}

// NewDiagnosticsServer listens on addr and serves in the background. Use
// port 0 to pick a free port and read it back with Addr.
func NewDiagnosticsServer(addr string, opts ...DiagnosticsOption) (*DiagnosticsServer, error) {
	o := diagnosticsOptions{
		routes: make(map[string]http.Handler),
		logger: slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(&o)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(o.checks...))

	if o.metrics != nil {
		mux.Handle("/metrics", o.metrics)
	}

	for pattern, h := range o.routes {
		mux.Handle(pattern, h)
	}

	var handler http.Handler = mux
	if o.tracer != nil {
		handler = HTTPMiddleware(o.tracer, mux)
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	d := &DiagnosticsServer{
		server:   &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout},
		listener: listener,
		logger:   o.logger,
		done:     make(chan struct{}),
	}

	go d.serve()

	return d, nil
}

func (d *DiagnosticsServer) serve() {
	defer close(d.done)

	err := d.server.Serve(d.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		d.logger.Warn("diagnostics: server stopped", "error", err)
	}
}

// Addr returns the listening address.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests and
// the serve goroutine.
func (d *DiagnosticsServer) Shutdown(ctx context.Context) error {
	err := d.server.Shutdown(ctx)

	<-d.done

	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}
