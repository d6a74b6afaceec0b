// Package api provides the bridge's HTTP status API.
//
// It exposes the registered batteries with their latest decoded snapshots,
// bridge counters, a health endpoint for container probes, and the
// Prometheus /metrics endpoint. The API is read-only; /api/v1/ws streams
// battery updates to websocket subscribers.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/jkbms-bridge/internal/bridges/jkbms"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BatterySource is the read side of the bridge.
// Satisfied by *jkbms.Bridge.
type BatterySource interface {
	Snapshots() []jkbms.BatterySnapshot
	Snapshot(addr jkbms.Address) (jkbms.BatterySnapshot, bool)
	Stats() jkbms.Stats
	Connected() bool
}

// DeviceHistory lists every device ever recorded.
// Satisfied by *jkbms.Recorder.
type DeviceHistory interface {
	Devices(ctx context.Context) ([]jkbms.RecordedDevice, error)
}

// HealthChecker is a dependency probed by /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  BatterySource
	History DeviceHistory // Optional; /api/v1/history returns 404 without it

	// Gatherer backs /metrics. Optional; the route is not mounted without it.
	Gatherer prometheus.Gatherer

	// Checks are probed by the health endpoint, keyed by component name.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP status API.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    BatterySource
	history   DeviceHistory
	gatherer  prometheus.Gatherer
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	hub       *Hub
	hubCancel context.CancelFunc

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		history:   deps.History,
		gatherer:  deps.Gatherer,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	hubCtx, cancel := context.WithCancel(ctx)
	s.hubCancel = cancel
	go s.hub.Run(hubCtx)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests. Websocket clients are disconnected.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	// Shutdown does not wait for hijacked websocket connections
	if s.hubCancel != nil {
		s.hubCancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
