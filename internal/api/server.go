// Package api provides the HTTP API and Sync Channel server for Gray Logic Sync.
//
// It exposes client registration and revocation, the readable entity set,
// an HTTP command fallback and the WebSocket Sync Channel.
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
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/dispatch"
	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/exposure"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure components reported on
// /health (database, MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionRecorder receives Sync Channel lifecycle events for telemetry.
type SessionRecorder interface {
	RecordSession(clientID, event string)
}

// AuditTrail records operator actions and serves them on /audit.
type AuditTrail interface {
	Record(ctx context.Context, e audit.Entry)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Auth       *auth.Service
	Exposure   *exposure.Registry
	Host       entity.Host
	Dispatcher *dispatch.Dispatcher

	// Optional.
	Sessions SessionRecorder
	Audit    AuditTrail
	Health   map[string]HealthChecker
	DBStats  DBStatser
	Version  string
}

// Server is the HTTP API server for Gray Logic Sync.
//
// It manages the HTTP listener, routes, middleware, the session hub and the
// state broadcaster. The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	auth        *auth.Service
	exposure    *exposure.Registry
	host        entity.Host
	dispatcher  *dispatch.Dispatcher
	sessions    SessionRecorder
	audit       AuditTrail
	health      map[string]HealthChecker
	dbStats     DBStatser
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	broadcaster *Broadcaster
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, auth, exposure, host, dispatcher)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Exposure == nil {
		return nil, fmt.Errorf("exposure registry is required")
	}
	if deps.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		auth:       deps.Auth,
		exposure:   deps.Exposure,
		host:       deps.Host,
		dispatcher: deps.Dispatcher,
		sessions:   deps.Sessions,
		audit:      deps.Audit,
		health:     deps.Health,
		dbStats:    deps.DBStats,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.broadcaster = NewBroadcaster(s.hub, s.exposure, s.logger)

	// Revocation closes every open channel of the client at once; the
	// dispatcher's per-command check covers the window before this fires.
	s.auth.OnRevoke(s.hub.CloseClient)

	// An exposure change replaces every session's subscription.
	s.exposure.OnChange(func(set *exposure.Set) {
		s.hub.Resubscribe(context.Background(), set, s.host)
	})

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the session hub and the state broadcaster, then launches the
// HTTP listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.broadcaster.Start(srvCtx, s.host)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr, "base_path", s.cfg.BasePath)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It stops the broadcaster, closes every Sync Channel and waits up to
// 10 seconds for in-flight requests to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.broadcaster.Stop()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
