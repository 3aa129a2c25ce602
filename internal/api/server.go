package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/gateway"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// PairingLister is the read side of the pairing store used by the admin endpoint.
type PairingLister interface {
	ListPairingRequests(ctx context.Context, status string) ([]pairing.PairingRequest, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Gateway  *gateway.Gateway
	// Hub must be the same hub the gateway's Events fan out to.
	Hub *Hub

	// Tokens authenticates admin HTTP calls.
	Tokens  *credential.TokenStore
	Pairing PairingLister

	// Metrics serves /metrics when set.
	Metrics   http.Handler
	Telemetry gateway.Telemetry
	// Health backs /healthz; nil reports healthy.
	Health  func(ctx context.Context) error
	Version string
}

// Server is the HTTP and WebSocket front end of the gateway.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	gateway   *gateway.Gateway
	hub       *Hub
	tokens    *credential.TokenStore
	pairing   PairingLister
	metrics   http.Handler
	telemetry gateway.Telemetry
	health    func(ctx context.Context) error
	version   string

	proxies  proxyList
	throttle *upgradeThrottle
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	telemetry := deps.Telemetry
	if telemetry == nil {
		telemetry = gateway.MultiTelemetry(nil)
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger.Component("api"),
		gateway:   deps.Gateway,
		hub:       deps.Hub,
		tokens:    deps.Tokens,
		pairing:   deps.Pairing,
		metrics:   deps.Metrics,
		telemetry: telemetry,
		health:    deps.Health,
		version:   deps.Version,
		proxies:   parseProxies(deps.Security.TrustedProxies),
		throttle:  newUpgradeThrottle(deps.Config.UpgradeRate, deps.Config.UpgradeBurst),
		upgrader:  newUpgrader(deps.WS.MaxMessageSize),
	}, nil
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine. The bind
// happens before Start returns, so "address in use" is reported here.
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.throttle.run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		// Read and write timeouts are left unset: they would also apply to
		// hijacked WebSocket connections, which manage their own deadlines.
		IdleTimeout: time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops background goroutines, disconnects WebSocket clients and
// waits up to 10 seconds for in-flight HTTP requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
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
