// Gray Logic Gateway - authenticated WebSocket control plane
//
// This is the main entry point for the gateway. With no arguments (or
// "serve") it runs the server; the other subcommands manage credentials
// against the same database:
//
//	graylogic-gateway [serve]
//	graylogic-gateway tokens create|list|revoke
//	graylogic-gateway invite create|list|revoke
//	graylogic-gateway hash-password
//	graylogic-gateway version
//
// The configuration file is read from $GRAYLOGIC_CONFIG, falling back to
// configs/config.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/credential"
	"github.com/nerrad567/gray-logic-gateway/internal/gateway"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/pairing"
	"github.com/nerrad567/gray-logic-gateway/internal/pairingcode"
	"github.com/nerrad567/gray-logic-gateway/internal/ratelimit"
	"github.com/nerrad567/gray-logic-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// redisPingTimeout bounds the startup probe of the Redis limiter backend.
const redisPingTimeout = 3 * time.Second

func main() {
	// Cancel on Ctrl+C / SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dispatch picks the subcommand. Anything that is not a known command name
// is an error; no arguments means serve.
func dispatch(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return run(ctx)
	case "tokens":
		return runTokens(ctx, args, out)
	case "invite":
		return runInvite(ctx, args, out)
	case "hash-password":
		return runHashPassword(args, in, out)
	case "version":
		fmt.Fprintf(out, "graylogic-gateway %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want serve, tokens, invite, hash-password or version)", cmd)
	}
}

// run starts every component and blocks until ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	tokens := credential.NewTokenStore(ctx, db.DB)
	if initErr := tokens.InitErr(); initErr != nil {
		log.Warn("api token store disabled", "error", initErr)
	}
	invites := credential.NewInviteStore(ctx, db.DB)
	if initErr := invites.InitErr(); initErr != nil {
		log.Warn("invite store disabled", "error", initErr)
	}
	pairingStore, err := pairing.NewSQLiteStore(db.DB, cfg.Security.DeviceTokens.Secret)
	if err != nil {
		return fmt.Errorf("creating pairing store: %w", err)
	}

	codes := pairingcode.NewStore()
	go codes.Run(ctx)

	limiter, closeLimiter := buildLimiter(ctx, cfg, log)
	defer closeLimiter()

	// MQTT is optional: without it events and audit entries stay on-box.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	sinks := audit.MultiSink{auditRepo}
	var bus gateway.EventPublisher
	if mqttClient != nil {
		sinks = append(sinks, audit.NewMQTTSink(mqttClient))
		bus = mqttClient
	}
	auditLog := audit.NewBestEffort(sinks, log.Component("audit").Logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promMetrics := metrics.NewMetrics(registry)
	telemetry := gateway.MultiTelemetry{promMetrics}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = append(telemetry, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	health := func(ctx context.Context) error {
		return healthCheck(ctx, db, mqttClient, influxClient)
	}
	if err := health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hub := api.NewHub(log, cfg.WebSocket.MaxBufferedBytes)
	events := gateway.NewEvents(hub, bus, log)
	tick := time.Duration(cfg.WebSocket.TickInterval) * time.Second

	gw, err := gateway.New(gateway.Deps{
		Tokens:       tokens,
		Invites:      invites,
		PairingCodes: codes,
		Pairing:      pairingStore,
		Limiter:      limiter,
		Secret:       auth.NewSharedSecret(cfg.Security.Auth.Mode, cfg.Security.Auth.Token, cfg.Security.Auth.PasswordHash),
		Audit:        auditLog,
		AuditLog:     auditRepo,
		Events:       events,
		Telemetry:    telemetry,
		Health:       health,
		Policy: gateway.Policy{
			AllowedOrigins:   cfg.Security.AllowedOrigins,
			LocalAutoApprove: cfg.Security.Pairing.LocalAutoApprove,
			LocalRole:        auth.Role(cfg.Security.Pairing.LocalRole),
			LANAutoApprove:   cfg.Security.Pairing.LANAutoApprove,
			LANRole:          auth.Role(cfg.Security.Pairing.LANRole),
			MaxPayload:       cfg.WebSocket.MaxMessageSize,
			MaxBufferedBytes: cfg.WebSocket.MaxBufferedBytes,
			TickInterval:     tick,
		},
		Server: gateway.ServerInfo{Version: version, Host: gatewayHost(cfg)},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	go events.RunTicker(ctx, tick)

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Gateway:   gw,
		Hub:       hub,
		Tokens:    tokens,
		Pairing:   pairingStore,
		Metrics:   promMetrics.Handler(),
		Telemetry: telemetry,
		Health:    health,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("gateway listening",
		"address", server.Addr(),
		"ws_path", cfg.WebSocket.Path,
		"auth_mode", cfg.Security.Auth.Mode,
		"rate_limit_backend", cfg.Security.RateLimit.Backend,
	)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order: API server, InfluxDB, MQTT,
	// limiter, database.
	log.Info("Gray Logic Gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path from $GRAYLOGIC_CONFIG,
// or the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the SQLite file and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// buildLimiter returns the configured failure limiter and a cleanup func.
// The pruning goroutine stops with ctx.
func buildLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger) (ratelimit.Limiter, func()) {
	rl := cfg.Security.RateLimit
	rlCfg := ratelimit.Config{
		MaxAttempts:    rl.MaxAttempts,
		Window:         rl.Window(),
		Lockout:        rl.Lockout(),
		ExemptLoopback: rl.ExemptLoopback,
	}

	if rl.Backend != config.RateLimitBackendRedis {
		mem := ratelimit.NewMemory(rlCfg)
		go mem.Run(ctx)
		return mem, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The Redis limiter degrades to its in-process fallback per call.
		log.Warn("redis unreachable, limiter will fall back to memory until it recovers",
			"address", cfg.Redis.Address, "error", err)
	} else {
		log.Info("redis limiter connected", "address", cfg.Redis.Address)
	}

	limiter := ratelimit.NewRedis(client, rlCfg, cfg.Redis.KeyPrefix, log.Component("ratelimit").Logger)
	go limiter.Fallback().Run(ctx)
	return limiter, func() {
		if err := client.Close(); err != nil {
			log.Error("error closing redis", "error", err)
		}
	}
}

// gatewayHost is the host reported in hello-ok.
func gatewayHost(cfg *config.Config) string {
	if cfg.Gateway.Host != "" {
		return cfg.Gateway.Host
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return cfg.Gateway.Name
}

// healthCheck verifies connectivity to the database and, when configured,
// MQTT and InfluxDB.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db == nil {
		return errors.New("database: not open")
	}
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
