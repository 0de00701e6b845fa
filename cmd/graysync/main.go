// Gray Logic Sync - entity synchronisation between home-automation instances
//
// This is the main entry point for the Gray Logic Sync service. One binary
// runs in either of two modes:
//   - server: exposes selected local entities to authenticated remote clients
//   - client: mirrors a remote server's entities and forwards commands to it
//
// The mode comes from the configuration file and may be overridden with
// --mode or GRAYSYNC_MODE.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-sync/internal/api"
	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/bridges/mqttbridge"
	"github.com/nerrad567/gray-logic-sync/internal/client"
	"github.com/nerrad567/gray-logic-sync/internal/dispatch"
	"github.com/nerrad567/gray-logic-sync/internal/entity"
	"github.com/nerrad567/gray-logic-sync/internal/exposure"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-sync/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default file locations.
const (
	defaultConfigPath = "configs/graysync.yaml"
	defaultEnvFile    = ".env"
)

// healthLogInterval is how often degraded dependencies are logged in server mode.
const healthLogInterval = time.Minute

// options holds command-line flags.
type options struct {
	configPath string
	envFile    string
	mode       string
	version    bool
}

func main() {
	opts := parseFlags(os.Args[1:])
	if opts.version {
		fmt.Printf("graysync %s (%s, %s)\n", version, commit, date)
		return
	}

	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads command-line flags. GRAYSYNC_CONFIG is the fallback for
// --config.
func parseFlags(args []string) options {
	fset := pflag.NewFlagSet("graysync", pflag.ExitOnError)

	var opts options
	fset.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	fset.StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file loaded before the configuration")
	fset.StringVarP(&opts.mode, "mode", "m", "", `operating mode override ("server" or "client")`)
	fset.BoolVarP(&opts.version, "version", "v", false, "print version and exit")

	fset.Parse(args) //nolint:errcheck // ExitOnError exits on failure
	return opts
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command-line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting Gray Logic Sync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Secrets usually live in .env next to the binary; a missing file is fine.
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading env file: %w", err)
		}
	}
	if opts.mode != "" {
		os.Setenv("GRAYSYNC_MODE", opts.mode) //nolint:errcheck // read back by config.Load
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath, "mode", cfg.Mode)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	switch cfg.Mode {
	case config.ModeClient:
		err = runClient(ctx, cfg, log)
	default:
		err = runServer(ctx, cfg, log)
	}
	if err != nil {
		return err
	}

	log.Info("Gray Logic Sync stopped")
	return nil
}

// runServer wires the Token Store, exposure, host adapter, dispatcher and
// API, then serves until ctx is cancelled.
func runServer(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	authSvc, err := auth.NewService(auth.NewClientRepository(db.DB), auth.Options{
		Secret:      cfg.Security.SharedSecret,
		TokenTTL:    cfg.TokenTTL(),
		UniqueNames: cfg.Security.UniqueClientNames,
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	authSvc.SetLogger(log.Component("auth"))
	if err := authSvc.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading clients: %w", err)
	}

	set, err := exposure.NewSet(cfg.Exposure.Readable, cfg.Exposure.Controllable)
	if err != nil {
		return fmt.Errorf("building exposure: %w", err)
	}
	registry := exposure.NewRegistry(set)
	log.Info("exposure loaded",
		"readable", len(set.Readable()),
		"controllable", len(set.Controllable()),
	)

	health := map[string]api.HealthChecker{"database": db}

	host, closeHost, err := startHost(cfg, log, health)
	if err != nil {
		return err
	}
	defer closeHost()

	// Telemetry is optional; the nil checks keep the interfaces nil when off.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	dispatcher := dispatch.New(host, registry, authSvc, time.Duration(cfg.Host.CommandTimeout)*time.Second)
	dispatcher.SetLogger(log.Component("dispatch"))

	trail := audit.NewRecorder(audit.NewSQLiteRepository(db.DB))
	trail.SetLogger(log.Component("audit"))
	dispatcher.AddRecorder(trail)

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Auth:       authSvc,
		Exposure:   registry,
		Host:       host,
		Dispatcher: dispatcher,
		Audit:      trail,
		Health:     health,
		DBStats:    db,
		Version:    version,
	}
	if influxClient != nil {
		dispatcher.AddRecorder(influxClient)
		deps.Sessions = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		<-gctx.Done()
		return server.Close()
	})
	g.Go(func() error {
		logDegraded(gctx, health, log)
		return nil
	})

	log.Info("Gray Logic Sync server running",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"base_path", cfg.API.BasePath,
		"host", cfg.Host.Type,
	)
	return g.Wait()
}

// startHost builds the configured host adapter and registers its health
// check.
//
// Returns:
//   - entity.Host: Ready host
//   - func(): Cleanup, always non-nil
//   - error: If the adapter cannot start
func startHost(cfg *config.Config, log *logging.Logger, health map[string]api.HealthChecker) (entity.Host, func(), error) {
	if cfg.Host.Type != config.HostMQTT {
		seed := make([]entity.Snapshot, 0, len(cfg.Host.Entities))
		for _, e := range cfg.Host.Entities {
			seed = append(seed, entity.Snapshot{
				EntityID:    e.ID,
				State:       e.State,
				Attributes:  e.Attributes,
				LastChanged: time.Now().UTC(),
				LastUpdated: time.Now().UTC(),
			})
		}
		log.Info("memory host ready", "entities", len(seed))
		return entity.NewMemoryHost(seed...), func() {}, nil
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	host := mqttbridge.New(mqttClient)
	host.SetLogger(log.Component("mqtt-host"))
	if err := host.Start(); err != nil {
		mqttClient.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("starting MQTT host: %w", err)
	}
	health["mqtt"] = mqttClient

	return host, func() {
		log.Info("disconnecting from MQTT")
		if err := host.Stop(); err != nil {
			log.Warn("error unsubscribing MQTT host", "error", err)
		}
		if err := mqttClient.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}, nil
}

// logDegraded logs failing dependencies until ctx is cancelled.
func logDegraded(ctx context.Context, health map[string]api.HealthChecker, log *logging.Logger) {
	ticker := time.NewTicker(healthLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := healthCheck(ctx, health); err != nil {
				log.Warn("dependency degraded", "error", err)
			}
		}
	}
}

// healthCheck verifies every registered dependency.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, health map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for name, hc := range health {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// runClient verifies the token, then mirrors the server until ctx is cancelled.
func runClient(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	httpClient := client.NewHTTPClient(cfg.Client.ServerURL, cfg.Client.Token)

	// A rejected token is a setup error; an unreachable server is not.
	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	id, err := httpClient.Verify(verifyCtx)
	if err == nil {
		var entities []entity.Snapshot
		entities, err = httpClient.FetchEntities(verifyCtx)
		if err == nil {
			log.Info("sync server verified", "client_id", id.ClientID, "name", id.Name, "entities", len(entities))
		}
	}
	cancel()
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("sync server rejected client token: %w", err)
	case err != nil:
		log.Warn("sync server not reachable yet", "error", err)
	}

	origin := cfg.Client.ServerURL
	if u, parseErr := url.Parse(cfg.Client.ServerURL); parseErr == nil && u.Host != "" {
		origin = u.Host
	}

	rec := client.NewReconciler(client.ReconcilerOptions{
		Origin:         origin,
		Imported:       cfg.Client.ImportedEntities,
		CommandTimeout: cfg.Client.PendingTimeout(),
	})
	syncLog := log.Component("sync-client")
	rec.OnChange(func(s entity.Snapshot) {
		syncLog.Debug("entity changed", "entity_id", s.EntityID, "state", s.State)
	})

	if cfg.Client.Publish == config.PublishMQTT {
		stopMirror, mirrorErr := startMirror(ctx, cfg, rec, log)
		if mirrorErr != nil {
			return mirrorErr
		}
		defer stopMirror()
	}

	sup, err := client.NewSupervisor(client.SupervisorOptions{
		ServerURL:         cfg.Client.ServerURL,
		Token:             cfg.Client.Token,
		ReconnectInterval: cfg.Client.ReconnectDelay(),
		DisconnectedAfter: cfg.Client.DisconnectedAfter,
		ReadTimeout:       cfg.Client.IdleTimeout(),
	}, rec)
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	sup.SetLogger(syncLog)
	sup.OnStateChange(func(s client.State) {
		syncLog.Info("sync state changed", "state", s.String())
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})

	log.Info("Gray Logic Sync client running",
		"server_url", cfg.Client.ServerURL,
		"imported", len(cfg.Client.ImportedEntities),
		"publish", cfg.Client.Publish,
	)
	return g.Wait()
}

// startMirror publishes the mirror on MQTT and forwards local commands on
// the mirrored entities' command topics to the server.
//
// Returns:
//   - func(): Cleanup, non-nil when err is nil
//   - error: If the broker cannot be reached or subscribed to
func startMirror(ctx context.Context, cfg *config.Config, rec *client.Reconciler, log *logging.Logger) (func(), error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))

	mirror := mqttbridge.NewMirror(mqttClient, rec, cfg.Client.PendingTimeout())
	mirror.SetLogger(log.Component("mqtt-mirror"))
	rec.OnChange(mirror.Publish)

	// Retained state may have been lost with the broker.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing mirror")
		mirror.PublishAll(rec.List())
	})

	if err := mirror.Start(ctx); err != nil {
		mqttClient.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("starting MQTT mirror: %w", err)
	}
	log.Info("publishing mirror on MQTT",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"topic_prefix", cfg.MQTT.TopicPrefix,
	)

	return func() {
		if err := mirror.Stop(); err != nil {
			log.Warn("error unsubscribing MQTT mirror", "error", err)
		}
		if err := mqttClient.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
