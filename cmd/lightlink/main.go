// LightLink Core - MQTT client daemon for the LightLink lighting node.
//
// It keeps a resilient MQTT session to the broker, mirrors the node's
// sensor readings and light levels, and exposes them over HTTP, Prometheus
// and an optional interactive console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/nerrad567/lightlink-core/internal/api"
	"github.com/nerrad567/lightlink-core/internal/auth"
	"github.com/nerrad567/lightlink-core/internal/console"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/config"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/database"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/discovery"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lightlink-core/internal/journal"
	"github.com/nerrad567/lightlink-core/internal/lighting"
	"github.com/nerrad567/lightlink-core/migrations"
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

// options are the command line settings.
type options struct {
	configPath  string
	interactive bool
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $LIGHTLINK_CONFIG or "+defaultConfigPath+")")
	interactive := flag.Bool("interactive", false, "start the interactive console")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lightlink %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, options{configPath: *configPath, interactive: *interactive}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, opts options) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting LightLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, source, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "source", source)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Nothing useful to do on shutdown
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	browser := discovery.New(cfg.Discovery)
	if cfg.MQTT.Broker.Host == "" {
		if err := discoverBroker(ctx, browser, &cfg.MQTT.Broker, log); err != nil {
			return err
		}
	}

	// Journal (optional)
	var (
		store    *journal.Journal
		recorder *journal.Recorder
	)
	if cfg.Journal.Enabled {
		db, err := database.Open(database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening journal database: %w", err)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		store = journal.New(db.DB, cfg.Journal.MaxEntries)
		recorder = journal.NewRecorder(store, log.With("component", "journal"))
		log.Info("journal ready", "path", cfg.Journal.Path, "max_entries", store.MaxEntries())
	} else {
		log.Info("journal disabled")
	}

	// Prometheus collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mqttMetrics := metrics.New(registry)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, map[string]string{
			"site":   cfg.Site.ID,
			"client": cfg.MQTT.Broker.ClientID,
		})
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT client
	mqttOpts, err := mqtt.FromConfig(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("configuring MQTT: %w", err)
	}
	clientID := cfg.MQTT.Broker.ClientID
	mqttOpts.Logger = log.With("component", "mqtt")
	mqttOpts.Observer = mqttMetrics
	mqttOpts.Status = lighting.PresenceStatus(clientID, nil)
	if secret := cfg.MQTT.Auth.TokenSecret; secret != "" {
		ttl := time.Duration(cfg.MQTT.Auth.TokenTTLMinutes) * time.Minute
		mqttOpts.Credentials = auth.BrokerCredentials(clientID, cfg.MQTT.Auth.Username, secret, ttl)
		log.Info("MQTT token authentication enabled", "ttl", ttl)
	}
	if cfg.MQTT.Broker.InsecureSkipVerify {
		log.Warn("MQTT TLS certificate verification is DISABLED",
			"transport", cfg.MQTT.Broker.Transport,
			"broker", cfg.MQTT.Broker.Host,
		)
	}

	// Handlers are appended below, before the first Connect.
	var handlers mqtt.Handlers
	mqttClient, err := mqtt.New(mqttOpts, &handlers)
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	defer func() {
		log.Info("closing MQTT client")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	if err := mqttMetrics.TrackState(func() float64 { return float64(mqttClient.State()) }); err != nil {
		return fmt.Errorf("registering connection state gauge: %w", err)
	}

	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated by config
	controllerCfg := lighting.Config{
		QoS:    &qos,
		Topics: cfg.MQTT.Topics,
		Logger: log.With("component", "lighting"),
	}
	if recorder != nil {
		controllerCfg.Recorder = recorder
	}
	controller := lighting.NewController(mqttClient, controllerCfg)

	handlers = append(handlers, mqttLogHandler(log), controller, mqttMetrics)
	if recorder != nil {
		handlers = append(handlers, recorder)
	}

	var telemetry *influxdb.Telemetry
	if influxClient != nil {
		telemetry = influxdb.NewTelemetry(influxClient, clock.RealClock{}, func() influxdb.Liveness {
			st := mqttClient.Stats()
			return influxdb.Liveness{
				Connected:    st.State == mqtt.StateConnected,
				Attempts:     st.Attempts,
				MissedPings:  st.Liveness.MissedPings,
				LastResponse: st.Liveness.LastResponse,
			}
		})
		handlers = append(handlers, telemetry)
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			MQTT:    mqttClient,
			Lights:  controller,
			Metrics: mqttMetrics.Handler(),
			Version: version,
		}
		if store != nil {
			deps.Journal = store
		}
		server, err := api.New(deps)
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
		handlers = append(handlers, server.Hub())
		log.Info("API server started", "address", server.Addr())
	}

	// Console (optional)
	var shell *console.Console
	if opts.interactive {
		deps := console.Deps{Client: mqttClient, Lights: controller, Discoverer: browser}
		if store != nil {
			deps.Journal = store
		}
		shell, err = console.New(deps)
		if err != nil {
			return fmt.Errorf("starting console: %w", err)
		}
		handlers = append(handlers, shell)
	}

	if recorder != nil {
		recorder.System("startup " + version)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return connectAfter(gctx, mqttClient, cfg.MQTT.Session.StartupDelay, log)
	})

	heartbeat := lighting.NewHeartbeat(mqttClient, cfg.Lighting.HeartbeatInterval, nil, log)
	heartbeat.Start(gctx)
	defer heartbeat.Stop()

	if telemetry != nil {
		g.Go(func() error {
			telemetry.Run(gctx, cfg.MQTT.Health.Interval)
			return nil
		})
	}

	if shell != nil {
		g.Go(func() error {
			shell.Run(gctx, stop)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if recorder != nil {
		recorder.System("shutdown")
	}
	// Publishes the offline status before DISCONNECT.
	mqttClient.Disconnect()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Deferred Close() calls run in reverse order:
	// heartbeat, API, MQTT, InfluxDB, journal, logger.
	log.Info("LightLink Core stopped")
	return nil
}

// loadConfig reads the configuration named by path, $LIGHTLINK_CONFIG or the
// default path, in that order. A missing default file falls back to the
// built-in defaults; an explicitly named file must exist.
func loadConfig(path string) (*config.Config, string, error) {
	explicit := true
	if path == "" {
		path = os.Getenv("LIGHTLINK_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
		explicit = false
	}

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", err
			}
			return cfg, "defaults", nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// brokerFinder is the discovery surface used at startup.
type brokerFinder interface {
	First(ctx context.Context) (discovery.Broker, error)
}

// discoverBroker fills in the broker address from mDNS.
func discoverBroker(ctx context.Context, finder brokerFinder, broker *config.MQTTBrokerConfig, log *logging.Logger) error {
	log.Info("no broker host configured, browsing for one")
	found, err := finder.First(ctx)
	if err != nil {
		return fmt.Errorf("discovering MQTT broker: %w", err)
	}
	host, _, err := net.SplitHostPort(found.Address())
	if err != nil {
		return fmt.Errorf("discovered broker %q: %w", found.Instance, err)
	}
	broker.Host = host
	if found.Port > 0 {
		broker.Port = found.Port
	}
	log.Info("MQTT broker discovered", "instance", found.Instance, "host", broker.Host, "port", broker.Port)
	return nil
}

// connectAfter connects once delay has passed. A cancelled context skips
// the connect.
func connectAfter(ctx context.Context, client interface{ Connect() }, delay time.Duration, log *logging.Logger) error {
	if delay > 0 {
		log.Info("delaying first MQTT connect", "delay", delay)
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
	client.Connect()
	return nil
}

// mqttLogHandler logs connection transitions.
func mqttLogHandler(log *logging.Logger) mqtt.Handler {
	return mqtt.HandlerFuncs{
		Connected: func() {
			log.Info("MQTT connected")
		},
		ConnectionFailed: func(reason error) {
			log.Warn("MQTT connection lost", "reason", reason)
		},
	}
}
