package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/jkbms-bridge/migrations"

	"github.com/nerrad567/jkbms-bridge/internal/api"
	"github.com/nerrad567/jkbms-bridge/internal/bridges/jkbms"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/database"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/serial"
)

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML config path, or "" for defaults + environment
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting JK-BMS bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	logBanner(log, cfg, configPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := jkbms.NewMetrics(registry)

	checks := make(map[string]api.HealthChecker)
	topics := jkbms.Topics{
		Frames:       cfg.Topics.Frames,
		Values:       cfg.Topics.Values,
		Registration: cfg.Topics.Registration,
	}

	opts := jkbms.BridgeOptions{
		BridgeID:          cfg.Bridge.ID,
		Version:           version,
		Topics:            topics,
		QoS:               byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0..2
		RetainDescriptors: cfg.Topics.RetainDescriptors,
		SubscribeFrames:   cfg.Topics.Frames != "",
		HealthInterval:    cfg.GetHealthInterval(),
		Metrics:           metrics,
		Logger:            log,
	}

	// Device audit (optional)
	var recorder *jkbms.Recorder
	if cfg.Database.Enabled {
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		recorder = jkbms.NewRecorder(db.DB)
		recorder.SetLogger(log)
		if err := recorder.Start(); err != nil {
			return fmt.Errorf("starting recorder: %w", err)
		}
		defer recorder.Stop()

		opts.Recorder = recorder
		checks["database"] = db
		log.Info("device recorder enabled", "path", cfg.Database.Path)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, jkbms.StatusTopic(cfg.Topics.Values))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected", "broker", mqtt.BrokerURL(cfg.MQTT))
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected unexpectedly", "error", err)
	})
	log.Info("MQTT connected",
		"broker", mqtt.BrokerURL(cfg.MQTT),
		"client_id", mqttClient.ClientID(),
	)
	opts.MQTTClient = &mqttBridgeAdapter{client: mqttClient}

	// Time-series export (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
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

		opts.Telemetry = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Serial source (optional). Opened before the bridge so the port is
	// closed only after the bridge has stopped reading from it.
	var port *serial.Port
	if cfg.Serial.Enabled {
		port, err = serial.Open(cfg.Serial)
		if err != nil {
			return fmt.Errorf("opening serial port: %w", err)
		}
		defer func() {
			log.Info("closing serial port", "port", port.Name())
			if closeErr := port.Close(); closeErr != nil {
				log.Error("error closing serial port", "error", closeErr)
			}
		}()
		log.Info("serial port opened", "port", port.Name(), "baud", cfg.Serial.BaudRate)
	}

	bridge, err := jkbms.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if port != nil {
		go func() {
			if err := bridge.ConsumeStream(ctx, port); err != nil && !errors.Is(err, jkbms.ErrBridgeStopped) {
				log.Error("serial source stopped", "error", err)
			}
		}()
	}

	// Status API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			Bridge:   bridge,
			Gatherer: registry,
			Checks:   checks,
			Version:  version,
		}
		if recorder != nil {
			deps.History = recorder
		}
		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		bridge.SetOnUpdate(server.BroadcastUpdate)
		defer func() {
			bridge.SetOnUpdate(nil)
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, mqttClient, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for frames")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// logBanner logs the effective configuration. The MQTT password is never logged.
func logBanner(log *logging.Logger, cfg *config.Config, configPath string) {
	source := configPath
	if source == "" {
		source = "defaults + environment"
	}
	log.Info("JK-BMS bridge configuration",
		"config", source,
		"broker", mqtt.BrokerURL(cfg.MQTT),
		"user", cfg.MQTT.Auth.Username,
		"frames_topic", cfg.Topics.Frames,
		"values_topic", cfg.Topics.Values,
		"registration_topic", cfg.Topics.Registration,
		"serial", cfg.Serial.Enabled,
		"log_level", cfg.Logging.Level,
	)
}

// healthCheck verifies every connection before declaring the bridge ready.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, checks map[string]api.HealthChecker) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements jkbms.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements jkbms.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements jkbms.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
