// Package logging provides structured logging for the JK-BMS bridge.
//
// It wraps log/slog with the bridge's default fields (service, version)
// and maps the add-on LOG_LEVEL option onto slog levels.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge started", "values_root", cfg.Topics.Values)
//
// Never log the MQTT password or the InfluxDB token.
package logging
