// Package config handles loading and validating the JK-BMS bridge configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (Home Assistant add-on names)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The MQTT password and InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("") // defaults + environment
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Topics.Values)
package config
