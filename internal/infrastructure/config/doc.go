// Package config handles loading and validating Flamecaster configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Clamping router tunables into their supported range
//   - Validation of required fields
//
// The device list and each device's universe fragments live in the same
// file. The router builds its topology table from them once at startup;
// changing the topology requires a restart.
//
// Security Considerations:
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ListenAddress())
package config
