// Package config handles loading and validating LightLink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with LIGHTLINK_* environment variables
//   - Validation of required fields into a single ConfigurationError
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, token secrets) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - mqtt.broker.insecure_skip_verify disables certificate checks and is off by default
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
