// Package logging provides structured logging for LightLink Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text while developing, with the service name and version
// attached to each entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "./logs/lightlink.log"
//	    max_size: 10     # megabytes before rotation
//	    max_backups: 5
//	    max_age: 28      # days
//	    compress: true
//
// File output is rotated by lumberjack. Call Close on shutdown to release
// the file.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	mqttLog := logger.With("component", "mqtt")
//	mqttLog.Info("connected", "broker", addr)
//
// Never log passwords, broker tokens or JWT secrets.
package logging
