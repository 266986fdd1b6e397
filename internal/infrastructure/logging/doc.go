// Package logging provides structured logging for the device client.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the client.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("paired", "broker_url", brokerURL)
//	logger.Error("pairing failed", "error", err)
//
// # Security
//
// Never log the credentials secret, private keys or issued certificates.
package logging
