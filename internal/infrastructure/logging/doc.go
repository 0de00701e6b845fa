// Package logging provides structured logging for Gray Logic Sync.
//
// This package wraps Go's standard log/slog package so the server,
// the client and their infrastructure log with the same default fields.
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
//	logger.Info("starting service", "port", 8124)
//
// # Security
//
// Never log tokens or the shared secret. Log client ids instead.
package logging
