// Package logging provides structured logging for Flamecaster.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
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
//	logger.Info("listening", "address", cfg.ListenAddress())
//	logger.Component("scheduler").Warn("send failed", "device", name, "error", err)
//
// The per-packet receive path never logs; only per-cycle and per-interval
// events do, so debug logging cannot stall ingestion.
package logging
