// Package logging provides structured logging for meshbridge.
//
// This package wraps Go's standard log/slog package. Every entry carries
// service and version fields, and components log through children created
// with Component:
//
//	logger := logging.New(cfg.Logging, version)
//	connLog := logger.Component("conn")
//	connLog.Info("broker session established", "host", host)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords or InfluxDB tokens.
package logging
