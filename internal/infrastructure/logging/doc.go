// Package logging is the gateway's structured logger, a thin layer over
// log/slog.
//
// Every record carries service and version attributes. Packages derive a
// child logger with Component so output can be filtered per subsystem:
//
//	log := logging.New(cfg.Logging, version)
//	hubLog := log.Component("hub")
//	hubLog.Debug("websocket client registered", "conn_id", id)
//
// Configuration (config.yaml):
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr
//
// Handshake code logs token names, hash prefixes and device ids, never the
// secrets themselves.
package logging
