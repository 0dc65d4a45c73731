// Package logger provides structured logging for flux using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers carrying structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("flux")
//	log.Debug("sequence closed", logger.Fields("sequence_id", id, "outcome", "exhausted"))
package logger
