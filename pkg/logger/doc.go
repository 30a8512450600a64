// Package logger provides the structured logging interface used across
// discgrab.
//
// It wraps zerolog behind a small Logger interface so packages depend on
// the interface rather than a concrete logging library. Console output is
// pretty-printed; JSON output and an optional log file are available via
// config.
//
// Basic usage:
//
//	import "discgrab/pkg/logger"
//
//	cfg := &config.LoggingConfig{Level: "info"}
//	err := logger.Initialize(cfg)
//
//	log := logger.GetLogger().WithField("component", "scanner")
//	log.InfoWithFields("scan finished", map[string]interface{}{
//	    "channel_id": "123",
//	    "downloaded": 42,
//	})
//
// Tests use NewNopLogger for silence or NewTestLogger to assert on the
// messages a component emitted.
package logger
