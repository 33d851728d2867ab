// Package logging provides structured logging for the drowsiwatch daemon.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used by the provisioning path and the streaming session server.
//
// # Log Levels
//
//   - Debug: per-frame score tables, raw portal requests, poll ticks
//   - Info: state transitions, accepted sessions, saved credentials
//   - Warn: malformed inbound lines, actuator write failures
//   - Error: session-ending I/O errors, startup failures
//
// # Structured Logging
//
//	logging.Info("Session opened",
//	    zap.String("remote_addr", "192.168.1.40:51234"),
//	)
//
//	logging.LogConnection(remoteAddr, "session_closed")
//	logging.LogStateTransition("connecting_station", "ap_fallback_serving")
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// An empty level falls back to DROWSIWATCH_LOG_LEVEL. When neither is set the
// logger is a no-op, which keeps helper commands quiet.
package logging
