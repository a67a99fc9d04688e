// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Loggers write to stderr by default. Standard output belongs to the shell:
// the interactive front end prints command output there and the watch
// supervisor streams its framed output there.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("job spawned", zap.Int("pgid", pgid))
//	logger.Warn("kill failed", zap.Int("pid", pid), zap.Error(err))
package logging
