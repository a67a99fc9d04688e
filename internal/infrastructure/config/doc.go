// Package config provides 12-factor configuration management for termcore.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Shell: PTY size, pump cadence, history
//   - Watch: watch-all supervisor defaults
//   - Logging: Log level, output format and destinations
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - SHELL_PTY_ROWS, SHELL_PTY_COLS, SHELL_TICK_INTERVAL, SHELL_READ_CHUNK
//   - SHELL_HISTORY_FILE, SHELL_HISTORY_LIMIT
//   - WATCH_INTERVAL, WATCH_POLL_TIMEOUT, WATCH_DIR, WATCH_SHELL
//   - LOG_LEVEL, LOG_DEV, LOG_OUTPUT
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
