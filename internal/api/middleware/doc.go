// Package middleware provides the HTTP middleware of the session server.
//
// Middleware stack includes:
//   - RequestID: Tags every request with a prefixed ULID
//   - AccessLog: Structured per-request log line carrying the request id
//   - CORS: Cross-origin resource sharing with configurable origins
//   - RateLimit: Per-IP token bucket rate limiting
//
// Rate Limiting:
//   - Per-IP tracking with idle client cleanup
//   - Token bucket algorithm (golang.org/x/time/rate)
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
