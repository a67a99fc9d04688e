// Package http provides the REST handlers for shell sessions.
//
// Endpoints:
//   - Health: / and /health
//   - Sessions: /sessions, /sessions/:id
//   - Input: /sessions/:id/lines, /sessions/:id/input, /sessions/:id/resize
//   - Job control: /sessions/:id/interrupt, /sessions/:id/detach, /sessions/:id/kill
//   - State: /sessions/:id/jobs, /sessions/:id/output
//
// Example Usage:
//
//	handlers := http.NewHandlers(manager, metrics, logger, version)
//	router.POST("/sessions", handlers.CreateSession)
//	router.POST("/sessions/:id/lines", handlers.SubmitLine)
package http
