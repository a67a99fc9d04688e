// Package server assembles the HTTP API around a terminal session manager.
//
// Routes:
//
//	GET    /                         service banner
//	GET    /health                   session count and counters
//	GET    /metrics                  Prometheus exposition
//	POST   /sessions                 create a session
//	GET    /sessions                 list sessions
//	GET    /sessions/:id             describe a session
//	DELETE /sessions/:id             close a session and kill its jobs
//	POST   /sessions/:id/lines       submit a line of input
//	POST   /sessions/:id/input       raw bytes or EOF for the foreground job
//	POST   /sessions/:id/resize      set the pty window size
//	POST   /sessions/:id/interrupt   Ctrl-C
//	POST   /sessions/:id/detach      Ctrl-Z
//	POST   /sessions/:id/kill        signal a job by pid
//	GET    /sessions/:id/jobs        foreground and background jobs
//	GET    /sessions/:id/output      drain buffered output
//	GET    /sessions/:id/stream      WebSocket stream
package server
