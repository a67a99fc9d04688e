// Package terminal hosts shell sessions for the HTTP server and the CLI.
//
// A Manager owns every session on one goroutine. Run polls the job
// descriptors of all sessions together with an eventfd that other
// goroutines signal when they post work through Do, so a session is never
// touched concurrently. Output goes to a per-session Buffer, which keeps a
// bounded backlog for polling readers and pushes events to subscribers.
//
// Usage:
//
//	m, err := terminal.NewManager(cfg, logger, metrics)
//	go m.Run(ctx)
//	info, err := m.CreateSession(ctx, terminal.CreateOptions{})
//	err = m.Submit(ctx, info.ID, "ls -l | sort")
//	out, err := m.Read(ctx, info.ID)
package terminal
