// Package session implements one interactive shell: a queue of command
// lines, a single foreground job slot and any number of background jobs.
//
// A Session never blocks. The owner drives it from one goroutine by
// calling Tick whenever a descriptor from PollFDs becomes readable or a
// short timeout passes. Output is sanitized and handed to a Sink.
//
// Built-in commands (cd, clear, history, kill, bgpids, echo, watch-all)
// run inside the session; everything else is parsed as a pipeline and
// started by a Spawner.
package session
