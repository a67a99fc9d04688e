// Command termcore is a line-oriented shell with job control.
//
// Without a subcommand it runs one session on the terminal: lines typed at
// the prompt are parsed and run, lines typed while a job is in the
// foreground go to that job, Ctrl-C interrupts and Ctrl-Z moves the job to
// the background. End of input closes the job's input, then exits.
//
// Usage:
//
//	termcore [-C dir] [--dev] [--log-level warn]
//	termcore serve [--host 127.0.0.1] [--port 8000] [--no-rate-limit]
//	termcore version
//
// Configuration comes from the environment (PORT, HOST, SHELL_*, WATCH_*,
// LOG_*, RATE_LIMIT_*); flags override it.
//
// Signals:
//   - SIGTERM, SIGHUP: shut down, killing every job
//   - SIGINT: interrupt (REPL) or graceful shutdown (serve)
package main
