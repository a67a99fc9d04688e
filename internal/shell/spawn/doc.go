// Package spawn starts pipelines as process groups.
//
// Every stage is forked from the running binary with argv[0] set to a
// registered re-exec entry (see ExecEntry). Between fork and the final exec
// the entry point applies redirections and expands arguments, so the parent
// never has to run Go code in a forked child.
//
// Wiring:
//   - Stage 0 creates a new process group; later stages join it
//   - Stage i stdout feeds stage i+1 stdin through a pipe
//   - The last stage's stdout and every stage's stderr go to the session
//   - Explicit redirections override pipe wiring
//   - A single foreground stage without redirections runs on a PTY
//
// Descriptors are close-on-exec from creation. Child-side ends are closed in
// the parent right after the fork; parent-side read ends are non-blocking.
//
// If a stage cannot be forked the stages already started are killed and
// collected before Spawn returns, so a failed pipeline leaves nothing behind.
//
// Binaries that use this package must call reexec.Init() first thing in main.
package spawn
