// Package watch implements the watch-all built-in: a supervisor process that
// runs a set of commands concurrently, streams their output to one writer
// and repeats on an interval.
//
// Each round gives every command a private named pipe under a per-process
// directory. The supervisor multiplexes the read ends with a bounded poll and
// frames each command's bytes:
//
//	"<cmd>" , current_time: <unix seconds> :
//	------------------------------------------------------
//	<output>
//	------------------------------------------------------
//
// The supervisor normally runs in its own process through the Entry re-exec
// point and stops only when signalled, killing its workers and removing its
// channel files on the way out.
package watch
