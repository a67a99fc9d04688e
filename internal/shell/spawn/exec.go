package spawn

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"

	"github.com/moby/sys/reexec"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shell/expand"
	"github.com/GriffinCanCode/termcore/internal/shell/parser"
)

// ExecEntry is the re-exec entry point that runs one pipeline stage.
//
// The parent forks the running binary with argv[0] set to ExecEntry. In the
// child the entry applies file redirections, expands the arguments and
// replaces itself with the requested program.
const ExecEntry = "termcore-exec"

// NotFoundStatus is the exit status of a stage whose program cannot be executed.
const NotFoundStatus = 127

func init() {
	reexec.Register(ExecEntry, func() {
		os.Exit(runStage(os.Args[1:], os.Stderr))
	})
}

// stageArgs encodes a stage for ExecEntry.
func stageArgs(stage parser.Stage) []string {
	r := stage.Redir
	args := []string{ExecEntry}
	if r.Input != "" {
		args = append(args, "--stdin="+r.Input)
	}
	if r.Output != "" {
		args = append(args, "--stdout="+r.Output)
		if r.AppendOutput {
			args = append(args, "--stdout-append")
		}
	}
	if r.Error != "" {
		args = append(args, "--stderr="+r.Error)
		if r.AppendError {
			args = append(args, "--stderr-append")
		}
	}
	args = append(args, "--")
	return append(args, stage.Argv...)
}

// runStage is the body of ExecEntry. It only returns when the program could
// not be started.
func runStage(args []string, stderr io.Writer) int {
	var r parser.Redirection
	flags := pflag.NewFlagSet(ExecEntry, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SetInterspersed(false)
	flags.StringVar(&r.Input, "stdin", "", "read stdin from file")
	flags.StringVar(&r.Output, "stdout", "", "write stdout to file")
	flags.BoolVar(&r.AppendOutput, "stdout-append", false, "append to the stdout file")
	flags.StringVar(&r.Error, "stderr", "", "write stderr to file")
	flags.BoolVar(&r.AppendError, "stderr-append", false, "append to the stderr file")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", ExecEntry, err)
		return 2
	}

	ex := expand.New()
	if err := applyRedirection(r, ex); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	argv := ex.Argv(flags.Args())
	if len(argv) == 0 {
		return 0
	}
	prog := argv[0]

	path, err := exec.LookPath(prog)
	if err != nil && !errors.Is(err, exec.ErrDot) {
		fmt.Fprintln(stderr, execFailure(prog, err))
		return NotFoundStatus
	}
	err = unix.Exec(path, argv, os.Environ())
	fmt.Fprintln(stderr, execFailure(prog, err))
	return NotFoundStatus
}

func execFailure(prog string, err error) string {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ENOENT) {
		return prog + ": command not found"
	}
	var ee *exec.Error
	if errors.As(err, &ee) {
		err = ee.Err
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return prog + ": " + err.Error()
}

func applyRedirection(r parser.Redirection, ex *expand.Expander) error {
	if r.Input != "" {
		if err := redirect(ex.Vars(r.Input), unix.O_RDONLY, 0); err != nil {
			return err
		}
	}
	if r.Output != "" {
		if err := redirect(ex.Vars(r.Output), writeFlags(r.AppendOutput), 1); err != nil {
			return err
		}
	}
	if r.Error != "" {
		if err := redirect(ex.Vars(r.Error), writeFlags(r.AppendError), 2); err != nil {
			return err
		}
	}
	return nil
}

func writeFlags(appendMode bool) int {
	if appendMode {
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND
	}
	return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
}

// redirect opens path and installs it as descriptor target.
func redirect(path string, flags, target int) error {
	n, err := unix.Open(path, flags|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	if n == target {
		_, err = unix.FcntlInt(uintptr(n), unix.F_SETFD, 0)
		return err
	}
	defer unix.Close(n)
	if err := unix.Dup3(n, target, 0); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	return nil
}
