package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moby/sys/reexec"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/logging"
)

// Entry is the re-exec entry point that runs a Supervisor in its own process.
const Entry = "termcore-watch"

func init() {
	reexec.Register(Entry, func() {
		os.Exit(runEntry(os.Args[1:], os.Stdout, os.Stderr))
	})
}

// HelperArgs encodes cfg as the argument list of Entry, without the entry
// name itself.
func HelperArgs(cfg Config) []string {
	args := []string{}
	if cfg.Interval > 0 {
		args = append(args, "--interval="+cfg.Interval.String())
	}
	if cfg.PollTimeout > 0 {
		args = append(args, "--poll="+cfg.PollTimeout.String())
	}
	if cfg.Dir != "" {
		args = append(args, "--dir="+cfg.Dir)
	}
	if cfg.Shell != "" {
		args = append(args, "--shell="+cfg.Shell)
	}
	if cfg.Rounds > 0 {
		args = append(args, fmt.Sprintf("--rounds=%d", cfg.Rounds))
	}
	args = append(args, "--")
	return append(args, cfg.Commands...)
}

// runEntry parses args, runs the supervisor until it is signalled and returns
// the process exit status.
func runEntry(args []string, stdout, stderr io.Writer) int {
	var (
		cfg      Config
		logLevel string
	)
	flags := pflag.NewFlagSet(Entry, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SetInterspersed(false)
	flags.DurationVar(&cfg.Interval, "interval", DefaultInterval, "pause between rounds")
	flags.DurationVar(&cfg.PollTimeout, "poll", DefaultPollTimeout, "readiness wait timeout")
	flags.StringVar(&cfg.Dir, "dir", "", "directory for channel files")
	flags.StringVar(&cfg.Shell, "shell", "sh", "interpreter for each command")
	flags.IntVar(&cfg.Rounds, "rounds", 0, "stop after this many rounds")
	flags.StringVar(&logLevel, "log-level", "warn", "supervisor log level")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(stderr, "watch-all: %v\n", err)
		return 2
	}
	cfg.Commands = flags.Args()

	logger := logging.MustNew(logging.Config{Level: logLevel})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

	started := time.Now()
	if err := New(cfg, stdout, logger.Logger).Run(ctx); err != nil {
		fmt.Fprintf(stderr, "watch-all: %v\n", err)
		return 1
	}
	logger.Debug("watch supervisor stopped", zap.Duration("uptime", time.Since(started)))
	return 0
}
