package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moby/sys/reexec"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/logging"
)

// replLogLevel keeps diagnostics out of the interactive session by default.
const replLogLevel = "warn"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Child-side trampolines and the watch supervisor run here.
	if reexec.Init() {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "termcore:", err)
		os.Exit(1)
	}
}

// globalFlags override environment configuration.
type globalFlags struct {
	dev      bool
	logLevel string
	dir      string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "termcore",
		Short:         "Line-oriented shell with job control",
		Long:          "termcore runs an interactive shell session on stdin/stdout.\nUse 'termcore serve' to host sessions over HTTP and WebSocket.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.apply(config.LoadOrDefault())
			flags.quiet(cfg, os.LookupEnv)
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runREPL(cmd.Context(), cfg, logger, flags.dir, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&flags.dev, "dev", false, "development logging (console, debug level)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.Flags().StringVarP(&flags.dir, "dir", "C", "", "initial working directory")

	root.AddCommand(newServeCmd(&flags))
	root.AddCommand(newVersionCmd())
	return root
}

func (f *globalFlags) apply(cfg *config.Config) *config.Config {
	if f.dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg
}

// quiet lowers the REPL's log level to warn unless the environment or a
// flag chose a level.
func (f *globalFlags) quiet(cfg *config.Config, lookupEnv func(string) (string, bool)) {
	if f.dev || f.logLevel != "" {
		return
	}
	if _, ok := lookupEnv("LOG_LEVEL"); ok {
		return
	}
	cfg.Logging.Level = replLogLevel
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}
