package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/providers/terminal"
)

const (
	// idlePoll is how often the REPL checks whether the foreground job ended.
	idlePoll        = 20 * time.Millisecond
	subscribeDepth  = 1024
	continuePrompt  = "> "
	clearScreenCode = "\x1b[H\x1b[2J"
)

// runREPL hosts one session and bridges it to in and out. Lines typed while
// a job runs in the foreground are fed to that job.
func runREPL(ctx context.Context, cfg *config.Config, logger *logging.Logger, dir string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	manager, err := terminal.NewManager(cfg, logger.Logger, monitoring.NewMetrics())
	if err != nil {
		return err
	}
	loopDone := make(chan error, 1)
	go func() { loopDone <- manager.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-loopDone; err != nil {
			logger.Warn("manager stopped with error", zap.Error(err))
		}
	}()

	info, err := manager.CreateSession(ctx, terminal.CreateOptions{WorkingDir: dir})
	if err != nil {
		return err
	}
	sid := info.ID

	events, unsubscribe, err := manager.Subscribe(ctx, sid, subscribeDepth)
	if err != nil {
		return err
	}
	defer unsubscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			switch ev.Kind {
			case terminal.EventOutput:
				io.WriteString(out, ev.Text)
			case terminal.EventClear:
				io.WriteString(out, clearScreenCode)
			}
		}
	}()

	lines := make(chan string)
	go readLines(ctx, in, lines)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTSTP)
	defer signal.Stop(sigs)

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	r := &repl{manager: manager, sid: sid, logger: logger.Logger, needPrompt: true}
	for {
		done, err := r.settle(ctx)
		if err != nil || done {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, terminal.ErrStopped) {
				err = nil
			}
			manager.CloseSession(context.Background(), sid)
			cancel()
			<-printed
			return err
		}

		select {
		case <-ctx.Done():
		case line, ok := <-lines:
			if !ok {
				lines = nil
				r.stdinClosed = true
				continue
			}
			if err := r.submit(ctx, line); err != nil {
				r.logger.Warn("input rejected", zap.Error(err))
			}
		case sig := <-sigs:
			r.signal(ctx, sig)
		case <-ticker.C:
		}
	}
}

type repl struct {
	manager     *terminal.Manager
	sid         string
	logger      *zap.Logger
	needPrompt  bool
	stdinClosed bool
	eofSent     bool
}

// settle prints the prompt once the session is idle and reports whether the
// REPL should exit.
func (r *repl) settle(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	info, err := r.manager.GetSession(ctx, r.sid)
	if err != nil {
		return true, err
	}
	if info.Busy {
		if r.stdinClosed && !r.eofSent {
			r.eofSent = true
			if err := r.manager.CloseInput(ctx, r.sid); err != nil {
				r.logger.Debug("closing job input", zap.Error(err))
			}
		}
		return false, nil
	}
	if r.stdinClosed {
		return true, nil
	}
	if r.needPrompt {
		r.needPrompt = false
		prompt := info.Prompt
		if info.Continuing {
			prompt = continuePrompt
		}
		return false, r.manager.Announce(ctx, r.sid, prompt)
	}
	return false, nil
}

func (r *repl) submit(ctx context.Context, line string) error {
	info, err := r.manager.GetSession(ctx, r.sid)
	if err != nil {
		return err
	}
	r.needPrompt = true
	if info.Busy {
		return r.manager.Write(ctx, r.sid, []byte(line+"\n"))
	}
	return r.manager.Submit(ctx, r.sid, line)
}

func (r *repl) signal(ctx context.Context, sig os.Signal) {
	var err error
	switch sig {
	case os.Interrupt:
		_, err = r.manager.Interrupt(ctx, r.sid)
	case syscall.SIGTSTP:
		_, err = r.manager.Detach(ctx, r.sid)
	}
	if err != nil {
		r.logger.Warn("signal not delivered", zap.Stringer("signal", sig), zap.Error(err))
	}
	r.needPrompt = true
}

// readLines forwards lines from in until EOF, then closes lines.
func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}
