package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/sisisin/wakatime-go/internal/state"
)

const waitDelay = 500 * time.Millisecond

// SubprocessExecutor runs the entrypoint as a local process. It ignores the
// image and resource limits.
type SubprocessExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
	runs   runs
}

func NewSubprocessExecutor() *SubprocessExecutor {
	return &SubprocessExecutor{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (e *SubprocessExecutor) Run(ctx context.Context, execution *state.Execution, env map[string]string) {
	logger := slog.With("execution", execution.Name)

	argv := execution.Commands
	name := execution.Entrypoint
	if name == "" && len(argv) > 0 {
		name, argv = argv[0], argv[1:]
	}
	if name == "" {
		logger.Error("no command specified for job")
		execution.Update(func(p *state.Progress) {
			p.Status = state.StatusFailed
			p.ErrorMessage = "no command specified"
			p.FailedCount = 1
			p.CompletionTime = time.Now()
		})
		return
	}

	ctx, done := e.runs.start(ctx, execution.Name)
	defer done()

	runAttempts(ctx, execution, func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, name, argv...)
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Stdout = e.Stdout
		cmd.Stderr = e.Stderr
		// Children of the entrypoint may hold the output pipes open.
		cmd.WaitDelay = waitDelay

		logger.Info("starting subprocess", "command", name, "args", argv)
		return cmd.Run()
	})
}

func (e *SubprocessExecutor) Cancel(exec *state.Execution) error {
	if !e.runs.cancel(exec.Name) {
		return fmt.Errorf("execution %s is not running", exec.Name)
	}
	return nil
}
