package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sisisin/wakatime-go/internal/jobbody"
	"github.com/sisisin/wakatime-go/internal/state"
)

// Executor runs a job execution locally.
type Executor interface {
	// Run executes the job with the given environment variables, retrying
	// up to exec.MaxRetryCount times. It updates the execution status upon
	// completion and returns once the execution is final.
	Run(ctx context.Context, exec *state.Execution, env map[string]string)

	// Cancel stops a running execution.
	Cancel(exec *state.Execution) error
}

// NewExecution prepares an execution of the request's first runnable.
func NewExecution(jobName string, r jobbody.JobRequest) (*state.Execution, error) {
	runnable, err := r.Runnable()
	if err != nil {
		return nil, err
	}
	spec, err := r.Spec()
	if err != nil {
		return nil, err
	}
	timeout, err := r.MaxRunDuration()
	if err != nil {
		return nil, err
	}

	return &state.Execution{
		Name:          fmt.Sprintf("jobs/%s/executions/%s", jobName, uuid.New().String()[:8]),
		Image:         runnable.Container.ImageURI,
		Entrypoint:    runnable.Container.Entrypoint,
		Commands:      append([]string(nil), runnable.Container.Commands...),
		CPUMilli:      spec.ComputeResource.CPUMilli,
		MemoryMiB:     spec.ComputeResource.MemoryMiB,
		MaxRetryCount: spec.MaxRetryCount,
		Timeout:       timeout,
		Progress:      state.Progress{Status: state.StatusPending},
	}, nil
}

// LocalEnv maps the request's secret variables to values from lookup, since
// Secret Manager references cannot be resolved outside the Batch agent.
// Names lookup does not know are returned in missing, sorted.
func LocalEnv(r jobbody.JobRequest, lookup func(string) (string, bool)) (env map[string]string, missing []string) {
	env = make(map[string]string)
	spec, err := r.Spec()
	if err != nil {
		return env, nil
	}
	for name := range spec.Environment.SecretVariables {
		if v, ok := lookup(name); ok {
			env[name] = v
		} else {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return env, missing
}

// runs tracks cancel functions of in-flight executions.
type runs struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (r *runs) start(ctx context.Context, name string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.cancels == nil {
		r.cancels = make(map[string]context.CancelFunc)
	}
	r.cancels[name] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, name)
		r.mu.Unlock()
		cancel()
	}
}

func (r *runs) cancel(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[name]
	if ok {
		cancel()
	}
	return ok
}

// runAttempts drives the retry loop shared by all executors.
func runAttempts(ctx context.Context, exec *state.Execution, attempt func(ctx context.Context) error) {
	logger := slog.With("execution", exec.Name)
	exec.Update(func(p *state.Progress) {
		p.Status = state.StatusRunning
		p.StartTime = time.Now()
	})

	var err error
	attempts := 0
	for i := 0; i <= exec.MaxRetryCount; i++ {
		if ctx.Err() != nil {
			break
		}
		attempts++
		exec.Update(func(p *state.Progress) { p.Attempts = attempts })
		err = runAttempt(ctx, exec.Timeout, attempt)
		if err == nil {
			logger.Info("execution succeeded", "attempts", attempts)
			exec.Update(func(p *state.Progress) {
				p.Status = state.StatusSucceeded
				p.SucceededCount = 1
				p.CompletionTime = time.Now()
			})
			return
		}
		logger.Warn("attempt failed", "attempt", attempts, "error", err)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("execution cancelled")
		exec.Update(func(p *state.Progress) {
			p.Status = state.StatusCancelled
			p.ErrorMessage = "cancelled"
			p.CompletionTime = time.Now()
		})
		return
	}
	msg := ctx.Err()
	if err != nil {
		msg = err
	}
	exec.Update(func(p *state.Progress) {
		p.Status = state.StatusFailed
		p.FailedCount = 1
		p.ErrorMessage = msg.Error()
		p.CompletionTime = time.Now()
	})
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt func(ctx context.Context) error) error {
	if timeout <= 0 {
		return attempt(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := attempt(actx)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("attempt exceeded max run duration %s: %w", timeout, err)
	}
	return err
}
