package executor

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisisin/wakatime-go/internal/jobbody"
	"github.com/sisisin/wakatime-go/internal/state"
)

func shellExecution(script string, retries int, timeout time.Duration) *state.Execution {
	return &state.Execution{
		Name:          "jobs/test/executions/" + strings.ReplaceAll(script, " ", "-"),
		Entrypoint:    "sh",
		Commands:      []string{"-c", script},
		MaxRetryCount: retries,
		Timeout:       timeout,
	}
}

func quietSubprocess() (*SubprocessExecutor, *bytes.Buffer) {
	var out bytes.Buffer
	return &SubprocessExecutor{Stdout: &out, Stderr: &out}, &out
}

func TestNewExecutionFromRequest(t *testing.T) {
	r := jobbody.Build("sa@example.iam.gserviceaccount.com", "--target-date", "2024-03-02")

	exec, err := NewExecution("wakatime-downloader", r)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(exec.Name, "jobs/wakatime-downloader/executions/"))
	assert.Equal(t, "jobs/wakatime-downloader", exec.JobName())
	assert.Equal(t, "sisisin/wakatime-go:20240303-122753", exec.Image)
	assert.Equal(t, "/app/main", exec.Entrypoint)
	assert.Equal(t, []string{"--target-date", "2024-03-02"}, exec.Commands)
	assert.Equal(t, 500, exec.CPUMilli)
	assert.Equal(t, 200, exec.MemoryMiB)
	assert.Equal(t, 1, exec.MaxRetryCount)
	assert.Equal(t, time.Hour, exec.Timeout)
	assert.Equal(t, state.StatusPending, exec.Status)

	_, err = NewExecution("x", jobbody.JobRequest{})
	assert.Error(t, err)
}

func TestLocalEnv(t *testing.T) {
	tmpl := jobbody.Template{SecretVariables: map[string]string{"WAKATIME_KEY": "ref", "OTHER": "ref2"}}
	r := tmpl.Build("sa@example.iam.gserviceaccount.com")

	env, missing := LocalEnv(r, func(name string) (string, bool) {
		if name == "WAKATIME_KEY" {
			return "secret", true
		}
		return "", false
	})
	assert.Equal(t, map[string]string{"WAKATIME_KEY": "secret"}, env)
	assert.Equal(t, []string{"OTHER"}, missing)
}

func TestContainerResources(t *testing.T) {
	res := containerResources(&state.Execution{CPUMilli: 500, MemoryMiB: 200})
	assert.Equal(t, int64(500_000_000), res.NanoCPUs)
	assert.Equal(t, int64(200*1024*1024), res.Memory)
}

func TestSubprocessSuccess(t *testing.T) {
	e, out := quietSubprocess()
	exec := shellExecution(`echo "$WAKATIME_KEY"`, 1, time.Minute)

	e.Run(context.Background(), exec, map[string]string{"WAKATIME_KEY": "secret"})

	assert.Equal(t, state.StatusSucceeded, exec.Status)
	assert.Equal(t, 1, exec.Attempts)
	assert.Equal(t, int32(1), exec.SucceededCount)
	assert.Equal(t, "secret\n", out.String())
	assert.False(t, exec.CompletionTime.IsZero())
}

func TestSubprocessSnapshotWhileRunning(t *testing.T) {
	e, _ := quietSubprocess()
	exec := shellExecution("sleep 0.2", 0, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(context.Background(), exec, nil)
	}()

	require.Eventually(t, func() bool {
		return exec.Snapshot().Status == state.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	<-done
	assert.Equal(t, 1, exec.Snapshot().Attempts)
}

func TestSubprocessRetriesThenFails(t *testing.T) {
	e, _ := quietSubprocess()
	exec := shellExecution("exit 3", 1, time.Minute)

	e.Run(context.Background(), exec, nil)

	assert.Equal(t, state.StatusFailed, exec.Status)
	assert.Equal(t, 2, exec.Attempts, "one attempt plus one retry")
	assert.Equal(t, int32(1), exec.FailedCount)
	assert.Contains(t, exec.ErrorMessage, "exit status 3")
}

func TestSubprocessRetrySucceeds(t *testing.T) {
	e, _ := quietSubprocess()
	marker := t.TempDir() + "/attempted"
	// Fails the first time, succeeds once the marker exists.
	exec := shellExecution("if [ -f "+marker+" ]; then exit 0; fi; touch "+marker+"; exit 1", 1, time.Minute)

	e.Run(context.Background(), exec, nil)

	assert.Equal(t, state.StatusSucceeded, exec.Status)
	assert.Equal(t, 2, exec.Attempts)
	_, err := os.Stat(marker)
	assert.NoError(t, err)
}

func TestSubprocessTimeout(t *testing.T) {
	e, _ := quietSubprocess()
	exec := shellExecution("sleep 5", 0, 100*time.Millisecond)

	start := time.Now()
	e.Run(context.Background(), exec, nil)

	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, state.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "max run duration")
}

func TestSubprocessCancelledByCaller(t *testing.T) {
	e, _ := quietSubprocess()
	exec := shellExecution("sleep 5", 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	e.Run(ctx, exec, nil)

	assert.Equal(t, state.StatusCancelled, exec.Status)
	assert.Equal(t, 1, exec.Attempts, "cancelled executions are not retried")
}

func TestSubprocessNoCommand(t *testing.T) {
	e, _ := quietSubprocess()
	exec := &state.Execution{Name: "jobs/test/executions/empty"}

	e.Run(context.Background(), exec, nil)

	assert.Equal(t, state.StatusFailed, exec.Status)
	assert.Equal(t, "no command specified", exec.ErrorMessage)
}

func TestSubprocessCancelNotRunning(t *testing.T) {
	e, _ := quietSubprocess()
	assert.Error(t, e.Cancel(&state.Execution{Name: "jobs/test/executions/idle"}))
}
