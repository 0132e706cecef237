package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sisisin/wakatime-go/internal/state"
)

type DockerExecutor struct {
	client *client.Client
	Stdout io.Writer
	Stderr io.Writer
	runs   runs
}

func NewDockerExecutor() (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerExecutor{client: cli, Stdout: os.Stdout, Stderr: os.Stderr}, nil
}

func (e *DockerExecutor) Run(ctx context.Context, exec *state.Execution, env map[string]string) {
	ctx, done := e.runs.start(ctx, exec.Name)
	defer done()

	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, fmt.Sprintf("%s=%s", k, v))
	}

	runAttempts(ctx, exec, func(ctx context.Context) error {
		return e.attempt(ctx, exec, envSlice)
	})
}

func (e *DockerExecutor) attempt(ctx context.Context, exec *state.Execution, env []string) error {
	logger := slog.With("execution", exec.Name, "image", exec.Image)

	if err := e.ensureImage(ctx, exec.Image); err != nil {
		return err
	}

	cfg := &container.Config{
		Image: exec.Image,
		Cmd:   exec.Commands,
		Env:   env,
	}
	if exec.Entrypoint != "" {
		cfg.Entrypoint = []string{exec.Entrypoint}
	}

	logger.Info("creating container")
	resp, err := e.client.ContainerCreate(ctx, cfg, &container.HostConfig{
		Resources: containerResources(exec),
	}, nil, nil, "")
	if err != nil {
		return fmt.Errorf("container create failed: %w", err)
	}

	exec.Update(func(p *state.Progress) { p.ContainerID = resp.ID })
	logger = logger.With("container_id", resp.ID)
	// Clean up with a fresh context; ctx may already be done.
	defer func() {
		_ = e.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	logger.Info("starting container")
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start failed: %w", err)
	}

	go e.forwardLogs(ctx, resp.ID)

	statusCh, errCh := e.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			logger.Warn("stopping container", "reason", ctx.Err())
			_ = e.client.ContainerStop(context.Background(), resp.ID, container.StopOptions{})
		}
		return fmt.Errorf("container wait failed: %w", err)
	case result := <-statusCh:
		if result.StatusCode != 0 {
			return fmt.Errorf("container exited with code %d", result.StatusCode)
		}
		logger.Info("container completed successfully")
		return nil
	}
}

func (e *DockerExecutor) ensureImage(ctx context.Context, ref string) error {
	_, _, err := e.client.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", ref, err)
	}

	slog.Info("pulling image", "image", ref)
	rc, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (e *DockerExecutor) forwardLogs(ctx context.Context, id string) {
	rc, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		slog.Debug("failed to attach container logs", "container_id", id, "error", err)
		return
	}
	defer rc.Close()
	_, _ = stdcopy.StdCopy(e.Stdout, e.Stderr, rc)
}

// containerResources maps Batch compute resources onto docker limits.
func containerResources(exec *state.Execution) container.Resources {
	return container.Resources{
		NanoCPUs: int64(exec.CPUMilli) * 1_000_000,
		Memory:   int64(exec.MemoryMiB) * 1024 * 1024,
	}
}

func (e *DockerExecutor) Cancel(exec *state.Execution) error {
	id := exec.Snapshot().ContainerID
	if id == "" {
		return fmt.Errorf("no container ID for execution %s", exec.Name)
	}
	e.runs.cancel(exec.Name)
	return e.client.ContainerStop(context.Background(), id, container.StopOptions{})
}
