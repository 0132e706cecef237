package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sisisin/wakatime-go/internal/config"
	"github.com/sisisin/wakatime-go/internal/executor"
	"github.com/sisisin/wakatime-go/internal/jobbody"
	"github.com/sisisin/wakatime-go/internal/joblogs"
	"github.com/sisisin/wakatime-go/internal/server"
	"github.com/sisisin/wakatime-go/internal/stack"
	"github.com/sisisin/wakatime-go/internal/state"
	"github.com/sisisin/wakatime-go/internal/submit"
	"github.com/sisisin/wakatime-go/internal/wakatime"
)

const jobIDPrefix = "wakatime-downloader"

func yesterday() string {
	return time.Now().AddDate(0, 0, -1).Format(wakatime.DateLayout)
}

func targetArgs(date string) ([]string, error) {
	if _, err := time.Parse(wakatime.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid target date %q: %w", date, err)
	}
	return []string{"--target-date", date}, nil
}

// outputReader picks where stack outputs are read from.
func outputReader(cfg *config.Config, source, pulumiStack string) (state.OutputReader, error) {
	switch source {
	case "state":
		return state.LoadFile(cfg.StateFile)
	case "pulumi":
		return state.NewPulumiReader(pulumiStack), nil
	default:
		return nil, fmt.Errorf("unknown outputs source %q (want state or pulumi)", source)
	}
}

func cmdWriteJobConfig(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("write-job-config", flag.ExitOnError)
	date := fs.String("target-date", "2024-03-02", "Target date passed to the downloader. format: yyyy-mm-dd")
	out := fs.String("out", ".out/jobConfig.json", "File to write")
	source := fs.String("outputs", "state", "Where to read stack outputs from: state or pulumi")
	pulumiStack := fs.String("pulumi-stack", "", "Pulumi stack, when -outputs=pulumi")
	fs.Parse(args)

	reader, err := outputReader(cfg, *source, *pulumiStack)
	if err != nil {
		return err
	}
	return writeJobConfig(context.Background(), reader, cfg.Template(), *date, *out)
}

// writeJobConfig writes the job request for date to path, with the
// downloader service account read from reader.
func writeJobConfig(ctx context.Context, reader state.OutputReader, tmpl jobbody.Template, date, path string) error {
	commands, err := targetArgs(date)
	if err != nil {
		return err
	}
	email, err := reader.Output(ctx, stack.OutputDownloaderEmail)
	if err != nil {
		return err
	}

	data, err := jobbody.MarshalIndent(tmpl.Build(email, commands...))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	slog.Info("wrote job config", "path", path, "service_account", email)
	return nil
}

func cmdSubmit(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	date := fs.String("target-date", yesterday(), "Target date passed to the downloader. format: yyyy-mm-dd")
	target := fs.String("target", cfg.Schedule.Target, "Where to run the job: batch or cloudrun")
	fs.Parse(args)

	commands, err := targetArgs(*date)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *target {
	case config.TargetBatch:
		store, err := state.LoadFile(cfg.StateFile)
		if err != nil {
			return fmt.Errorf("batch jobs need the applied state: %w", err)
		}
		email, err := store.Output(ctx, stack.OutputDownloaderEmail)
		if err != nil {
			return err
		}
		b, err := submit.NewBatch(ctx, cfg.Project, cfg.Region)
		if err != nil {
			return err
		}
		job, err := b.Submit(ctx, submit.JobID(jobIDPrefix), cfg.Template().Build(email, commands...))
		if err != nil {
			return err
		}
		var jobState string
		if job.Status != nil {
			jobState = job.Status.State
		}
		fmt.Printf("name: %s\nuid: %s\nstate: %s\n", job.Name, job.Uid, jobState)

	case config.TargetCloudRun:
		var opts []option.ClientOption
		if cfg.CloudRunEndpoint != "" {
			opts = append(opts,
				option.WithEndpoint(cfg.CloudRunEndpoint),
				option.WithoutAuthentication(),
				option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		c, err := submit.NewCloudRun(ctx, opts...)
		if err != nil {
			return err
		}
		defer c.Close()
		name, err := c.Run(ctx, submit.JobName(cfg.Project, cfg.Region, cfg.Schedule.RunJobName), commands)
		if err != nil {
			return err
		}
		fmt.Println(name)

	default:
		return fmt.Errorf("unknown target %q", *target)
	}
	return nil
}

func newExecutor(kind string) (executor.Executor, error) {
	switch kind {
	case "docker":
		slog.Info("using docker executor")
		return executor.NewDockerExecutor()
	case "subprocess":
		slog.Info("using subprocess executor")
		return executor.NewSubprocessExecutor(), nil
	default:
		return nil, fmt.Errorf("unknown executor type %q", kind)
	}
}

// downloaderEmail reads the applied downloader identity. Local runs do not
// need it, so a missing state file is not an error.
func downloaderEmail(cfg *config.Config) string {
	store, err := state.LoadFile(cfg.StateFile)
	if err != nil {
		slog.Debug("no applied state", "error", err)
		return ""
	}
	email, err := store.Output(context.Background(), stack.OutputDownloaderEmail)
	if err != nil {
		slog.Debug("no downloader email in state", "error", err)
		return ""
	}
	return email
}

func localEnv(r jobbody.JobRequest) (map[string]string, error) {
	env, missing := executor.LocalEnv(r, os.LookupEnv)
	if len(missing) > 0 {
		return nil, fmt.Errorf("set %s in the environment to run locally", strings.Join(missing, ", "))
	}
	return env, nil
}

func cmdRunLocal(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run-local", flag.ExitOnError)
	date := fs.String("target-date", yesterday(), "Target date passed to the downloader. format: yyyy-mm-dd")
	jobConfig := fs.String("job-config", "", "Run a job request written by write-job-config instead")
	fs.Parse(args)

	var r jobbody.JobRequest
	if *jobConfig != "" {
		data, err := os.ReadFile(*jobConfig)
		if err != nil {
			return err
		}
		if r, err = jobbody.Unmarshal(data); err != nil {
			return err
		}
	} else {
		commands, err := targetArgs(*date)
		if err != nil {
			return err
		}
		r = cfg.Template().Build(downloaderEmail(cfg), commands...)
	}

	env, err := localEnv(r)
	if err != nil {
		return err
	}
	exec, err := newExecutor(cfg.Executor)
	if err != nil {
		return err
	}
	execution, err := executor.NewExecution(cfg.Schedule.RunJobName, r)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec.Run(ctx, execution, env)
	p := execution.Snapshot()
	slog.Info("execution finished", "execution", execution.Name, "status", p.Status, "attempts", p.Attempts)
	if p.Status != state.StatusSucceeded {
		return errors.New(p.ErrorMessage)
	}
	return nil
}

func cmdServe(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Parse(args)

	if cfg.Project == "" || cfg.Region == "" {
		return errors.New("project and region are required to name the served job")
	}

	tmpl := cfg.Template()
	email := downloaderEmail(cfg)
	env, err := localEnv(tmpl.Build(email))
	if err != nil {
		return err
	}
	exec, err := newExecutor(cfg.Executor)
	if err != nil {
		return err
	}

	job := server.Job{
		Name:           submit.JobName(cfg.Project, cfg.Region, cfg.Schedule.RunJobName),
		Template:       tmpl,
		ServiceAccount: email,
		Args:           cfg.Job.Commands,
		Env:            env,
	}
	srv := server.New(state.NewStore(), exec, job)
	slog.Info("registered job", "name", job.Name, "image", tmpl.ImageURI)

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		srv.Stop()
	}()

	return srv.Start(cfg.Port)
}

func cmdLogs(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	jobUID := fs.String("job-uid", "", "UID of the Batch job, as printed by submit")
	since := fs.Duration("since", 24*time.Hour, "How far back to read")
	limit := fs.Int("limit", 0, "Maximum number of entries, 0 for all")
	fs.Parse(args)

	if *jobUID == "" {
		return errors.New("-job-uid is required")
	}
	if cfg.Project == "" {
		return errors.New("project is required (stack file or GCP_PROJECT)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := joblogs.NewReader(ctx, cfg.Project)
	if err != nil {
		return err
	}
	defer r.Close()

	lines, err := r.Read(ctx, *jobUID, time.Now().Add(-*since), *limit)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}
