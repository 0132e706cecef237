package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/sisisin/wakatime-go/internal/config"
	"github.com/sisisin/wakatime-go/internal/provider/gcpapi"
	"github.com/sisisin/wakatime-go/internal/stack"
	"github.com/sisisin/wakatime-go/internal/state"
	"github.com/sisisin/wakatime-go/internal/submit"
)

func cmdPlan(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	fs.Parse(args)

	s, err := stack.Declare(cfg)
	if err != nil {
		return err
	}
	plan, err := stack.Plan(s)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{
		"resources": plan,
		"outputs":   s.OutputNames(),
	}); err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if cfg.Schedule.Target == config.TargetCloudRun {
		name := submit.JobName(cfg.Project, cfg.Region, cfg.Schedule.RunJobName)
		req, err := submit.RenderRunJobRequest(submit.RunJobRequest(name, cfg.Job.Commands))
		if err != nil {
			return err
		}
		fmt.Printf("# manual trigger\n%s\n", req)
	}
	return nil
}

func cmdApply(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	fs.Parse(args)

	if cfg.DryRun {
		slog.Info("DRY_RUN is set, printing the plan only")
		return cmdPlan(cfg, nil)
	}

	s, err := stack.Declare(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := gcpapi.New(ctx)
	if err != nil {
		return err
	}

	// Outputs of earlier runs survive a failed re-apply.
	store, err := state.LoadOrNew(cfg.StateFile)
	if err != nil {
		return err
	}
	applyErr := stack.Apply(ctx, s, p, store)
	// Whatever was created is recorded, even after a failure.
	if err := store.Save(cfg.StateFile); err != nil {
		return err
	}
	if applyErr != nil {
		return applyErr
	}

	outputs := store.Outputs()
	for _, name := range s.OutputNames() {
		fmt.Printf("%s: %s\n", name, outputs[name])
	}
	slog.Info("stack applied", "state", cfg.StateFile)
	return nil
}
