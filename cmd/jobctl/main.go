// Command jobctl declares, deploys and triggers the scheduled wakatime
// downloader job.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sisisin/wakatime-go/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Configure log level
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	args := os.Args[2:]
	switch os.Args[1] {
	case "plan":
		err = cmdPlan(cfg, args)
	case "apply":
		err = cmdApply(cfg, args)
	case "write-job-config":
		err = cmdWriteJobConfig(cfg, args)
	case "submit":
		err = cmdSubmit(cfg, args)
	case "run-local":
		err = cmdRunLocal(cfg, args)
	case "serve":
		err = cmdServe(cfg, args)
	case "logs":
		err = cmdLogs(cfg, args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: jobctl <command> [flags]

Commands:
  plan               Print the resources apply would create
  apply              Create the service accounts, IAM members and scheduler job
  write-job-config   Write the Batch job request for one date to a file
  submit             Start the downloader job now
  run-local          Run the downloader job request on this machine
  serve              Serve a local Cloud Run Jobs endpoint for the downloader
  logs               Print the task logs of a Batch job

Configuration is read from STACK_CONFIG (default ./stack.yaml) and the
environment: GCP_PROJECT, GCP_REGION, GCP_PROJECT_NUMBER, STATE_FILE,
EXECUTOR, DRY_RUN, PORT, CLOUD_RUN_ENDPOINT, LOG_LEVEL.`)
}
