// Command downloader archives one day of WakaTime summaries to Cloud Storage.
// It is the workload the scheduled job runs.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sisisin/wakatime-go/internal/downloader"
	"github.com/sisisin/wakatime-go/internal/upload"
	"github.com/sisisin/wakatime-go/internal/wakatime"
)

func main() {
	// Cloud Logging parses JSON lines on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	clock := clockwork.NewRealClock()
	yesterday := clock.Now().AddDate(0, 0, -1)
	targetDateStr := flag.String("target-date", yesterday.Format(wakatime.DateLayout), "Target date to process. format: yyyy-mm-dd")
	userID := flag.String("user-id", wakatime.DefaultUserID, "User ID to process")
	bucket := flag.String("bucket", upload.DefaultBucket, "Bucket to upload the summary to")
	outDir := flag.String("out-dir", downloader.DefaultOutDir, "Directory for the local copy")
	flag.Parse()

	targetDate, err := time.Parse(wakatime.DateLayout, *targetDateStr)
	if err != nil {
		logger.Error("failed to parse target date", slog.Any("error", err))
		os.Exit(1)
	}

	apiKey := os.Getenv("WAKATIME_KEY")
	if apiKey == "" {
		logger.Error("WAKATIME_KEY must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gcs, err := upload.NewGCS(ctx)
	if err != nil {
		logger.Error("failed to create storage client", slog.Any("error", err))
		os.Exit(1)
	}
	defer gcs.Close()

	d := downloader.New(wakatime.NewClient(apiKey), gcs, clock, logger)
	_, err = d.Run(ctx, downloader.Options{
		TargetDate: targetDate,
		UserID:     *userID,
		OutDir:     *outDir,
		Bucket:     *bucket,
	})
	switch {
	case errors.Is(err, downloader.ErrNoProjects):
		logger.Info("no projects found")
	case err != nil:
		logger.Error("download failed", slog.Any("error", err))
		gcs.Close()
		os.Exit(1)
	}
}
