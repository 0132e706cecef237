// Package downloader archives one day of WakaTime summaries to Cloud Storage.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sisisin/wakatime-go/internal/upload"
	"github.com/sisisin/wakatime-go/internal/wakatime"
)

// ErrNoProjects means the summaries response has no days. Nothing is written.
var ErrNoProjects = errors.New("no projects found")

const DefaultOutDir = ".tmp"

type Options struct {
	TargetDate time.Time
	UserID     string
	// OutDir keeps a local copy of each upload.
	OutDir string
	Bucket string
}

func (o *Options) applyDefaults() {
	if o.UserID == "" {
		o.UserID = wakatime.DefaultUserID
	}
	if o.OutDir == "" {
		o.OutDir = DefaultOutDir
	}
	if o.Bucket == "" {
		o.Bucket = upload.DefaultBucket
	}
}

type Meta struct {
	DownloadedAt string `json:"downloaded_at"`
}

type Parameters struct {
	TargetDate string `json:"target_date"`
}

// Output is the archived document.
type Output struct {
	Meta       Meta              `json:"meta"`
	Parameters Parameters        `json:"parameters"`
	Summaries  json.RawMessage   `json:"summaries"`
	ByDetails  []json.RawMessage `json:"by_details"`
}

type Result struct {
	File     string
	Object   string
	Projects int
	// Skipped lists projects whose details could not be fetched.
	Skipped []string
}

type Downloader struct {
	client   *wakatime.Client
	uploader upload.Uploader
	clock    clockwork.Clock
	logger   *slog.Logger
}

func New(client *wakatime.Client, uploader upload.Uploader, clock clockwork.Clock, logger *slog.Logger) *Downloader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, uploader: uploader, clock: clock, logger: logger}
}

// Run downloads the summaries of opts.TargetDate, writes them to a local
// file and uploads that file.
func (d *Downloader) Run(ctx context.Context, opts Options) (*Result, error) {
	opts.applyDefaults()
	date := opts.TargetDate.Format(wakatime.DateLayout)
	d.logger.Info("process start", slog.String("target_date", date))

	summaries, err := d.client.Summaries(ctx, opts.UserID, date)
	if err != nil {
		return nil, fmt.Errorf("getting projects: %w", err)
	}
	if summaries.Empty() {
		return nil, ErrNoProjects
	}
	projects := summaries.Projects()

	res := &Result{Projects: len(projects)}
	details := make([]json.RawMessage, 0, len(projects))
	for _, project := range projects {
		detail, err := d.client.ProjectDetails(ctx, opts.UserID, date, project)
		if err != nil {
			d.logger.Warn("failed to get project details", slog.Group("jsonPayload",
				slog.Any("error", err),
				slog.String("project_name", project),
				slog.String("user_id", opts.UserID),
				slog.String("target_date", date),
			))
			res.Skipped = append(res.Skipped, project)
			continue
		}
		details = append(details, detail)
	}

	now := d.clock.Now()
	out := Output{
		Meta:       Meta{DownloadedAt: now.Format(time.RFC3339)},
		Parameters: Parameters{TargetDate: date},
		Summaries:  summaries.Raw,
		ByDetails:  details,
	}

	res.File, err = writeOutput(opts.OutDir, now, out)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(res.File)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res.Object = upload.ObjectName(opts.TargetDate)
	if err := d.uploader.Upload(ctx, opts.Bucket, res.Object, f); err != nil {
		return nil, fmt.Errorf("uploading to gcs: %w", err)
	}

	d.logger.Info("process end", slog.String("object", res.Object), slog.Int("skipped", len(res.Skipped)))
	return res, nil
}

// OutputFile is the local file name for a download taken at now.
func OutputFile(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("output_%s.json", now.Format("2006-01-02 15:04:05")))
}

func writeOutput(dir string, now time.Time, out Output) (string, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	name := OutputFile(dir, now)
	f, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(out); err != nil {
		return "", fmt.Errorf("encoding output: %w", err)
	}
	return name, f.Close()
}
