// Package upload stores downloaded summaries in Cloud Storage.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// DefaultBucket receives the daily summaries.
const DefaultBucket = "wakatime"

// Uploader copies r into bucket/object.
type Uploader interface {
	Upload(ctx context.Context, bucket, object string, r io.Reader) error
}

// ObjectName is where the summary of date is stored.
func ObjectName(date time.Time) string {
	return fmt.Sprintf("raw/%s_summary.json", date.Format("2006_01_02"))
}

type GCS struct {
	client *storage.Client
}

var _ Uploader = (*GCS)(nil)

func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Upload(ctx context.Context, bucket, object string, r io.Reader) error {
	// Cancelling the writer's context abandons a partial upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("writing gs://%s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing gs://%s/%s: %w", bucket, object, err)
	}
	slog.Info("uploaded object", "bucket", bucket, "object", object, "bytes", n)
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
