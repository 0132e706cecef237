// Package joblogs reads the downloader's task logs from Cloud Logging.
package joblogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/logging"
	"cloud.google.com/go/logging/logadmin"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// TaskLogName is the log Cloud Batch writes task output to.
const TaskLogName = "batch_task_logs"

// Line is one log entry reduced to what a terminal shows.
type Line struct {
	Timestamp time.Time
	Severity  string
	Text      string
}

func (l Line) String() string {
	return fmt.Sprintf("%s %-7s %s", l.Timestamp.Format(time.RFC3339), l.Severity, l.Text)
}

type Reader struct {
	client  *logadmin.Client
	project string
}

func NewReader(ctx context.Context, project string, opts ...option.ClientOption) (*Reader, error) {
	client, err := logadmin.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating logadmin client: %w", err)
	}
	return &Reader{client: client, project: project}, nil
}

// Filter selects the task logs of one Batch job written at or after since.
func Filter(project, jobUID string, since time.Time) string {
	clauses := []string{
		fmt.Sprintf(`logName="projects/%s/logs/%s"`, project, TaskLogName),
		fmt.Sprintf(`labels.job_uid=%q`, jobUID),
		fmt.Sprintf(`timestamp>=%q`, since.UTC().Format(time.RFC3339)),
	}
	return strings.Join(clauses, " AND ")
}

// Read returns up to limit entries, oldest first. A limit of zero or less
// reads everything that matches.
func (r *Reader) Read(ctx context.Context, jobUID string, since time.Time, limit int) ([]Line, error) {
	it := r.client.Entries(ctx, logadmin.Filter(Filter(r.project, jobUID, since)))

	var lines []Line
	for limit <= 0 || len(lines) < limit {
		entry, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing log entries: %w", err)
		}
		lines = append(lines, toLine(entry))
	}
	return lines, nil
}

func (r *Reader) Close() error {
	return r.client.Close()
}

func toLine(e *logging.Entry) Line {
	return Line{
		Timestamp: e.Timestamp,
		Severity:  e.Severity.String(),
		Text:      extractText(e.Payload),
	}
}

// extractText renders a payload as one line. Structured payloads written by
// the downloader keep their message in "msg".
func extractText(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimRight(p, "\n")
	case *structpb.Struct:
		m := p.AsMap()
		msg, _ := m["msg"].(string)
		delete(m, "msg")
		if len(m) == 0 {
			return msg
		}
		rest, err := json.Marshal(m)
		if err != nil {
			return msg
		}
		if msg == "" {
			return string(rest)
		}
		return msg + " " + string(rest)
	default:
		return fmt.Sprint(p)
	}
}
