package joblogs

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/logging/apiv2/loggingpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestFilter(t *testing.T) {
	since := time.Date(2024, 3, 2, 10, 0, 0, 0, time.FixedZone("JST", 9*3600))
	got := Filter("wakatime-project", "uid-1", since)
	assert.Equal(t,
		`logName="projects/wakatime-project/logs/batch_task_logs" AND labels.job_uid="uid-1" AND timestamp>="2024-03-02T01:00:00Z"`,
		got)
}

func TestExtractText(t *testing.T) {
	payload, err := structpb.NewStruct(map[string]any{
		"msg":         "failed to getProjectDetails",
		"jsonPayload": map[string]any{"project_name": "wakatime-go"},
	})
	require.NoError(t, err)
	msgOnly, err := structpb.NewStruct(map[string]any{"msg": "process end"})
	require.NoError(t, err)

	cases := []struct {
		name    string
		payload any
		want    string
	}{
		{"nil", nil, ""},
		{"text", "process start\n", "process start"},
		{"struct", payload, `failed to getProjectDetails {"jsonPayload":{"project_name":"wakatime-go"}}`},
		{"struct message only", msgOnly, "process end"},
		{"other", 42, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractText(tc.payload))
		})
	}
}

// fakeLogging serves ListLogEntries from a fixed slice.
type fakeLogging struct {
	loggingpb.UnimplementedLoggingServiceV2Server
	mu      sync.Mutex
	entries []*loggingpb.LogEntry
	reqs    []*loggingpb.ListLogEntriesRequest
}

func (f *fakeLogging) ListLogEntries(ctx context.Context, req *loggingpb.ListLogEntriesRequest) (*loggingpb.ListLogEntriesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &loggingpb.ListLogEntriesResponse{Entries: f.entries}, nil
}

func newTestReader(t *testing.T, fake *fakeLogging) *Reader {
	t.Helper()
	gs := grpc.NewServer()
	loggingpb.RegisterLoggingServiceV2Server(gs, fake)
	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	r, err := NewReader(context.Background(), "wakatime-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return r
}

func textEntry(ts time.Time, text string) *loggingpb.LogEntry {
	return &loggingpb.LogEntry{
		LogName:   "projects/wakatime-project/logs/batch_task_logs",
		Timestamp: timestamppb.New(ts),
		Payload:   &loggingpb.LogEntry_TextPayload{TextPayload: text},
	}
}

func TestRead(t *testing.T) {
	base := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)
	fake := &fakeLogging{entries: []*loggingpb.LogEntry{
		textEntry(base, "process start"),
		textEntry(base.Add(time.Second), "uploading"),
		textEntry(base.Add(2*time.Second), "process end"),
	}}
	r := newTestReader(t, fake)

	lines, err := r.Read(context.Background(), "uid-1", base, 2)
	require.NoError(t, err)

	require.Len(t, lines, 2)
	assert.Equal(t, "process start", lines[0].Text)
	assert.True(t, lines[1].Timestamp.Equal(base.Add(time.Second)))

	require.NotEmpty(t, fake.reqs)
	assert.Equal(t, []string{"projects/wakatime-project"}, fake.reqs[0].ResourceNames)
	assert.Contains(t, fake.reqs[0].Filter, `labels.job_uid="uid-1"`)
}

func TestReadAll(t *testing.T) {
	base := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)
	fake := &fakeLogging{entries: []*loggingpb.LogEntry{
		textEntry(base, "a"),
		textEntry(base, "b"),
	}}
	r := newTestReader(t, fake)

	lines, err := r.Read(context.Background(), "uid-1", base, 0)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestLineString(t *testing.T) {
	l := Line{Timestamp: time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC), Severity: "INFO", Text: "hello"}
	assert.Equal(t, "2024-03-02T01:00:00Z INFO    hello", l.String())
}
