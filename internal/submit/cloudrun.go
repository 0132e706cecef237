package submit

import (
	"context"
	"fmt"
	"log/slog"

	run "cloud.google.com/go/run/apiv2"
	runpb "cloud.google.com/go/run/apiv2/runpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

// CloudRun runs an existing Cloud Run job with argument overrides.
type CloudRun struct {
	jobs *run.JobsClient
}

func NewCloudRun(ctx context.Context, opts ...option.ClientOption) (*CloudRun, error) {
	jobs, err := run.NewJobsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating cloud run jobs client: %w", err)
	}
	return &CloudRun{jobs: jobs}, nil
}

// JobName is projects/{project}/locations/{region}/jobs/{job}.
func JobName(project, region, job string) string {
	return fmt.Sprintf("projects/%s/locations/%s/jobs/%s", project, region, job)
}

// RunJobRequest asks for one task whose container gets args.
func RunJobRequest(name string, args []string) *runpb.RunJobRequest {
	return &runpb.RunJobRequest{
		Name: name,
		Overrides: &runpb.RunJobRequest_Overrides{
			ContainerOverrides: []*runpb.RunJobRequest_Overrides_ContainerOverride{
				{Args: append([]string(nil), args...)},
			},
			TaskCount: 1,
		},
	}
}

// RenderRunJobRequest returns the request as indented proto JSON.
func RenderRunJobRequest(req *runpb.RunJobRequest) (string, error) {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling run job request: %w", err)
	}
	return string(data), nil
}

// Run starts an execution and returns its operation name without waiting.
func (c *CloudRun) Run(ctx context.Context, name string, args []string) (string, error) {
	slog.Info("running cloud run job", "name", name, "args", args)
	op, err := c.jobs.RunJob(ctx, RunJobRequest(name, args))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("cloud run job %s not found: %w", name, err)
		}
		return "", fmt.Errorf("running cloud run job %s: %w", name, err)
	}
	return op.Name(), nil
}

func (c *CloudRun) Close() error {
	return c.jobs.Close()
}
