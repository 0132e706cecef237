// Package submit starts the downloader job immediately, the same way the
// scheduled trigger does.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	batch "google.golang.org/api/batch/v1"
	"google.golang.org/api/option"

	"github.com/sisisin/wakatime-go/internal/jobbody"
)

// Batch submits job requests to the Cloud Batch API.
type Batch struct {
	jobs    *batch.ProjectsLocationsJobsService
	project string
	region  string
}

// NewBatch uses application default credentials unless opts say otherwise.
func NewBatch(ctx context.Context, project, region string, opts ...option.ClientOption) (*Batch, error) {
	svc, err := batch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating batch client: %w", err)
	}
	return &Batch{jobs: svc.Projects.Locations.Jobs, project: project, region: region}, nil
}

// JobID returns a Batch job ID for prefix, unique per call.
func JobID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

// Submit creates a Batch job named jobID from r. API failures are returned
// as *googleapi.Error.
func (b *Batch) Submit(ctx context.Context, jobID string, r jobbody.JobRequest) (*batch.Job, error) {
	parent := fmt.Sprintf("projects/%s/locations/%s", b.project, b.region)

	slog.Info("submitting batch job", "job_id", jobID, "project", b.project, "region", b.region)
	job, err := b.jobs.Create(parent, BatchJob(r)).JobId(jobID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("submitting batch job: %w", err)
	}
	return job, nil
}

// BatchJob converts a job request into the API resource.
func BatchJob(r jobbody.JobRequest) *batch.Job {
	job := &batch.Job{
		Labels: maps.Clone(r.Labels),
		AllocationPolicy: &batch.AllocationPolicy{
			ServiceAccount: &batch.ServiceAccount{Email: r.AllocationPolicy.ServiceAccount.Email},
		},
		LogsPolicy: &batch.LogsPolicy{Destination: r.LogsPolicy.Destination},
	}
	for _, inst := range r.AllocationPolicy.Instances {
		job.AllocationPolicy.Instances = append(job.AllocationPolicy.Instances, &batch.InstancePolicyOrTemplate{
			Policy: &batch.InstancePolicy{MachineType: inst.Policy.MachineType},
		})
	}

	for _, tg := range r.TaskGroups {
		spec := &batch.TaskSpec{
			Environment: &batch.Environment{SecretVariables: maps.Clone(tg.TaskSpec.Environment.SecretVariables)},
			ComputeResource: &batch.ComputeResource{
				CpuMilli:  int64(tg.TaskSpec.ComputeResource.CPUMilli),
				MemoryMib: int64(tg.TaskSpec.ComputeResource.MemoryMiB),
			},
			MaxRetryCount:  int64(tg.TaskSpec.MaxRetryCount),
			MaxRunDuration: tg.TaskSpec.MaxRunDuration,
		}
		for _, rn := range tg.TaskSpec.Runnables {
			spec.Runnables = append(spec.Runnables, &batch.Runnable{
				Container: &batch.Container{
					ImageUri:   rn.Container.ImageURI,
					Entrypoint: rn.Container.Entrypoint,
					Commands:   append([]string(nil), rn.Container.Commands...),
				},
			})
		}
		job.TaskGroups = append(job.TaskGroups, &batch.TaskGroup{
			TaskSpec:    spec,
			TaskCount:   int64(tg.TaskCount),
			Parallelism: int64(tg.Parallelism),
		})
	}
	return job
}
