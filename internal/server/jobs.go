package server

import (
	"context"
	"log/slog"
	"maps"
	"path"
	"sort"
	"strings"
	"time"

	runpb "cloud.google.com/go/run/apiv2/runpb"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/sisisin/wakatime-go/internal/executor"
	"github.com/sisisin/wakatime-go/internal/state"
)

type JobsServer struct {
	runpb.UnimplementedJobsServer
	store    *state.Store
	executor executor.Executor
	jobs     map[string]Job
}

func (s *JobsServer) RunJob(ctx context.Context, req *runpb.RunJobRequest) (*longrunningpb.Operation, error) {
	slog.Info("RunJob called", "name", req.Name)

	job, ok := s.jobs[req.Name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "job not found: %s", req.Name)
	}

	// Merge arguments and environment: job defaults, then overrides
	args := job.Args
	env := maps.Clone(job.Env)
	if env == nil {
		env = make(map[string]string)
	}
	if req.Overrides != nil {
		for _, co := range req.Overrides.ContainerOverrides {
			if len(co.Args) > 0 || co.ClearArgs {
				args = co.Args
			}
			for _, ev := range co.Env {
				env[ev.Name] = ev.GetValue()
			}
		}
	}

	r := job.Template.Build(job.ServiceAccount, args...)
	exec, err := executor.NewExecution(parseJobName(req.Name), r)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "invalid job request: %v", err)
	}
	exec.Name = req.Name + "/executions/" + path.Base(exec.Name)
	exec.Update(func(p *state.Progress) {
		p.Status = state.StatusRunning
		p.StartTime = time.Now()
	})
	s.store.SaveExecution(exec)

	// The execution outlives the RPC.
	go s.executor.Run(context.Background(), exec, env)

	slog.Info("execution started", "execution", exec.Name, "args", args)

	metaAny, err := anypb.New(executionToProto(exec))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to marshal metadata: %v", err)
	}

	return &longrunningpb.Operation{
		Name:     exec.Name,
		Metadata: metaAny,
		Done:     false,
	}, nil
}

func (s *JobsServer) GetJob(ctx context.Context, req *runpb.GetJobRequest) (*runpb.Job, error) {
	slog.Info("GetJob called", "name", req.Name)

	job, ok := s.jobs[req.Name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "job not found: %s", req.Name)
	}
	return jobToProto(job), nil
}

func (s *JobsServer) ListJobs(ctx context.Context, req *runpb.ListJobsRequest) (*runpb.ListJobsResponse, error) {
	slog.Info("ListJobs called", "parent", req.Parent)

	var pbJobs []*runpb.Job
	for name, j := range s.jobs {
		if strings.HasPrefix(name, req.Parent+"/jobs/") {
			pbJobs = append(pbJobs, jobToProto(j))
		}
	}
	sort.Slice(pbJobs, func(i, k int) bool { return pbJobs[i].Name < pbJobs[k].Name })

	return &runpb.ListJobsResponse{Jobs: pbJobs}, nil
}

// jobToProto describes a job the way the Cloud Run API would. Secret
// variables are listed by name only.
func jobToProto(j Job) *runpb.Job {
	r := j.Template.Build(j.ServiceAccount, j.Args...)
	spec, _ := r.Spec()

	var envVars []*runpb.EnvVar
	names := make([]string, 0, len(spec.Environment.SecretVariables))
	for name := range spec.Environment.SecretVariables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		envVars = append(envVars, &runpb.EnvVar{
			Name: name,
			Values: &runpb.EnvVar_ValueSource{ValueSource: &runpb.EnvVarSource{
				SecretKeyRef: &runpb.SecretKeySelector{Secret: spec.Environment.SecretVariables[name]},
			}},
		})
	}

	var command []string
	if j.Template.Entrypoint != "" {
		command = []string{j.Template.Entrypoint}
	}

	task := &runpb.TaskTemplate{
		Containers: []*runpb.Container{
			{
				Image:   j.Template.ImageURI,
				Command: command,
				Args:    append([]string(nil), j.Args...),
				Env:     envVars,
			},
		},
		Retries:        &runpb.TaskTemplate_MaxRetries{MaxRetries: int32(spec.MaxRetryCount)},
		ServiceAccount: j.ServiceAccount,
	}
	if d, err := r.MaxRunDuration(); err == nil {
		task.Timeout = durationpb.New(d)
	}

	return &runpb.Job{
		Name: j.Name,
		Template: &runpb.ExecutionTemplate{
			TaskCount:   1,
			Parallelism: 1,
			Template:    task,
		},
		CreateTime: timestamppb.Now(),
	}
}

// executionToProto converts an internal Execution to its protobuf representation.
func executionToProto(e *state.Execution) *runpb.Execution {
	p := e.Snapshot()
	exec := &runpb.Execution{
		Name:           e.Name,
		Job:            e.JobName(),
		Reconciling:    p.Status == state.StatusRunning,
		SucceededCount: p.SucceededCount,
		FailedCount:    p.FailedCount,
		RetriedCount:   int32(max(p.Attempts-1, 0)),
		TaskCount:      1,
		Parallelism:    1,
	}
	if !p.StartTime.IsZero() {
		exec.StartTime = timestamppb.New(p.StartTime)
	}
	if !p.CompletionTime.IsZero() {
		exec.CompletionTime = timestamppb.New(p.CompletionTime)
	}

	// Map internal status to condition
	switch p.Status {
	case state.StatusRunning:
		exec.RunningCount = 1
	case state.StatusSucceeded:
		exec.Conditions = []*runpb.Condition{
			{Type: "Completed", State: runpb.Condition_CONDITION_SUCCEEDED},
		}
	case state.StatusFailed:
		exec.Conditions = []*runpb.Condition{
			{Type: "Completed", State: runpb.Condition_CONDITION_FAILED, Message: p.ErrorMessage},
		}
	case state.StatusCancelled:
		exec.CancelledCount = 1
		exec.Conditions = []*runpb.Condition{
			{Type: "Completed", State: runpb.Condition_CONDITION_FAILED, Message: p.ErrorMessage},
		}
	}

	return exec
}

// parseJobName extracts the short job name from a full resource name.
func parseJobName(fullName string) string {
	parts := strings.Split(fullName, "/")
	if len(parts) >= 6 {
		return parts[5]
	}
	return fullName
}
