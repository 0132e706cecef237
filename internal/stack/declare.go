// Package stack declares the GCP resources that run the wakatime downloader
// on a schedule, and applies them in dependency order through a Provisioner.
package stack

import (
	"fmt"
	"sort"

	"github.com/sisisin/wakatime-go/internal/config"
	"github.com/sisisin/wakatime-go/internal/deferred"
)

const (
	DownloaderAccountID = "wakatime-cr-downloader"
	SchedulerAccountID  = "wakatime-scheduler-invoker"
	SchedulerJobName    = "wakatime-downloader-cr"

	OutputDownloaderEmail = "wakatimeDownloaderEmail"
	OutputSchedulerEmail  = "wakatimeSchedulerEmail"
)

// Stack is a declared graph plus the values it publishes after apply.
type Stack struct {
	Graph   *Graph
	outputs map[string]*deferred.Output[string]
}

func newStack() *Stack {
	return &Stack{Graph: NewGraph(), outputs: make(map[string]*deferred.Output[string])}
}

// Export publishes v under name once the stack is applied.
func (s *Stack) Export(name string, v *deferred.Output[string]) {
	s.outputs[name] = v
}

// OutputNames returns exported names, sorted.
func (s *Stack) OutputNames() []string {
	names := make([]string, 0, len(s.outputs))
	for name := range s.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Output returns an exported value.
func (s *Stack) Output(name string) (*deferred.Output[string], bool) {
	o, ok := s.outputs[name]
	return o, ok
}

// BatchJobsURI is the Batch API endpoint that creates jobs.
func BatchJobsURI(project, region string) string {
	return fmt.Sprintf("https://batch.googleapis.com/v1/projects/%s/locations/%s/jobs", project, region)
}

// CloudRunJobURI is the Cloud Run admin API v1 endpoint that runs a job.
func CloudRunJobURI(region, projectNumber, job string) string {
	return fmt.Sprintf("https://%s-run.googleapis.com/apis/run.googleapis.com/v1/namespaces/%s/jobs/%s:run", region, projectNumber, job)
}

// Declare builds the resource graph for cfg. Nothing is created.
func Declare(cfg *config.Config) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := newStack()

	downloader := NewServiceAccount(DownloaderAccountID, cfg.Project, DownloaderAccountID, "Wakatime Downloader for Cloud Run")
	if err := s.Graph.Add(downloader); err != nil {
		return nil, err
	}
	downloaderBindings, err := s.addIAMMembers(DownloaderAccountID, cfg.Project, downloader, cfg.Roles.Downloader)
	if err != nil {
		return nil, err
	}

	scheduler := NewServiceAccount(SchedulerAccountID, cfg.Project, SchedulerAccountID, "Wakatime Scheduler Invoke Downloader")
	if err := s.Graph.Add(scheduler); err != nil {
		return nil, err
	}
	schedulerBindings, err := s.addIAMMembers(SchedulerAccountID, cfg.Project, scheduler, cfg.Roles.Scheduler)
	if err != nil {
		return nil, err
	}

	target := HTTPTarget{
		Method:              "POST",
		Headers:             map[string]string{"Content-Type": "application/json"},
		ServiceAccountEmail: scheduler.Email,
		Scope:               cfg.Schedule.OAuthScope,
	}
	switch cfg.Schedule.Target {
	case config.TargetCloudRun:
		target.URI = CloudRunJobURI(cfg.Region, cfg.ProjectNumber, cfg.Schedule.RunJobName)
	default:
		target.URI = BatchJobsURI(cfg.Project, cfg.Region)
		target.Body = cfg.Template().EncodeOutput(downloader.Email, cfg.Job.Commands...)
	}

	job := &SchedulerJob{
		Name:     SchedulerJobName,
		Project:  cfg.Project,
		Region:   cfg.Region,
		Schedule: cfg.Schedule.Cron,
		TimeZone: cfg.Schedule.TimeZone,
		Target:   target,
	}
	// Both identities need their roles before the first tick.
	deps := append([]string{downloader.Name, scheduler.Name}, downloaderBindings...)
	deps = append(deps, schedulerBindings...)
	if err := s.Graph.Add(job, deps...); err != nil {
		return nil, err
	}

	s.Export(OutputDownloaderEmail, downloader.Email)
	s.Export(OutputSchedulerEmail, scheduler.Email)
	return s, nil
}

func (s *Stack) addIAMMembers(key, project string, account *ServiceAccount, roles []string) ([]string, error) {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		m := NewIAMMember(fmt.Sprintf("%s-%s", key, role), project, role, account)
		if err := s.Graph.Add(m, account.Name); err != nil {
			return nil, err
		}
		names = append(names, m.Name)
	}
	return names, nil
}
