// Package gcpapi provisions stack resources through the Google Cloud REST APIs.
package gcpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/cloudscheduler/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iam/v1"
	"google.golang.org/api/option"

	"github.com/sisisin/wakatime-go/internal/stack"
)

// Provisioner implements stack.Provisioner. Creates are idempotent:
// existing service accounts are reused, existing scheduler jobs are patched.
type Provisioner struct {
	iam       *iam.Service
	crm       *cloudresourcemanager.Service
	scheduler *cloudscheduler.Service
}

var _ stack.Provisioner = (*Provisioner)(nil)

func New(ctx context.Context, opts ...option.ClientOption) (*Provisioner, error) {
	iamSvc, err := iam.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating iam client: %w", err)
	}
	crmSvc, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating resource manager client: %w", err)
	}
	schedSvc, err := cloudscheduler.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating cloud scheduler client: %w", err)
	}
	return &Provisioner{iam: iamSvc, crm: crmSvc, scheduler: schedSvc}, nil
}

func (p *Provisioner) CreateServiceAccount(ctx context.Context, spec stack.ServiceAccountSpec) (string, error) {
	sa, err := p.iam.Projects.ServiceAccounts.Create("projects/"+spec.Project, &iam.CreateServiceAccountRequest{
		AccountId:      spec.AccountID,
		ServiceAccount: &iam.ServiceAccount{DisplayName: spec.DisplayName},
	}).Context(ctx).Do()
	if err == nil {
		slog.Info("created service account", "email", sa.Email)
		return sa.Email, nil
	}
	if !isConflict(err) {
		return "", fmt.Errorf("creating service account %s: %w", spec.AccountID, err)
	}

	name := fmt.Sprintf("projects/%s/serviceAccounts/%s", spec.Project, spec.Email())
	existing, err := p.iam.Projects.ServiceAccounts.Get(name).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("getting service account %s: %w", name, err)
	}
	slog.Info("service account already exists", "email", existing.Email)
	return existing.Email, nil
}

// AddIAMMember adds member to role in the project policy. Other bindings are
// left untouched.
func (p *Provisioner) AddIAMMember(ctx context.Context, project, role, member string) error {
	policy, err := p.crm.Projects.GetIamPolicy(project, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("getting iam policy of %s: %w", project, err)
	}

	if !addBinding(policy, role, member) {
		slog.Debug("iam member already bound", "role", role, "member", member)
		return nil
	}

	_, err = p.crm.Projects.SetIamPolicy(project, &cloudresourcemanager.SetIamPolicyRequest{Policy: policy}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("setting iam policy of %s: %w", project, err)
	}
	slog.Info("bound iam member", "role", role, "member", member)
	return nil
}

// addBinding reports whether the policy changed.
func addBinding(policy *cloudresourcemanager.Policy, role, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != role || b.Condition != nil {
			continue
		}
		if slices.Contains(b.Members, member) {
			return false
		}
		b.Members = append(b.Members, member)
		return true
	}
	policy.Bindings = append(policy.Bindings, &cloudresourcemanager.Binding{Role: role, Members: []string{member}})
	return true
}

func (p *Provisioner) UpsertSchedulerJob(ctx context.Context, spec stack.SchedulerJobSpec) error {
	job := schedulerJob(spec)

	_, err := p.scheduler.Projects.Locations.Jobs.Create(spec.Parent(), job).Context(ctx).Do()
	if err == nil {
		slog.Info("created scheduler job", "name", job.Name)
		return nil
	}
	if !isConflict(err) {
		return fmt.Errorf("creating scheduler job %s: %w", job.Name, err)
	}

	if _, err := p.scheduler.Projects.Locations.Jobs.Patch(job.Name, job).Context(ctx).Do(); err != nil {
		return fmt.Errorf("updating scheduler job %s: %w", job.Name, err)
	}
	slog.Info("updated scheduler job", "name", job.Name)
	return nil
}

func schedulerJob(spec stack.SchedulerJobSpec) *cloudscheduler.Job {
	return &cloudscheduler.Job{
		Name:     spec.FullName(),
		Schedule: spec.Schedule,
		TimeZone: spec.TimeZone,
		HttpTarget: &cloudscheduler.HttpTarget{
			HttpMethod: spec.HTTPMethod,
			Uri:        spec.URI,
			Headers:    spec.Headers,
			// The API takes bytes fields as base64 text.
			Body: spec.Body,
			OauthToken: &cloudscheduler.OAuthToken{
				ServiceAccountEmail: spec.OAuthServiceAccountEmail,
				Scope:               spec.OAuthScope,
			},
		},
	}
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
