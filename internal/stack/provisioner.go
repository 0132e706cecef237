package stack

import (
	"context"
	"fmt"
)

// Provisioner is the engine that creates resources in the cloud. Calls are
// expected to be idempotent: creating something that exists is not an error.
type Provisioner interface {
	CreateServiceAccount(ctx context.Context, spec ServiceAccountSpec) (email string, err error)
	AddIAMMember(ctx context.Context, project, role, member string) error
	UpsertSchedulerJob(ctx context.Context, spec SchedulerJobSpec) error
}

type ServiceAccountSpec struct {
	Project     string
	AccountID   string
	DisplayName string
}

// Email is the address GCP assigns to a user-managed service account.
func (s ServiceAccountSpec) Email() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", s.AccountID, s.Project)
}

type SchedulerJobSpec struct {
	Project    string
	Region     string
	ID         string
	Schedule   string
	TimeZone   string
	HTTPMethod string
	URI        string
	Headers    map[string]string
	// Body is already base64 encoded.
	Body                     string
	OAuthServiceAccountEmail string
	OAuthScope               string
}

// Parent is projects/{project}/locations/{region}.
func (s SchedulerJobSpec) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", s.Project, s.Region)
}

// FullName is projects/{project}/locations/{region}/jobs/{id}.
func (s SchedulerJobSpec) FullName() string {
	return fmt.Sprintf("%s/jobs/%s", s.Parent(), s.ID)
}
