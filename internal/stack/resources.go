package stack

import (
	"context"
	"fmt"

	"github.com/sisisin/wakatime-go/internal/deferred"
)

type Kind string

const (
	KindServiceAccount Kind = "gcp:serviceaccount/account:Account"
	KindIAMMember      Kind = "gcp:projects/iAMMember:IAMMember"
	KindSchedulerJob   Kind = "gcp:cloudscheduler/job:Job"
)

// Computed stands in for values that are only known after apply.
const Computed = "<computed>"

// Resource is one node of the stack graph.
type Resource interface {
	ResourceName() string
	ResourceKind() Kind
	// apply creates the resource and returns the outputs to record.
	apply(ctx context.Context, p Provisioner) (map[string]string, error)
	// fail settles any pending outputs with err.
	fail(err error)
	properties() map[string]any
}

// ServiceAccount is a service account whose email is known once created.
type ServiceAccount struct {
	Name        string
	Project     string
	AccountID   string
	DisplayName string
	Email       *deferred.Output[string]

	resolve func(string)
	reject  func(error)
}

func NewServiceAccount(name, project, accountID, displayName string) *ServiceAccount {
	email, resolve, reject := deferred.New[string]()
	return &ServiceAccount{
		Name:        name,
		Project:     project,
		AccountID:   accountID,
		DisplayName: displayName,
		Email:       email,
		resolve:     resolve,
		reject:      reject,
	}
}

func (a *ServiceAccount) ResourceName() string { return a.Name }
func (a *ServiceAccount) ResourceKind() Kind   { return KindServiceAccount }

func (a *ServiceAccount) apply(ctx context.Context, p Provisioner) (map[string]string, error) {
	email, err := p.CreateServiceAccount(ctx, ServiceAccountSpec{
		Project:     a.Project,
		AccountID:   a.AccountID,
		DisplayName: a.DisplayName,
	})
	if err != nil {
		a.reject(err)
		return nil, err
	}
	a.resolve(email)
	return map[string]string{"email": email}, nil
}

func (a *ServiceAccount) fail(err error) { a.reject(err) }

func (a *ServiceAccount) properties() map[string]any {
	return map[string]any{
		"project":     a.Project,
		"accountId":   a.AccountID,
		"displayName": a.DisplayName,
		"email":       peek(a.Email),
	}
}

// IAMMember grants Role on Project to Member, additively.
type IAMMember struct {
	Name    string
	Project string
	Role    string
	// Member is "serviceAccount:<email>".
	Member *deferred.Output[string]
}

func NewIAMMember(name, project, role string, account *ServiceAccount) *IAMMember {
	return &IAMMember{
		Name:    name,
		Project: project,
		Role:    role,
		Member: deferred.Apply(account.Email, func(email string) (string, error) {
			return "serviceAccount:" + email, nil
		}),
	}
}

func (m *IAMMember) ResourceName() string { return m.Name }
func (m *IAMMember) ResourceKind() Kind   { return KindIAMMember }

func (m *IAMMember) apply(ctx context.Context, p Provisioner) (map[string]string, error) {
	member, err := m.Member.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving member: %w", err)
	}
	if err := p.AddIAMMember(ctx, m.Project, m.Role, member); err != nil {
		return nil, err
	}
	return map[string]string{"role": m.Role, "member": member}, nil
}

func (m *IAMMember) fail(error) {}

func (m *IAMMember) properties() map[string]any {
	return map[string]any{
		"project": m.Project,
		"role":    m.Role,
		"member":  peek(m.Member),
	}
}

// HTTPTarget is the request a scheduler job sends on every tick.
type HTTPTarget struct {
	Method  string
	URI     string
	Headers map[string]string
	// Body is the base64 form of the HTTP body. Nil means no body.
	Body *deferred.Output[string]
	// ServiceAccountEmail is the identity the OAuth token is minted for.
	ServiceAccountEmail *deferred.Output[string]
	Scope               string
}

// SchedulerJob is a Cloud Scheduler job with an HTTP target.
type SchedulerJob struct {
	Name     string
	Project  string
	Region   string
	Schedule string
	TimeZone string
	Target   HTTPTarget
}

func (j *SchedulerJob) ResourceName() string { return j.Name }
func (j *SchedulerJob) ResourceKind() Kind   { return KindSchedulerJob }

func (j *SchedulerJob) apply(ctx context.Context, p Provisioner) (map[string]string, error) {
	email, err := j.Target.ServiceAccountEmail.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving oauth identity: %w", err)
	}
	var body string
	if j.Target.Body != nil {
		body, err = j.Target.Body.Await(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving http body: %w", err)
		}
	}

	spec := SchedulerJobSpec{
		Project:                  j.Project,
		Region:                   j.Region,
		ID:                       j.Name,
		Schedule:                 j.Schedule,
		TimeZone:                 j.TimeZone,
		HTTPMethod:               j.Target.Method,
		URI:                      j.Target.URI,
		Headers:                  j.Target.Headers,
		Body:                     body,
		OAuthServiceAccountEmail: email,
		OAuthScope:               j.Target.Scope,
	}
	if err := p.UpsertSchedulerJob(ctx, spec); err != nil {
		return nil, err
	}
	return map[string]string{"name": spec.FullName()}, nil
}

func (j *SchedulerJob) fail(error) {}

func (j *SchedulerJob) properties() map[string]any {
	target := map[string]any{
		"httpMethod": j.Target.Method,
		"uri":        j.Target.URI,
		"headers":    j.Target.Headers,
		"oauthToken": map[string]any{
			"serviceAccountEmail": peek(j.Target.ServiceAccountEmail),
			"scope":               j.Target.Scope,
		},
	}
	if j.Target.Body != nil {
		target["body"] = peek(j.Target.Body)
	}
	return map[string]any{
		"schedule":   j.Schedule,
		"timeZone":   j.TimeZone,
		"region":     j.Region,
		"httpTarget": target,
	}
}

func peek(o *deferred.Output[string]) string {
	v, ok, err := o.Peek()
	if !ok || err != nil {
		return Computed
	}
	return v
}
