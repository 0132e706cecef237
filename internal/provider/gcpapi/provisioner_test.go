package gcpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/sisisin/wakatime-go/internal/provider/gcpapi"
	"github.com/sisisin/wakatime-go/internal/stack"
)

type binding struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

type policy struct {
	Bindings []binding `json:"bindings"`
	Etag     string    `json:"etag,omitempty"`
}

// fakeGCP answers the subset of the IAM, Resource Manager and Cloud
// Scheduler REST APIs the provisioner calls.
type fakeGCP struct {
	mu         sync.Mutex
	accounts   map[string]string // accountId -> email
	policy     policy
	jobs       map[string]map[string]any
	setPolicy  int
	patchCalls int
}

func newFakeGCP() *fakeGCP {
	return &fakeGCP{accounts: map[string]string{}, jobs: map[string]map[string]any{}}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func conflict(w http.ResponseWriter) {
	writeJSON(w, http.StatusConflict, map[string]any{
		"error": map[string]any{"code": 409, "message": "already exists", "status": "ALREADY_EXISTS"},
	})
}

func (f *fakeGCP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/serviceAccounts"):
		var req struct {
			AccountID string `json:"accountId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := f.accounts[req.AccountID]; ok {
			conflict(w)
			return
		}
		email := fmt.Sprintf("%s@test-project.iam.gserviceaccount.com", req.AccountID)
		f.accounts[req.AccountID] = email
		writeJSON(w, http.StatusOK, map[string]any{"email": email, "name": "projects/test-project/serviceAccounts/" + email})

	case r.Method == http.MethodGet && strings.Contains(path, "/serviceAccounts/"):
		email := path[strings.LastIndex(path, "/")+1:]
		writeJSON(w, http.StatusOK, map[string]any{"email": email, "name": "projects/test-project/serviceAccounts/" + email})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":getIamPolicy"):
		writeJSON(w, http.StatusOK, f.policy)

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":setIamPolicy"):
		var req struct {
			Policy policy `json:"policy"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.policy = req.Policy
		f.setPolicy++
		writeJSON(w, http.StatusOK, f.policy)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/jobs"):
		var job map[string]any
		_ = json.NewDecoder(r.Body).Decode(&job)
		name := job["name"].(string)
		if _, ok := f.jobs[name]; ok {
			conflict(w)
			return
		}
		f.jobs[name] = job
		writeJSON(w, http.StatusOK, job)

	case r.Method == http.MethodPatch && strings.Contains(path, "/jobs/"):
		var job map[string]any
		_ = json.NewDecoder(r.Body).Decode(&job)
		f.jobs[strings.TrimPrefix(path, "/v1/")] = job
		f.patchCalls++
		writeJSON(w, http.StatusOK, job)

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"code": 404, "message": r.Method + " " + path},
		})
	}
}

func newProvisioner(t *testing.T) (*gcpapi.Provisioner, *fakeGCP) {
	t.Helper()
	fake := newFakeGCP()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p, err := gcpapi.New(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return p, fake
}

func TestCreateServiceAccount(t *testing.T) {
	p, fake := newProvisioner(t)
	ctx := context.Background()
	spec := stack.ServiceAccountSpec{Project: "test-project", AccountID: "wakatime-cr-downloader", DisplayName: "Downloader"}

	email, err := p.CreateServiceAccount(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "wakatime-cr-downloader@test-project.iam.gserviceaccount.com", email)

	// Second create hits 409 and falls back to a get.
	again, err := p.CreateServiceAccount(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, email, again)
	assert.Len(t, fake.accounts, 1)
}

func TestAddIAMMemberIsAdditive(t *testing.T) {
	p, fake := newProvisioner(t)
	ctx := context.Background()
	fake.policy = policy{Bindings: []binding{{Role: "roles/owner", Members: []string{"user:me@example.com"}}}}

	member := "serviceAccount:dl@test-project.iam.gserviceaccount.com"
	require.NoError(t, p.AddIAMMember(ctx, "test-project", "roles/storage.admin", member))
	require.NoError(t, p.AddIAMMember(ctx, "test-project", "roles/owner", member))
	require.NoError(t, p.AddIAMMember(ctx, "test-project", "roles/owner", member))

	assert.Equal(t, 2, fake.setPolicy, "binding an existing member must not write the policy")
	require.Len(t, fake.policy.Bindings, 2)
	assert.Equal(t, []string{"user:me@example.com", member}, fake.policy.Bindings[0].Members)
	assert.Equal(t, binding{Role: "roles/storage.admin", Members: []string{member}}, fake.policy.Bindings[1])
}

func TestUpsertSchedulerJob(t *testing.T) {
	p, fake := newProvisioner(t)
	ctx := context.Background()
	spec := stack.SchedulerJobSpec{
		Project:                  "test-project",
		Region:                   "asia-northeast1",
		ID:                       "wakatime-downloader-cr",
		Schedule:                 "0 1 * * *",
		TimeZone:                 "Asia/Tokyo",
		HTTPMethod:               "POST",
		URI:                      "https://batch.googleapis.com/v1/projects/test-project/locations/asia-northeast1/jobs",
		Headers:                  map[string]string{"Content-Type": "application/json"},
		Body:                     "e30=",
		OAuthServiceAccountEmail: "sched@test-project.iam.gserviceaccount.com",
		OAuthScope:               "https://www.googleapis.com/auth/cloud-platform",
	}

	require.NoError(t, p.UpsertSchedulerJob(ctx, spec))
	job := fake.jobs["projects/test-project/locations/asia-northeast1/jobs/wakatime-downloader-cr"]
	require.NotNil(t, job)
	assert.Equal(t, "0 1 * * *", job["schedule"])
	assert.Equal(t, "Asia/Tokyo", job["timeZone"])
	target := job["httpTarget"].(map[string]any)
	assert.Equal(t, "e30=", target["body"])
	assert.Equal(t, "POST", target["httpMethod"])
	assert.Equal(t, "sched@test-project.iam.gserviceaccount.com", target["oauthToken"].(map[string]any)["serviceAccountEmail"])

	spec.Schedule = "0 2 * * *"
	require.NoError(t, p.UpsertSchedulerJob(ctx, spec))
	assert.Equal(t, 1, fake.patchCalls)
	assert.Equal(t, "0 2 * * *", fake.jobs["projects/test-project/locations/asia-northeast1/jobs/wakatime-downloader-cr"]["schedule"])
}

func TestApplyStackThroughAPIs(t *testing.T) {
	p, fake := newProvisioner(t)

	s, err := stackForTest()
	require.NoError(t, err)
	require.NoError(t, stack.Apply(context.Background(), s, p, newStore()))

	assert.Len(t, fake.accounts, 2)
	assert.Len(t, fake.jobs, 1)
	assert.NotEmpty(t, fake.policy.Bindings)
}
