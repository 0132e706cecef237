package wakatime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisisin/wakatime-go/internal/wakatime"
)

func TestSummariesURL(t *testing.T) {
	c := wakatime.NewClient("key-1")

	u, err := c.SummariesURL("user-1", "2024-03-02", "")
	require.NoError(t, err)
	assert.Equal(t, "https://wakatime.com/api/v1/users/user-1/summaries?api_key=key-1&end=2024-03-02&start=2024-03-02", u)

	u, err = c.SummariesURL("user-1", "2024-03-02", "my project")
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "my project", parsed.Query().Get("project"))
}

func fakeAPI(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *wakatime.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return wakatime.NewClient("key-1", wakatime.WithBaseURL(srv.URL+"/"), wakatime.WithHTTPClient(srv.Client()))
}

func TestSummaries(t *testing.T) {
	const body = `{"data":[{"projects":[{"name":"a","total_seconds":10},{"name":"b"}]}],"cumulative_total":{"seconds":10}}`
	c := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/user-1/summaries", r.URL.Path)
		assert.Equal(t, "key-1", r.URL.Query().Get("api_key"))
		assert.Equal(t, "2024-03-02", r.URL.Query().Get("start"))
		assert.Empty(t, r.URL.Query().Get("project"))
		_, _ = w.Write([]byte(body))
	})

	s, err := c.Summaries(context.Background(), "user-1", "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Projects())
	assert.JSONEq(t, body, string(s.Raw))
}

func TestSummariesEmpty(t *testing.T) {
	c := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	s, err := c.Summaries(context.Background(), "user-1", "2024-03-02")
	require.NoError(t, err)
	assert.True(t, s.Empty())
	assert.Empty(t, s.Projects())
}

func TestSummariesDayWithoutProjects(t *testing.T) {
	s := &wakatime.Summaries{Data: []wakatime.SummaryDay{{}}}
	assert.False(t, s.Empty())
	assert.Empty(t, s.Projects())
}

func TestProjectDetails(t *testing.T) {
	c := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("project") {
		case "a":
			_, _ = w.Write([]byte(`{"data":[{"entities":[]}]}`))
		default:
			_, _ = w.Write([]byte(`<html>`))
		}
	})

	raw, err := c.ProjectDetails(context.Background(), "user-1", "2024-03-02", "a")
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))

	_, err = c.ProjectDetails(context.Background(), "user-1", "2024-03-02", "b")
	assert.Error(t, err)
}

func TestAPIError(t *testing.T) {
	c := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := c.Summaries(context.Background(), "user-1", "2024-03-02")
	var apiErr *wakatime.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Body)
}
