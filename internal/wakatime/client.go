// Package wakatime is a small client for the WakaTime summaries API.
package wakatime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://wakatime.com/api/v1"
	// DefaultUserID is the account the scheduled job downloads.
	DefaultUserID = "52f058ec-e04e-436b-906d-eff6c461abf5"
	DateLayout    = "2006-01-02"
)

type Project struct {
	Name string `json:"name"`
}

type SummaryDay struct {
	Projects []Project `json:"projects"`
}

// Summaries is the typed view of a summaries response. Raw keeps the body as
// returned so nothing is lost when it is archived.
type Summaries struct {
	Data []SummaryDay    `json:"data"`
	Raw  json.RawMessage `json:"-"`
}

// Empty reports whether the response has no days at all. A day without
// projects is not empty.
func (s *Summaries) Empty() bool {
	return len(s.Data) == 0
}

// Projects lists the project names of the first day in the response.
func (s *Summaries) Projects() []string {
	if len(s.Data) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Data[0].Projects))
	for _, p := range s.Data[0].Projects {
		names = append(names, p.Name)
	}
	return names
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wakatime API returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SummariesURL builds the summaries URL for one day, optionally narrowed to
// a project.
func (c *Client) SummariesURL(userID, date, project string) (string, error) {
	u, err := url.Parse(fmt.Sprintf("%s/users/%s/summaries", c.baseURL, url.PathEscape(userID)))
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Add("api_key", c.apiKey)
	params.Add("start", date)
	params.Add("end", date)
	if project != "" {
		params.Add("project", project)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Summaries fetches the day's summary across all projects.
func (c *Client) Summaries(ctx context.Context, userID, date string) (*Summaries, error) {
	body, err := c.get(ctx, userID, date, "")
	if err != nil {
		return nil, err
	}
	var s Summaries
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("parsing summaries: %w", err)
	}
	s.Raw = body
	return &s, nil
}

// ProjectDetails fetches the day's summary of one project as raw JSON.
func (c *Client) ProjectDetails(ctx context.Context, userID, date, project string) (json.RawMessage, error) {
	body, err := c.get(ctx, userID, date, project)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("project %s: response is not JSON", project)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, userID, date, project string) ([]byte, error) {
	u, err := c.SummariesURL(userID, date, project)
	if err != nil {
		return nil, fmt.Errorf("building summaries url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The url carries the api key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("requesting summaries: %w", uerr.Err)
		}
		return nil, fmt.Errorf("requesting summaries: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading summaries: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
