package gcpapi_test

import (
	"github.com/sisisin/wakatime-go/internal/config"
	"github.com/sisisin/wakatime-go/internal/jobbody"
	"github.com/sisisin/wakatime-go/internal/stack"
	"github.com/sisisin/wakatime-go/internal/state"
)

func stackForTest() (*stack.Stack, error) {
	tmpl := jobbody.DefaultTemplate()
	cfg := &config.Config{Project: "test-project", Region: "asia-northeast1"}
	cfg.Job = config.JobDefinition{Image: tmpl.ImageURI, Entrypoint: tmpl.Entrypoint, SecretVariables: tmpl.SecretVariables}
	cfg.Schedule = config.ScheduleDefinition{
		Cron:       "0 1 * * *",
		TimeZone:   "Asia/Tokyo",
		Target:     config.TargetBatch,
		OAuthScope: "https://www.googleapis.com/auth/cloud-platform",
	}
	cfg.Roles = config.RolesDefinition{
		Downloader: []string{"roles/storage.admin"},
		Scheduler:  []string{"roles/batch.jobsEditor"},
	}
	return stack.Declare(cfg)
}

func newStore() *state.Store { return state.NewStore() }
