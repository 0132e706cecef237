package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/sisisin/wakatime-go/internal/jobbody"
)

const (
	TargetBatch    = "batch"
	TargetCloudRun = "cloudrun"
)

// JobDefinition is the job template part of the stack file.
type JobDefinition struct {
	Image           string            `yaml:"image"`
	Entrypoint      string            `yaml:"entrypoint"`
	SecretVariables map[string]string `yaml:"secretVariables"`
	// Commands are passed to the container by the scheduled trigger.
	Commands []string `yaml:"commands"`
}

type ScheduleDefinition struct {
	Cron       string `yaml:"cron"`
	TimeZone   string `yaml:"timeZone"`
	Target     string `yaml:"target"`
	RunJobName string `yaml:"runJobName"`
	OAuthScope string `yaml:"oauthScope"`
}

type RolesDefinition struct {
	Downloader []string `yaml:"downloader"`
	Scheduler  []string `yaml:"scheduler"`
}

// StackFile is the YAML document at STACK_CONFIG.
type StackFile struct {
	Project       string             `yaml:"project"`
	Region        string             `yaml:"region"`
	ProjectNumber string             `yaml:"projectNumber"`
	Job           JobDefinition      `yaml:"job"`
	Schedule      ScheduleDefinition `yaml:"schedule"`
	Roles         RolesDefinition    `yaml:"roles"`
}

type Config struct {
	LogLevel      string
	StackFile     string
	StateFile     string
	Executor      string
	DryRun        bool
	Project       string
	Region        string
	ProjectNumber string
	Job           JobDefinition
	Schedule      ScheduleDefinition
	Roles         RolesDefinition

	// Port is where the local Cloud Run Jobs endpoint listens.
	Port string

	// CloudRunEndpoint overrides the Cloud Run API address, e.g.
	// localhost:8123 for the local endpoint.
	CloudRunEndpoint string
}

func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		StackFile: getEnv("STACK_CONFIG", "./stack.yaml"),
		StateFile: getEnv("STATE_FILE", ".out/state.yaml"),
		Executor:  getEnv("EXECUTOR", "docker"),
		DryRun:    getEnvBool("DRY_RUN", false),
		Port:      getEnv("PORT", "8123"),

		CloudRunEndpoint: getEnv("CLOUD_RUN_ENDPOINT", ""),
	}

	stack, err := loadStackFile(cfg.StackFile)
	if err != nil {
		return nil, fmt.Errorf("loading stack config: %w", err)
	}

	cfg.Project = getEnv("GCP_PROJECT", stack.Project)
	cfg.Region = getEnv("GCP_REGION", stack.Region)
	cfg.ProjectNumber = getEnv("GCP_PROJECT_NUMBER", stack.ProjectNumber)
	cfg.Job = stack.Job
	cfg.Schedule = stack.Schedule
	cfg.Roles = stack.Roles
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	tmpl := jobbody.DefaultTemplate()
	if c.Job.Image == "" {
		c.Job.Image = tmpl.ImageURI
	}
	if c.Job.Entrypoint == "" {
		c.Job.Entrypoint = tmpl.Entrypoint
	}
	if c.Job.SecretVariables == nil {
		c.Job.SecretVariables = tmpl.SecretVariables
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 1 * * *"
	}
	if c.Schedule.TimeZone == "" {
		c.Schedule.TimeZone = "Asia/Tokyo"
	}
	if c.Schedule.Target == "" {
		c.Schedule.Target = TargetBatch
	}
	if c.Schedule.RunJobName == "" {
		c.Schedule.RunJobName = "wakatime-downloader"
	}
	if c.Schedule.OAuthScope == "" {
		c.Schedule.OAuthScope = "https://www.googleapis.com/auth/cloud-platform"
	}
	if c.Roles.Downloader == nil {
		c.Roles.Downloader = []string{
			"roles/storage.admin",
			"roles/secretmanager.secretAccessor",
			"roles/batch.agentReporter",
			"roles/logging.logWriter",
		}
	}
	if c.Roles.Scheduler == nil {
		switch c.Schedule.Target {
		case TargetCloudRun:
			c.Roles.Scheduler = []string{"roles/run.invoker"}
		default:
			c.Roles.Scheduler = []string{"roles/batch.jobsEditor", "roles/iam.serviceAccountUser"}
		}
	}
}

// Template returns the job template described by the stack file.
func (c *Config) Template() jobbody.Template {
	return jobbody.Template{
		ImageURI:        c.Job.Image,
		Entrypoint:      c.Job.Entrypoint,
		SecretVariables: c.Job.SecretVariables,
	}
}

// Validate checks what is needed to declare the stack.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project is required (stack file or GCP_PROJECT)")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required (stack file or GCP_REGION)")
	}
	switch c.Schedule.Target {
	case TargetBatch:
	case TargetCloudRun:
		if c.ProjectNumber == "" {
			return fmt.Errorf("projectNumber is required for the %s target", TargetCloudRun)
		}
	default:
		return fmt.Errorf("unknown schedule target %q", c.Schedule.Target)
	}
	if _, err := time.LoadLocation(c.Schedule.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.Schedule.TimeZone, err)
	}
	if len(strings.Fields(c.Schedule.Cron)) != 5 {
		return fmt.Errorf("cron %q must have five fields", c.Schedule.Cron)
	}
	return nil
}

func loadStackFile(path string) (*StackFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No stack file is fine - everything can come from the environment
			return &StackFile{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var sf StackFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &sf, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
