// Package jobbody builds the Cloud Batch job request that runs the wakatime
// downloader, and its base64 form used as a Cloud Scheduler HTTP body.
package jobbody

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sisisin/wakatime-go/internal/deferred"
)

const (
	DefaultImageURI   = "sisisin/wakatime-go:20240303-122753"
	DefaultEntrypoint = "/app/main"
	DefaultSecretEnv  = "WAKATIME_KEY"
	DefaultSecretRef  = "projects/260114795237/secrets/wakatime-wakatime-key/versions/1"

	CPUMilli        = 500
	MemoryMiB       = 200
	MaxRetryCount   = 1
	MaxRunDuration  = "3600s"
	TaskCount       = 1
	Parallelism     = 1
	MachineType     = "e2-micro"
	LogsDestination = "CLOUD_LOGGING"
)

// Template holds the parts of the request that are deployment configuration
// rather than per-call input.
type Template struct {
	ImageURI        string
	Entrypoint      string
	SecretVariables map[string]string
}

func DefaultTemplate() Template {
	return Template{
		ImageURI:        DefaultImageURI,
		Entrypoint:      DefaultEntrypoint,
		SecretVariables: map[string]string{DefaultSecretEnv: DefaultSecretRef},
	}
}

// Build returns a request that runs as email with the given container
// commands, using DefaultTemplate.
func Build(email string, commands ...string) JobRequest {
	return DefaultTemplate().Build(email, commands...)
}

// Build returns a request that runs as email with the given container
// commands. email is not validated; the Batch API is the authority on it.
func (t Template) Build(email string, commands ...string) JobRequest {
	cmds := make([]string, len(commands))
	copy(cmds, commands)

	secrets := make(map[string]string, len(t.SecretVariables))
	for k, v := range t.SecretVariables {
		secrets[k] = v
	}

	return JobRequest{
		TaskGroups: []TaskGroup{
			{
				TaskSpec: TaskSpec{
					Runnables: []Runnable{
						{Container: Container{ImageURI: t.ImageURI, Entrypoint: t.Entrypoint, Commands: cmds}},
					},
					Environment:     Environment{SecretVariables: secrets},
					ComputeResource: ComputeResource{CPUMilli: CPUMilli, MemoryMiB: MemoryMiB},
					MaxRetryCount:   MaxRetryCount,
					MaxRunDuration:  MaxRunDuration,
				},
				TaskCount:   TaskCount,
				Parallelism: Parallelism,
			},
		},
		AllocationPolicy: AllocationPolicy{
			Instances:      []InstancePolicyOrTemplate{{Policy: InstancePolicy{MachineType: MachineType}}},
			ServiceAccount: ServiceAccount{Email: email},
		},
		Labels:     map[string]string{},
		LogsPolicy: LogsPolicy{Destination: LogsDestination},
	}
}

// Encode returns base64(JSON(r)).
func Encode(r JobRequest) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshaling job request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode.
func Decode(s string) (JobRequest, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return JobRequest{}, fmt.Errorf("decoding base64 job request: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal parses the JSON form written by MarshalIndent.
func Unmarshal(data []byte) (JobRequest, error) {
	var r JobRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return JobRequest{}, fmt.Errorf("parsing job request: %w", err)
	}
	return r, nil
}

// MarshalIndent renders r as two-space indented JSON.
func MarshalIndent(r JobRequest) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling job request: %w", err)
	}
	return data, nil
}

// EncodeOutput is Build followed by Encode for an identity that is not known
// yet, using DefaultTemplate.
func EncodeOutput(email *deferred.Output[string], commands ...string) *deferred.Output[string] {
	return DefaultTemplate().EncodeOutput(email, commands...)
}

// EncodeOutput is Build followed by Encode, run once email resolves.
// A rejected email yields a rejected body with the same error.
func (t Template) EncodeOutput(email *deferred.Output[string], commands ...string) *deferred.Output[string] {
	cmds := append([]string(nil), commands...)
	return deferred.Apply(email, func(e string) (string, error) {
		return Encode(t.Build(e, cmds...))
	})
}
