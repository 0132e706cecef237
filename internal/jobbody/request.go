package jobbody

import (
	"fmt"
	"time"
)

// JobRequest is the body of a Cloud Batch jobs.create call.
// Field order matches the order the fields are serialized in.
type JobRequest struct {
	TaskGroups       []TaskGroup       `json:"taskGroups" yaml:"taskGroups"`
	AllocationPolicy AllocationPolicy  `json:"allocationPolicy" yaml:"allocationPolicy"`
	Labels           map[string]string `json:"labels" yaml:"labels"`
	LogsPolicy       LogsPolicy        `json:"logsPolicy" yaml:"logsPolicy"`
}

type TaskGroup struct {
	TaskSpec    TaskSpec `json:"taskSpec" yaml:"taskSpec"`
	TaskCount   int      `json:"taskCount" yaml:"taskCount"`
	Parallelism int      `json:"parallelism" yaml:"parallelism"`
}

type TaskSpec struct {
	Runnables       []Runnable      `json:"runnables" yaml:"runnables"`
	Environment     Environment     `json:"environment" yaml:"environment"`
	ComputeResource ComputeResource `json:"computeResource" yaml:"computeResource"`
	MaxRetryCount   int             `json:"maxRetryCount" yaml:"maxRetryCount"`
	MaxRunDuration  string          `json:"maxRunDuration" yaml:"maxRunDuration"`
}

type Runnable struct {
	Container Container `json:"container" yaml:"container"`
}

type Container struct {
	ImageURI   string   `json:"imageUri" yaml:"imageUri"`
	Entrypoint string   `json:"entrypoint" yaml:"entrypoint"`
	Commands   []string `json:"commands" yaml:"commands"`
}

type Environment struct {
	// SecretVariables maps env var names to Secret Manager version names.
	SecretVariables map[string]string `json:"secretVariables" yaml:"secretVariables"`
}

type ComputeResource struct {
	CPUMilli  int `json:"cpuMilli" yaml:"cpuMilli"`
	MemoryMiB int `json:"memoryMib" yaml:"memoryMib"`
}

type AllocationPolicy struct {
	Instances      []InstancePolicyOrTemplate `json:"instances" yaml:"instances"`
	ServiceAccount ServiceAccount             `json:"serviceAccount" yaml:"serviceAccount"`
}

type InstancePolicyOrTemplate struct {
	Policy InstancePolicy `json:"policy" yaml:"policy"`
}

type InstancePolicy struct {
	MachineType string `json:"machineType" yaml:"machineType"`
}

type ServiceAccount struct {
	Email string `json:"email" yaml:"email"`
}

type LogsPolicy struct {
	Destination string `json:"destination" yaml:"destination"`
}

// Runnable returns the first runnable of the first task group.
func (r JobRequest) Runnable() (Runnable, error) {
	if len(r.TaskGroups) == 0 || len(r.TaskGroups[0].TaskSpec.Runnables) == 0 {
		return Runnable{}, fmt.Errorf("job request has no runnable")
	}
	return r.TaskGroups[0].TaskSpec.Runnables[0], nil
}

// Spec returns the task spec of the first task group.
func (r JobRequest) Spec() (TaskSpec, error) {
	if len(r.TaskGroups) == 0 {
		return TaskSpec{}, fmt.Errorf("job request has no task group")
	}
	return r.TaskGroups[0].TaskSpec, nil
}

// MaxRunDuration parses the task's maxRunDuration ("3600s").
func (r JobRequest) MaxRunDuration() (time.Duration, error) {
	spec, err := r.Spec()
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(spec.MaxRunDuration)
	if err != nil {
		return 0, fmt.Errorf("parsing maxRunDuration %q: %w", spec.MaxRunDuration, err)
	}
	return d, nil
}
