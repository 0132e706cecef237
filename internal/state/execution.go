package state

import (
	"strings"
	"sync"
	"time"
)

type ExecutionStatus int

const (
	StatusPending ExecutionStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Execution is one local run of a job request.
type Execution struct {
	// jobs/{job}/executions/{execution}
	Name       string
	Image      string
	Entrypoint string
	Commands   []string
	CPUMilli   int
	MemoryMiB  int
	// MaxRetryCount retries follow the first attempt.
	MaxRetryCount int
	// Timeout bounds each attempt. Zero means no bound.
	Timeout time.Duration

	mu sync.RWMutex
	// Progress is written by the executor while the execution runs. Read it
	// through Snapshot unless the run has returned.
	Progress
}

// Progress is the part of an execution that changes while it runs.
type Progress struct {
	Status         ExecutionStatus
	Attempts       int
	StartTime      time.Time
	CompletionTime time.Time
	SucceededCount int32
	FailedCount    int32
	ErrorMessage   string
	ContainerID    string // Docker container ID, used for cancellation
}

// Update applies fn to the progress under the execution lock.
func (e *Execution) Update(fn func(p *Progress)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.Progress)
}

// Snapshot returns a copy of the current progress.
func (e *Execution) Snapshot() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Progress
}

// JobName returns the job part of the execution name.
func (e *Execution) JobName() string {
	name, _, _ := strings.Cut(e.Name, "/executions/")
	return name
}
