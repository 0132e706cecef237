package state

import "time"

// Resource records a declared cloud resource after it was applied.
type Resource struct {
	// Logical name in the stack, e.g. "wakatime-cr-downloader".
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"`
	Outputs   map[string]string `yaml:"outputs,omitempty"`
	AppliedAt time.Time         `yaml:"appliedAt"`
}

// Output returns one of the resource's recorded outputs.
func (r *Resource) Output(key string) (string, bool) {
	v, ok := r.Outputs[key]
	return v, ok
}
