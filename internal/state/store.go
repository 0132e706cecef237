package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrOutputNotFound = errors.New("stack output not found")

// Store is a thread-safe store for applied resources, stack outputs and
// local executions. Resources and outputs can be persisted to a YAML file.
type Store struct {
	mu         sync.RWMutex
	resources  map[string]*Resource  // keyed by logical name
	outputs    map[string]string     // keyed by stack output name
	executions map[string]*Execution // keyed by full execution name
}

func NewStore() *Store {
	return &Store{
		resources:  make(map[string]*Resource),
		outputs:    make(map[string]string),
		executions: make(map[string]*Execution),
	}
}

// SaveResource stores an applied resource.
func (s *Store) SaveResource(r *Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.Name] = r
}

// GetResource retrieves a resource by logical name.
func (s *Store) GetResource(name string) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[name]
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", name)
	}
	return r, nil
}

// ListResources returns resources sorted by name, optionally filtered by kind.
func (s *Store) ListResources(kind string) []*Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Resource
	for _, r := range s.resources {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetOutput publishes a stack output.
func (s *Store) SetOutput(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[name] = value
}

// Output returns a published stack output. It implements OutputReader.
func (s *Store) Output(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.outputs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOutputNotFound, name)
	}
	return v, nil
}

// Outputs returns a copy of all stack outputs.
func (s *Store) Outputs() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// SaveExecution stores an execution record.
func (s *Store) SaveExecution(exec *Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.Name] = exec
}

// GetExecution retrieves an execution by full name.
func (s *Store) GetExecution(name string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[name]
	if !ok {
		return nil, fmt.Errorf("execution not found: %s", name)
	}
	return exec, nil
}

// ListExecutions returns executions for a given job name.
func (s *Store) ListExecutions(jobName string) []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var execs []*Execution
	for _, exec := range s.executions {
		if strings.HasPrefix(exec.Name, jobName+"/executions/") {
			execs = append(execs, exec)
		}
	}
	return execs
}

// snapshot is the on-disk form. Executions are not persisted.
type snapshot struct {
	Outputs   map[string]string `yaml:"outputs"`
	Resources []*Resource       `yaml:"resources"`
}

// Save writes resources and outputs to path, creating parent directories.
func (s *Store) Save(path string) error {
	snap := snapshot{
		Outputs:   s.Outputs(),
		Resources: s.ListResources(""),
	}
	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a store previously written with Save.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	s := NewStore()
	for k, v := range snap.Outputs {
		s.outputs[k] = v
	}
	for _, r := range snap.Resources {
		s.resources[r.Name] = r
	}
	return s, nil
}

// LoadOrNew loads path, or returns an empty store if it does not exist yet.
func LoadOrNew(path string) (*Store, error) {
	s, err := LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewStore(), nil
	}
	return s, err
}
