package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sisisin/wakatime-go/internal/state"
)

// ErrNotApplied settles the outputs of resources skipped after a failure.
var ErrNotApplied = errors.New("resource not applied")

// Apply creates every resource of s in dependency order and records the
// results and stack outputs in store. Each output is recorded as soon as it
// resolves. The first failure stops the run; resources after it are not
// created and their outputs are rejected.
func Apply(ctx context.Context, s *Stack, p Provisioner, store *state.Store) error {
	order, err := s.Graph.Order()
	if err != nil {
		return err
	}

	for i, r := range order {
		logger := slog.With("resource", r.ResourceName(), "kind", r.ResourceKind())
		logger.Info("applying resource")

		outputs, err := r.apply(ctx, p)
		if err != nil {
			logger.Error("failed to apply resource", "error", err)
			skipped := fmt.Errorf("%w: %s failed", ErrNotApplied, r.ResourceName())
			for _, rest := range order[i+1:] {
				rest.fail(skipped)
			}
			return fmt.Errorf("applying %s: %w", r.ResourceName(), err)
		}

		store.SaveResource(&state.Resource{
			Name:      r.ResourceName(),
			Kind:      string(r.ResourceKind()),
			Outputs:   outputs,
			AppliedAt: time.Now().UTC(),
		})
		recordResolved(s, store)
	}

	for _, name := range s.OutputNames() {
		v, err := s.outputs[name].Await(ctx)
		if err != nil {
			return fmt.Errorf("resolving output %s: %w", name, err)
		}
		store.SetOutput(name, v)
	}
	return nil
}

func recordResolved(s *Stack, store *state.Store) {
	for _, name := range s.OutputNames() {
		if v, ok, err := s.outputs[name].Peek(); ok && err == nil {
			store.SetOutput(name, v)
		}
	}
}
