package state

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// OutputReader reads a published stack output by name.
type OutputReader interface {
	Output(ctx context.Context, name string) (string, error)
}

// CommandReader reads outputs by running an external CLI, by default
// `pulumi stack output <name>`.
type CommandReader struct {
	Name string
	Args []string
}

func NewPulumiReader(stack string) *CommandReader {
	args := []string{"stack", "output"}
	if stack != "" {
		args = append(args, "--stack", stack)
	}
	return &CommandReader{Name: "pulumi", Args: args}
}

func (r *CommandReader) Output(ctx context.Context, name string) (string, error) {
	args := append(append([]string(nil), r.Args...), name)
	cmd := exec.CommandContext(ctx, r.Name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running %s %s: %w: %s", r.Name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrOutputNotFound, name)
	}
	return v, nil
}
