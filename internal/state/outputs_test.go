package state_test

import (
	"context"
	"testing"

	"github.com/sisisin/wakatime-go/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandReaderTrimsOutput(t *testing.T) {
	r := &state.CommandReader{Name: "echo", Args: []string{" "}}

	v, err := r.Output(context.Background(), "dl@p.iam.gserviceaccount.com")
	require.NoError(t, err)
	assert.Equal(t, "dl@p.iam.gserviceaccount.com", v)
}

func TestCommandReaderFailure(t *testing.T) {
	r := &state.CommandReader{Name: "false"}

	_, err := r.Output(context.Background(), "wakatimeDownloaderEmail")
	assert.Error(t, err)
}

func TestCommandReaderEmptyOutput(t *testing.T) {
	r := &state.CommandReader{Name: "true"}

	_, err := r.Output(context.Background(), "wakatimeDownloaderEmail")
	assert.ErrorIs(t, err, state.ErrOutputNotFound)
}

func TestNewPulumiReader(t *testing.T) {
	r := state.NewPulumiReader("dev")
	assert.Equal(t, "pulumi", r.Name)
	assert.Equal(t, []string{"stack", "output", "--stack", "dev"}, r.Args)

	var _ state.OutputReader = r
	var _ state.OutputReader = state.NewStore()
}
