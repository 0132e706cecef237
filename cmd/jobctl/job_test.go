package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisisin/wakatime-go/internal/jobbody"
	"github.com/sisisin/wakatime-go/internal/stack"
	"github.com/sisisin/wakatime-go/internal/state"
)

func TestWriteJobConfig(t *testing.T) {
	store := state.NewStore()
	store.SetOutput(stack.OutputDownloaderEmail, "dl@example.iam.gserviceaccount.com")
	path := filepath.Join(t.TempDir(), ".out", "jobConfig.json")

	err := writeJobConfig(context.Background(), store, jobbody.DefaultTemplate(), "2024-03-02", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"taskGroups\": ["), "2-space indented JSON")

	r, err := jobbody.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "dl@example.iam.gserviceaccount.com", r.AllocationPolicy.ServiceAccount.Email)
	runnable, err := r.Runnable()
	require.NoError(t, err)
	assert.Equal(t, []string{"--target-date", "2024-03-02"}, runnable.Container.Commands)
	assert.Equal(t, jobbody.Build("dl@example.iam.gserviceaccount.com", "--target-date", "2024-03-02"), r)
}

func TestWriteJobConfigMissingOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobConfig.json")

	err := writeJobConfig(context.Background(), state.NewStore(), jobbody.DefaultTemplate(), "2024-03-02", path)
	require.ErrorIs(t, err, state.ErrOutputNotFound)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJobConfigInvalidDate(t *testing.T) {
	store := state.NewStore()
	store.SetOutput(stack.OutputDownloaderEmail, "dl@example.iam.gserviceaccount.com")

	err := writeJobConfig(context.Background(), store, jobbody.DefaultTemplate(), "2024/03/02", filepath.Join(t.TempDir(), "x.json"))
	assert.Error(t, err)
}
