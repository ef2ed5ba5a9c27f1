package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/orchestrator/coordinator"
	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/executor"
	"github.com/riverrun-ai/orchestrator/llm/mockllm"
	"github.com/riverrun-ai/orchestrator/repository"
	"github.com/riverrun-ai/orchestrator/sse"
	"github.com/riverrun-ai/orchestrator/treecache"
)

func drain(t *testing.T, frames <-chan sse.Frame, timeout time.Duration) []sse.Frame {
	t.Helper()
	var got []sse.Frame
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return got
			}
			got = append(got, f)
		case <-deadline:
			t.Fatal("timed out draining frames")
			return got
		}
	}
}

func TestStartRunCompletesAndPersistsOutput(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	repo.SeedAgent(domain.Agent{ID: "root", SessionID: "s1", Role: "coordinator"}, "")

	client := mockllm.New(false)
	client.AddResponse("please help", "root answer")

	cache := treecache.New(repo, client, nil)
	exec := executor.New(client, executor.Options{AgentTimeout: time.Second})
	coord := coordinator.New(repo, cache, exec, client, coordinator.Options{RunTimeout: 5 * time.Second})

	runID, frames, err := coord.StartRun(context.Background(), "s1", "root", "test-key", "", domain.RunInput{Prompt: "please help"})
	require.NoError(t, err)

	got := drain(t, frames, 5*time.Second)
	var sawConnected, sawCompleted, sawLog bool
	for _, f := range got {
		switch f.Event {
		case string(domain.EventConnected):
			sawConnected = true
		case string(domain.EventCompleted):
			sawCompleted = true
			assert.Contains(t, string(f.Data), "root answer")
		case string(domain.EventLog):
			sawLog = true
		}
	}
	assert.True(t, sawConnected, "expected a connected frame")
	assert.True(t, sawCompleted, "expected a completed frame")
	assert.True(t, sawLog, "expected a log frame")

	run, err := repo.GetRun(context.Background(), "s1", runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)
	assert.Equal(t, "root answer", run.Output.Final)
}

func TestStartRunIdempotentOnDuplicateID(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	repo.SeedAgent(domain.Agent{ID: "root", SessionID: "s1"}, "")
	client := mockllm.New(false)
	cache := treecache.New(repo, client, nil)
	exec := executor.New(client, executor.Options{AgentTimeout: time.Second})
	coord := coordinator.New(repo, cache, exec, client, coordinator.Options{RunTimeout: 5 * time.Second})

	ctx := context.Background()
	runID, frames, err := coord.StartRun(ctx, "s1", "root", "key", "fixed-run-id", domain.RunInput{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-run-id", runID)
	drain(t, frames, 5*time.Second)

	_, _, err = coord.StartRun(ctx, "s1", "root", "key", "fixed-run-id", domain.RunInput{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrRunAlreadyStarted)
}
