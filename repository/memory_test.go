package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/repository"
)

func TestGetAgentCrossSessionIsolation(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	repo.SeedAgent(domain.Agent{ID: "a1", SessionID: "s1", Name: "root"}, "")

	_, err := repo.GetAgent(context.Background(), "s2", "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := repo.GetAgent(context.Background(), "s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "root", got.Name)
}

func TestSetParentCrossSessionViolation(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	repo.SeedAgent(domain.Agent{ID: "a1", SessionID: "s1"}, "")
	repo.SeedAgent(domain.Agent{ID: "b1", SessionID: "s2"}, "")

	err := repo.SetParent(context.Background(), "s1", "a1", "b1")
	assert.ErrorIs(t, err, domain.ErrCrossSessionViolation)
}

func TestSetParentWouldCreateCycle(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	repo.SeedAgent(domain.Agent{ID: "root", SessionID: "s1"}, "")
	repo.SeedAgent(domain.Agent{ID: "child", SessionID: "s1"}, "root")
	repo.SeedAgent(domain.Agent{ID: "grandchild", SessionID: "s1"}, "child")

	err := repo.SetParent(context.Background(), "s1", "root", "grandchild")
	assert.ErrorIs(t, err, domain.ErrWouldCreateCycle)

	err = repo.SetParent(context.Background(), "s1", "root", "root")
	assert.ErrorIs(t, err, domain.ErrWouldCreateCycle)
}

func TestGetAgentSubtreeBFS(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	repo.SeedAgent(domain.Agent{ID: "root", SessionID: "s1"}, "")
	repo.SeedAgent(domain.Agent{ID: "c1", SessionID: "s1"}, "root")
	repo.SeedAgent(domain.Agent{ID: "c2", SessionID: "s1"}, "root")
	repo.SeedAgent(domain.Agent{ID: "gc1", SessionID: "s1"}, "c1")

	agents, links, err := repo.GetAgentSubtree(context.Background(), "s1", "root")
	require.NoError(t, err)
	assert.Len(t, agents, 4)
	assert.Len(t, links, 3)
}

func TestRunLifecycle(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, domain.Run{ID: "r1", SessionID: "s1", RootID: "root", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, run.Status)

	_, err = repo.CreateRun(ctx, domain.Run{ID: "r1", SessionID: "s1"})
	assert.ErrorIs(t, err, domain.ErrRunAlreadyStarted)

	require.NoError(t, repo.UpdateRunStatus(ctx, "s1", "r1", domain.StatusRunning))
	require.NoError(t, repo.AppendRunLog(ctx, "s1", "r1", domain.LogEntry{AgentID: "root", Message: "started"}))
	require.NoError(t, repo.SetRunOutput(ctx, "s1", "r1", domain.RunOutput{Final: "done"}))

	got, err := repo.GetRun(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Len(t, got.Logs, 1)
	assert.Equal(t, "done", got.Output.Final)
}
