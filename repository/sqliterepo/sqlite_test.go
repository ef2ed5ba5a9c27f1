package sqliterepo_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/repository/sqliterepo"
)

func openTestRepo(t *testing.T) *sqliterepo.Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.db")
	repo, err := sqliterepo.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSqliteRunLifecycle(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateRun(ctx, domain.Run{ID: "r1", SessionID: "s1", RootID: "root"})
	require.NoError(t, err)

	_, err = repo.CreateRun(ctx, domain.Run{ID: "r1", SessionID: "s1", RootID: "root"})
	assert.ErrorIs(t, err, domain.ErrRunAlreadyStarted)

	require.NoError(t, repo.UpdateRunStatus(ctx, "s1", "r1", domain.StatusCompleted))
	require.NoError(t, repo.AppendRunLog(ctx, "s1", "r1", domain.LogEntry{AgentID: "root", Message: "done"}))
	require.NoError(t, repo.SetRunOutput(ctx, "s1", "r1", domain.RunOutput{
		Final:    "final answer",
		PerAgent: map[string]string{"root": "final answer"},
	}))

	run, err := repo.GetRun(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)
	assert.Equal(t, "final answer", run.Output.Final)
	assert.Len(t, run.Logs, 1)
}

func TestSqliteSetParentCycleDetection(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateAgent(ctx, domain.Agent{ID: "root", SessionID: "s1", Name: "root"}))
	require.NoError(t, repo.CreateAgent(ctx, domain.Agent{ID: "child", SessionID: "s1", Name: "child"}))
	require.NoError(t, repo.SetParent(ctx, "s1", "child", "root"))

	err := repo.SetParent(ctx, "s1", "root", "child")
	assert.ErrorIs(t, err, domain.ErrWouldCreateCycle)
}
