package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/executor"
	"github.com/riverrun-ai/orchestrator/llm/mockllm"
)

func simpleSnapshot() *domain.AgentTreeSnapshot {
	return &domain.AgentTreeSnapshot{
		Nodes: map[string]*domain.TreeNode{
			"root": {
				Agent:      domain.Agent{ID: "root", Role: "coordinator"},
				Capability: domain.Capability{Keywords: []string{"coordinator"}},
				Children:   []string{"billing"},
				Depth:      0,
			},
			"billing": {
				Agent:      domain.Agent{ID: "billing", Role: "billing"},
				Capability: domain.Capability{Keywords: []string{"refund", "payment"}},
				Depth:      1,
			},
		},
	}
}

func TestExecuteRunsRootAndDelegatesToMatchingChild(t *testing.T) {
	client := mockllm.New(false)
	client.AddResponse("please process my refund", "root handled it")
	client.AddResponse("root handled it", "billing handled it")

	exec := executor.New(client, executor.Options{MaxDepth: 3, MaxParallelPerRun: 2, AgentTimeout: time.Second})

	events, resultCh := exec.Execute(context.Background(), "run1", simpleSnapshot(), "root", "please process my refund", nil, nil, "key")

	var kinds []domain.EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	result := <-resultCh

	require.NoError(t, result.Err)
	assert.Equal(t, "root handled it", result.PerAgentOutput["root"])
	assert.Equal(t, "billing handled it", result.PerAgentOutput["billing"])
	assert.Contains(t, kinds, domain.EventDelegation)
	assert.Contains(t, kinds, domain.EventOutput)
}

func TestExecuteRespectsMaxDepth(t *testing.T) {
	client := mockllm.New(false)
	exec := executor.New(client, executor.Options{MaxDepth: 1, AgentTimeout: time.Second})

	// The task matches billing's keywords, so the router selects it; only the
	// depth limit keeps it from running.
	events, resultCh := exec.Execute(context.Background(), "run1", simpleSnapshot(), "root", "please process my refund", nil, nil, "key")
	for range events {
	}
	result := <-resultCh
	require.NoError(t, result.Err)
	_, delegated := result.PerAgentOutput["billing"]
	assert.False(t, delegated)
}

func TestExecuteCancelledContext(t *testing.T) {
	client := mockllm.New(false)
	exec := executor.New(client, executor.Options{AgentTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, resultCh := exec.Execute(ctx, "run1", simpleSnapshot(), "root", "anything", nil, nil, "key")
	for range events {
	}
	result := <-resultCh
	assert.Error(t, result.Err)
}
