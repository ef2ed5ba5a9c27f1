// Package repository implements the Agent Repository (C2): session-scoped
// storage for agents, links and runs with strict cross-session isolation
// and cycle prevention on re-parenting.
package repository

import (
	"context"

	"github.com/riverrun-ai/orchestrator/domain"
)

// Repository is the storage contract used by the rest of the orchestrator.
// Every method takes the caller's sessionID and must reject any read or
// write that would cross a session boundary.
type Repository interface {
	GetAgent(ctx context.Context, sessionID, agentID string) (*domain.Agent, error)
	GetChildren(ctx context.Context, sessionID, agentID string) ([]domain.Agent, error)
	GetAgentSubtree(ctx context.Context, sessionID, rootID string) ([]domain.Agent, []domain.Link, error)

	SetParent(ctx context.Context, sessionID, childID, parentID string) error

	CreateRun(ctx context.Context, run domain.Run) (*domain.Run, error)
	GetRun(ctx context.Context, sessionID, runID string) (*domain.Run, error)
	UpdateRunStatus(ctx context.Context, sessionID, runID string, status domain.RunStatus) error
	AppendRunLog(ctx context.Context, sessionID, runID string, entry domain.LogEntry) error
	SetRunOutput(ctx context.Context, sessionID, runID string, output domain.RunOutput) error
}
