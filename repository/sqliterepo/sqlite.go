// Package sqliterepo is a durable repository.Repository backed by SQLite,
// the alternative backend to repository.InMemoryRepository for deployments
// that need runs to survive a process restart.
package sqliterepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/repository"
)

// Repository implements repository.Repository against a SQLite database.
type Repository struct {
	db *sql.DB
}

var _ repository.Repository = (*Repository)(nil)

// Open creates or opens a SQLite database at path and applies the schema.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqliterepo: open: %w", err)
	}
	if _, err := db.Exec(pragmas); err != nil {
		return nil, fmt.Errorf("sqliterepo: pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqliterepo: schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateAgent inserts a new agent row. Agent/session/link CRUD itself sits
// outside the orchestrator's scope (spec.md Non-goals); this helper exists
// only so callers (demo wiring, tests) can seed a tree for the orchestrator
// to execute against.
func (r *Repository) CreateAgent(ctx context.Context, agent domain.Agent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO agents (id, session_id, name, role, system_text, model, temperature, max_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.SessionID, agent.Name, agent.Role, agent.SystemText,
		agent.Parameters.Model, agent.Parameters.Temperature, agent.Parameters.MaxTokens)
	if err != nil {
		return fmt.Errorf("sqliterepo: create agent: %w", err)
	}
	return nil
}

// GetAgent implements repository.Repository.
func (r *Repository) GetAgent(ctx context.Context, sessionID, agentID string) (*domain.Agent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, name, role, system_text, model, temperature, max_tokens, created_at, updated_at
		 FROM agents WHERE id = ? AND session_id = ?`, agentID, sessionID)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// GetChildren implements repository.Repository.
func (r *Repository) GetChildren(ctx context.Context, sessionID, agentID string) ([]domain.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.session_id, a.name, a.role, a.system_text, a.model, a.temperature, a.max_tokens, a.created_at, a.updated_at
		 FROM agents a JOIN links l ON l.child_id = a.id
		 WHERE l.parent_id = ? AND a.session_id = ?`, agentID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqliterepo: get children: %w", err)
	}
	defer rows.Close()

	var children []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, *agent)
	}
	return children, rows.Err()
}

// GetAgentSubtree implements repository.Repository via an iterative BFS
// driven by repeated per-level child lookups.
func (r *Repository) GetAgentSubtree(ctx context.Context, sessionID, rootID string) ([]domain.Agent, []domain.Link, error) {
	root, err := r.GetAgent(ctx, sessionID, rootID)
	if err != nil {
		return nil, nil, err
	}

	agents := []domain.Agent{*root}
	var links []domain.Link
	visited := map[string]bool{rootID: true}
	queue := []string{rootID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := r.GetChildren(ctx, sessionID, current)
		if err != nil {
			return nil, nil, err
		}
		for _, child := range children {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			agents = append(agents, child)
			links = append(links, domain.Link{SessionID: sessionID, ParentID: current, ChildID: child.ID})
			queue = append(queue, child.ID)
		}
	}

	return agents, links, nil
}

// SetParent implements repository.Repository, rejecting cross-session
// assignment and cycle-creating re-parenting.
func (r *Repository) SetParent(ctx context.Context, sessionID, childID, parentID string) error {
	if childID == parentID {
		return domain.ErrWouldCreateCycle
	}

	child, err := r.GetAgent(ctx, sessionID, childID)
	if err != nil {
		return err
	}
	parent, err := r.GetAgent(ctx, sessionID, parentID)
	if errors.Is(err, domain.ErrNotFound) {
		// A parent that exists under another session makes this a
		// cross-session assignment rather than a missing row.
		var n int
		if qerr := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE id = ?`, parentID).Scan(&n); qerr == nil && n > 0 {
			return domain.ErrCrossSessionViolation
		}
	}
	if err != nil {
		return err
	}
	if child.SessionID != sessionID || parent.SessionID != sessionID {
		return domain.ErrCrossSessionViolation
	}

	cursor := parentID
	for {
		var next string
		err := r.db.QueryRowContext(ctx, `SELECT parent_id FROM links WHERE child_id = ?`, cursor).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return fmt.Errorf("sqliterepo: ancestor walk: %w", err)
		}
		if next == childID {
			return domain.ErrWouldCreateCycle
		}
		cursor = next
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO links (child_id, session_id, parent_id) VALUES (?, ?, ?)
		 ON CONFLICT(child_id) DO UPDATE SET parent_id = excluded.parent_id`,
		childID, sessionID, parentID)
	if err != nil {
		return fmt.Errorf("sqliterepo: set parent: %w", err)
	}
	return nil
}

// CreateRun implements repository.Repository.
func (r *Repository) CreateRun(ctx context.Context, run domain.Run) (*domain.Run, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, root_id, status, prompt, task) VALUES (?, ?, ?, 'pending', ?, ?)`,
		run.ID, run.SessionID, run.RootID, run.Input.Prompt, run.Input.Task)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrRunAlreadyStarted
		}
		return nil, fmt.Errorf("sqliterepo: create run: %w", err)
	}
	return r.GetRun(ctx, run.SessionID, run.ID)
}

// GetRun implements repository.Repository.
func (r *Repository) GetRun(ctx context.Context, sessionID, runID string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, root_id, status, prompt, task, final_output, created_at, updated_at
		 FROM runs WHERE id = ? AND session_id = ?`, runID, sessionID)

	var run domain.Run
	var status, createdAt, updatedAt string
	err := row.Scan(&run.ID, &run.SessionID, &run.RootID, &status, &run.Input.Prompt, &run.Input.Task,
		&run.Output.Final, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqliterepo: get run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	logs, err := r.getRunLogs(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Logs = logs

	outputs, err := r.getRunAgentOutputs(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Output.PerAgent = outputs

	return &run, nil
}

func (r *Repository) getRunLogs(ctx context.Context, runID string) ([]domain.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT agent_id, level, message, created_at FROM run_logs WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqliterepo: get run logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.LogEntry
	for rows.Next() {
		var entry domain.LogEntry
		var createdAt string
		if err := rows.Scan(&entry.AgentID, &entry.Level, &entry.Message, &createdAt); err != nil {
			return nil, err
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (r *Repository) getRunAgentOutputs(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT agent_id, output FROM run_agent_outputs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqliterepo: get run agent outputs: %w", err)
	}
	defer rows.Close()

	outputs := make(map[string]string)
	for rows.Next() {
		var agentID, output string
		if err := rows.Scan(&agentID, &output); err != nil {
			return nil, err
		}
		outputs[agentID] = output
	}
	return outputs, rows.Err()
}

// UpdateRunStatus implements repository.Repository.
func (r *Repository) UpdateRunStatus(ctx context.Context, sessionID, runID string, status domain.RunStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = datetime('now') WHERE id = ? AND session_id = ?`,
		string(status), runID, sessionID)
	return checkRowsAffected(res, err)
}

// AppendRunLog implements repository.Repository.
func (r *Repository) AppendRunLog(ctx context.Context, sessionID, runID string, entry domain.LogEntry) error {
	if _, err := r.GetRun(ctx, sessionID, runID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, agent_id, level, message) VALUES (?, ?, ?, ?)`,
		runID, entry.AgentID, entry.Level, entry.Message)
	if err != nil {
		return fmt.Errorf("sqliterepo: append run log: %w", err)
	}
	return nil
}

// SetRunOutput implements repository.Repository.
func (r *Repository) SetRunOutput(ctx context.Context, sessionID, runID string, output domain.RunOutput) error {
	if _, err := r.GetRun(ctx, sessionID, runID); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE runs SET final_output = ?, updated_at = datetime('now') WHERE id = ? AND session_id = ?`,
		output.Final, runID, sessionID); err != nil {
		return fmt.Errorf("sqliterepo: set run output: %w", err)
	}
	for agentID, text := range output.PerAgent {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO run_agent_outputs (run_id, agent_id, output) VALUES (?, ?, ?)
			 ON CONFLICT(run_id, agent_id) DO UPDATE SET output = excluded.output`,
			runID, agentID, text); err != nil {
			return fmt.Errorf("sqliterepo: set run agent output: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var createdAt, updatedAt string
	err := row.Scan(&agent.ID, &agent.SessionID, &agent.Name, &agent.Role, &agent.SystemText,
		&agent.Parameters.Model, &agent.Parameters.Temperature, &agent.Parameters.MaxTokens,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	agent.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	agent.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &agent, nil
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("sqliterepo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqliterepo: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
