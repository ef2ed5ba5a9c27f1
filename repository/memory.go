package repository

import (
	"context"
	"sync"
	"time"

	"github.com/riverrun-ai/orchestrator/domain"
)

var _ Repository = (*InMemoryRepository)(nil)

type sessionData struct {
	agents map[string]domain.Agent
	// links indexed by childID -> Link, since every agent has at most one parent.
	linksByChild map[string]domain.Link
	runs         map[string]domain.Run
}

func newSessionData() *sessionData {
	return &sessionData{
		agents:       make(map[string]domain.Agent),
		linksByChild: make(map[string]domain.Link),
		runs:         make(map[string]domain.Run),
	}
}

// InMemoryRepository is a volatile Repository implementation storing all
// state in process memory. One repository-wide RWMutex guards every
// session; run writes also take a per-run mutex, so writes to the same run
// are serialized, while writes to different runs still contend on the
// repository-wide lock.
type InMemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData

	runLocksMu sync.Mutex
	runLocks   map[string]*sync.Mutex
}

// NewInMemoryRepository constructs an empty repository. Use SeedAgent to
// preload agents and links, as tests do to set up an agent tree.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sessions: make(map[string]*sessionData),
		runLocks: make(map[string]*sync.Mutex),
	}
}

// SeedAgent registers an agent (and its parent link, if any) directly,
// bypassing SetParent's cycle checks. Intended for test setup.
func (r *InMemoryRepository) SeedAgent(agent domain.Agent, parentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sd := r.sessionLocked(agent.SessionID)
	sd.agents[agent.ID] = agent
	if parentID != "" {
		sd.linksByChild[agent.ID] = domain.Link{
			ID:        agent.ID + ":" + parentID,
			SessionID: agent.SessionID,
			ParentID:  parentID,
			ChildID:   agent.ID,
			CreatedAt: time.Now(),
		}
	}
}

func (r *InMemoryRepository) sessionLocked(sessionID string) *sessionData {
	sd, ok := r.sessions[sessionID]
	if !ok {
		sd = newSessionData()
		r.sessions[sessionID] = sd
	}
	return sd
}

func (r *InMemoryRepository) runLock(runID string) *sync.Mutex {
	r.runLocksMu.Lock()
	defer r.runLocksMu.Unlock()
	l, ok := r.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		r.runLocks[runID] = l
	}
	return l
}

// GetAgent implements Repository.
func (r *InMemoryRepository) GetAgent(_ context.Context, sessionID, agentID string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sd, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	agent, ok := sd.agents[agentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &agent, nil
}

// GetChildren implements Repository.
func (r *InMemoryRepository) GetChildren(_ context.Context, sessionID, agentID string) ([]domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sd, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var children []domain.Agent
	for childID, link := range sd.linksByChild {
		if link.ParentID == agentID {
			children = append(children, sd.agents[childID])
		}
	}
	return children, nil
}

// GetAgentSubtree implements Repository: returns every agent and link
// reachable from rootID via a breadth-first walk.
func (r *InMemoryRepository) GetAgentSubtree(_ context.Context, sessionID, rootID string) ([]domain.Agent, []domain.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sd, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	root, ok := sd.agents[rootID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}

	childrenOf := make(map[string][]domain.Link)
	for _, link := range sd.linksByChild {
		childrenOf[link.ParentID] = append(childrenOf[link.ParentID], link)
	}

	agents := []domain.Agent{root}
	var links []domain.Link
	queue := []string{rootID}
	visited := map[string]bool{rootID: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, link := range childrenOf[current] {
			if visited[link.ChildID] {
				continue
			}
			visited[link.ChildID] = true
			links = append(links, link)
			agents = append(agents, sd.agents[link.ChildID])
			queue = append(queue, link.ChildID)
		}
	}

	return agents, links, nil
}

// SetParent implements Repository: assigns childID's parent to parentID,
// rejecting cross-session assignment and assignments that would create a
// cycle (parentID is childID or a descendant of childID).
func (r *InMemoryRepository) SetParent(_ context.Context, sessionID, childID, parentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sd, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	child, ok := sd.agents[childID]
	if !ok {
		return domain.ErrNotFound
	}
	parent, ok := sd.agents[parentID]
	if !ok {
		// A parent that exists under another session makes this a
		// cross-session assignment rather than a missing row.
		for otherID, other := range r.sessions {
			if _, exists := other.agents[parentID]; exists && otherID != sessionID {
				return domain.ErrCrossSessionViolation
			}
		}
		return domain.ErrNotFound
	}
	if child.SessionID != sessionID || parent.SessionID != sessionID {
		return domain.ErrCrossSessionViolation
	}

	if childID == parentID {
		return domain.ErrWouldCreateCycle
	}
	// Walk up from the proposed parent; if we reach childID, re-parenting
	// would create a cycle.
	cursor := parentID
	for {
		link, ok := sd.linksByChild[cursor]
		if !ok {
			break
		}
		if link.ParentID == childID {
			return domain.ErrWouldCreateCycle
		}
		cursor = link.ParentID
	}

	sd.linksByChild[childID] = domain.Link{
		ID:        childID + ":" + parentID,
		SessionID: sessionID,
		ParentID:  parentID,
		ChildID:   childID,
		CreatedAt: time.Now(),
	}
	return nil
}

// CreateRun implements Repository.
func (r *InMemoryRepository) CreateRun(_ context.Context, run domain.Run) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sd := r.sessionLocked(run.SessionID)
	if _, exists := sd.runs[run.ID]; exists {
		return nil, domain.ErrRunAlreadyStarted
	}
	run.Status = domain.StatusPending
	sd.runs[run.ID] = run
	out := run
	return &out, nil
}

// GetRun implements Repository.
func (r *InMemoryRepository) GetRun(_ context.Context, sessionID, runID string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sd, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	run, ok := sd.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

// UpdateRunStatus implements Repository.
func (r *InMemoryRepository) UpdateRunStatus(_ context.Context, sessionID, runID string, status domain.RunStatus) error {
	lock := r.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	sd, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	run, ok := sd.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	sd.runs[runID] = run
	return nil
}

// AppendRunLog implements Repository.
func (r *InMemoryRepository) AppendRunLog(_ context.Context, sessionID, runID string, entry domain.LogEntry) error {
	lock := r.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	sd, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	run, ok := sd.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.Logs = append(run.Logs, entry)
	run.UpdatedAt = time.Now()
	sd.runs[runID] = run
	return nil
}

// SetRunOutput implements Repository.
func (r *InMemoryRepository) SetRunOutput(_ context.Context, sessionID, runID string, output domain.RunOutput) error {
	lock := r.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	sd, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	run, ok := sd.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.Output = output
	run.UpdatedAt = time.Now()
	sd.runs[runID] = run
	return nil
}
