// Package treecache implements the Agent Tree Cache (C3): builds and caches
// AgentTreeSnapshots with capability keywords attached to every node, using
// lazy timestamp-based invalidation and in-flight build coalescing so
// concurrent first-time callers for the same root share one build.
package treecache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/llm"
	"github.com/riverrun-ai/orchestrator/logging"
	"github.com/riverrun-ai/orchestrator/repository"
)

// Cache builds and serves AgentTreeSnapshots.
type Cache struct {
	repo   repository.Repository
	client llm.Client
	logger logging.Logger

	mu                      sync.Mutex
	snapshots               map[string]*domain.AgentTreeSnapshot
	invalidationTimestamps  map[string]time.Time
	sessionInvalidations    map[string]time.Time
	inflight                map[string]*buildGate
}

// buildGate lets concurrent callers for the same cache key wait on a single
// in-flight build instead of each triggering their own.
type buildGate struct {
	done   chan struct{}
	result *domain.AgentTreeSnapshot
	err    error
}

// New constructs a Cache. logger may be nil, in which case logging is a no-op.
func New(repo repository.Repository, client llm.Client, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Cache{
		repo:                   repo,
		client:                 client,
		logger:                 logger,
		snapshots:              make(map[string]*domain.AgentTreeSnapshot),
		invalidationTimestamps: make(map[string]time.Time),
		sessionInvalidations:   make(map[string]time.Time),
		inflight:               make(map[string]*buildGate),
	}
}

func cacheKey(sessionID, rootID string) string {
	return sessionID + "_" + rootID
}

// GetOrBuild returns a cached snapshot if one is valid, otherwise builds a
// fresh one. At most one build runs per key at a time; concurrent callers
// wait on the same in-flight build.
func (c *Cache) GetOrBuild(ctx context.Context, sessionID, rootID, apiKey string) (*domain.AgentTreeSnapshot, error) {
	key := cacheKey(sessionID, rootID)

	c.mu.Lock()
	if snap, ok := c.snapshots[key]; ok && c.validLocked(key, sessionID, snap) {
		c.mu.Unlock()
		c.logger.LogCacheEvent("hit", sessionID, rootID, snap.AgentCount)
		return snap, nil
	}

	if gate, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return c.waitFor(ctx, gate)
	}

	gate := &buildGate{done: make(chan struct{})}
	c.inflight[key] = gate
	c.mu.Unlock()

	snap, err := c.buildSnapshot(ctx, sessionID, rootID, apiKey)

	c.mu.Lock()
	gate.result, gate.err = snap, err
	if err == nil {
		c.snapshots[key] = snap
	}
	delete(c.inflight, key)
	c.mu.Unlock()
	close(gate.done)

	if err == nil {
		c.logger.LogCacheEvent("build", sessionID, rootID, snap.AgentCount)
	}

	return snap, err
}

// validLocked reports whether a cached snapshot is still valid: it must
// have been created after any invalidation recorded for its key or for the
// whole session. Caller must hold c.mu.
func (c *Cache) validLocked(key, sessionID string, snap *domain.AgentTreeSnapshot) bool {
	if ts, ok := c.invalidationTimestamps[key]; ok && !snap.CreatedAt.After(ts) {
		return false
	}
	if ts, ok := c.sessionInvalidations[sessionID]; ok && !snap.CreatedAt.After(ts) {
		return false
	}
	return true
}

func (c *Cache) waitFor(ctx context.Context, gate *buildGate) (*domain.AgentTreeSnapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-gate.done:
		return gate.result, gate.err
	}
}

// Invalidate marks the snapshot for (sessionID, rootID) stale. When rootID
// is nil, every cached snapshot for the session is invalidated.
func (c *Cache) Invalidate(sessionID string, rootID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if rootID == nil {
		c.sessionInvalidations[sessionID] = now
		return
	}
	c.invalidationTimestamps[cacheKey(sessionID, *rootID)] = now
}

// Stats reports the number of cached snapshots and in-flight builds.
func (c *Cache) Stats() (cached int, inflight int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots), len(c.inflight)
}

// buildSnapshot loads the agent subtree from the repository and extracts
// capability keywords for every node via the LLM client, falling back to
// the agent's role on extraction failure.
func (c *Cache) buildSnapshot(ctx context.Context, sessionID, rootID, apiKey string) (*domain.AgentTreeSnapshot, error) {
	agents, links, err := c.repo.GetAgentSubtree(ctx, sessionID, rootID)
	if err != nil {
		return nil, fmt.Errorf("treecache: load subtree: %w", err)
	}

	childrenOf := make(map[string][]string)
	for _, link := range links {
		childrenOf[link.ParentID] = append(childrenOf[link.ParentID], link.ChildID)
	}

	depth := make(map[string]int)
	depth[rootID] = 0
	order := []string{rootID}
	for i := 0; i < len(order); i++ {
		for _, childID := range childrenOf[order[i]] {
			if _, seen := depth[childID]; seen {
				continue
			}
			depth[childID] = depth[order[i]] + 1
			order = append(order, childID)
		}
	}

	nodes := make(map[string]*domain.TreeNode, len(agents))
	byID := make(map[string]domain.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range order {
		agent := byID[id]
		wg.Add(1)
		go func(agent domain.Agent, d int) {
			defer wg.Done()
			capability := c.extractCapability(ctx, agent, apiKey)
			mu.Lock()
			nodes[agent.ID] = &domain.TreeNode{
				Agent:      agent,
				Capability: capability,
				Children:   childrenOf[agent.ID],
				Depth:      d,
			}
			mu.Unlock()
		}(agent, depth[id])
	}
	wg.Wait()

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	return &domain.AgentTreeSnapshot{
		SessionID:  sessionID,
		RootID:     rootID,
		CreatedAt:  time.Now(),
		Nodes:      nodes,
		AgentCount: len(agents),
		MaxDepth:   maxDepth,
	}, nil
}

// extractCapability asks the LLM for 3-7 keywords describing the agent's
// role, falling back to the lowercased role on any failure.
func (c *Cache) extractCapability(ctx context.Context, agent domain.Agent, apiKey string) domain.Capability {
	fallback := domain.Capability{AgentID: agent.ID, Keywords: []string{strings.ToLower(agent.Role)}, Confidence: 0.7}
	if c.client == nil || apiKey == "" {
		return fallback
	}

	prompt := fmt.Sprintf(
		"List 3 to 7 single-word keywords describing the capabilities of an agent named %q with role %q and instructions %q. Reply with a comma separated list only.",
		agent.Name, agent.Role, agent.SystemText)

	chunks, errs := c.client.GenerateStream(ctx, llm.StreamRequest{
		APIKey:     apiKey,
		Model:      agent.Parameters.Model,
		UserPrompt: prompt,
		MaxTokens:  128,
	})

	var text strings.Builder
	for chunk := range chunks {
		text.WriteString(chunk.Text)
	}
	if err := <-errs; err != nil {
		c.logger.Debug("treecache: capability extraction failed agent_id=%s err=%v", agent.ID, err)
		return fallback
	}

	keywords := parseKeywords(text.String())
	if len(keywords) == 0 {
		return fallback
	}
	return domain.Capability{AgentID: agent.ID, Keywords: keywords, Confidence: 0.7}
}

func parseKeywords(text string) []string {
	var keywords []string
	for _, raw := range strings.Split(text, ",") {
		w := strings.ToLower(strings.TrimSpace(raw))
		if w != "" && w != llm.EmptyCompletionText {
			keywords = append(keywords, w)
		}
	}
	return keywords
}
