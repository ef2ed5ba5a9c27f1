// Package coordinator implements the Run Coordinator (C6): the entry point
// that creates a run, discovers its agent tree, drives the recursive
// executor, synthesizes a final answer, persists the terminal state, and
// bridges everything onto an SSE frame stream for external consumers.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/executor"
	"github.com/riverrun-ai/orchestrator/llm"
	"github.com/riverrun-ai/orchestrator/logging"
	"github.com/riverrun-ai/orchestrator/repository"
	"github.com/riverrun-ai/orchestrator/sse"
	"github.com/riverrun-ai/orchestrator/treecache"
)

// Options configures a Coordinator.
type Options struct {
	RunTimeout      time.Duration
	ChannelCapacity int
	Logger          logging.Logger
}

// Coordinator runs the full lifecycle of a run: creation, tree discovery,
// execution, synthesis and persistence.
type Coordinator struct {
	repo   repository.Repository
	cache  *treecache.Cache
	exec   *executor.Executor
	client llm.Client
	logger logging.Logger

	runTimeout      time.Duration
	channelCapacity int

	mu         sync.RWMutex
	activeRuns map[string]context.CancelFunc
}

// New constructs a Coordinator.
func New(
	repo repository.Repository,
	cache *treecache.Cache,
	exec *executor.Executor,
	client llm.Client,
	opts Options,
) *Coordinator {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	if opts.ChannelCapacity <= 0 {
		opts.ChannelCapacity = 256
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Coordinator{
		repo:            repo,
		cache:           cache,
		exec:            exec,
		client:          client,
		logger:          opts.Logger,
		runTimeout:      opts.RunTimeout,
		channelCapacity: opts.ChannelCapacity,
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// StartRun implements the seven-step sequence of spec.md §4.6: create the
// run row, fetch or build the tree snapshot, execute the root agent
// recursively, synthesize a final answer from every agent's output, persist
// the terminal run state, and stream every step as SSE frames. requestedID
// lets a caller supply an idempotency key (e.g. a client-generated run ID
// on retry); when empty, a fresh run ID is generated. Starting a run whose
// ID already exists (completed, failed, or in flight) returns
// domain.ErrRunAlreadyStarted without re-executing anything.
func (c *Coordinator) StartRun(
	ctx context.Context,
	sessionID, rootID, apiKey, requestedID string,
	input domain.RunInput,
) (runID string, frames <-chan sse.Frame, err error) {
	runID = requestedID
	if runID == "" {
		runID = uuid.NewString()
	}

	run := domain.Run{
		ID:        runID,
		SessionID: sessionID,
		RootID:    rootID,
		Input:     input,
		CreatedAt: time.Now(),
	}
	if _, err := c.repo.CreateRun(ctx, run); err != nil {
		return "", nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	c.mu.Lock()
	c.activeRuns[runID] = cancel
	c.mu.Unlock()

	out := make(chan sse.Frame, c.channelCapacity)

	go func() {
		defer func() {
			close(out)
			c.mu.Lock()
			delete(c.activeRuns, runID)
			c.mu.Unlock()
			cancel()
		}()
		send(runCtx, out, sse.EventToFrame(domain.Event{Kind: domain.EventConnected, RunID: runID, Timestamp: time.Now()}))
		c.run(runCtx, runID, sessionID, rootID, apiKey, input, out)
	}()

	return runID, out, nil
}

// Cancel stops an in-flight run. Returns an error if the run is not active.
func (c *Coordinator) Cancel(runID string) error {
	c.mu.Lock()
	cancel, ok := c.activeRuns[runID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: run %s not active", runID)
	}
	cancel()
	return nil
}

func (c *Coordinator) run(
	ctx context.Context,
	runID, sessionID, rootID, apiKey string,
	input domain.RunInput,
	out chan<- sse.Frame,
) {
	c.transition(ctx, sessionID, runID, domain.StatusRunning, out)

	snapshot, err := c.cache.GetOrBuild(ctx, sessionID, rootID, apiKey)
	if err != nil {
		c.fail(ctx, sessionID, runID, err, out)
		return
	}
	c.relay(ctx, sessionID, runID, domain.Event{
		Kind: domain.EventLog, RunID: runID, AgentID: rootID,
		Text: fmt.Sprintf("agent tree snapshot ready: %d agents, max depth %d", snapshot.AgentCount, snapshot.MaxDepth),
		Timestamp: time.Now(),
	}, out)

	task := input.Task
	if task == "" {
		task = input.Prompt
	}

	events, resultCh := c.exec.Execute(ctx, runID, snapshot, rootID, task, input.ConversationHistory, input.Images, apiKey)
	for ev := range events {
		c.relay(ctx, sessionID, runID, ev, out)
	}
	result := <-resultCh

	if result.Err != nil {
		c.fail(ctx, sessionID, runID, result.Err, out)
		return
	}

	final := c.synthesize(ctx, snapshot, rootID, task, apiKey, result.PerAgentOutput)
	output := domain.RunOutput{Final: final, PerAgent: result.PerAgentOutput}
	if err := c.repo.SetRunOutput(ctx, sessionID, runID, output); err != nil {
		c.fail(ctx, sessionID, runID, err, out)
		return
	}

	c.transition(ctx, sessionID, runID, domain.StatusCompleted, out)
	send(ctx, out, sse.EventToFrame(domain.Event{
		Kind: domain.EventCompleted, RunID: runID, AgentID: rootID,
		Text: final, PerAgentOutput: result.PerAgentOutput, Timestamp: time.Now(),
	}))
}

// synthesize makes a second LLM call asking the root agent to combine every
// descendant's output into one final answer. On any failure it falls back
// to a plain concatenation of per-agent reports, per spec.md §9's design
// note that synthesis must never leave a run without a final answer.
func (c *Coordinator) synthesize(
	ctx context.Context,
	snapshot *domain.AgentTreeSnapshot,
	rootID, task, apiKey string,
	perAgent map[string]string,
) string {
	fallback := concatenateReports(rootID, perAgent)
	if apiKey == "" || len(perAgent) <= 1 {
		if root, ok := perAgent[rootID]; ok {
			return root
		}
		return fallback
	}

	root, ok := snapshot.Nodes[rootID]
	model := ""
	if ok {
		model = root.Agent.Parameters.Model
	}

	prompt := fmt.Sprintf(
		"Task: %s\n\nCombine the following agent reports into a single, coherent final answer:\n\n%s",
		task, formatReports(rootID, perAgent))

	chunks, errs := c.client.GenerateStream(ctx, llm.StreamRequest{
		APIKey:     apiKey,
		Model:      model,
		UserPrompt: prompt,
		MaxTokens:  2048,
	})

	var text strings.Builder
	for chunk := range chunks {
		text.WriteString(chunk.Text)
	}
	if err := <-errs; err != nil || text.Len() == 0 {
		return fallback
	}
	return text.String()
}

func formatReports(rootID string, perAgent map[string]string) string {
	var b strings.Builder
	if root, ok := perAgent[rootID]; ok {
		fmt.Fprintf(&b, "Root agent: %s\n\n", root)
	}
	for agentID, text := range perAgent {
		if agentID == rootID {
			continue
		}
		fmt.Fprintf(&b, "Agent %s: %s\n\n", agentID, text)
	}
	return b.String()
}

func concatenateReports(rootID string, perAgent map[string]string) string {
	var b strings.Builder
	if root, ok := perAgent[rootID]; ok {
		b.WriteString(root)
	}
	for agentID, text := range perAgent {
		if agentID == rootID {
			continue
		}
		fmt.Fprintf(&b, "\n\n--- %s ---\n%s", agentID, text)
	}
	return b.String()
}

func (c *Coordinator) relay(ctx context.Context, sessionID, runID string, ev domain.Event, out chan<- sse.Frame) {
	if ev.Kind != domain.EventOutputChunk {
		_ = c.repo.AppendRunLog(ctx, sessionID, runID, domain.LogEntry{
			AgentID: ev.AgentID, Timestamp: ev.Timestamp, Message: logMessage(ev), Level: logLevel(ev),
		})
	}
	send(ctx, out, sse.EventToFrame(ev))
}

func (c *Coordinator) transition(ctx context.Context, sessionID, runID string, status domain.RunStatus, out chan<- sse.Frame) {
	if err := c.repo.UpdateRunStatus(ctx, sessionID, runID, status); err != nil {
		c.logger.Warn("coordinator: update run status failed run_id=%s err=%v", runID, err)
	}
	c.logger.LogRunTransition(runID, "", string(status))
	send(ctx, out, sse.EventToFrame(domain.Event{Kind: domain.EventStatus, RunID: runID, Status: status, Timestamp: time.Now()}))
}

func (c *Coordinator) fail(ctx context.Context, sessionID, runID string, err error, out chan<- sse.Frame) {
	_ = c.repo.UpdateRunStatus(ctx, sessionID, runID, domain.StatusFailed)
	c.logger.Error("coordinator: run failed run_id=%s err=%v", runID, err)
	send(ctx, out, sse.EventToFrame(domain.Event{Kind: domain.EventError, RunID: runID, Err: err.Error(), Timestamp: time.Now()}))
}

func send(ctx context.Context, out chan<- sse.Frame, frame sse.Frame) {
	select {
	case out <- frame:
	case <-ctx.Done():
	}
}

func logMessage(ev domain.Event) string {
	if ev.Err != "" {
		return ev.Err
	}
	if ev.Text != "" {
		return ev.Text
	}
	return string(ev.Kind)
}

func logLevel(ev domain.Event) string {
	switch ev.Kind {
	case domain.EventError, domain.EventTimeout:
		return "error"
	case domain.EventCancelled:
		return "warn"
	default:
		return "info"
	}
}
