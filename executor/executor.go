// Package executor implements the Recursive Executor (C5): given an agent
// tree snapshot and a task, it executes the root agent, streams its output,
// asks the capability router which children to engage, and recurses into
// them concurrently (bounded, depth-limited, cycle-safe) until the subtree
// is exhausted.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/llm"
	"github.com/riverrun-ai/orchestrator/logging"
	"github.com/riverrun-ai/orchestrator/router"
)

// Options configures an Executor.
type Options struct {
	MaxDepth          int
	MaxParallelPerRun int
	GlobalConcurrency int
	AgentTimeout      time.Duration
	Logger            logging.Logger
}

// Executor runs a recursive, capability-routed agent tree traversal.
type Executor struct {
	client llm.Client
	router *router.Router
	logger logging.Logger

	maxDepth          int
	maxParallelPerRun int
	agentTimeout      time.Duration
	globalSem         *semaphore.Weighted

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New constructs an Executor with the given LLM client and options.
func New(client llm.Client, opts Options) *Executor {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 10
	}
	if opts.MaxParallelPerRun <= 0 {
		opts.MaxParallelPerRun = 4
	}
	if opts.GlobalConcurrency <= 0 {
		opts.GlobalConcurrency = 32
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Executor{
		client:            client,
		router:            router.New(),
		logger:            opts.Logger,
		maxDepth:          opts.MaxDepth,
		maxParallelPerRun: opts.MaxParallelPerRun,
		agentTimeout:      opts.AgentTimeout,
		globalSem:         semaphore.NewWeighted(int64(opts.GlobalConcurrency)),
		breakers:          make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Result is the terminal outcome of a full tree execution.
type Result struct {
	PerAgentOutput map[string]string
	Err            error
}

// Execute runs the root agent and its capability-selected descendants,
// emitting Events to the returned channel as execution proceeds. The result
// channel receives exactly one Result once the whole subtree has finished
// (or the run context is cancelled/timed out), after which both channels
// close.
func (e *Executor) Execute(
	ctx context.Context,
	runID string,
	snapshot *domain.AgentTreeSnapshot,
	rootID, task string,
	history []string,
	images [][]byte,
	apiKey string,
) (<-chan domain.Event, <-chan Result) {
	events := make(chan domain.Event, 256)
	resultCh := make(chan Result, 1)

	go func() {
		defer close(events)
		defer close(resultCh)

		outputs := &sync.Map{}
		var mu sync.Mutex
		firstErr := error(nil)
		recordErr := func(err error) {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}

		var wg sync.WaitGroup
		wg.Add(1)
		e.executeNode(ctx, runID, snapshot, rootID, task, history, images, apiKey, 0, map[string]bool{rootID: true}, events, outputs, &wg, recordErr)
		wg.Wait()

		final := make(map[string]string)
		outputs.Range(func(k, v any) bool {
			final[k.(string)] = v.(string)
			return true
		})

		mu.Lock()
		err := firstErr
		mu.Unlock()

		select {
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		default:
		}

		resultCh <- Result{PerAgentOutput: final, Err: err}
	}()

	return events, resultCh
}

// executeNode runs a single agent, then recursively delegates to the
// router-selected subset of its children. Always calls wg.Done() exactly
// once, including every early-return path.
func (e *Executor) executeNode(
	ctx context.Context,
	runID string,
	snapshot *domain.AgentTreeSnapshot,
	agentID, task string,
	history []string,
	images [][]byte,
	apiKey string,
	depth int,
	visited map[string]bool,
	events chan<- domain.Event,
	outputs *sync.Map,
	wg *sync.WaitGroup,
	recordErr func(error),
) {
	defer wg.Done()

	node, ok := snapshot.Nodes[agentID]
	if !ok {
		return
	}

	// Pre-execution checks, in the order spec.md §4.5 requires: cycle
	// (handled by the caller via visited before this node is even spawned),
	// depth, then cancellation. A depth refusal skips only this branch; it is
	// reported as an event but does not fail the run.
	if depth >= e.maxDepth {
		emit(ctx, events, domain.Event{Kind: domain.EventError, RunID: runID, AgentID: agentID, Depth: depth, Err: domain.ErrMaxDepthExceeded.Error(), Timestamp: now()})
		return
	}

	select {
	case <-ctx.Done():
		emit(ctx, events, domain.Event{Kind: domain.EventCancelled, RunID: runID, AgentID: agentID, Depth: depth, Timestamp: now()})
		recordErr(domain.ErrRunCancelled)
		return
	default:
	}

	emit(ctx, events, domain.Event{Kind: domain.EventStatus, RunID: runID, AgentID: agentID, Depth: depth, Status: domain.StatusRunning, Timestamp: now()})

	output, err := e.runAgent(ctx, runID, node, snapshot, task, history, images, apiKey, depth, events)
	if err != nil {
		emit(ctx, events, domain.Event{Kind: domain.EventError, RunID: runID, AgentID: agentID, Depth: depth, Err: err.Error(), Timestamp: now()})
		emit(ctx, events, domain.Event{Kind: domain.EventStatus, RunID: runID, AgentID: agentID, Depth: depth, Status: domain.StatusFailed, Timestamp: now()})
		recordErr(err)
		return
	}
	outputs.Store(agentID, output)
	emit(ctx, events, domain.Event{Kind: domain.EventOutput, RunID: runID, AgentID: agentID, Depth: depth, Text: output, Timestamp: now()})
	emit(ctx, events, domain.Event{Kind: domain.EventStatus, RunID: runID, AgentID: agentID, Depth: depth, Status: domain.StatusCompleted, Timestamp: now()})

	selected := e.router.SelectChildren(task, node, snapshot)
	if len(selected) == 0 {
		return
	}

	sem := semaphore.NewWeighted(int64(min(e.maxParallelPerRun, len(selected))))
	for _, childID := range selected {
		if visited[childID] {
			emit(ctx, events, domain.Event{Kind: domain.EventError, RunID: runID, AgentID: childID, ParentID: agentID, Depth: depth + 1, Err: domain.ErrCycleDetected.Error(), Timestamp: now()})
			recordErr(domain.ErrCycleDetected)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			recordErr(err)
			continue
		}

		childVisited := make(map[string]bool, len(visited)+1)
		for k := range visited {
			childVisited[k] = true
		}
		childVisited[childID] = true

		e.logger.LogDelegation(agentID, childID, depth+1)
		emit(ctx, events, domain.Event{Kind: domain.EventDelegation, RunID: runID, AgentID: childID, ParentID: agentID, Depth: depth + 1, Text: output, Timestamp: now()})

		wg.Add(1)
		go func(childID string) {
			defer sem.Release(1)
			e.executeNode(ctx, runID, snapshot, childID, output, history, images, apiKey, depth+1, childVisited, events, outputs, wg, recordErr)
		}(childID)
	}
}

// runAgent makes the LLM call for a single agent, streaming output_chunk
// events as they arrive and returning the accumulated final text. The call
// is routed through the agent's circuit breaker and bounded by the
// executor-wide concurrency semaphore shared by every run.
func (e *Executor) runAgent(
	ctx context.Context,
	runID string,
	node *domain.TreeNode,
	snapshot *domain.AgentTreeSnapshot,
	task string,
	history []string,
	images [][]byte,
	apiKey string,
	depth int,
	events chan<- domain.Event,
) (string, error) {
	agent := node.Agent

	if err := e.globalSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.globalSem.Release(1)

	breaker := e.breakerFor(agent.ID)

	agentCtx, cancel := context.WithTimeout(ctx, e.agentTimeout)
	defer cancel()

	result, err := breaker.Execute(func() (any, error) {
		return e.stream(agentCtx, runID, node, snapshot, task, history, images, apiKey, depth, events)
	})
	if err != nil {
		if agentCtx.Err() != nil {
			emit(ctx, events, domain.Event{Kind: domain.EventTimeout, RunID: runID, AgentID: agent.ID, Depth: depth, Timestamp: now()})
			return "", domain.ErrAgentTimeout
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			emit(ctx, events, domain.Event{Kind: domain.EventLog, RunID: runID, AgentID: agent.ID, Depth: depth, Text: "circuit breaker open, short-circuiting agent", Timestamp: now()})
			return "", domain.ErrCircuitOpen
		}
		return "", err
	}
	return result.(string), nil
}

// buildSystemPrompt appends the fixed autonomy directive and an immediate
// child capability listing to the agent's own system prompt, per spec.md
// §4.5: every agent is told it may act autonomously and exactly which
// children it can engage (by name and capability keywords), since
// delegation itself happens automatically via the router rather than by the
// agent naming a child explicitly.
func buildSystemPrompt(node *domain.TreeNode, snapshot *domain.AgentTreeSnapshot) string {
	var b strings.Builder
	b.WriteString(node.Agent.SystemText)
	b.WriteString("\n\nYou may act autonomously to complete the task using your own judgment. ")
	if len(node.Children) == 0 {
		b.WriteString("You have no subordinate agents available for this task.")
		return b.String()
	}
	b.WriteString("The following subordinate agents will be engaged automatically whenever their capabilities match part of the task; you do not need to invoke them yourself:\n")
	for _, childID := range node.Children {
		child, ok := snapshot.Nodes[childID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", child.Agent.Name, child.Agent.Role, strings.Join(child.Capability.Keywords, ", "))
	}
	return b.String()
}

func (e *Executor) stream(
	ctx context.Context,
	runID string,
	node *domain.TreeNode,
	snapshot *domain.AgentTreeSnapshot,
	task string,
	history []string,
	images [][]byte,
	apiKey string,
	depth int,
	events chan<- domain.Event,
) (string, error) {
	agent := node.Agent

	userPrompt := llm.JoinHistory(llm.TailHistory(history, llm.HistoryLimit)) + task

	req := llm.StreamRequest{
		APIKey:       apiKey,
		Model:        agent.Parameters.Model,
		SystemPrompt: buildSystemPrompt(node, snapshot),
		UserPrompt:   userPrompt,
		Temperature:  agent.Parameters.Temperature,
		MaxTokens:    agent.Parameters.MaxTokens,
	}
	if agent.PhotoInjectionEnabled {
		req.Images = images
	}

	start := time.Now()
	chunks, errs := e.client.GenerateStream(ctx, req)

	var text string
	for chunk := range chunks {
		if chunk.Text != "" {
			text += chunk.Text
			emit(ctx, events, domain.Event{Kind: domain.EventOutputChunk, RunID: runID, AgentID: agent.ID, Depth: depth, Text: chunk.Text, Timestamp: now()})
		}
	}
	err := <-errs
	e.logger.LogLLMCall(agent.Parameters.Model, len(strings.Fields(text)), time.Since(start), err == nil, err)
	if err != nil {
		return "", fmt.Errorf("executor: agent %s: %w", agent.ID, err)
	}
	return text, nil
}

func (e *Executor) breakerFor(agentID string) *gobreaker.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if b, ok := e.breakers[agentID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent:" + agentID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	e.breakers[agentID] = b
	return b
}

// emit sends ev on events, respecting ctx cancellation so a stalled or
// abandoned consumer can never leak this goroutine, mirroring the teacher's
// cancellable EmitEvent send.
func emit(ctx context.Context, events chan<- domain.Event, ev domain.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func now() time.Time { return time.Now() }
