// Package domain holds the core value types shared across the orchestrator:
// sessions, agents, links, runs, capabilities and tree snapshots.
package domain

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// ModelParameters configures an agent's LLM call.
type ModelParameters struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Session is the isolation boundary: agents, links and runs never cross it.
type Session struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Agent is a node in the agent tree belonging to a Session.
type Agent struct {
	ID                     string
	SessionID              string
	Name                   string
	Role                   string
	SystemText             string
	Parameters             ModelParameters
	PhotoInjectionEnabled  bool
	PhotoInjectionFeatures []string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Link is a directed parent->child edge between two agents in the same session.
type Link struct {
	ID        string
	SessionID string
	ParentID  string
	ChildID   string
	CreatedAt time.Time
}

// RunInput is the task handed to the root agent at run start.
type RunInput struct {
	Prompt               string
	Task                 string
	ConversationHistory  []string
	Images               [][]byte
}

// RunOutput is the terminal result of a completed run.
type RunOutput struct {
	Final   string
	PerAgent map[string]string
}

// LogEntry is one append-only entry in a Run's log.
type LogEntry struct {
	AgentID   string
	Timestamp time.Time
	Message   string
	Level     string
}

// Run is one execution of the orchestrator rooted at a given agent.
type Run struct {
	ID        string
	SessionID string
	RootID    string
	Status    RunStatus
	Input     RunInput
	Output    RunOutput
	Logs      []LogEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Capability is the keyword fingerprint used by the router to decide
// whether an agent's subtree should be engaged for a given task.
type Capability struct {
	AgentID    string
	Keywords   []string
	Confidence float64
}

// AgentTreeSnapshot is an immutable, point-in-time view of an agent subtree
// with capability keywords attached to every node, built by the tree cache.
type AgentTreeSnapshot struct {
	SessionID  string
	RootID     string
	CreatedAt  time.Time
	Nodes      map[string]*TreeNode
	AgentCount int
	MaxDepth   int
}

// TreeNode is one entry of an AgentTreeSnapshot.
type TreeNode struct {
	Agent      Agent
	Capability Capability
	Children   []string
	Depth      int
}

// EventKind identifies the shape of an Event in the orchestrator's event
// taxonomy, each of which maps to one SSE frame type on the wire.
type EventKind string

const (
	EventConnected   EventKind = "connected"
	EventLog         EventKind = "log"
	EventStatus      EventKind = "status"
	EventOutputChunk EventKind = "output_chunk"
	EventOutput      EventKind = "output"
	EventDelegation  EventKind = "delegation"
	EventError       EventKind = "error"
	EventTimeout     EventKind = "timeout"
	EventCancelled   EventKind = "cancelled"
	EventCompleted   EventKind = "completed"
)

// Event is one entry in the append-only stream produced while a run
// executes, consumed by the run coordinator to drive both persistence and
// the external SSE stream.
type Event struct {
	Kind      EventKind
	RunID     string
	AgentID   string
	ParentID  string
	Text      string
	Status    RunStatus
	Err       string
	Depth     int
	// PerAgentOutput is populated only on an EventCompleted, carrying the
	// per-agent output map alongside the final synthesized text in Text.
	PerAgentOutput map[string]string
	Timestamp      time.Time
}

