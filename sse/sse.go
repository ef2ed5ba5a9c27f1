// Package sse renders the orchestrator's event stream as Server-Sent Events
// over a net/http response, with periodic keepalive comments as described
// in spec.md §6.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/riverrun-ai/orchestrator/domain"
)

// Frame is one SSE message: an event type plus its JSON-encoded payload.
type Frame struct {
	Event string
	Data  []byte
}

// payload is the JSON body of every frame's data line: a flat object with
// run_id plus whichever event fields are set. It has no type or nested data
// field; the event type is carried only by the frame's event line.
type payload struct {
	RunID          string            `json:"run_id"`
	AgentID        string            `json:"agent_id,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	Text           string            `json:"text,omitempty"`
	Status         string            `json:"status,omitempty"`
	Error          string            `json:"error,omitempty"`
	Depth          int               `json:"depth,omitempty"`
	FinalOutput    string            `json:"final_output,omitempty"`
	PerAgentOutput map[string]string `json:"per_agent_output,omitempty"`
}

// EventToFrame converts an internal domain.Event into its SSE wire Frame.
func EventToFrame(ev domain.Event) Frame {
	p := payload{
		RunID:    ev.RunID,
		AgentID:  ev.AgentID,
		ParentID: ev.ParentID,
		Text:     ev.Text,
		Status:   string(ev.Status),
		Error:    ev.Err,
		Depth:    ev.Depth,
	}
	if ev.Kind == domain.EventCompleted {
		p.FinalOutput = ev.Text
		p.PerAgentOutput = ev.PerAgentOutput
	}
	data, _ := json.Marshal(p)
	return Frame{Event: string(ev.Kind), Data: data}
}

// keepaliveInterval matches spec.md §6's 20 second keepalive comment cadence.
const keepaliveInterval = 20 * time.Second

// Stream writes frames to w as they arrive, flushing after every write and
// emitting a ": keepalive\n\n" comment whenever no frame has arrived within
// keepaliveInterval. Returns when frames closes or the request context ends.
func Stream(ctx context.Context, w http.ResponseWriter, frames <-chan Frame) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, frame.Data); err != nil {
				return err
			}
			flusher.Flush()
			ticker.Reset(keepaliveInterval)
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
