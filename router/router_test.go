package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/router"
)

func snapshot() *domain.AgentTreeSnapshot {
	return &domain.AgentTreeSnapshot{
		Nodes: map[string]*domain.TreeNode{
			"root": {
				Agent:    domain.Agent{ID: "root"},
				Children: []string{"billing", "support", "idle"},
				Depth:    0,
			},
			"billing": {
				Agent:      domain.Agent{ID: "billing"},
				Capability: domain.Capability{Keywords: []string{"invoice", "payment", "refund"}},
				Depth:      1,
			},
			"support": {
				Agent:      domain.Agent{ID: "support"},
				Capability: domain.Capability{Keywords: []string{"bug", "error", "login"}},
				Depth:      1,
			},
			"idle": {
				Agent:      domain.Agent{ID: "idle"},
				Capability: domain.Capability{Keywords: []string{"unrelated"}},
				Depth:      1,
			},
		},
	}
}

func TestSelectChildrenAboveThreshold(t *testing.T) {
	r := router.New()
	snap := snapshot()
	selected := r.SelectChildren("I need a refund for my last payment", snap.Nodes["root"], snap)
	assert.ElementsMatch(t, []string{"billing"}, selected)
}

func TestSelectChildrenNoOverlapReturnsEmpty(t *testing.T) {
	r := router.New()
	snap := snapshot()
	selected := r.SelectChildren("nothing matches here at all", snap.Nodes["root"], snap)
	assert.Empty(t, selected)
}

func TestSelectChildrenFallsBackOnlyWithPartialOverlap(t *testing.T) {
	r := router.New()
	snap := &domain.AgentTreeSnapshot{
		Nodes: map[string]*domain.TreeNode{
			"root": {Children: []string{"deep"}, Depth: 0},
			// Overlap of 1 keyword, but depth penalty at depth 10 brings the
			// score down to exactly the threshold, so it isn't selected by
			// the normal above-threshold pass and only reaches the fallback.
			"deep": {Capability: domain.Capability{Keywords: []string{"refund", "unrelated"}}, Depth: 10},
		},
	}
	selected := r.SelectChildren("I need a refund", snap.Nodes["root"], snap)
	assert.Equal(t, []string{"deep"}, selected)
}

func TestSelectChildrenNoChildren(t *testing.T) {
	r := router.New()
	snap := snapshot()
	leaf := &domain.TreeNode{Agent: domain.Agent{ID: "billing"}}
	assert.Empty(t, r.SelectChildren("refund", leaf, snap))
}

func TestSelectChildrenTieBreaksLexicographically(t *testing.T) {
	r := router.New()
	snap := &domain.AgentTreeSnapshot{
		Nodes: map[string]*domain.TreeNode{
			"root": {Children: []string{"zeta", "alpha"}, Depth: 0},
			// Both tie at a score of exactly the threshold (overlap 1,
			// depth 10 penalty), so both land in the fallback tie-break.
			"zeta":  {Capability: domain.Capability{Keywords: []string{"x"}}, Depth: 10},
			"alpha": {Capability: domain.Capability{Keywords: []string{"x"}}, Depth: 10},
		},
	}
	selected := r.SelectChildren("x", snap.Nodes["root"], snap)
	assert.Equal(t, []string{"alpha"}, selected)
}
