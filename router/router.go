// Package router implements the Capability Router (C4): a deterministic,
// keyword-overlap scorer that decides which of an agent's children should
// be engaged for a given task. It deliberately replaces the LLM-based
// selection the original system used with a cheap, reproducible formula.
package router

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/riverrun-ai/orchestrator/domain"
)

// depthPenaltyPerLevel is subtracted from the keyword-overlap score once
// per level of tree depth, per spec.md's deterministic scoring formula.
const depthPenaltyPerLevel = 0.1

// selectionThreshold is the minimum score a child must clear to be selected.
const selectionThreshold = 0.0

var caser = cases.Lower(language.Und)

// Router scores and selects children of a node for delegation.
type Router struct{}

// New constructs a Router. The router is stateless.
func New() *Router { return &Router{} }

// SelectChildren returns the IDs of node's children whose capability
// keywords overlap the task above the selection threshold. If none clear
// the threshold, the single highest-scoring child is returned instead
// (ties broken lexicographically by child ID), but only when the task
// contains at least one of that child's keywords; otherwise, or if node has
// no children, the result is empty.
func (r *Router) SelectChildren(task string, node *domain.TreeNode, snapshot *domain.AgentTreeSnapshot) []string {
	if node == nil || len(node.Children) == 0 {
		return nil
	}

	taskTokens := tokenize(task)

	type scored struct {
		id       string
		score    float64
		keywords []string
	}
	var candidates []scored
	for _, childID := range node.Children {
		child, ok := snapshot.Nodes[childID]
		if !ok {
			continue
		}
		score := keywordOverlap(taskTokens, child.Capability.Keywords) - depthPenaltyPerLevel*float64(child.Depth)
		candidates = append(candidates, scored{id: childID, score: score, keywords: child.Capability.Keywords})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	var selected []string
	for _, c := range candidates {
		if c.score > selectionThreshold {
			selected = append(selected, c.id)
		}
	}
	if len(selected) == 0 && len(candidates) > 0 {
		best := candidates[0]
		if keywordOverlap(taskTokens, best.keywords) > 0 {
			selected = []string{best.id}
		}
	}
	return selected
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(caser.String(text)) {
		tokens[field] = struct{}{}
	}
	return tokens
}

func keywordOverlap(taskTokens map[string]struct{}, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	var matches int
	for _, kw := range keywords {
		if _, ok := taskTokens[caser.String(kw)]; ok {
			matches++
		}
	}
	return float64(matches)
}
