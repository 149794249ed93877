// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/chainflow/pkg/chain"
	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/websearch"
	"golang.org/x/time/rate"
)

// Context keys of the grounded agent.
const (
	KeySubQuery        = "sub_query"
	KeyResearchContext = "research_context"
	KeyGroundedError   = "grounded_error"
)

// Transition labels of the grounded agent's cyclic graph.
const (
	labelSearch = "search"
	labelDraft  = "draft"
	labelError  = "error"
)

// groundedMaxSteps bounds the dispatch/search loop. Each search round is
// two node runs, so this allows a handful of searches before drafting.
const groundedMaxSteps = 16

// GroundedDeps are the collaborators of the grounded answer agent.
type GroundedDeps struct {
	LLM      llm.LLMClient
	Searcher websearch.Provider
	Limiter  *rate.Limiter
	Config   Config
}

func (d GroundedDeps) nodeConfig(name string) chain.NodeConfig {
	cfg := d.Config.withDefaults()
	return chain.NodeConfig{
		Name:       name,
		Retries:    cfg.NodeRetries,
		RetryDelay: time.Duration(cfg.NodeRetryDelaySeconds) * time.Second,
	}
}

// dispatchAction is the decision the dispatcher LLM returns.
type dispatchAction struct {
	Action string `json:"action"`
	Query  string `json:"query"`
}

// =============================================================================
// Dispatcher
// =============================================================================

// dispatchNode decides whether the agent needs another web search or has
// enough gathered material to draft. It routes "search" back through the
// search node (a legal cycle) and "draft" to the terminal draft node.
type dispatchNode struct {
	chain.BaseNode
	deps GroundedDeps
}

type dispatchInput struct {
	query, research string
}

func (n *dispatchNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	query := c.GetString(KeyQuery)
	if query == "" {
		return nil, errors.New("missing query in grounded context")
	}
	return dispatchInput{query: query, research: c.GetString(KeyResearchContext)}, nil
}

func (n *dispatchNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(dispatchInput)
	if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
		return nil, err
	}

	research := in.research
	if research == "" {
		research = "(none yet)"
	}
	prompt := fmt.Sprintf(
		`You answer questions using web research. Decide the next step.

Question: %s

Research gathered so far:
%s

If more information is needed, respond {"action": "search", "query": "<one focused search query>"}.
If the research suffices, respond {"action": "stop"}.
Respond with JSON only.`, in.query, research)

	return n.deps.LLM.Generate(ctx, prompt, llm.GenerationParams{})
}

func (n *dispatchNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	response, _ := result.(string)

	var action dispatchAction
	if err := llm.ParseObject(response, &action); err != nil {
		c.Set(KeyGroundedError, fmt.Sprintf("undecodable dispatch decision: %v", err))
		return labelError, nil
	}

	switch action.Action {
	case "search":
		if action.Query == "" {
			action.Query = c.GetString(KeyQuery)
		}
		c.Set(KeySubQuery, action.Query)
		return labelSearch, nil
	case "stop":
		return labelDraft, nil
	default:
		c.Set(KeyGroundedError, fmt.Sprintf("unknown dispatch action %q", action.Action))
		return labelError, nil
	}
}

// =============================================================================
// Search
// =============================================================================

type searchNode struct {
	chain.BaseNode
	deps GroundedDeps
}

func (n *searchNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	subQuery := c.GetString(KeySubQuery)
	if subQuery == "" {
		return nil, errors.New("dispatcher routed to search without a sub query")
	}
	return subQuery, nil
}

func (n *searchNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	subQuery := prepared.(string)
	results, err := n.deps.Searcher.Search(ctx, subQuery)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteFallback lets the agent keep reasoning on whatever it already
// gathered when every search attempt fails.
func (n *searchNode) ExecuteFallback(ctx context.Context, c chain.Context, prepared any, execErr error) (any, error) {
	slog.Warn("Web search failed, continuing with gathered research", "error", execErr)
	return "", nil
}

func (n *searchNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	results, _ := result.(string)
	subQuery, _ := prepared.(string)
	if results != "" {
		accumulated := c.GetString(KeyResearchContext)
		entry := fmt.Sprintf("### Search: %s\n%s", subQuery, results)
		if accumulated == "" {
			c.Set(KeyResearchContext, entry)
		} else {
			c.Set(KeyResearchContext, accumulated+"\n\n"+entry)
		}
	}
	// Back to the dispatcher for the next decision.
	return "", nil
}

// =============================================================================
// Draft
// =============================================================================

type draftNode struct {
	chain.BaseNode
	deps GroundedDeps
}

func (n *draftNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	return dispatchInput{
		query:    c.GetString(KeyQuery),
		research: c.GetString(KeyResearchContext),
	}, nil
}

func (n *draftNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(dispatchInput)
	if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(
		`Answer the question using the research below. Cite which search the facts came from. If the research does not answer the question, say what is missing.

Question: %s

Research:
%s`, in.query, in.research)

	answer, err := n.deps.LLM.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to draft grounded answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (n *draftNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	answer, _ := result.(string)
	c.Set(chain.KeyOutput, answer)
	return "done", nil
}

// =============================================================================
// Chain Assembly
// =============================================================================

// NewGroundedChain wires the dispatch/search cycle with the draft exit.
// The "error" label has no edge, so a dispatch failure terminates the drive
// with that label.
func NewGroundedChain(deps GroundedDeps) *chain.Chain {
	dispatch := &dispatchNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("dispatch")), deps: deps}
	search := &searchNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("web_search")), deps: deps}
	draft := &draftNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("draft_answer")), deps: deps}

	dispatch.Connect(labelSearch, search)
	dispatch.Connect(labelDraft, draft)
	search.Then(dispatch)

	return chain.NewChain(chain.ChainConfig{
		Name:     "grounded_answer",
		Start:    dispatch,
		MaxSteps: groundedMaxSteps,
	})
}

// RunGrounded answers one query with iterative web research and returns the
// drafted answer plus the accumulated research context.
func RunGrounded(ctx context.Context, deps GroundedDeps, query string) (string, string, error) {
	ctx, span := tracer.Start(ctx, "pipelines.RunGrounded")
	defer span.End()

	c := chain.NewContext()
	c.Set(KeyQuery, query)

	label, err := NewGroundedChain(deps).Run(ctx, c)
	if err != nil {
		return "", "", err
	}
	if label == labelError {
		return "", c.GetString(KeyResearchContext), fmt.Errorf("grounded agent failed: %s", c.GetString(KeyGroundedError))
	}
	return c.GetString(chain.KeyOutput), c.GetString(KeyResearchContext), nil
}
