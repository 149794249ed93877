// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipelines assembles the orchestrator's LLM workflows from chain
// nodes: retrieval-augmented answering, repository ingestion, synthetic QA
// generation, evaluation, and the grounded web-search agent.
//
// Stages communicate through tagged StageResults in the shared chain
// context. A failed stage leaves an error-tagged result and lets the chain
// keep driving; downstream stages observe the tag and carry it forward, so
// the terminal output always reflects the first failure without aborting
// the run. Provider failures inside a stage are retried by the node runner;
// the error tag is only produced once retries are exhausted.
package pipelines

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/chainflow/pkg/chain"
	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("chainflow.orchestrator.pipelines")

// Context keys the answer pipeline reads and writes.
const (
	KeyRepoID      = "repo_id"
	KeyQuery       = "query"
	KeyQueryVector = "query_vector"
	KeyRetrieved   = "retrieved"
)

// RAGDeps are the collaborators of the answer pipeline.
type RAGDeps struct {
	LLM      llm.LLMClient
	Embedder llm.Embedder
	Index    store.ChunkIndex
	Limiter  *rate.Limiter
	Config   Config
}

func (d RAGDeps) nodeConfig(name string) chain.NodeConfig {
	cfg := d.Config.withDefaults()
	return chain.NodeConfig{
		Name:       name,
		Retries:    cfg.NodeRetries,
		RetryDelay: time.Duration(cfg.NodeRetryDelaySeconds) * time.Second,
	}
}

// wait blocks on the shared limiter when one is configured.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// asStageResult normalizes a node result that is either a carried-forward
// StageResult or a raw payload.
func asStageResult(v any) (datatypes.StageResult, bool) {
	sr, ok := v.(datatypes.StageResult)
	return sr, ok
}

// =============================================================================
// Embed Query
// =============================================================================

type embedQueryNode struct {
	chain.BaseNode
	deps RAGDeps
}

func (n *embedQueryNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	query := c.GetString(KeyQuery)
	if query == "" {
		return nil, errors.New("missing query in pipeline context")
	}
	return query, nil
}

func (n *embedQueryNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	query := prepared.(string)
	if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
		return nil, err
	}
	vector, err := n.deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return datatypes.SuccessResult(vector), nil
}

func (n *embedQueryNode) ExecuteFallback(ctx context.Context, c chain.Context, prepared any, execErr error) (any, error) {
	return datatypes.ErrorResult(execErr.Error()), nil
}

func (n *embedQueryNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	if sr, ok := asStageResult(result); ok {
		c.Set(KeyQueryVector, sr)
	}
	return "", nil
}

// =============================================================================
// Vector Search
// =============================================================================

type vectorSearchNode struct {
	chain.BaseNode
	deps RAGDeps
}

type searchInput struct {
	repoID string
	prev   datatypes.StageResult
}

func (n *vectorSearchNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	repoID := c.GetString(KeyRepoID)
	if repoID == "" {
		return nil, errors.New("missing repo_id in pipeline context")
	}
	prev, _ := c.Get(KeyQueryVector)
	sr, ok := asStageResult(prev)
	if !ok {
		return nil, errors.New("missing query vector stage result")
	}
	return searchInput{repoID: repoID, prev: sr}, nil
}

func (n *vectorSearchNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(searchInput)
	if !in.prev.OK() {
		// Upstream failure rides through untouched.
		return in.prev, nil
	}
	vector, ok := in.prev.Payload.([]float32)
	if !ok {
		return nil, errors.New("query vector stage carried an unexpected payload")
	}
	hits, err := n.deps.Index.Search(ctx, in.repoID, vector, n.deps.Config.withDefaults().TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return datatypes.SuccessResult(hits), nil
}

func (n *vectorSearchNode) ExecuteFallback(ctx context.Context, c chain.Context, prepared any, execErr error) (any, error) {
	return datatypes.ErrorResult(execErr.Error()), nil
}

func (n *vectorSearchNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	sr, ok := asStageResult(result)
	if !ok {
		return "", errors.New("vector search produced no stage result")
	}
	c.Set(KeyRetrieved, sr)
	if sr.OK() {
		if hits, ok := sr.Payload.([]datatypes.ChunkHit); ok {
			c.AppendLog(chain.LogEntry{"type": "retrieval", "results": hits})
		}
	}
	return "", nil
}

// =============================================================================
// Generate Answer
// =============================================================================

type generateAnswerNode struct {
	chain.BaseNode
	deps RAGDeps
}

type answerInput struct {
	query     string
	retrieved datatypes.StageResult
}

func (n *generateAnswerNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	prev, _ := c.Get(KeyRetrieved)
	sr, ok := asStageResult(prev)
	if !ok {
		return nil, errors.New("missing retrieval stage result")
	}
	return answerInput{query: c.GetString(KeyQuery), retrieved: sr}, nil
}

func (n *generateAnswerNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(answerInput)
	if !in.retrieved.OK() {
		return in.retrieved, nil
	}
	hits, _ := in.retrieved.Payload.([]datatypes.ChunkHit)

	if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
		return nil, err
	}
	response, err := n.deps.LLM.Generate(ctx, buildAnswerPrompt(in.query, hits), llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return datatypes.SuccessResult(datatypes.RAGAnswer{
		Response: strings.TrimSpace(response),
		Sources:  hits,
	}), nil
}

func (n *generateAnswerNode) ExecuteFallback(ctx context.Context, c chain.Context, prepared any, execErr error) (any, error) {
	return datatypes.ErrorResult(execErr.Error()), nil
}

func (n *generateAnswerNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	if sr, ok := asStageResult(result); ok {
		c.Set(chain.KeyOutput, sr)
	}
	return "", nil
}

func buildAnswerPrompt(query string, hits []datatypes.ChunkHit) string {
	var b strings.Builder
	b.WriteString("You are a code assistant answering questions about a repository.\n")
	b.WriteString("Answer strictly from the context below. If the context does not contain the answer, say so.\n\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "--- Context %d (%s) ---\n%s\n\n", i+1, hit.FilePath, hit.Content)
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer:", query)
	return b.String()
}

// =============================================================================
// Chain Assembly
// =============================================================================

// NewRAGChain wires embed -> search -> answer into one chain.
func NewRAGChain(deps RAGDeps) *chain.Chain {
	embed := &embedQueryNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("embed_query")), deps: deps}
	search := &vectorSearchNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("vector_search")), deps: deps}
	answer := &generateAnswerNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("generate_answer")), deps: deps}

	embed.Then(search)
	search.Then(answer)

	return chain.NewChain(chain.ChainConfig{Name: "rag_query", Start: embed})
}

// RunRAG answers one query against a repository and returns the answer with
// its retrieved sources. The error reflects the first failed stage.
func RunRAG(ctx context.Context, deps RAGDeps, repoID, query string) (datatypes.RAGAnswer, error) {
	ctx, span := tracer.Start(ctx, "pipelines.RunRAG")
	defer span.End()

	c := chain.NewContext()
	c.Set(KeyRepoID, repoID)
	c.Set(KeyQuery, query)

	if _, err := NewRAGChain(deps).Run(ctx, c); err != nil {
		return datatypes.RAGAnswer{}, err
	}

	out, _ := c.Get(chain.KeyOutput)
	sr, ok := asStageResult(out)
	if !ok {
		return datatypes.RAGAnswer{}, errors.New("answer pipeline produced no output")
	}
	if !sr.OK() {
		return datatypes.RAGAnswer{}, fmt.Errorf("answer pipeline failed: %s", sr.Error)
	}
	answer, ok := sr.Payload.(datatypes.RAGAnswer)
	if !ok {
		return datatypes.RAGAnswer{}, errors.New("answer pipeline produced an unexpected payload")
	}
	return answer, nil
}
