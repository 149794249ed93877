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
	"math/rand"
	"strings"
	"time"

	"github.com/AleutianAI/chainflow/pkg/chain"
	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Context keys of the QA generation pipeline.
const (
	KeyBatchID      = "batch_id"
	KeyQAChunks     = "qa_chunks"
	KeyQACandidates = "qa_candidates"
	KeyQAPairs      = "qa_pairs"
)

// neighborLimit is how many nearest chunks feed a question's related
// context; the chunk itself is skipped when it comes back in its own
// neighborhood.
const neighborLimit = 5

// QAGenDeps are the collaborators of the synthetic QA pipeline.
type QAGenDeps struct {
	LLM      llm.LLMClient
	Embedder llm.Embedder
	Index    store.ChunkIndex
	Store    *store.RecordStore
	Limiter  *rate.Limiter

	// Rand drives the evolution strategy draw. Nil means time-seeded.
	Rand *rand.Rand

	Config Config
}

func (d QAGenDeps) rng() *rand.Rand {
	if d.Rand != nil {
		return d.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (d QAGenDeps) nodeConfig(name string) chain.NodeConfig {
	cfg := d.Config.withDefaults()
	return chain.NodeConfig{
		Name:       name,
		Retries:    cfg.NodeRetries,
		RetryDelay: time.Duration(cfg.NodeRetryDelaySeconds) * time.Second,
	}
}

// qaCandidate is one chunk working its way toward a persisted gold pair.
type qaCandidate struct {
	Chunk          datatypes.ChunkHit
	ChunkScore     datatypes.ChunkScore
	RelatedContext string
	Question       string
	QuestionScore  datatypes.QuestionScore
	Strategy       string
	Answer         string
}

// =============================================================================
// Load Chunks
// =============================================================================

type loadChunksNode struct {
	chain.BaseNode
	deps QAGenDeps
}

func (n *loadChunksNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	repoID := c.GetString(KeyRepoID)
	fileID := c.GetString(KeyFileID)
	if repoID == "" || fileID == "" {
		return nil, errors.New("missing repo or file identity in QA context")
	}
	return [2]string{repoID, fileID}, nil
}

func (n *loadChunksNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	ids := prepared.([2]string)
	chunks, err := n.deps.Index.FileChunks(ctx, ids[0], ids[1])
	if err != nil {
		return nil, fmt.Errorf("failed to load file chunks: %w", err)
	}
	return chunks, nil
}

func (n *loadChunksNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	chunks, _ := result.([]datatypes.ChunkHit)
	c.Set(KeyQAChunks, chunks)
	return "", nil
}

// =============================================================================
// Score Chunks
// =============================================================================

type scoreChunksNode struct {
	chain.BaseNode
	deps QAGenDeps
}

func (n *scoreChunksNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	chunks, _ := c[KeyQAChunks].([]datatypes.ChunkHit)
	return chunks, nil
}

func (n *scoreChunksNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	chunks := prepared.([]datatypes.ChunkHit)
	threshold := n.deps.Config.withDefaults().ChunkScoreThreshold

	var survivors []qaCandidate
	for _, chunk := range chunks {
		score, err := n.scoreChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if score.Overall < threshold {
			slog.Debug("Chunk below score threshold, skipping",
				"chunk_id", chunk.ID, "score", score.Overall, "threshold", threshold)
			continue
		}
		survivors = append(survivors, qaCandidate{Chunk: chunk, ChunkScore: score})
	}
	return survivors, nil
}

func (n *scoreChunksNode) scoreChunk(ctx context.Context, chunk datatypes.ChunkHit) (datatypes.ChunkScore, error) {
	if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
		return datatypes.ChunkScore{}, err
	}
	prompt := fmt.Sprintf(
		`Grade this code chunk as raw material for a technical question. Score each dimension from 0.0 to 1.0.
Respond with JSON only: {"clarity": x, "depth": x, "structure": x, "relevance": x, "overall": x}

Chunk:
%s`, chunk.Content)

	response, err := n.deps.LLM.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return datatypes.ChunkScore{}, fmt.Errorf("failed to score chunk %s: %w", chunk.ID, err)
	}

	var score datatypes.ChunkScore
	if err := llm.ParseObject(response, &score); err != nil {
		// An unparseable judge response scores the chunk neutrally rather
		// than discarding it or failing the file.
		slog.Warn("Unparseable chunk score, defaulting to 0.5", "chunk_id", chunk.ID, "error", err)
		return datatypes.ChunkScore{Clarity: 0.5, Depth: 0.5, Structure: 0.5, Relevance: 0.5, Overall: 0.5}, nil
	}
	if score.Overall == 0 {
		score.Overall = score.Mean()
	}
	return score, nil
}

func (n *scoreChunksNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	candidates, _ := result.([]qaCandidate)
	c.Set(KeyQACandidates, candidates)
	return "", nil
}

// =============================================================================
// Generate Questions
// =============================================================================

type generateQuestionsNode struct {
	chain.BaseNode
	deps QAGenDeps
}

func (n *generateQuestionsNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	candidates, _ := c[KeyQACandidates].([]qaCandidate)
	return [2]any{c.GetString(KeyRepoID), candidates}, nil
}

func (n *generateQuestionsNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.([2]any)
	repoID := in[0].(string)
	candidates := in[1].([]qaCandidate)

	out := make([]qaCandidate, 0, len(candidates))
	for _, cand := range candidates {
		related, err := n.relatedContext(ctx, repoID, cand.Chunk)
		if err != nil {
			return nil, err
		}
		cand.RelatedContext = related

		if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
			return nil, err
		}
		prompt := fmt.Sprintf(
			`Write one self-contained technical question that can be answered from the code below.
The question must not refer to "this code" or "the snippet"; name the things it asks about.
Return only the question.

Primary code:
%s

Related code:
%s`, cand.Chunk.Content, related)

		question, err := n.deps.LLM.Generate(ctx, prompt, llm.GenerationParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to generate question for chunk %s: %w", cand.Chunk.ID, err)
		}
		cand.Question = strings.TrimSpace(question)
		if cand.Question == "" {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

// relatedContext embeds the chunk and gathers its nearest repo-scoped
// neighbors, skipping the chunk itself.
func (n *generateQuestionsNode) relatedContext(ctx context.Context, repoID string, chunk datatypes.ChunkHit) (string, error) {
	if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
		return "", err
	}
	vector, err := n.deps.Embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return "", fmt.Errorf("failed to embed chunk %s: %w", chunk.ID, err)
	}
	neighbors, err := n.deps.Index.Search(ctx, repoID, vector, neighborLimit)
	if err != nil {
		return "", fmt.Errorf("neighbor search failed for chunk %s: %w", chunk.ID, err)
	}

	var b strings.Builder
	for _, neighbor := range neighbors {
		if neighbor.ID == chunk.ID {
			continue
		}
		fmt.Fprintf(&b, "// %s\n%s\n\n", neighbor.FilePath, neighbor.Content)
	}
	return strings.TrimSpace(b.String()), nil
}

func (n *generateQuestionsNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	candidates, _ := result.([]qaCandidate)
	c.Set(KeyQACandidates, candidates)
	return "", nil
}

// =============================================================================
// Score Questions
// =============================================================================

type scoreQuestionsNode struct {
	chain.BaseNode
	deps QAGenDeps
}

func (n *scoreQuestionsNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	candidates, _ := c[KeyQACandidates].([]qaCandidate)
	return candidates, nil
}

func (n *scoreQuestionsNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	candidates := prepared.([]qaCandidate)
	threshold := n.deps.Config.withDefaults().QuestionScoreThreshold

	out := make([]qaCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
			return nil, err
		}
		prompt := fmt.Sprintf(
			`Grade this question. Score each dimension from 0.0 to 1.0.
"self_containment": can it be understood without seeing the code it was written from?
"clarity": is it unambiguous?
Respond with JSON only: {"self_containment": x, "clarity": x, "overall": x}

Question: %s`, cand.Question)

		response, err := n.deps.LLM.Generate(ctx, prompt, llm.GenerationParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to score question: %w", err)
		}

		var score datatypes.QuestionScore
		if err := llm.ParseObject(response, &score); err != nil {
			slog.Warn("Unparseable question score, defaulting to 0.5", "error", err)
			score = datatypes.QuestionScore{SelfContainment: 0.5, Clarity: 0.5, Overall: 0.5}
		}
		if score.Overall == 0 {
			score.Overall = score.Mean()
		}
		if score.Overall < threshold {
			slog.Debug("Question below score threshold, skipping",
				"score", score.Overall, "threshold", threshold)
			continue
		}
		cand.QuestionScore = score
		out = append(out, cand)
	}
	return out, nil
}

func (n *scoreQuestionsNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	candidates, _ := result.([]qaCandidate)
	c.Set(KeyQACandidates, candidates)
	return "", nil
}

// =============================================================================
// Evolve Questions
// =============================================================================

type evolveQuestionsNode struct {
	chain.BaseNode
	deps QAGenDeps
}

func (n *evolveQuestionsNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	candidates, _ := c[KeyQACandidates].([]qaCandidate)
	return candidates, nil
}

func (n *evolveQuestionsNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	candidates := prepared.([]qaCandidate)
	rng := n.deps.rng()

	out := make([]qaCandidate, 0, len(candidates))
	for _, cand := range candidates {
		evolved, strategy, err := EvolveQuestion(ctx, n.deps.LLM, n.deps.Limiter, rng, cand.Question, cand.Chunk.Content)
		if err != nil {
			return nil, err
		}
		cand.Question = evolved
		cand.Strategy = strategy
		out = append(out, cand)
	}
	return out, nil
}

func (n *evolveQuestionsNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	candidates, _ := result.([]qaCandidate)
	c.Set(KeyQACandidates, candidates)
	return "", nil
}

// =============================================================================
// Generate Answers
// =============================================================================

type generateAnswersNode struct {
	chain.BaseNode
	deps QAGenDeps
}

func (n *generateAnswersNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	candidates, _ := c[KeyQACandidates].([]qaCandidate)
	return candidates, nil
}

func (n *generateAnswersNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	candidates := prepared.([]qaCandidate)

	out := make([]qaCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
			return nil, err
		}
		prompt := fmt.Sprintf(
			`Answer the question using only the code below. Be precise and complete.

Primary code:
%s

Related code:
%s

Question: %s`, cand.Chunk.Content, cand.RelatedContext, cand.Question)

		answer, err := n.deps.LLM.Generate(ctx, prompt, llm.GenerationParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to generate gold answer: %w", err)
		}
		cand.Answer = strings.TrimSpace(answer)
		if cand.Answer == "" {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func (n *generateAnswersNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	candidates, _ := result.([]qaCandidate)
	c.Set(KeyQACandidates, candidates)
	return "", nil
}

// =============================================================================
// Persist
// =============================================================================

type persistQANode struct {
	chain.BaseNode
	deps QAGenDeps
}

type persistInput struct {
	repoID, fileID, batchID string
	candidates              []qaCandidate
}

func (n *persistQANode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	batchID := c.GetString(KeyBatchID)
	if batchID == "" {
		return nil, errors.New("missing batch_id in QA context")
	}
	candidates, _ := c[KeyQACandidates].([]qaCandidate)
	return persistInput{
		repoID:     c.GetString(KeyRepoID),
		fileID:     c.GetString(KeyFileID),
		batchID:    batchID,
		candidates: candidates,
	}, nil
}

func (n *persistQANode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(persistInput)
	pairs := make([]datatypes.QAPair, 0, len(in.candidates))
	for _, cand := range in.candidates {
		pair := datatypes.QAPair{
			ID:                uuid.NewString(),
			BatchID:           in.batchID,
			RepoID:            in.repoID,
			FileID:            in.fileID,
			ChunkID:           cand.Chunk.ID,
			Question:          cand.Question,
			Answer:            cand.Answer,
			EvolutionStrategy: cand.Strategy,
			ChunkScore:        cand.ChunkScore.Overall,
			QuestionScore:     cand.QuestionScore.Overall,
			CreatedAt:         time.Now().UTC(),
		}
		if err := n.deps.Store.PutQAPair(ctx, pair); err != nil {
			return nil, fmt.Errorf("failed to persist gold pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (n *persistQANode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	pairs, _ := result.([]datatypes.QAPair)
	c.Set(KeyQAPairs, pairs)
	slog.Info("Persisted gold pairs", "count", len(pairs))
	return "", nil
}

// =============================================================================
// Chain Assembly
// =============================================================================

// NewQAGenChain wires the per-file QA generation pipeline.
func NewQAGenChain(deps QAGenDeps) *chain.Chain {
	load := &loadChunksNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("load_chunks")), deps: deps}
	scoreChunks := &scoreChunksNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("score_chunks")), deps: deps}
	genQuestions := &generateQuestionsNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("generate_questions")), deps: deps}
	scoreQuestions := &scoreQuestionsNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("score_questions")), deps: deps}
	evolve := &evolveQuestionsNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("evolve_questions")), deps: deps}
	answers := &generateAnswersNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("generate_answers")), deps: deps}
	persist := &persistQANode{BaseNode: chain.NewBaseNode(deps.nodeConfig("persist_qa")), deps: deps}

	load.Then(scoreChunks)
	scoreChunks.Then(genQuestions)
	genQuestions.Then(scoreQuestions)
	scoreQuestions.Then(evolve)
	evolve.Then(answers)
	answers.Then(persist)

	return chain.NewChain(chain.ChainConfig{Name: "qa_generation", Start: load})
}

// GenerateFileQA runs the QA pipeline over one file's indexed chunks and
// returns the persisted gold pairs.
func GenerateFileQA(ctx context.Context, deps QAGenDeps, repoID, fileID, batchID string) ([]datatypes.QAPair, error) {
	ctx, span := tracer.Start(ctx, "pipelines.GenerateFileQA")
	defer span.End()

	c := chain.NewContext()
	c.Set(KeyRepoID, repoID)
	c.Set(KeyFileID, fileID)
	c.Set(KeyBatchID, batchID)

	if _, err := NewQAGenChain(deps).Run(ctx, c); err != nil {
		return nil, err
	}
	pairs, _ := c[KeyQAPairs].([]datatypes.QAPair)
	return pairs, nil
}
