// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipelines

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickStrategies_AlwaysDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seen := make(map[string]bool)
	for range 500 {
		first, second := PickStrategies(rng)
		assert.NotEqual(t, first, second)
		assert.Contains(t, EvolutionStrategies, first)
		assert.Contains(t, EvolutionStrategies, second)
		seen[first] = true
		seen[second] = true
	}
	assert.Len(t, seen, len(EvolutionStrategies), "every strategy should be drawable")
}

func TestEvolveQuestion_AppliesTwoStrategiesSequentially(t *testing.T) {
	var prompts []string
	client := &fakeLLM{fn: func(prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return fmt.Sprintf("evolved %d?", len(prompts)), nil
	}}

	rng := rand.New(rand.NewSource(7))
	evolved, record, err := EvolveQuestion(context.Background(), client, nil, rng, "original?", "chunk text")
	require.NoError(t, err)

	assert.Equal(t, "evolved 2?", evolved, "second rewrite builds on the first")
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "Question: original?")
	assert.Contains(t, prompts[1], "Question: evolved 1?")

	parts := strings.Split(record, "+")
	require.Len(t, parts, 2)
	assert.NotEqual(t, parts[0], parts[1])
	assert.Contains(t, EvolutionStrategies, parts[0])
	assert.Contains(t, EvolutionStrategies, parts[1])
}

func qaGenLLM() *fakeLLM {
	return &fakeLLM{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Grade this code chunk"):
			return `{"clarity":0.9,"depth":0.8,"structure":0.9,"relevance":0.9,"overall":0.9}`, nil
		case strings.Contains(prompt, "Grade this question"):
			return `{"self_containment":0.8,"clarity":0.9,"overall":0.85}`, nil
		case strings.Contains(prompt, "Rewrite the question"):
			return "How does the tokenizer split identifiers that contain digits?", nil
		case strings.Contains(prompt, "Write one self-contained"):
			return "How does the tokenizer split identifiers?", nil
		case strings.Contains(prompt, "Answer the question using only the code"):
			return "It splits on character class transitions.", nil
		}
		return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
	}}
}

func TestGenerateFileQA_PersistsGoldPairs(t *testing.T) {
	recordStore := newTestRecordStore(t)
	index := &fakeIndex{
		fileChunks: []datatypes.ChunkHit{
			{ID: "chunk-1", FilePath: "lexer.go", Content: "func (l *Lexer) Next() Token { ... }"},
		},
		hits: []datatypes.ChunkHit{
			{ID: "chunk-1", FilePath: "lexer.go", Content: "self"},
			{ID: "chunk-2", FilePath: "token.go", Content: "type Token struct { ... }"},
		},
	}
	deps := QAGenDeps{
		LLM:      qaGenLLM(),
		Embedder: &fakeEmbedder{vec: []float32{0.3}},
		Index:    index,
		Store:    recordStore,
		Rand:     rand.New(rand.NewSource(11)),
		Config:   fastConfig(),
	}

	pairs, err := GenerateFileQA(context.Background(), deps, "repo-1", "file-1", "batch-1")
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	pair := pairs[0]
	assert.Equal(t, "batch-1", pair.BatchID)
	assert.Equal(t, "repo-1", pair.RepoID)
	assert.Equal(t, "file-1", pair.FileID)
	assert.Equal(t, "chunk-1", pair.ChunkID)
	assert.Equal(t, "How does the tokenizer split identifiers that contain digits?", pair.Question)
	assert.Equal(t, "It splits on character class transitions.", pair.Answer)
	assert.InDelta(t, 0.9, pair.ChunkScore, 1e-9)
	assert.InDelta(t, 0.85, pair.QuestionScore, 1e-9)

	parts := strings.Split(pair.EvolutionStrategy, "+")
	require.Len(t, parts, 2)
	assert.NotEqual(t, parts[0], parts[1])

	stored, err := recordStore.ListQAPairs(context.Background(), "batch-1", false)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestGenerateFileQA_LowScoringChunkSkipped(t *testing.T) {
	recordStore := newTestRecordStore(t)
	index := &fakeIndex{
		fileChunks: []datatypes.ChunkHit{{ID: "chunk-1", FilePath: "a.go", Content: "junk"}},
	}
	client := &fakeLLM{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Grade this code chunk") {
			return `{"clarity":0.2,"depth":0.1,"structure":0.2,"relevance":0.1,"overall":0.15}`, nil
		}
		return "", fmt.Errorf("no further calls expected, got: %.60s", prompt)
	}}
	deps := QAGenDeps{
		LLM:      client,
		Embedder: &fakeEmbedder{vec: []float32{0.3}},
		Index:    index,
		Store:    recordStore,
		Config:   fastConfig(),
	}

	pairs, err := GenerateFileQA(context.Background(), deps, "repo-1", "file-1", "batch-1")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestGenerateFileQA_UnparseableChunkScoreDefaultsToNeutral(t *testing.T) {
	// 0.5 meets the default 0.5 threshold, so the chunk survives scoring.
	recordStore := newTestRecordStore(t)
	index := &fakeIndex{
		fileChunks: []datatypes.ChunkHit{{ID: "chunk-1", FilePath: "a.go", Content: "code"}},
		hits:       []datatypes.ChunkHit{{ID: "chunk-2", FilePath: "b.go", Content: "related"}},
	}
	client := qaGenLLM()
	base := client.fn
	client.fn = func(prompt string) (string, error) {
		if strings.Contains(prompt, "Grade this code chunk") {
			return "not json at all", nil
		}
		return base(prompt)
	}
	deps := QAGenDeps{
		LLM:      client,
		Embedder: &fakeEmbedder{vec: []float32{0.3}},
		Index:    index,
		Store:    recordStore,
		Rand:     rand.New(rand.NewSource(3)),
		Config:   fastConfig(),
	}

	pairs, err := GenerateFileQA(context.Background(), deps, "repo-1", "file-1", "batch-1")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.InDelta(t, 0.5, pairs[0].ChunkScore, 1e-9)
}
