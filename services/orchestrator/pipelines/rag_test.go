// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipelines

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/chainflow/pkg/chain"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRAGDeps(llmFn func(string) (string, error), index *fakeIndex, embedder *fakeEmbedder) RAGDeps {
	return RAGDeps{
		LLM:      &fakeLLM{fn: llmFn},
		Embedder: embedder,
		Index:    index,
		Config:   fastConfig(),
	}
}

func TestRunRAG_AnswersWithSources(t *testing.T) {
	index := &fakeIndex{hits: []datatypes.ChunkHit{
		{ID: "c1", FilePath: "a.go", Content: "func Add(a, b int) int { return a + b }", Score: 0.92},
		{ID: "c2", FilePath: "b.go", Content: "func Sub(a, b int) int { return a - b }", Score: 0.81},
	}}
	deps := testRAGDeps(func(prompt string) (string, error) {
		if !strings.Contains(prompt, "Question: what does Add do?") {
			return "", errors.New("unexpected prompt")
		}
		return "Add returns the sum of its arguments.", nil
	}, index, &fakeEmbedder{vec: []float32{0.1, 0.2}})

	answer, err := RunRAG(context.Background(), deps, "repo-1", "what does Add do?")
	require.NoError(t, err)
	assert.Equal(t, "Add returns the sum of its arguments.", answer.Response)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "a.go", answer.Sources[0].FilePath)
}

func TestRunRAG_RecordsRetrievalTrace(t *testing.T) {
	index := &fakeIndex{hits: []datatypes.ChunkHit{{ID: "c1", FilePath: "a.go", Content: "x"}}}
	deps := testRAGDeps(func(string) (string, error) { return "ok", nil },
		index, &fakeEmbedder{vec: []float32{1}})

	c := chain.NewContext()
	c.Set(KeyRepoID, "repo-1")
	c.Set(KeyQuery, "q")
	_, err := NewRAGChain(deps).Run(context.Background(), c)
	require.NoError(t, err)

	var found bool
	for _, entry := range c.Logs() {
		if entry["type"] == "retrieval" {
			found = true
			hits, ok := entry["results"].([]datatypes.ChunkHit)
			require.True(t, ok)
			assert.Len(t, hits, 1)
		}
	}
	assert.True(t, found, "retrieval trace must be logged for evaluation to consume")
}

func TestRunRAG_EmbedFailureCarriesThroughWithoutAborting(t *testing.T) {
	index := &fakeIndex{hits: []datatypes.ChunkHit{{ID: "c1"}}}
	llmCalled := false
	deps := testRAGDeps(func(string) (string, error) {
		llmCalled = true
		return "should not happen", nil
	}, index, &fakeEmbedder{err: errors.New("embedding backend down")})

	c := chain.NewContext()
	c.Set(KeyRepoID, "repo-1")
	c.Set(KeyQuery, "q")

	// The chain itself completes; the failure lives in the tagged output.
	_, err := NewRAGChain(deps).Run(context.Background(), c)
	require.NoError(t, err)

	out, _ := c.Get(chain.KeyOutput)
	sr, ok := out.(datatypes.StageResult)
	require.True(t, ok)
	assert.False(t, sr.OK())
	assert.Contains(t, sr.Error, "embedding backend down")
	assert.False(t, llmCalled, "generation must not run on a failed retrieval")
}

func TestRunRAG_SearchFailureSurfacesInError(t *testing.T) {
	index := &fakeIndex{searchErr: errors.New("weaviate unreachable")}
	deps := testRAGDeps(func(string) (string, error) { return "x", nil },
		index, &fakeEmbedder{vec: []float32{1}})

	_, err := RunRAG(context.Background(), deps, "repo-1", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weaviate unreachable")
}

func TestRunRAG_MissingQuery(t *testing.T) {
	deps := testRAGDeps(func(string) (string, error) { return "x", nil },
		&fakeIndex{}, &fakeEmbedder{vec: []float32{1}})

	_, err := RunRAG(context.Background(), deps, "repo-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing query")
}
