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
	"sync"
	"testing"

	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
	"github.com/stretchr/testify/require"
)

// fakeLLM routes prompts through fn and records every prompt it saw.
type fakeLLM struct {
	mu      sync.Mutex
	fn      func(prompt string) (string, error)
	prompts []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.fn == nil {
		return "", errors.New("fakeLLM: no response function")
	}
	return f.fn(prompt)
}

func (f *fakeLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("fakeLLM: empty chat")
	}
	return f.Generate(ctx, messages[len(messages)-1].Content, params)
}

func (f *fakeLLM) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeEmbedder returns a fixed vector, or err when set.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

// fakeIndex is an in-memory ChunkIndex.
type fakeIndex struct {
	mu         sync.Mutex
	hits       []datatypes.ChunkHit
	fileChunks []datatypes.ChunkHit
	indexed    []store.ChunkRecord
	searchErr  error
}

func (f *fakeIndex) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeIndex) IndexChunks(ctx context.Context, chunks []store.ChunkRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, chunks...)
	return len(chunks), nil
}

func (f *fakeIndex) Search(ctx context.Context, repoID string, vector []float32, limit int) ([]datatypes.ChunkHit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) FileChunks(ctx context.Context, repoID, fileID string) ([]datatypes.ChunkHit, error) {
	return f.fileChunks, nil
}

func (f *fakeIndex) DeleteRepo(ctx context.Context, repoID string) error { return nil }

// fakeSearcher is a scripted web search provider.
type fakeSearcher struct {
	mu      sync.Mutex
	result  string
	err     error
	queries []string
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(ctx context.Context, query string) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func newTestRecordStore(t *testing.T) *store.RecordStore {
	t.Helper()
	s, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fastConfig removes retry delays so failure paths run quickly.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.NodeRetries = 1
	cfg.LLMRequestsPerSecond = 10000
	cfg.LLMBurst = 100
	return cfg
}
