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
	"github.com/AleutianAI/chainflow/pkg/chunking"
	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
	"golang.org/x/time/rate"
)

// Context keys of the ingestion pipeline.
const (
	KeyFileID      = "file_id"
	KeyFilePath    = "file_path"
	KeyFileContent = "file_content"
	KeySummary     = "summary"
	KeyChunks      = "chunks"
	KeyIndexed     = "indexed"
)

// summaryInputLimit caps how much of a file the summarizer sees.
const summaryInputLimit = 6000

// embedMaxAttempts and embedBaseDelay shape the rate-limit backoff inside
// the embed stage. The delay doubles per attempt.
const (
	embedMaxAttempts = 4
	embedBaseDelay   = time.Second
)

// IngestDeps are the collaborators of the per-file ingestion pipeline.
type IngestDeps struct {
	LLM      llm.LLMClient
	Embedder llm.Embedder
	Index    store.ChunkIndex
	Store    *store.RecordStore
	Objects  store.ObjectStore
	Limiter  *rate.Limiter
	Config   Config
}

func (d IngestDeps) nodeConfig(name string) chain.NodeConfig {
	cfg := d.Config.withDefaults()
	return chain.NodeConfig{
		Name:       name,
		Retries:    cfg.NodeRetries,
		RetryDelay: time.Duration(cfg.NodeRetryDelaySeconds) * time.Second,
	}
}

// =============================================================================
// Archive
// =============================================================================

type archiveFileNode struct {
	chain.BaseNode
	deps IngestDeps
}

type archiveInput struct {
	repoID, fileID, path, content string
}

func (n *archiveFileNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	in := archiveInput{
		repoID:  c.GetString(KeyRepoID),
		fileID:  c.GetString(KeyFileID),
		path:    c.GetString(KeyFilePath),
		content: c.GetString(KeyFileContent),
	}
	if in.repoID == "" || in.fileID == "" || in.path == "" {
		return nil, errors.New("missing file identity in ingestion context")
	}
	return in, nil
}

func (n *archiveFileNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(archiveInput)
	key := fmt.Sprintf("repos/%s/files/%s", in.repoID, in.path)
	if err := n.deps.Objects.Put(ctx, key, []byte(in.content), "text/plain; charset=utf-8"); err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", in.path, err)
	}
	return key, nil
}

// ExecuteFallback keeps ingestion alive when the archive bucket is down;
// the raw copy is a convenience, not a dependency of the index.
func (n *archiveFileNode) ExecuteFallback(ctx context.Context, c chain.Context, prepared any, execErr error) (any, error) {
	slog.Warn("Skipping file archive", "error", execErr)
	return "", nil
}

// =============================================================================
// Summarize
// =============================================================================

type summarizeFileNode struct {
	chain.BaseNode
	deps IngestDeps
}

func (n *summarizeFileNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	content := c.GetString(KeyFileContent)
	if content == "" {
		return nil, errors.New("missing file content in ingestion context")
	}
	if len(content) > summaryInputLimit {
		content = content[:summaryInputLimit]
	}
	return archiveInput{path: c.GetString(KeyFilePath), content: content}, nil
}

func (n *summarizeFileNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(archiveInput)
	if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(
		"Summarize the purpose of this source file in two sentences. Mention the key types or functions.\n\nFile: %s\n\n%s",
		in.path, in.content)
	summary, err := n.deps.LLM.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", in.path, err)
	}
	return strings.TrimSpace(summary), nil
}

// ExecuteFallback degrades to an empty summary; chunks then embed without a
// contextual prefix.
func (n *summarizeFileNode) ExecuteFallback(ctx context.Context, c chain.Context, prepared any, execErr error) (any, error) {
	slog.Warn("Summarization failed, continuing without summary", "error", execErr)
	return "", nil
}

func (n *summarizeFileNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	if summary, ok := result.(string); ok {
		c.Set(KeySummary, summary)
	}
	return "", nil
}

// =============================================================================
// Chunk
// =============================================================================

type chunkFileNode struct {
	chain.BaseNode
	deps IngestDeps
}

func (n *chunkFileNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	path := c.GetString(KeyFilePath)
	content := c.GetString(KeyFileContent)
	cfg := n.deps.Config.withDefaults()

	chunks, err := splitContent(cfg, path, content)
	if err != nil {
		return nil, err
	}
	return chunking.WithContext(path, c.GetString(KeySummary), chunks), nil
}

// splitContent applies the configured split strategy. The token splitter
// ignores structure entirely, which suits minified or generated files.
func splitContent(cfg Config, path, content string) ([]chunking.Chunk, error) {
	splitCfg := chunking.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	}
	if cfg.Splitter == SplitterToken {
		return chunking.SplitTokens(content, splitCfg)
	}
	return chunking.SplitFile(path, content, splitCfg)
}

func (n *chunkFileNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	chunks, ok := result.([]chunking.Chunk)
	if !ok {
		return "", errors.New("chunk stage produced an unexpected result")
	}
	c.Set(KeyChunks, chunks)
	return "", nil
}

// =============================================================================
// Embed and Index
// =============================================================================

type embedAndIndexNode struct {
	chain.BaseNode
	deps IngestDeps
}

type indexInput struct {
	repoID, fileID, path string
	chunks               []chunking.Chunk
}

func (n *embedAndIndexNode) Prepare(ctx context.Context, c chain.Context) (any, error) {
	chunks, _ := c[KeyChunks].([]chunking.Chunk)
	return indexInput{
		repoID: c.GetString(KeyRepoID),
		fileID: c.GetString(KeyFileID),
		path:   c.GetString(KeyFilePath),
		chunks: chunks,
	}, nil
}

func (n *embedAndIndexNode) Execute(ctx context.Context, c chain.Context, prepared any) (any, error) {
	in := prepared.(indexInput)
	if len(in.chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(in.chunks))
	for i, ch := range in.chunks {
		texts[i] = ch.Text
	}

	vectors, err := n.embedWithBackoff(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(in.chunks) {
		return nil, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(in.chunks), len(vectors))
	}

	records := make([]store.ChunkRecord, len(in.chunks))
	for i, ch := range in.chunks {
		records[i] = store.ChunkRecord{
			RepoID:     in.repoID,
			FileID:     in.fileID,
			FilePath:   in.path,
			ChunkIndex: ch.Index,
			Content:    ch.Text,
			Vector:     vectors[i],
		}
	}
	indexed, err := n.deps.Index.IndexChunks(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to index chunks for %s: %w", in.path, err)
	}
	return indexed, nil
}

// embedWithBackoff retries rate-limited embedding calls with a doubling
// delay before surrendering to the node-level retry policy.
func (n *embedAndIndexNode) embedWithBackoff(ctx context.Context, texts []string) ([][]float32, error) {
	delay := embedBaseDelay
	var lastErr error
	for attempt := 1; attempt <= embedMaxAttempts; attempt++ {
		if err := waitLimiter(ctx, n.deps.Limiter); err != nil {
			return nil, err
		}
		vectors, err := llm.EmbedAll(ctx, n.deps.Embedder, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !llm.IsRateLimited(err) {
			return nil, err
		}
		slog.Warn("Embedding rate limited, backing off", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func (n *embedAndIndexNode) PostProcess(ctx context.Context, c chain.Context, prepared, result any) (string, error) {
	if indexed, ok := result.(int); ok {
		c.Set(KeyIndexed, indexed)
	}
	return "", nil
}

// =============================================================================
// Chain Assembly
// =============================================================================

// NewIngestChain wires archive -> summarize -> chunk -> index for one file.
func NewIngestChain(deps IngestDeps) *chain.Chain {
	archive := &archiveFileNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("archive_file")), deps: deps}
	summarize := &summarizeFileNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("summarize_file")), deps: deps}
	chunk := &chunkFileNode{BaseNode: chain.NewBaseNode(chain.NodeConfig{Name: "chunk_file"}), deps: deps}
	index := &embedAndIndexNode{BaseNode: chain.NewBaseNode(deps.nodeConfig("embed_and_index")), deps: deps}

	archive.Then(summarize)
	summarize.Then(chunk)
	chunk.Then(index)

	return chain.NewChain(chain.ChainConfig{Name: "ingest_file", Start: archive})
}

// IngestFile runs the ingestion chain for one file and persists the file's
// status transitions: processing while the chain runs, then processed with
// the chunk count, or failed with the error.
func IngestFile(ctx context.Context, deps IngestDeps, file datatypes.RepoFile, content string) (int, error) {
	ctx, span := tracer.Start(ctx, "pipelines.IngestFile")
	defer span.End()

	file.Status = datatypes.FileStatusProcessing
	file.UpdatedAt = time.Now().UTC()
	if err := deps.Store.PutFile(ctx, file); err != nil {
		return 0, fmt.Errorf("failed to mark file processing: %w", err)
	}

	c := chain.NewContext()
	c.Set(KeyRepoID, file.RepoID)
	c.Set(KeyFileID, file.ID)
	c.Set(KeyFilePath, file.Path)
	c.Set(KeyFileContent, content)

	_, runErr := NewIngestChain(deps).Run(ctx, c)

	file.UpdatedAt = time.Now().UTC()
	if runErr != nil {
		file.Status = datatypes.FileStatusFailed
		file.Error = runErr.Error()
		if err := deps.Store.PutFile(ctx, file); err != nil {
			slog.Error("Failed to persist failed file status", "file_id", file.ID, "error", err)
		}
		return 0, runErr
	}

	indexed, _ := c[KeyIndexed].(int)
	file.Status = datatypes.FileStatusProcessed
	file.Summary = c.GetString(KeySummary)
	file.ChunkCount = indexed
	file.Error = ""
	if err := deps.Store.PutFile(ctx, file); err != nil {
		return indexed, fmt.Errorf("failed to persist processed file: %w", err)
	}
	slog.Info("Ingested file", "file_id", file.ID, "path", file.Path, "chunks", indexed)
	return indexed, nil
}
