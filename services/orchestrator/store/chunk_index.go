// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chainflow.orchestrator.store")

// maxFileChunks bounds a per-file scroll query.
const maxFileChunks = 1000

// ChunkRecord is one embedded chunk headed for the index.
type ChunkRecord struct {
	RepoID     string
	FileID     string
	FilePath   string
	ChunkIndex int
	Content    string
	Vector     []float32
}

// ChunkIndex is the vector index over file chunks.
type ChunkIndex interface {
	// EnsureSchema creates the chunk class when it does not exist.
	EnsureSchema(ctx context.Context) error
	// IndexChunks upserts chunks and returns how many succeeded.
	IndexChunks(ctx context.Context, chunks []ChunkRecord) (int, error)
	// Search returns the chunks nearest to vector within one repo.
	Search(ctx context.Context, repoID string, vector []float32, limit int) ([]datatypes.ChunkHit, error)
	// FileChunks returns a file's chunks without vector ranking.
	FileChunks(ctx context.Context, repoID, fileID string) ([]datatypes.ChunkHit, error)
	// DeleteRepo removes every chunk of a repo.
	DeleteRepo(ctx context.Context, repoID string) error
}

// WeaviateChunkIndex implements ChunkIndex on a Weaviate instance.
type WeaviateChunkIndex struct {
	client *weaviate.Client
}

// NewWeaviateChunkIndex wraps an existing Weaviate client.
func NewWeaviateChunkIndex(client *weaviate.Client) *WeaviateChunkIndex {
	return &WeaviateChunkIndex{client: client}
}

// EnsureSchema implements the ChunkIndex interface
func (w *WeaviateChunkIndex) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().
		WithClassName(datatypes.CodeChunkClass).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for class %s: %w", datatypes.CodeChunkClass, err)
	}
	if exists {
		return nil
	}
	slog.Info("Creating Weaviate class", "class", datatypes.CodeChunkClass)
	err = w.client.Schema().ClassCreator().
		WithClass(datatypes.CodeChunkSchema()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create class %s: %w", datatypes.CodeChunkClass, err)
	}
	return nil
}

// chunkUUID derives a stable object id from the chunk's identity, so
// re-ingesting a file upserts instead of duplicating.
func chunkUUID(repoID, fileID string, chunkIndex int) strfmt.UUID {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", repoID, fileID, chunkIndex))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// IndexChunks implements the ChunkIndex interface
func (w *WeaviateChunkIndex) IndexChunks(ctx context.Context, chunks []ChunkRecord) (int, error) {
	ctx, span := tracer.Start(ctx, "WeaviateChunkIndex.IndexChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks.count", len(chunks)))

	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class:  datatypes.CodeChunkClass,
			ID:     chunkUUID(chunk.RepoID, chunk.FileID, chunk.ChunkIndex),
			Vector: chunk.Vector,
			Properties: map[string]interface{}{
				"repo_id":     chunk.RepoID,
				"file_id":     chunk.FileID,
				"file_path":   chunk.FilePath,
				"chunk_index": chunk.ChunkIndex,
				"content":     chunk.Content,
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to batch-import chunks: %w", err)
	}

	indexed := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			indexed++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "error", errItem.Message)
			}
		}
	}
	if indexed < len(chunks) {
		slog.Warn("Some chunks failed to index", "requested", len(chunks), "indexed", indexed)
	}
	return indexed, nil
}

var chunkFields = []graphql.Field{
	{Name: "repo_id"},
	{Name: "file_id"},
	{Name: "file_path"},
	{Name: "chunk_index"},
	{Name: "content"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

// Search implements the ChunkIndex interface
func (w *WeaviateChunkIndex) Search(ctx context.Context, repoID string, vector []float32, limit int) ([]datatypes.ChunkHit, error) {
	ctx, span := tracer.Start(ctx, "WeaviateChunkIndex.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("repo.id", repoID),
		attribute.Int("search.limit", limit),
	)

	repoFilter := filters.Where().
		WithPath([]string{"repo_id"}).
		WithOperator(filters.Equal).
		WithValueText(repoID)

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.CodeChunkClass).
		WithFields(chunkFields...).
		WithWhere(repoFilter).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.CodeChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	hits := make([]datatypes.ChunkHit, 0, len(parsed.Get.CodeChunk))
	for _, chunk := range parsed.Get.CodeChunk {
		hits = append(hits, datatypes.ChunkHit{
			ID:       chunk.Additional.ID,
			FilePath: chunk.FilePath,
			Content:  chunk.Content,
			Score:    chunk.Additional.Certainty,
		})
	}
	slog.Debug("Vector search complete", "repo_id", repoID, "hits", len(hits))
	return hits, nil
}

// FileChunks implements the ChunkIndex interface
func (w *WeaviateChunkIndex) FileChunks(ctx context.Context, repoID, fileID string) ([]datatypes.ChunkHit, error) {
	ctx, span := tracer.Start(ctx, "WeaviateChunkIndex.FileChunks")
	defer span.End()

	fileFilter := filters.Where().WithOperator(filters.And).WithOperands([]*filters.WhereBuilder{
		filters.Where().WithPath([]string{"repo_id"}).WithOperator(filters.Equal).WithValueText(repoID),
		filters.Where().WithPath([]string{"file_id"}).WithOperator(filters.Equal).WithValueText(fileID),
	})

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.CodeChunkClass).
		WithFields(chunkFields...).
		WithWhere(fileFilter).
		WithLimit(maxFileChunks).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate file chunk query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.CodeChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file chunk results: %w", err)
	}
	return orderedFileHits(parsed.Get.CodeChunk), nil
}

// orderedFileHits maps query results to hits in chunk_index order, so a
// file's chunks always read front to back regardless of index ordering.
func orderedFileHits(results []datatypes.CodeChunkResult) []datatypes.ChunkHit {
	sorted := make([]datatypes.CodeChunkResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})

	hits := make([]datatypes.ChunkHit, 0, len(sorted))
	for _, chunk := range sorted {
		hits = append(hits, datatypes.ChunkHit{
			ID:       chunk.Additional.ID,
			FilePath: chunk.FilePath,
			Content:  chunk.Content,
		})
	}
	return hits
}

// DeleteRepo implements the ChunkIndex interface
func (w *WeaviateChunkIndex) DeleteRepo(ctx context.Context, repoID string) error {
	ctx, span := tracer.Start(ctx, "WeaviateChunkIndex.DeleteRepo")
	defer span.End()
	span.SetAttributes(attribute.String("repo.id", repoID))

	repoFilter := filters.Where().
		WithPath([]string{"repo_id"}).
		WithOperator(filters.Equal).
		WithValueText(repoID)

	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.CodeChunkClass).
		WithWhere(repoFilter).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete repo chunks: %w", err)
	}
	slog.Info("Deleted repo chunks from index", "repo_id", repoID)
	return nil
}
