// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Weaviate Schema
// =============================================================================

// CodeChunkClass is the Weaviate class holding embedded file chunks.
const CodeChunkClass = "CodeChunk"

// CodeChunkSchema returns the class definition for the chunk index. Vectors
// are supplied by the embedding pipeline, so the vectorizer stays off.
func CodeChunkSchema() *models.Class {
	return &models.Class{
		Class:      CodeChunkClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "repo_id", DataType: []string{"text"}},
			{Name: "file_id", DataType: []string{"text"}},
			{Name: "file_path", DataType: []string{"text"}},
			{Name: "chunk_index", DataType: []string{"int"}},
			{Name: "content", DataType: []string{"text"}},
		},
	}
}

// =============================================================================
// GraphQL Response Parsing
// =============================================================================

// ParseGraphQLResponse unmarshals a Weaviate GraphQL response's Data payload
// into a typed structure via a JSON round trip.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// CodeChunkQueryResponse is the shape of a Get query over CodeChunk.
type CodeChunkQueryResponse struct {
	Get struct {
		CodeChunk []CodeChunkResult `json:"CodeChunk"`
	} `json:"Get"`
}

// CodeChunkResult is a single chunk returned from a query.
type CodeChunkResult struct {
	RepoID     string `json:"repo_id"`
	FileID     string `json:"file_id"`
	FilePath   string `json:"file_path"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Additional struct {
		ID        string  `json:"id"`
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}
