// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// QABatch groups the synthetic gold pairs produced by one generation run
// over a repository.
type QABatch struct {
	ID        string    `json:"id"`
	RepoID    string    `json:"repo_id"`
	CreatedAt time.Time `json:"created_at"`
}

// QAPair is one synthetic gold question/answer pair.
type QAPair struct {
	ID                string    `json:"id"`
	BatchID           string    `json:"batch_id"`
	RepoID            string    `json:"repo_id"`
	FileID            string    `json:"file_id"`
	ChunkID           string    `json:"chunk_id"`
	Question          string    `json:"question"`
	Answer            string    `json:"answer"`
	EvolutionStrategy string    `json:"evolution_strategy,omitempty"`
	ChunkScore        float64   `json:"chunk_score"`
	QuestionScore     float64   `json:"question_score"`
	Archived          bool      `json:"archived"`
	CreatedAt         time.Time `json:"created_at"`
}

// ChunkScore grades a chunk's suitability as question material. Each
// dimension is 0.0 to 1.0. Overall is the judge's own overall when it gave
// one, otherwise the mean of the four dimensions.
type ChunkScore struct {
	Clarity   float64 `json:"clarity"`
	Depth     float64 `json:"depth"`
	Structure float64 `json:"structure"`
	Relevance float64 `json:"relevance"`
	Overall   float64 `json:"overall"`
}

// Mean returns the average of the four scored dimensions.
func (s ChunkScore) Mean() float64 {
	return (s.Clarity + s.Depth + s.Structure + s.Relevance) / 4
}

// QuestionScore grades a generated question.
type QuestionScore struct {
	SelfContainment float64 `json:"self_containment"`
	Clarity         float64 `json:"clarity"`
	Overall         float64 `json:"overall"`
}

// Mean returns the average of the two scored dimensions.
func (s QuestionScore) Mean() float64 {
	return (s.SelfContainment + s.Clarity) / 2
}

// ArchiveQARequest toggles the archived flag on a gold pair. Archived pairs
// are excluded from new evaluation jobs.
type ArchiveQARequest struct {
	Archived bool `json:"archived"`
}
