// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// MaxQueryBytes is the maximum size of a user query. Byte length, not rune
// count, so oversized multi-byte payloads are rejected too.
const MaxQueryBytes = 32 * 1024

// ragValidate is the validator instance for query datatypes.
// Initialized in init() with custom validators.
var ragValidate *validator.Validate

func init() {
	ragValidate = validator.New()
	_ = ragValidate.RegisterValidation("maxbytes", validateMaxQueryBytes)
}

// validateMaxQueryBytes enforces MaxQueryBytes on a string field.
func validateMaxQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RAGRequest asks a question against an ingested repository.
type RAGRequest struct {
	RepoID string `json:"repo_id" binding:"required,uuid" validate:"required,uuid4"`
	Query  string `json:"query" binding:"required" validate:"required,maxbytes"`
}

// Validate checks the request beyond what JSON binding covers. Call it
// after binding succeeds.
func (r *RAGRequest) Validate() error {
	return ragValidate.Struct(r)
}

// ChunkHit is one retrieved chunk from the vector index.
type ChunkHit struct {
	ID       string  `json:"id"`
	FilePath string  `json:"file_path"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// RAGAnswer is the terminal product of the answer pipeline.
type RAGAnswer struct {
	Response string     `json:"response"`
	Sources  []ChunkHit `json:"sources,omitempty"`
}

// Stage result status tags. A failed stage produces StatusError but does not
// stop the chain; downstream stages observe the tag and carry it forward.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StageResult is the tagged outcome a pipeline stage leaves in the shared
// context for the next stage.
type StageResult struct {
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SuccessResult tags a payload as a successful stage outcome.
func SuccessResult(payload any) StageResult {
	return StageResult{Status: StatusSuccess, Payload: payload}
}

// ErrorResult tags a failure message as a stage outcome.
func ErrorResult(msg string) StageResult {
	return StageResult{Status: StatusError, Error: msg}
}

// OK reports whether the stage succeeded.
func (r StageResult) OK() bool {
	return r.Status == StatusSuccess
}
