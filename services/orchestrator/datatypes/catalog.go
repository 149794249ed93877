// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// File ingestion statuses. A file moves pending -> processing -> processed,
// or lands on failed; it never moves backwards.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusProcessed  = "processed"
	FileStatusFailed     = "failed"
)

// Repo is one registered GitHub repository.
type Repo struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Branch    string    `json:"branch"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName returns the owner/name form used in API calls and logs.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// RepoFile is one source file of a registered repository with its ingestion
// state.
type RepoFile struct {
	ID         string    `json:"id"`
	RepoID     string    `json:"repo_id"`
	Path       string    `json:"path"`
	Summary    string    `json:"summary,omitempty"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RegisterRepoRequest registers a repository for ingestion.
type RegisterRepoRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Branch string `json:"branch"`
}
