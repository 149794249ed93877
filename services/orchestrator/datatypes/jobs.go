// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Batch states. Transitions are monotonic: idle -> running -> completed.
// BatchFailed exists for operator bookkeeping only; nothing transitions to
// it automatically.
const (
	BatchIdle      = "idle"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// Job states for individual queue entries.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobRecord is the durable record of one enqueued unit of work. ID is the
// caller-chosen idempotency key.
type JobRecord struct {
	ID        string            `json:"id"`
	Queue     string            `json:"queue"`
	Task      string            `json:"task"`
	Status    string            `json:"status"`
	Args      map[string]string `json:"args,omitempty"`
	Result    map[string]any    `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// BatchRecord tracks a fan-out of child jobs and its completion state.
type BatchRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchStatus is the externally visible snapshot of a batch.
type BatchStatus struct {
	BatchID   string `json:"batch_id"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}
