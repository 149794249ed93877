// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/observability"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Batch kinds.
const (
	BatchKindIngestion    = "ingestion"
	BatchKindQAGeneration = "qa_generation"
	BatchKindEvaluation   = "evaluation"
)

// BatchTracker tracks fan-out batches. The processed count is never
// incremented in place; it is re-derived each time by counting the distinct
// per-child completion markers, so duplicate deliveries of the same child
// cannot push a batch over the line early.
type BatchTracker struct {
	store   *store.RecordStore
	metrics *observability.PipelineMetrics

	// mu serializes the recount-and-flip so two children finishing at once
	// do not both observe a stale status.
	mu sync.Mutex
}

// NewBatchTracker builds a tracker over the record store. metrics may be nil.
func NewBatchTracker(recordStore *store.RecordStore, metrics *observability.PipelineMetrics) *BatchTracker {
	return &BatchTracker{store: recordStore, metrics: metrics}
}

// StartBatch creates a batch expecting total children. A batch with zero
// children is completed immediately.
func (b *BatchTracker) StartBatch(ctx context.Context, kind string, total int) (datatypes.BatchRecord, error) {
	if total < 0 {
		return datatypes.BatchRecord{}, fmt.Errorf("batch total must be non-negative, got %d", total)
	}
	now := time.Now().UTC()
	batch := datatypes.BatchRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    datatypes.BatchRunning,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if total == 0 {
		batch.Status = datatypes.BatchCompleted
	}
	if err := b.store.PutBatch(ctx, batch); err != nil {
		return datatypes.BatchRecord{}, fmt.Errorf("failed to create batch: %w", err)
	}
	slog.Info("Started batch", "batch_id", batch.ID, "kind", kind, "total", total)
	return batch, nil
}

// RecordChildCompletion marks one child done and returns the batch status
// after recounting. Recording the same child more than once is harmless.
func (b *BatchTracker) RecordChildCompletion(ctx context.Context, batchID, childID string) (datatypes.BatchStatus, error) {
	ctx, span := tracer.Start(ctx, "BatchTracker.RecordChildCompletion")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("batch.child_id", childID),
	)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.MarkChildDone(ctx, batchID, childID); err != nil {
		return datatypes.BatchStatus{}, fmt.Errorf("failed to mark child %s done: %w", childID, err)
	}
	status, err := b.refreshLocked(ctx, batchID)
	if err != nil {
		return datatypes.BatchStatus{}, err
	}
	if b.metrics != nil {
		batch, err := b.store.GetBatch(ctx, batchID)
		if err == nil {
			b.metrics.RecordBatchChild(batch.Kind)
		}
	}
	return status, nil
}

// GetBatchStatus returns the batch's status snapshot, recounting children
// so a reader never sees a stale processed count.
func (b *BatchTracker) GetBatchStatus(ctx context.Context, batchID string) (datatypes.BatchStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshLocked(ctx, batchID)
}

// refreshLocked recounts completion markers, persists the updated record,
// and flips the batch to completed once every child is accounted for. The
// flip is monotonic: a completed batch never leaves that state.
func (b *BatchTracker) refreshLocked(ctx context.Context, batchID string) (datatypes.BatchStatus, error) {
	batch, err := b.store.GetBatch(ctx, batchID)
	if err != nil {
		return datatypes.BatchStatus{}, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	processed, err := b.store.CountChildrenDone(ctx, batchID)
	if err != nil {
		return datatypes.BatchStatus{}, fmt.Errorf("failed to count batch children: %w", err)
	}

	changed := processed != batch.Processed
	batch.Processed = processed
	if batch.Status != datatypes.BatchCompleted && processed >= batch.Total {
		batch.Status = datatypes.BatchCompleted
		changed = true
		slog.Info("Batch completed", "batch_id", batchID, "kind", batch.Kind, "total", batch.Total)
	}
	if changed {
		batch.UpdatedAt = time.Now().UTC()
		if err := b.store.PutBatch(ctx, batch); err != nil {
			return datatypes.BatchStatus{}, fmt.Errorf("failed to persist batch %s: %w", batchID, err)
		}
	}

	return datatypes.BatchStatus{
		BatchID:   batch.ID,
		Status:    batch.Status,
		Processed: batch.Processed,
		Total:     batch.Total,
	}, nil
}
