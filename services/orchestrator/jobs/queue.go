// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs runs background work for the orchestrator.
//
// Jobs are durable records in the store keyed by a caller-chosen idempotency
// key; queues are in-process channels drained by worker goroutines. A job
// that already exists in a non-failed state is never enqueued twice, so
// retried HTTP requests collapse onto the same unit of work. Delivery is
// at-least-once: handlers must tolerate re-execution.
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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("chainflow.orchestrator.jobs")

// Queue names used by the orchestrator.
const (
	QueueIngestion    = "ingestion"
	QueueRAG          = "rag"
	QueueQAGeneration = "qa_generation"
	QueueEvaluation   = "evaluation"
)

// Task names the orchestrator registers handlers for.
const (
	TaskIngestFile     = "ingest_file"
	TaskRAGQuery       = "rag_query"
	TaskGenerateFileQA = "generate_file_qa"
	TaskEvaluatePair   = "evaluate_pair"
)

// DefaultQueueDepth bounds pending job IDs per queue channel.
const DefaultQueueDepth = 256

// Handler executes one job. The returned map is stored as the job's result.
type Handler func(ctx context.Context, job datatypes.JobRecord) (map[string]any, error)

// Manager owns the task registry, the per-queue channels, and the worker
// pool draining them.
type Manager struct {
	store   *store.RecordStore
	metrics *observability.PipelineMetrics
	depth   int
	group   errgroup.Group

	mu       sync.Mutex
	handlers map[string]Handler
	queues   map[string]chan string
}

// NewManager builds a manager over the record store. metrics may be nil.
func NewManager(recordStore *store.RecordStore, metrics *observability.PipelineMetrics) *Manager {
	return &Manager{
		store:    recordStore,
		metrics:  metrics,
		depth:    DefaultQueueDepth,
		handlers: make(map[string]Handler),
		queues:   make(map[string]chan string),
	}
}

// Register binds a task name to its handler. Registering an existing task
// replaces the handler.
func (m *Manager) Register(task string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handlers[task]; exists {
		slog.Warn("Replacing registered task handler", "task", task)
	}
	m.handlers[task] = h
}

func (m *Manager) handler(task string) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[task]
}

func (m *Manager) channel(queue string) chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.queues[queue]
	if !ok {
		ch = make(chan string, m.depth)
		m.queues[queue] = ch
	}
	return ch
}

// Enqueue records a job and hands it to the queue's workers. jobID is the
// idempotency key; pass "" to generate one. When a job with the same ID
// already exists in a non-failed state the existing record is returned and
// no new work is scheduled. A failed job may be enqueued again under the
// same ID.
func (m *Manager) Enqueue(ctx context.Context, queue, task, jobID string, args map[string]string) (datatypes.JobRecord, bool, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}

	existing, err := m.store.GetJob(ctx, jobID)
	if err == nil && existing.Status != datatypes.JobFailed {
		slog.Debug("Job already exists, skipping enqueue", "job_id", jobID, "status", existing.Status)
		return existing, false, nil
	}

	now := time.Now().UTC()
	job := datatypes.JobRecord{
		ID:        jobID,
		Queue:     queue,
		Task:      task,
		Status:    datatypes.JobQueued,
		Args:      args,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.PutJob(ctx, job); err != nil {
		return datatypes.JobRecord{}, false, fmt.Errorf("failed to persist job %s: %w", jobID, err)
	}

	select {
	case m.channel(queue) <- jobID:
	case <-ctx.Done():
		return job, false, ctx.Err()
	}
	slog.Info("Enqueued job", "job_id", jobID, "queue", queue, "task", task)
	return job, true, nil
}

// StartWorkers launches workers draining one queue. Workers stop when ctx
// is cancelled.
func (m *Manager) StartWorkers(ctx context.Context, queue string, workers int) {
	if workers < 1 {
		workers = 1
	}
	ch := m.channel(queue)
	for range workers {
		m.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case jobID := <-ch:
					m.runJob(ctx, queue, jobID)
				}
			}
		})
	}
	slog.Info("Started queue workers", "queue", queue, "workers", workers)
}

// Wait blocks until every worker has stopped.
func (m *Manager) Wait() error {
	return m.group.Wait()
}

func (m *Manager) runJob(ctx context.Context, queue, jobID string) {
	ctx, span := tracer.Start(ctx, "jobs.runJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.queue", queue),
	)

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Warn("Dequeued job has no record", "job_id", jobID, "error", err)
		return
	}

	job.Status = datatypes.JobRunning
	job.UpdatedAt = time.Now().UTC()
	if err := m.store.PutJob(ctx, job); err != nil {
		slog.Error("Failed to mark job running", "job_id", jobID, "error", err)
		return
	}
	if m.metrics != nil {
		m.metrics.JobStarted(queue)
	}

	var result map[string]any
	h := m.handler(job.Task)
	if h == nil {
		err = fmt.Errorf("no handler registered for task %q", job.Task)
	} else {
		result, err = h(ctx, job)
	}

	job.UpdatedAt = time.Now().UTC()
	if err != nil {
		job.Status = datatypes.JobFailed
		job.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Job failed", "job_id", jobID, "task", job.Task, "error", err)
	} else {
		job.Status = datatypes.JobCompleted
		job.Result = result
		slog.Info("Job completed", "job_id", jobID, "task", job.Task)
	}
	if putErr := m.store.PutJob(ctx, job); putErr != nil {
		slog.Error("Failed to persist job outcome", "job_id", jobID, "error", putErr)
	}
	if m.metrics != nil {
		m.metrics.JobFinished(queue, err == nil)
	}
}
