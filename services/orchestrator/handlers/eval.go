// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
)

var evalTracer = otel.Tracer("chainflow.orchestrator.handlers")

// CreateEvalJob evaluates every non-archived pair of a gold batch against
// the live answer pipeline. The batch must belong to the named repository.
func CreateEvalJob(recordStore *store.RecordStore, manager *jobs.Manager, tracker *jobs.BatchTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := evalTracer.Start(c.Request.Context(), "CreateEvalJob")
		defer span.End()

		var request datatypes.CreateEvalJobRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		span.SetAttributes(
			attribute.String("repo.id", request.RepoID),
			attribute.String("qa_batch.id", request.BatchID),
		)

		// The composite key scopes the lookup, so a batch ID belonging to a
		// different repository is simply not found.
		if _, err := recordStore.GetQABatch(ctx, request.RepoID, request.BatchID); errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "gold batch not found for repository"})
			return
		} else if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		pairs, err := recordStore.ListQAPairs(ctx, request.BatchID, false)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(pairs) == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "gold batch has no active pairs"})
			return
		}

		evalJob := datatypes.EvalJob{
			ID:        uuid.New().String(),
			RepoID:    request.RepoID,
			BatchID:   request.BatchID,
			Status:    datatypes.BatchRunning,
			Total:     len(pairs),
			CreatedAt: time.Now().UTC(),
		}
		if err := recordStore.PutEvalJob(ctx, evalJob); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		batch, err := tracker.StartBatch(ctx, jobs.BatchKindEvaluation, len(pairs))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		for _, pair := range pairs {
			_, _, err := manager.Enqueue(ctx, jobs.QueueEvaluation, jobs.TaskEvaluatePair,
				batch.ID+"-"+pair.ID, map[string]string{
					"eval_job_id": evalJob.ID,
					"qa_batch_id": request.BatchID,
					"qa_id":       pair.ID,
					"batch_id":    batch.ID,
				})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		slog.Info("Started evaluation job", "eval_job_id", evalJob.ID,
			"qa_batch_id", request.BatchID, "batch_id", batch.ID, "pairs", len(pairs))
		c.JSON(http.StatusAccepted, gin.H{
			"eval_job": evalJob,
			"batch_id": batch.ID,
		})
	}
}

// ListEvalJobs returns evaluation jobs, optionally scoped by repo_id.
func ListEvalJobs(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := evalTracer.Start(c.Request.Context(), "ListEvalJobs")
		defer span.End()

		evalJobs, err := recordStore.ListEvalJobs(ctx, c.Query("repo_id"))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"eval_jobs": evalJobs})
	}
}

// evalItem joins one scored result with the gold pair it evaluated.
type evalItem struct {
	Result datatypes.EvalResult `json:"result"`
	Pair   *datatypes.QAPair    `json:"pair,omitempty"`
}

// GetEvalResults returns the per-item metrics of an evaluation job, each
// joined with its gold pair.
func GetEvalResults(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := evalTracer.Start(c.Request.Context(), "GetEvalResults")
		defer span.End()

		jobID := c.Param("job_id")
		evalJob, err := recordStore.GetEvalJob(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "evaluation job not found"})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		results, err := recordStore.ListEvalResults(ctx, jobID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]evalItem, 0, len(results))
		for _, result := range results {
			item := evalItem{Result: result}
			if pair, err := recordStore.GetQAPair(ctx, evalJob.BatchID, result.QAID); err == nil {
				item.Pair = &pair
			}
			items = append(items, item)
		}
		c.JSON(http.StatusOK, gin.H{"job": evalJob, "items": items})
	}
}

// GetEvalSummary aggregates the completed results of an evaluation job into
// per-metric average, min, max, pass rate, and counts.
func GetEvalSummary(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := evalTracer.Start(c.Request.Context(), "GetEvalSummary")
		defer span.End()

		jobID := c.Param("job_id")
		evalJob, err := recordStore.GetEvalJob(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "evaluation job not found"})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		results, err := recordStore.ListEvalResults(ctx, jobID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"job":     evalJob,
			"metrics": datatypes.AggregateMetrics(results),
		})
	}
}
