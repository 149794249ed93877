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

var qaTracer = otel.Tracer("chainflow.orchestrator.handlers")

// CreateQABatch starts a synthetic gold-pair generation run over every
// processed file of a repository. One generation job per file fans out under
// a tracked batch.
func CreateQABatch(recordStore *store.RecordStore, manager *jobs.Manager, tracker *jobs.BatchTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := qaTracer.Start(c.Request.Context(), "CreateQABatch")
		defer span.End()

		repoID := c.Param("repo_id")
		span.SetAttributes(attribute.String("repo.id", repoID))
		if _, err := recordStore.GetRepo(ctx, repoID); errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
			return
		} else if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		files, err := recordStore.ListFiles(ctx, repoID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		processed := make([]datatypes.RepoFile, 0, len(files))
		for _, file := range files {
			if file.Status == datatypes.FileStatusProcessed {
				processed = append(processed, file)
			}
		}
		if len(processed) == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "repository has no processed files to generate from"})
			return
		}

		qaBatch := datatypes.QABatch{
			ID:        uuid.New().String(),
			RepoID:    repoID,
			CreatedAt: time.Now().UTC(),
		}
		if err := recordStore.PutQABatch(ctx, qaBatch); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		batch, err := tracker.StartBatch(ctx, jobs.BatchKindQAGeneration, len(processed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		for _, file := range processed {
			_, _, err := manager.Enqueue(ctx, jobs.QueueQAGeneration, jobs.TaskGenerateFileQA,
				batch.ID+"-"+file.ID, map[string]string{
					"repo_id":     repoID,
					"file_id":     file.ID,
					"qa_batch_id": qaBatch.ID,
					"batch_id":    batch.ID,
				})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		slog.Info("Started QA generation batch", "repo_id", repoID,
			"qa_batch_id", qaBatch.ID, "batch_id", batch.ID, "files", len(processed))
		c.JSON(http.StatusAccepted, gin.H{
			"qa_batch": qaBatch,
			"batch_id": batch.ID,
			"files":    len(processed),
		})
	}
}

// ListQABatches returns the gold batches of a repository.
func ListQABatches(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := qaTracer.Start(c.Request.Context(), "ListQABatches")
		defer span.End()

		batches, err := recordStore.ListQABatches(ctx, c.Param("repo_id"))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"batches": batches})
	}
}

// ListQAPairs returns the pairs of a gold batch. Archived pairs are excluded
// unless include_archived=true.
func ListQAPairs(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := qaTracer.Start(c.Request.Context(), "ListQAPairs")
		defer span.End()

		includeArchived := c.Query("include_archived") == "true"
		pairs, err := recordStore.ListQAPairs(ctx, c.Param("batch_id"), includeArchived)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pairs": pairs})
	}
}

// ArchiveQAPair sets or clears the archived flag on one gold pair. Archived
// pairs are skipped when new evaluation jobs are created.
func ArchiveQAPair(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := qaTracer.Start(c.Request.Context(), "ArchiveQAPair")
		defer span.End()

		var request datatypes.ArchiveQARequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		batchID := c.Param("batch_id")
		qaID := c.Param("qa_id")
		pair, err := recordStore.GetQAPair(ctx, batchID, qaID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pair not found"})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		pair.Archived = request.Archived
		if err := recordStore.PutQAPair(ctx, pair); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Updated gold pair archive flag", "batch_id", batchID, "qa_id", qaID, "archived", pair.Archived)
		c.JSON(http.StatusOK, pair)
	}
}
