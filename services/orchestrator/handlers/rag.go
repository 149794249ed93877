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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
)

var ragTracer = otel.Tracer("chainflow.orchestrator.handlers")

// HandleRAGQuery enqueues an answer-pipeline run and returns 202 with the
// job ID. The answer lands in the job record's result when the worker
// finishes; clients poll GetJob.
func HandleRAGQuery(recordStore *store.RecordStore, manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := ragTracer.Start(c.Request.Context(), "HandleRAGQuery")
		defer span.End()

		var request datatypes.RAGRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := request.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("repo.id", request.RepoID))

		if _, err := recordStore.GetRepo(ctx, request.RepoID); errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
			return
		} else if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		job, created, err := manager.Enqueue(ctx, jobs.QueueRAG, jobs.TaskRAGQuery, "", map[string]string{
			"repo_id": request.RepoID,
			"query":   request.Query,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Enqueued RAG query", "job_id", job.ID, "repo_id", request.RepoID, "created", created)
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
	}
}

// GetJob returns the durable record of one enqueued job.
func GetJob(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := ragTracer.Start(c.Request.Context(), "GetJob")
		defer span.End()

		job, err := recordStore.GetJob(ctx, c.Param("job_id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// GetBatch returns the recounted status snapshot of a fan-out batch.
func GetBatch(tracker *jobs.BatchTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := ragTracer.Start(c.Request.Context(), "GetBatch")
		defer span.End()

		status, err := tracker.GetBatchStatus(ctx, c.Param("batch_id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
