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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chainflow/services/orchestrator/pipelines"
)

var groundedTracer = otel.Tracer("chainflow.orchestrator.handlers")

// GroundedRequest asks a question answered from live web search instead of
// an ingested repository.
type GroundedRequest struct {
	Query string `json:"query" binding:"required"`
}

// HandleGroundedQuery runs the search-grounded agent chain synchronously:
// the dispatcher decides between more searching and drafting until it stops
// or hits the step cap.
func HandleGroundedQuery(deps pipelines.GroundedDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := groundedTracer.Start(c.Request.Context(), "HandleGroundedQuery")
		defer span.End()

		var request GroundedRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		span.SetAttributes(attribute.Int("query.length", len(request.Query)))

		answer, research, err := pipelines.RunGrounded(ctx, deps, request.Query)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Grounded agent failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"answer":   answer,
			"research": research,
		})
	}
}
