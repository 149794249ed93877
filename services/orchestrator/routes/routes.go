// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/chainflow/services/orchestrator/handlers"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/pipelines"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
)

// Deps carries everything the HTTP surface needs. The handlers close over
// individual fields; nothing reaches back into the service.
type Deps struct {
	Store    *store.RecordStore
	Index    store.ChunkIndex
	Fetcher  handlers.RepoLister
	Jobs     *jobs.Manager
	Batches  *jobs.BatchTracker
	Grounded pipelines.GroundedDeps
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("chainflow-orchestrator"))

	router.GET("/health", handlers.HealthCheck())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		// Repository catalog and ingestion
		repos := v1.Group("/repos")
		{
			repos.POST("", handlers.RegisterRepo(deps.Store, deps.Fetcher, deps.Jobs, deps.Batches))
			repos.GET("", handlers.ListRepos(deps.Store))
			repos.GET("/:repo_id", handlers.GetRepo(deps.Store))
			repos.GET("/:repo_id/files", handlers.ListRepoFiles(deps.Store))
			repos.GET("/:repo_id/files/:file_id", handlers.GetRepoFile(deps.Store))
			repos.DELETE("/:repo_id", handlers.DeleteRepo(deps.Store, deps.Index))
			repos.POST("/:repo_id/qa-batches", handlers.CreateQABatch(deps.Store, deps.Jobs, deps.Batches))
			repos.GET("/:repo_id/qa-batches", handlers.ListQABatches(deps.Store))
		}

		// Gold pair management
		qaBatches := v1.Group("/qa-batches")
		{
			qaBatches.GET("/:batch_id/pairs", handlers.ListQAPairs(deps.Store))
			qaBatches.PATCH("/:batch_id/pairs/:qa_id", handlers.ArchiveQAPair(deps.Store))
		}

		// Evaluation
		evalJobs := v1.Group("/eval-jobs")
		{
			evalJobs.POST("", handlers.CreateEvalJob(deps.Store, deps.Jobs, deps.Batches))
			evalJobs.GET("", handlers.ListEvalJobs(deps.Store))
			evalJobs.GET("/:job_id/results", handlers.GetEvalResults(deps.Store))
			evalJobs.GET("/:job_id/summary", handlers.GetEvalSummary(deps.Store))
		}

		// Answer pipelines
		v1.POST("/rag", handlers.HandleRAGQuery(deps.Store, deps.Jobs))
		v1.POST("/grounded", handlers.HandleGroundedQuery(deps.Grounded))

		// Job and batch tracking
		v1.GET("/jobs/:job_id", handlers.GetJob(deps.Store))
		v1.GET("/batches/:batch_id", handlers.GetBatch(deps.Batches))
		v1.GET("/batches/:batch_id/ws", handlers.HandleBatchWebSocket(deps.Batches))
	}
}
