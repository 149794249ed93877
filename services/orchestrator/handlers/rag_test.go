// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
)

func ragRouter(env *testEnv) *gin.Engine {
	router := gin.New()
	router.POST("/v1/rag", HandleRAGQuery(env.store, env.manager))
	router.GET("/v1/jobs/:job_id", GetJob(env.store))
	router.GET("/v1/batches/:batch_id", GetBatch(env.tracker))
	return router
}

func TestHandleRAGQuery_EnqueuesJob(t *testing.T) {
	env := newTestEnv(t)
	repoID := uuid.New().String()
	require.NoError(t, env.store.PutRepo(context.Background(),
		datatypes.Repo{ID: repoID, Owner: "o", Name: "n", Branch: "main"}))
	router := ragRouter(env)

	rec := perform(router, http.MethodPost, "/v1/rag",
		datatypes.RAGRequest{RepoID: repoID, Query: "how does parsing work?"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	jobID, ok := body["job_id"].(string)
	require.True(t, ok)
	assert.Equal(t, datatypes.JobQueued, body["status"])

	jobRec := perform(router, http.MethodGet, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, jobRec.Code)
	jobBody := decodeBody(t, jobRec)
	assert.Equal(t, "rag_query", jobBody["task"])
	args := jobBody["args"].(map[string]any)
	assert.Equal(t, "how does parsing work?", args["query"])
}

func TestHandleRAGQuery_UnknownRepo404(t *testing.T) {
	env := newTestEnv(t)
	router := ragRouter(env)

	rec := perform(router, http.MethodPost, "/v1/rag",
		datatypes.RAGRequest{RepoID: uuid.New().String(), Query: "q"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_Unknown404(t *testing.T) {
	env := newTestEnv(t)
	router := ragRouter(env)

	rec := perform(router, http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBatch_ReturnsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch, err := env.tracker.StartBatch(ctx, "ingestion", 2)
	require.NoError(t, err)
	_, err = env.tracker.RecordChildCompletion(ctx, batch.ID, "child-1")
	require.NoError(t, err)
	router := ragRouter(env)

	rec := perform(router, http.MethodGet, "/v1/batches/"+batch.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["processed"])
	assert.EqualValues(t, 2, body["total"])
	assert.Equal(t, datatypes.BatchRunning, body["status"])

	rec = perform(router, http.MethodGet, "/v1/batches/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
