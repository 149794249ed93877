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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
)

func qaRouter(env *testEnv) *gin.Engine {
	router := gin.New()
	router.POST("/v1/repos/:repo_id/qa-batches", CreateQABatch(env.store, env.manager, env.tracker))
	router.GET("/v1/repos/:repo_id/qa-batches", ListQABatches(env.store))
	router.GET("/v1/qa-batches/:batch_id/pairs", ListQAPairs(env.store))
	router.PATCH("/v1/qa-batches/:batch_id/pairs/:qa_id", ArchiveQAPair(env.store))
	return router
}

func seedRepoWithFiles(t *testing.T, env *testEnv, statuses ...string) datatypes.Repo {
	t.Helper()
	ctx := context.Background()
	repo := datatypes.Repo{ID: "r1", Owner: "o", Name: "n", Branch: "main"}
	require.NoError(t, env.store.PutRepo(ctx, repo))
	for i, status := range statuses {
		require.NoError(t, env.store.PutFile(ctx, datatypes.RepoFile{
			ID:     "f" + string(rune('1'+i)),
			RepoID: repo.ID,
			Path:   "file" + string(rune('1'+i)) + ".go",
			Status: status,
		}))
	}
	return repo
}

func TestCreateQABatch_OnlyProcessedFilesFanOut(t *testing.T) {
	env := newTestEnv(t)
	seedRepoWithFiles(t, env,
		datatypes.FileStatusProcessed,
		datatypes.FileStatusFailed,
		datatypes.FileStatusProcessed)
	router := qaRouter(env)

	rec := perform(router, http.MethodPost, "/v1/repos/r1/qa-batches", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["files"])

	status, err := env.tracker.GetBatchStatus(context.Background(), body["batch_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
}

func TestCreateQABatch_NoProcessedFilesConflicts(t *testing.T) {
	env := newTestEnv(t)
	seedRepoWithFiles(t, env, datatypes.FileStatusPending)
	router := qaRouter(env)

	rec := perform(router, http.MethodPost, "/v1/repos/r1/qa-batches", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListQAPairs_ArchiveFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.PutQAPair(ctx, datatypes.QAPair{ID: "qa1", BatchID: "b1", Question: "q1?"}))
	require.NoError(t, env.store.PutQAPair(ctx, datatypes.QAPair{ID: "qa2", BatchID: "b1", Question: "q2?", Archived: true}))
	router := qaRouter(env)

	rec := perform(router, http.MethodGet, "/v1/qa-batches/b1/pairs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["pairs"], 1)

	rec = perform(router, http.MethodGet, "/v1/qa-batches/b1/pairs?include_archived=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["pairs"], 2)
}

func TestArchiveQAPair_TogglesFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.PutQAPair(ctx, datatypes.QAPair{ID: "qa1", BatchID: "b1", Question: "q?"}))
	router := qaRouter(env)

	rec := perform(router, http.MethodPatch, "/v1/qa-batches/b1/pairs/qa1",
		datatypes.ArchiveQARequest{Archived: true})
	require.Equal(t, http.StatusOK, rec.Code)

	pair, err := env.store.GetQAPair(ctx, "b1", "qa1")
	require.NoError(t, err)
	assert.True(t, pair.Archived)

	rec = perform(router, http.MethodPatch, "/v1/qa-batches/b1/pairs/missing",
		datatypes.ArchiveQARequest{Archived: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
