// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chainflow/services/fetcher"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
)

func repoRouter(env *testEnv) *gin.Engine {
	router := gin.New()
	router.POST("/v1/repos", RegisterRepo(env.store, env.lister, env.manager, env.tracker))
	router.GET("/v1/repos", ListRepos(env.store))
	router.GET("/v1/repos/:repo_id", GetRepo(env.store))
	router.GET("/v1/repos/:repo_id/files", ListRepoFiles(env.store))
	router.GET("/v1/repos/:repo_id/files/:file_id", GetRepoFile(env.store))
	router.DELETE("/v1/repos/:repo_id", DeleteRepo(env.store, env.index))
	return router
}

func TestRegisterRepo_FansOutIngestJobs(t *testing.T) {
	env := newTestEnv(t)
	env.lister.entries = []fetcher.TreeEntry{
		{Path: "main.go", Size: 120},
		{Path: "pkg/util/util.go", Size: 300},
		{Path: "logo.png", Size: 900},
		{Path: "huge.go", Size: maxIngestFileSize + 1},
		{Path: ".github/workflows/ci.yml", Size: 100},
	}
	router := repoRouter(env)

	rec := perform(router, http.MethodPost, "/v1/repos",
		datatypes.RegisterRepoRequest{Owner: "octocat", Name: "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["files"], "binary, oversized, and dotfile paths are skipped")
	batchID, ok := body["batch_id"].(string)
	require.True(t, ok)

	status, err := env.tracker.GetBatchStatus(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, datatypes.BatchRunning, status.Status)

	repo := body["repo"].(map[string]any)
	files, err := env.store.ListFiles(context.Background(), repo["id"].(string))
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, file := range files {
		assert.Equal(t, datatypes.FileStatusPending, file.Status)
		job, err := env.store.GetJob(context.Background(), batchID+"-"+file.ID)
		require.NoError(t, err)
		assert.Equal(t, datatypes.JobQueued, job.Status)
	}
}

func TestRegisterRepo_SecondRegistrationReturnsExisting(t *testing.T) {
	env := newTestEnv(t)
	env.lister.entries = []fetcher.TreeEntry{{Path: "a.go", Size: 10}}
	router := repoRouter(env)

	first := perform(router, http.MethodPost, "/v1/repos",
		datatypes.RegisterRepoRequest{Owner: "octocat", Name: "hello", Branch: "dev"})
	require.Equal(t, http.StatusAccepted, first.Code)
	firstRepo := decodeBody(t, first)["repo"].(map[string]any)

	second := perform(router, http.MethodPost, "/v1/repos",
		datatypes.RegisterRepoRequest{Owner: "octocat", Name: "hello", Branch: "dev"})
	require.Equal(t, http.StatusOK, second.Code)

	body := decodeBody(t, second)
	assert.Equal(t, true, body["already_registered"])
	assert.Equal(t, firstRepo["id"], body["repo"].(map[string]any)["id"])
}

func TestRegisterRepo_InvalidCoordinatesRejected(t *testing.T) {
	env := newTestEnv(t)
	router := repoRouter(env)

	rec := perform(router, http.MethodPost, "/v1/repos",
		datatypes.RegisterRepoRequest{Owner: "bad owner!", Name: "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRepo_FetchFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.lister.err = fmt.Errorf("github unreachable")
	router := repoRouter(env)

	rec := perform(router, http.MethodPost, "/v1/repos",
		datatypes.RegisterRepoRequest{Owner: "octocat", Name: "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListRepoFiles_UnknownRepo404(t *testing.T) {
	env := newTestEnv(t)
	router := repoRouter(env)

	rec := perform(router, http.MethodGet, "/v1/repos/nope/files", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRepoFile_ReturnsFileRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.PutRepo(ctx,
		datatypes.Repo{ID: "r1", Owner: "o", Name: "n", Branch: "main"}))
	require.NoError(t, env.store.PutFile(ctx, datatypes.RepoFile{
		ID:      "f1",
		RepoID:  "r1",
		Path:    "pkg/engine/engine.go",
		Status:  datatypes.FileStatusProcessed,
		Summary: "core engine loop",
	}))
	router := repoRouter(env)

	rec := perform(router, http.MethodGet, "/v1/repos/r1/files/f1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	file := decodeBody(t, rec)
	assert.Equal(t, "pkg/engine/engine.go", file["path"])
	assert.Equal(t, "core engine loop", file["summary"])

	missing := perform(router, http.MethodGet, "/v1/repos/r1/files/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestDeleteRepo_RemovesRecordsAndIndex(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.PutRepo(context.Background(),
		datatypes.Repo{ID: "r1", Owner: "o", Name: "n", Branch: "main"}))
	router := repoRouter(env)

	rec := perform(router, http.MethodDelete, "/v1/repos/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"r1"}, env.index.deletedRepos)
	getRec := perform(router, http.MethodGet, "/v1/repos/r1", nil)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}
