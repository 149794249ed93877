// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chainflow/services/fetcher"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeLister serves a fixed repository tree.
type fakeLister struct {
	entries []fetcher.TreeEntry
	err     error
}

func (f *fakeLister) ListFiles(ctx context.Context, owner, name, branch string) ([]fetcher.TreeEntry, error) {
	return f.entries, f.err
}

// fakeChunkIndex records deletions; the handlers under test never search.
type fakeChunkIndex struct {
	deletedRepos []string
}

func (f *fakeChunkIndex) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeChunkIndex) IndexChunks(ctx context.Context, chunks []store.ChunkRecord) (int, error) {
	return len(chunks), nil
}

func (f *fakeChunkIndex) Search(ctx context.Context, repoID string, vector []float32, limit int) ([]datatypes.ChunkHit, error) {
	return nil, nil
}

func (f *fakeChunkIndex) FileChunks(ctx context.Context, repoID, fileID string) ([]datatypes.ChunkHit, error) {
	return nil, nil
}

func (f *fakeChunkIndex) DeleteRepo(ctx context.Context, repoID string) error {
	f.deletedRepos = append(f.deletedRepos, repoID)
	return nil
}

type testEnv struct {
	store   *store.RecordStore
	index   *fakeChunkIndex
	lister  *fakeLister
	manager *jobs.Manager
	tracker *jobs.BatchTracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	recordStore, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = recordStore.Close() })
	return &testEnv{
		store:   recordStore,
		index:   &fakeChunkIndex{},
		lister:  &fakeLister{},
		manager: jobs.NewManager(recordStore, nil),
		tracker: jobs.NewBatchTracker(recordStore, nil),
	}
}

// perform runs one request through a fresh router holding only the routes
// the test needs.
func perform(router *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck())

	rec := perform(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])
}
