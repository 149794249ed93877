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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chainflow/pkg/validation"
	"github.com/AleutianAI/chainflow/services/fetcher"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
)

var repoTracer = otel.Tracer("chainflow.orchestrator.handlers")

// RepoLister is the slice of the GitHub client the catalog handlers need.
type RepoLister interface {
	ListFiles(ctx context.Context, owner, name, branch string) ([]fetcher.TreeEntry, error)
}

// maxIngestFileSize skips vendored blobs and generated bundles that would
// drown the index.
const maxIngestFileSize = 512 * 1024

var skippedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".pdf": true, ".zip": true, ".gz": true, ".tar": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".lock": true, ".sum": true, ".bin": true, ".exe": true, ".so": true,
}

func ingestable(entry fetcher.TreeEntry) bool {
	if entry.Size > maxIngestFileSize {
		return false
	}
	if skippedExtensions[strings.ToLower(path.Ext(entry.Path))] {
		return false
	}
	base := path.Base(entry.Path)
	return !strings.HasPrefix(base, ".")
}

// RegisterRepo registers a GitHub repository, records one RepoFile per
// ingestable blob, and fans out one ingestion job per file under a batch.
// Registering the same owner/name/branch again returns the existing record
// without re-enqueueing anything.
func RegisterRepo(recordStore *store.RecordStore, lister RepoLister, manager *jobs.Manager, tracker *jobs.BatchTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := repoTracer.Start(c.Request.Context(), "RegisterRepo")
		defer span.End()

		var request datatypes.RegisterRepoRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if request.Branch == "" {
			request.Branch = "main"
		}
		if err := validation.ValidateRepoCoordinates(request.Owner, request.Name, request.Branch); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("repo.owner", request.Owner),
			attribute.String("repo.name", request.Name),
			attribute.String("repo.branch", request.Branch),
		)

		if existing, err := recordStore.FindRepo(ctx, request.Owner, request.Name, request.Branch); err == nil {
			slog.Info("Repository already registered", "repo", existing.FullName(), "repo_id", existing.ID)
			c.JSON(http.StatusOK, gin.H{"repo": existing, "already_registered": true})
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		entries, err := lister.ListFiles(ctx, request.Owner, request.Name, request.Branch)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to list repository files", "repo", request.Owner+"/"+request.Name, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		repo := datatypes.Repo{
			ID:        uuid.New().String(),
			Owner:     request.Owner,
			Name:      request.Name,
			Branch:    request.Branch,
			CreatedAt: time.Now().UTC(),
		}
		if err := recordStore.PutRepo(ctx, repo); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		files := make([]datatypes.RepoFile, 0, len(entries))
		now := time.Now().UTC()
		for _, entry := range entries {
			if !ingestable(entry) {
				continue
			}
			files = append(files, datatypes.RepoFile{
				ID:        uuid.New().String(),
				RepoID:    repo.ID,
				Path:      entry.Path,
				Status:    datatypes.FileStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}

		batch, err := tracker.StartBatch(ctx, jobs.BatchKindIngestion, len(files))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		for _, file := range files {
			if err := recordStore.PutFile(ctx, file); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			// Job ID {batchID}-{fileID} makes a re-trigger skip children
			// that are already enqueued.
			_, _, err := manager.Enqueue(ctx, jobs.QueueIngestion, jobs.TaskIngestFile,
				batch.ID+"-"+file.ID, map[string]string{
					"repo_id":  repo.ID,
					"file_id":  file.ID,
					"batch_id": batch.ID,
				})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		slog.Info("Registered repository", "repo", repo.FullName(), "repo_id", repo.ID,
			"files", len(files), "batch_id", batch.ID)
		c.JSON(http.StatusAccepted, gin.H{
			"repo":     repo,
			"batch_id": batch.ID,
			"files":    len(files),
		})
	}
}

// ListRepos returns every registered repository.
func ListRepos(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := repoTracer.Start(c.Request.Context(), "ListRepos")
		defer span.End()

		repos, err := recordStore.ListRepos(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repos": repos})
	}
}

// GetRepo returns one repository by ID.
func GetRepo(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := repoTracer.Start(c.Request.Context(), "GetRepo")
		defer span.End()

		repo, err := recordStore.GetRepo(ctx, c.Param("repo_id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, repo)
	}
}

// ListRepoFiles returns the per-file ingestion state of a repository.
func ListRepoFiles(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := repoTracer.Start(c.Request.Context(), "ListRepoFiles")
		defer span.End()

		repoID := c.Param("repo_id")
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
		c.JSON(http.StatusOK, gin.H{"files": files})
	}
}

// GetRepoFile returns one file record with its summary and chunk status.
func GetRepoFile(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := repoTracer.Start(c.Request.Context(), "GetRepoFile")
		defer span.End()

		file, err := recordStore.GetFile(ctx, c.Param("repo_id"), c.Param("file_id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, file)
	}
}

// DeleteRepo removes a repository's records and its indexed chunks.
func DeleteRepo(recordStore *store.RecordStore, index store.ChunkIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := repoTracer.Start(c.Request.Context(), "DeleteRepo")
		defer span.End()

		repoID := c.Param("repo_id")
		if _, err := recordStore.GetRepo(ctx, repoID); errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
			return
		} else if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := index.DeleteRepo(ctx, repoID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to delete indexed chunks", "repo_id", repoID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := recordStore.DeleteRepo(ctx, repoID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Deleted repository", "repo_id", repoID)
		c.JSON(http.StatusOK, gin.H{"deleted": repoID})
	}
}
