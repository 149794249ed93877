// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists the orchestrator's records.
//
// Three backends make up the persistence layer:
//
//   - BadgerDB for durable records (repos, files, gold pairs, eval jobs and
//     results, job and batch records) with prefix-scan listing
//   - Weaviate for the chunk vector index
//   - object storage for raw file archives and exported reports
//
// BadgerDB keys are "<kind>:<parent>:<id>" so one prefix scan lists a
// parent's children in key order.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Config holds configuration for the record store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is
	// true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to a negative value to disable.
	GCInterval time.Duration
}

// DefaultConfig returns production defaults for the given data directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, async
// writes, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true, GCInterval: -1}
}

// RecordStore is the BadgerDB-backed record store.
type RecordStore struct {
	db     *badger.DB
	stopGC chan struct{}
}

// Open opens the record store, starting the value log GC loop unless
// disabled.
func Open(cfg Config) (*RecordStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("store path is required for persistent databases")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	s := &RecordStore{db: db, stopGC: make(chan struct{})}
	interval := cfg.GCInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if interval > 0 && !cfg.InMemory {
		go s.gcLoop(interval)
	}
	slog.Info("Opened record store", "path", cfg.Path, "in_memory", cfg.InMemory)
	return s, nil
}

// Close stops the GC loop and closes the database.
func (s *RecordStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}

func (s *RecordStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing to
			// collect; anything else is worth a warning.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Value log GC failed", "error", err)
			}
		}
	}
}

// =============================================================================
// Generic Record Helpers
// =============================================================================

func (s *RecordStore) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	return nil
}

func (s *RecordStore) get(key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return nil
}

func (s *RecordStore) delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// list streams every value under prefix into fn in key order.
func (s *RecordStore) list(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// countPrefix counts the keys under prefix without loading values.
func (s *RecordStore) countPrefix(prefix string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func listRecords[T any](s *RecordStore, prefix string) ([]T, error) {
	var out []T
	err := s.list(prefix, func(val []byte) error {
		var rec T
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record under %s: %w", prefix, err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Repos and Files
// =============================================================================

func repoKey(repoID string) string            { return "repo:" + repoID }
func fileKey(repoID, fileID string) string    { return "file:" + repoID + ":" + fileID }
func qaBatchKey(repoID, batchID string) string { return "qabatch:" + repoID + ":" + batchID }
func qaPairKey(batchID, qaID string) string   { return "qa:" + batchID + ":" + qaID }
func evalJobKey(jobID string) string          { return "evaljob:" + jobID }
func evalResultKey(jobID, qaID string) string { return "evalres:" + jobID + ":" + qaID }
func jobKey(jobID string) string              { return "job:" + jobID }
func batchKey(batchID string) string          { return "batch:" + batchID }
func childDoneKey(batchID, childID string) string { return "done:" + batchID + ":" + childID }

func (s *RecordStore) PutRepo(ctx context.Context, repo datatypes.Repo) error {
	return s.put(repoKey(repo.ID), repo)
}

func (s *RecordStore) GetRepo(ctx context.Context, repoID string) (datatypes.Repo, error) {
	var repo datatypes.Repo
	err := s.get(repoKey(repoID), &repo)
	return repo, err
}

func (s *RecordStore) ListRepos(ctx context.Context) ([]datatypes.Repo, error) {
	return listRecords[datatypes.Repo](s, "repo:")
}

// FindRepo returns the registered repo matching owner/name/branch, if any.
func (s *RecordStore) FindRepo(ctx context.Context, owner, name, branch string) (datatypes.Repo, error) {
	repos, err := s.ListRepos(ctx)
	if err != nil {
		return datatypes.Repo{}, err
	}
	for _, repo := range repos {
		if strings.EqualFold(repo.Owner, owner) && strings.EqualFold(repo.Name, name) && repo.Branch == branch {
			return repo, nil
		}
	}
	return datatypes.Repo{}, ErrNotFound
}

// DeleteRepo removes the repo record and all of its file records. Chunk
// index and object store cleanup is the caller's job.
func (s *RecordStore) DeleteRepo(ctx context.Context, repoID string) error {
	files, err := s.ListFiles(ctx, repoID)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := s.delete(fileKey(repoID, file.ID)); err != nil {
			return err
		}
	}
	return s.delete(repoKey(repoID))
}

func (s *RecordStore) PutFile(ctx context.Context, file datatypes.RepoFile) error {
	return s.put(fileKey(file.RepoID, file.ID), file)
}

func (s *RecordStore) GetFile(ctx context.Context, repoID, fileID string) (datatypes.RepoFile, error) {
	var file datatypes.RepoFile
	err := s.get(fileKey(repoID, fileID), &file)
	return file, err
}

func (s *RecordStore) ListFiles(ctx context.Context, repoID string) ([]datatypes.RepoFile, error) {
	return listRecords[datatypes.RepoFile](s, "file:"+repoID+":")
}

// =============================================================================
// Gold QA Batches and Pairs
// =============================================================================

func (s *RecordStore) PutQABatch(ctx context.Context, batch datatypes.QABatch) error {
	return s.put(qaBatchKey(batch.RepoID, batch.ID), batch)
}

func (s *RecordStore) GetQABatch(ctx context.Context, repoID, batchID string) (datatypes.QABatch, error) {
	var batch datatypes.QABatch
	err := s.get(qaBatchKey(repoID, batchID), &batch)
	return batch, err
}

func (s *RecordStore) ListQABatches(ctx context.Context, repoID string) ([]datatypes.QABatch, error) {
	return listRecords[datatypes.QABatch](s, "qabatch:"+repoID+":")
}

func (s *RecordStore) PutQAPair(ctx context.Context, pair datatypes.QAPair) error {
	return s.put(qaPairKey(pair.BatchID, pair.ID), pair)
}

func (s *RecordStore) GetQAPair(ctx context.Context, batchID, qaID string) (datatypes.QAPair, error) {
	var pair datatypes.QAPair
	err := s.get(qaPairKey(batchID, qaID), &pair)
	return pair, err
}

// ListQAPairs returns the batch's pairs. When includeArchived is false,
// archived pairs are filtered out.
func (s *RecordStore) ListQAPairs(ctx context.Context, batchID string, includeArchived bool) ([]datatypes.QAPair, error) {
	pairs, err := listRecords[datatypes.QAPair](s, "qa:"+batchID+":")
	if err != nil {
		return nil, err
	}
	if includeArchived {
		return pairs, nil
	}
	active := pairs[:0]
	for _, pair := range pairs {
		if !pair.Archived {
			active = append(active, pair)
		}
	}
	return active, nil
}

// =============================================================================
// Evaluation Jobs and Results
// =============================================================================

func (s *RecordStore) PutEvalJob(ctx context.Context, job datatypes.EvalJob) error {
	return s.put(evalJobKey(job.ID), job)
}

func (s *RecordStore) GetEvalJob(ctx context.Context, jobID string) (datatypes.EvalJob, error) {
	var job datatypes.EvalJob
	err := s.get(evalJobKey(jobID), &job)
	return job, err
}

// ListEvalJobs returns evaluation jobs, filtered by repo when repoID is
// non-empty.
func (s *RecordStore) ListEvalJobs(ctx context.Context, repoID string) ([]datatypes.EvalJob, error) {
	jobs, err := listRecords[datatypes.EvalJob](s, "evaljob:")
	if err != nil {
		return nil, err
	}
	if repoID == "" {
		return jobs, nil
	}
	filtered := jobs[:0]
	for _, job := range jobs {
		if job.RepoID == repoID {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func (s *RecordStore) PutEvalResult(ctx context.Context, result datatypes.EvalResult) error {
	return s.put(evalResultKey(result.JobID, result.QAID), result)
}

func (s *RecordStore) GetEvalResult(ctx context.Context, jobID, qaID string) (datatypes.EvalResult, error) {
	var result datatypes.EvalResult
	err := s.get(evalResultKey(jobID, qaID), &result)
	return result, err
}

func (s *RecordStore) ListEvalResults(ctx context.Context, jobID string) ([]datatypes.EvalResult, error) {
	return listRecords[datatypes.EvalResult](s, "evalres:"+jobID+":")
}

// =============================================================================
// Job and Batch Records
// =============================================================================

func (s *RecordStore) PutJob(ctx context.Context, job datatypes.JobRecord) error {
	return s.put(jobKey(job.ID), job)
}

func (s *RecordStore) GetJob(ctx context.Context, jobID string) (datatypes.JobRecord, error) {
	var job datatypes.JobRecord
	err := s.get(jobKey(jobID), &job)
	return job, err
}

func (s *RecordStore) PutBatch(ctx context.Context, batch datatypes.BatchRecord) error {
	return s.put(batchKey(batch.ID), batch)
}

func (s *RecordStore) GetBatch(ctx context.Context, batchID string) (datatypes.BatchRecord, error) {
	var batch datatypes.BatchRecord
	err := s.get(batchKey(batchID), &batch)
	return batch, err
}

// MarkChildDone records one child completion marker. Writing the same child
// twice is a no-op, which is what makes completion counting idempotent
// under at-least-once delivery.
func (s *RecordStore) MarkChildDone(ctx context.Context, batchID, childID string) error {
	return s.put(childDoneKey(batchID, childID), time.Now().UTC())
}

// CountChildrenDone re-derives the processed count by counting the distinct
// completion markers under the batch.
func (s *RecordStore) CountChildrenDone(ctx context.Context, batchID string) (int, error) {
	return s.countPrefix("done:" + batchID + ":")
}
