// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/pipelines"
)

// =============================================================================
// Pipeline dependency bundles
// =============================================================================

func (s *service) ragDeps() pipelines.RAGDeps {
	return pipelines.RAGDeps{
		LLM:      s.llmClient,
		Embedder: s.embedder,
		Index:    s.index,
		Limiter:  s.limiter,
		Config:   s.pipelineCfg,
	}
}

func (s *service) ingestDeps() pipelines.IngestDeps {
	return pipelines.IngestDeps{
		LLM:      s.llmClient,
		Embedder: s.embedder,
		Index:    s.index,
		Store:    s.recordStore,
		Objects:  s.objects,
		Limiter:  s.limiter,
		Config:   s.pipelineCfg,
	}
}

func (s *service) qaDeps() pipelines.QAGenDeps {
	return pipelines.QAGenDeps{
		LLM:      s.llmClient,
		Embedder: s.embedder,
		Index:    s.index,
		Store:    s.recordStore,
		Limiter:  s.limiter,
		Config:   s.pipelineCfg,
	}
}

func (s *service) evalDeps() pipelines.EvalDeps {
	return pipelines.EvalDeps{
		RAG:     s.ragDeps(),
		Judge:   s.llmClient,
		Store:   s.recordStore,
		Limiter: s.limiter,
		Config:  s.pipelineCfg,
	}
}

func (s *service) groundedDeps() pipelines.GroundedDeps {
	return pipelines.GroundedDeps{
		LLM:      s.llmClient,
		Searcher: s.searcher,
		Limiter:  s.limiter,
		Config:   s.pipelineCfg,
	}
}

// =============================================================================
// Task handlers
// =============================================================================

func (s *service) registerTasks() {
	s.manager.Register(jobs.TaskIngestFile, s.ingestFileTask)
	s.manager.Register(jobs.TaskRAGQuery, s.ragQueryTask)
	s.manager.Register(jobs.TaskGenerateFileQA, s.generateFileQATask)
	s.manager.Register(jobs.TaskEvaluatePair, s.evaluatePairTask)
}

// recordChild marks one child done on its batch. Failures here are logged,
// not returned: a completion that cannot be recorded must not turn a
// finished unit of work into a failed job.
func (s *service) recordChild(ctx context.Context, batchID, childID string) {
	if batchID == "" {
		return
	}
	if _, err := s.tracker.RecordChildCompletion(ctx, batchID, childID); err != nil {
		slog.Error("Failed to record child completion", "batch_id", batchID,
			"child_id", childID, "error", err)
	}
}

// ingestFileTask fetches one file's content from GitHub and runs the
// ingestion pipeline over it. The child counts against its batch whether
// the file processed or failed; the file record carries the outcome.
func (s *service) ingestFileTask(ctx context.Context, job datatypes.JobRecord) (map[string]any, error) {
	repoID := job.Args["repo_id"]
	fileID := job.Args["file_id"]
	batchID := job.Args["batch_id"]
	defer s.recordChild(ctx, batchID, fileID)

	repo, err := s.recordStore.GetRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load repo %s: %w", repoID, err)
	}
	file, err := s.recordStore.GetFile(ctx, repoID, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", fileID, err)
	}

	content, err := s.github.FileContent(ctx, repo.Owner, repo.Name, file.Path, repo.Branch)
	if err != nil {
		file.Status = datatypes.FileStatusFailed
		file.Error = err.Error()
		file.UpdatedAt = time.Now().UTC()
		if putErr := s.recordStore.PutFile(ctx, file); putErr != nil {
			slog.Error("Failed to persist file failure", "file_id", fileID, "error", putErr)
		}
		return nil, fmt.Errorf("fetch %s: %w", file.Path, err)
	}

	indexed, err := pipelines.IngestFile(ctx, s.ingestDeps(), file, content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chunks_indexed": indexed}, nil
}

// ragQueryTask answers one question against an ingested repository. The
// answer and its sources become the job result.
func (s *service) ragQueryTask(ctx context.Context, job datatypes.JobRecord) (map[string]any, error) {
	answer, err := pipelines.RunRAG(ctx, s.ragDeps(), job.Args["repo_id"], job.Args["query"])
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"response": answer.Response,
		"sources":  answer.Sources,
	}, nil
}

// generateFileQATask produces gold pairs for one processed file.
func (s *service) generateFileQATask(ctx context.Context, job datatypes.JobRecord) (map[string]any, error) {
	repoID := job.Args["repo_id"]
	fileID := job.Args["file_id"]
	qaBatchID := job.Args["qa_batch_id"]
	defer s.recordChild(ctx, job.Args["batch_id"], fileID)

	pairs, err := pipelines.GenerateFileQA(ctx, s.qaDeps(), repoID, fileID, qaBatchID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pairs": len(pairs)}, nil
}

// evaluatePairTask scores one gold pair against the live answer pipeline
// and folds the batch snapshot back into the evaluation job record.
func (s *service) evaluatePairTask(ctx context.Context, job datatypes.JobRecord) (map[string]any, error) {
	evalJobID := job.Args["eval_job_id"]
	qaBatchID := job.Args["qa_batch_id"]
	qaID := job.Args["qa_id"]
	batchID := job.Args["batch_id"]

	pair, err := s.recordStore.GetQAPair(ctx, qaBatchID, qaID)
	if err != nil {
		return nil, fmt.Errorf("load gold pair %s: %w", qaID, err)
	}

	result, err := pipelines.EvaluatePair(ctx, s.evalDeps(), evalJobID, pair)
	if err != nil {
		return nil, err
	}

	s.recordChild(ctx, batchID, qaID)
	s.syncEvalJob(ctx, evalJobID, batchID)

	passed := 0
	for _, mr := range result.Metrics {
		if mr.Passed {
			passed++
		}
	}
	return map[string]any{"metrics_passed": passed}, nil
}

// syncEvalJob copies the batch's recounted progress onto the evaluation
// job record so listings show progress without touching the tracker.
func (s *service) syncEvalJob(ctx context.Context, evalJobID, batchID string) {
	if evalJobID == "" || batchID == "" {
		return
	}
	status, err := s.tracker.GetBatchStatus(ctx, batchID)
	if err != nil {
		slog.Error("Failed to read batch status", "batch_id", batchID, "error", err)
		return
	}
	evalJob, err := s.recordStore.GetEvalJob(ctx, evalJobID)
	if err != nil {
		slog.Error("Failed to load eval job", "eval_job_id", evalJobID, "error", err)
		return
	}
	evalJob.Processed = status.Processed
	if status.Status == datatypes.BatchCompleted && evalJob.Status != datatypes.BatchCompleted {
		evalJob.Status = datatypes.BatchCompleted
		now := time.Now().UTC()
		evalJob.CompletedAt = &now
		s.exportEvalSummary(ctx, evalJob)
	}
	if err := s.recordStore.PutEvalJob(ctx, evalJob); err != nil {
		slog.Error("Failed to update eval job progress", "eval_job_id", evalJobID, "error", err)
	}
}

// exportEvalSummary archives the aggregated metric summary of a finished
// evaluation job to the object store. Export failures are logged only; the
// summary stays queryable through the API regardless.
func (s *service) exportEvalSummary(ctx context.Context, evalJob datatypes.EvalJob) {
	results, err := s.recordStore.ListEvalResults(ctx, evalJob.ID)
	if err != nil {
		slog.Error("Failed to list results for summary export", "eval_job_id", evalJob.ID, "error", err)
		return
	}
	payload, err := json.Marshal(map[string]any{
		"eval_job": evalJob,
		"summary":  datatypes.AggregateMetrics(results),
	})
	if err != nil {
		slog.Error("Failed to encode eval summary", "eval_job_id", evalJob.ID, "error", err)
		return
	}
	key := fmt.Sprintf("evals/%s/summary.json", evalJob.ID)
	if err := s.objects.Put(ctx, key, payload, "application/json"); err != nil {
		slog.Error("Failed to export eval summary", "eval_job_id", evalJob.ID, "key", key, "error", err)
		return
	}
	slog.Info("Exported eval summary", "eval_job_id", evalJob.ID, "key", key)
}
