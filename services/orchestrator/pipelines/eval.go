// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/observability"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Metric pass thresholds. G-Eval metrics pass at or above their threshold;
// the rest pass strictly above.
const (
	gEvalThreshold      = 0.5
	dagThreshold        = 0.3
	relevancyThreshold  = 0.3
	precisionThreshold  = 0.3
	recallThreshold     = 0.7
	answerRelThreshold  = 0.7
	faithfulThreshold   = 0.7
	dagNormalizeDivisor = 10.0
)

// EvalDeps are the collaborators of the evaluation pipeline. The judge LLM
// may differ from the answering LLM inside RAG.
type EvalDeps struct {
	RAG     RAGDeps
	Judge   llm.LLMClient
	Store   *store.RecordStore
	Limiter *rate.Limiter
	Config  Config
}

// judgeResponse is the consolidated scoring payload the judge returns in
// one call. dag_score is the raw rubric value (0, 1, 3, 5, or 10);
// precision_verdicts is a 1/0 relevance verdict per retrieved chunk in
// retrieval rank order.
type judgeResponse struct {
	GEvalCorrectness    float64   `json:"g_eval_correctness"`
	GEvalCoherence      float64   `json:"g_eval_coherence"`
	GEvalTonality       float64   `json:"g_eval_tonality"`
	GEvalSafety         float64   `json:"g_eval_safety"`
	DAGScore            float64   `json:"dag_score"`
	ContextualRelevancy float64   `json:"contextual_relevancy"`
	PrecisionVerdicts   []float64 `json:"precision_verdicts"`
	ContextualRecall    float64   `json:"contextual_recall"`
	AnswerRelevancy     float64   `json:"answer_relevancy"`
	AnswerFaithfulness  float64   `json:"answer_faithfulness"`
}

// contextualPrecision computes the rank-weighted precision over 1/0
// relevance verdicts in retrieval order: the precision-at-k of each
// relevant position, averaged over every position. Verdicts [1,0,1] score
// (1/3)(1/1 + 2/3) = 0.556.
func contextualPrecision(verdicts []float64) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	relevant := 0
	sum := 0.0
	for k, v := range verdicts {
		if v >= 1 {
			relevant++
			sum += float64(relevant) / float64(k+1)
		}
	}
	return sum / float64(len(verdicts))
}

func metricResult(score, threshold float64, passed bool) datatypes.MetricResult {
	return datatypes.MetricResult{
		Score:  score,
		Passed: passed,
		Reason: fmt.Sprintf("score %.3f against threshold %.2f", score, threshold),
	}
}

// computeMetrics turns one judge response into the full metric set,
// normalizing the DAG rubric value and deriving precision from the ranked
// verdicts.
func computeMetrics(judge judgeResponse) datatypes.MetricSet {
	dag := judge.DAGScore / dagNormalizeDivisor
	precision := contextualPrecision(judge.PrecisionVerdicts)

	return datatypes.MetricSet{
		datatypes.MetricGEvalCorrectness:    metricResult(judge.GEvalCorrectness, gEvalThreshold, judge.GEvalCorrectness >= gEvalThreshold),
		datatypes.MetricGEvalCoherence:      metricResult(judge.GEvalCoherence, gEvalThreshold, judge.GEvalCoherence >= gEvalThreshold),
		datatypes.MetricGEvalTonality:       metricResult(judge.GEvalTonality, gEvalThreshold, judge.GEvalTonality >= gEvalThreshold),
		datatypes.MetricGEvalSafety:         metricResult(judge.GEvalSafety, gEvalThreshold, judge.GEvalSafety >= gEvalThreshold),
		datatypes.MetricDAGScore:            metricResult(dag, dagThreshold, dag > dagThreshold),
		datatypes.MetricContextualRelevancy: metricResult(judge.ContextualRelevancy, relevancyThreshold, judge.ContextualRelevancy > relevancyThreshold),
		datatypes.MetricContextualPrecision: metricResult(precision, precisionThreshold, precision > precisionThreshold),
		datatypes.MetricContextualRecall:    metricResult(judge.ContextualRecall, recallThreshold, judge.ContextualRecall > recallThreshold),
		datatypes.MetricAnswerRelevancy:     metricResult(judge.AnswerRelevancy, answerRelThreshold, judge.AnswerRelevancy > answerRelThreshold),
		datatypes.MetricAnswerFaithfulness:  metricResult(judge.AnswerFaithfulness, faithfulThreshold, judge.AnswerFaithfulness > faithfulThreshold),
	}
}

func buildJudgePrompt(pair datatypes.QAPair, actual string, chunks []datatypes.ChunkHit) string {
	var contexts strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&contexts, "[%d] (%s)\n%s\n\n", i+1, chunk.FilePath, chunk.Content)
	}

	return fmt.Sprintf(`You are grading a retrieval-augmented answer against a gold answer.

Question: %s

Gold answer: %s

Actual answer: %s

Retrieved contexts, in rank order:
%s
Score the actual answer. Respond with JSON only, no prose:
{
  "g_eval_correctness": <0.0-1.0, factual agreement with the gold answer>,
  "g_eval_coherence": <0.0-1.0, logical structure>,
  "g_eval_tonality": <0.0-1.0, professional technical tone>,
  "g_eval_safety": <0.0-1.0, free of harmful or leaked content>,
  "dag_score": <exactly one of 0, 1, 3, 5, 10 per the rubric: 0 wrong, 1 mostly wrong, 3 partially right, 5 right with gaps, 10 fully right>,
  "contextual_relevancy": <0.0-1.0, fraction of retrieved content relevant to the question>,
  "precision_verdicts": [<1 or 0 per retrieved context in the order shown, 1 if it was needed for the answer>],
  "contextual_recall": <0.0-1.0, fraction of the gold answer supported by the retrieved contexts>,
  "answer_relevancy": <0.0-1.0, how directly the actual answer addresses the question>,
  "answer_faithfulness": <0.0-1.0, how grounded the actual answer is in the retrieved contexts>
}`, pair.Question, pair.Answer, actual, contexts.String())
}

// EvaluatePair runs one gold pair through the live answer pipeline, scores
// the outcome with a single consolidated judge call, and persists the
// result. Failures inside the item degrade to the zero-score metric set;
// they never propagate an error that would fail the surrounding batch.
func EvaluatePair(ctx context.Context, deps EvalDeps, jobID string, pair datatypes.QAPair) (datatypes.EvalResult, error) {
	ctx, span := tracer.Start(ctx, "pipelines.EvaluatePair")
	defer span.End()

	result := datatypes.EvalResult{
		ID:        uuid.NewString(),
		JobID:     jobID,
		QAID:      pair.ID,
		Status:    datatypes.EvalItemCompleted,
		CreatedAt: time.Now().UTC(),
	}

	answer, err := RunRAG(ctx, deps.RAG, pair.RepoID, pair.Question)
	if err != nil {
		slog.Warn("Answer pipeline failed during evaluation", "qa_id", pair.ID, "error", err)
		result.Metrics = datatypes.DefaultErrorMetrics(err)
		return persistEvalResult(ctx, deps, result)
	}
	result.ActualAnswer = answer.Response
	result.Chunks = answer.Sources

	if err := waitLimiter(ctx, deps.Limiter); err != nil {
		return datatypes.EvalResult{}, err
	}
	response, err := deps.Judge.Generate(ctx, buildJudgePrompt(pair, answer.Response, answer.Sources), llm.GenerationParams{})
	if err != nil {
		slog.Warn("Judge call failed", "qa_id", pair.ID, "error", err)
		result.Metrics = datatypes.DefaultErrorMetrics(err)
		return persistEvalResult(ctx, deps, result)
	}

	var judge judgeResponse
	if err := llm.ParseObject(response, &judge); err != nil {
		slog.Warn("Unparseable judge response", "qa_id", pair.ID, "error", err)
		result.Metrics = datatypes.DefaultErrorMetrics(err)
		return persistEvalResult(ctx, deps, result)
	}

	result.Metrics = computeMetrics(judge)
	return persistEvalResult(ctx, deps, result)
}

func persistEvalResult(ctx context.Context, deps EvalDeps, result datatypes.EvalResult) (datatypes.EvalResult, error) {
	if err := deps.Store.PutEvalResult(ctx, result); err != nil {
		return datatypes.EvalResult{}, fmt.Errorf("failed to persist eval result: %w", err)
	}
	if observability.DefaultMetrics != nil {
		for name, mr := range result.Metrics {
			observability.DefaultMetrics.RecordEvalResult(name, mr.Passed)
		}
	}
	return result, nil
}
