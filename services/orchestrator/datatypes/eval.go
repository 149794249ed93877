// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"time"
)

// Metric keys of the consolidated scoring response.
const (
	MetricGEvalCorrectness    = "g_eval_correctness"
	MetricGEvalCoherence      = "g_eval_coherence"
	MetricGEvalTonality       = "g_eval_tonality"
	MetricGEvalSafety         = "g_eval_safety"
	MetricDAGScore            = "dag_score"
	MetricContextualRelevancy = "contextual_relevancy"
	MetricContextualPrecision = "contextual_precision"
	MetricContextualRecall    = "contextual_recall"
	MetricAnswerRelevancy     = "answer_relevancy"
	MetricAnswerFaithfulness  = "answer_faithfulness"
)

// MetricNames lists every metric the judge must return, in report order.
var MetricNames = []string{
	MetricGEvalCorrectness,
	MetricGEvalCoherence,
	MetricGEvalTonality,
	MetricGEvalSafety,
	MetricDAGScore,
	MetricContextualRelevancy,
	MetricContextualPrecision,
	MetricContextualRecall,
	MetricAnswerRelevancy,
	MetricAnswerFaithfulness,
}

// MetricResult is one scored metric for one evaluated pair.
type MetricResult struct {
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
	Reason string  `json:"reason,omitempty"`
}

// MetricSet maps metric name to its result.
type MetricSet map[string]MetricResult

// DefaultErrorMetrics returns the substitute metric set used when the
// judge's response cannot be parsed: every metric scores 0.0, failed, with
// the parse error as the reason. One unparseable item must never fail its
// batch.
func DefaultErrorMetrics(parseErr error) MetricSet {
	set := make(MetricSet, len(MetricNames))
	for _, name := range MetricNames {
		set[name] = MetricResult{
			Score:  0.0,
			Passed: false,
			Reason: fmt.Sprintf("Error computing metric: %v", parseErr),
		}
	}
	return set
}

// Evaluation item statuses. Aggregation only counts completed items;
// pending placeholders are excluded, not treated as zero.
const (
	EvalItemPending   = "pending"
	EvalItemCompleted = "completed"
)

// EvalJob is one evaluation run of a gold batch against the live answer
// pipeline.
type EvalJob struct {
	ID          string     `json:"id"`
	RepoID      string     `json:"repo_id"`
	BatchID     string     `json:"batch_id"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EvalResult is the scored outcome for one gold pair within an EvalJob.
type EvalResult struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	QAID         string     `json:"qa_id"`
	Status       string     `json:"status"`
	ActualAnswer string     `json:"actual_answer,omitempty"`
	Chunks       []ChunkHit `json:"chunks,omitempty"`
	Metrics      MetricSet  `json:"metrics,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CreateEvalJobRequest starts an evaluation of a gold batch.
type CreateEvalJobRequest struct {
	RepoID  string `json:"repo_id" binding:"required,uuid"`
	BatchID string `json:"batch_id" binding:"required,uuid"`
}

// MetricAggregate summarizes one metric across the completed items of a job.
type MetricAggregate struct {
	Average  float64 `json:"average"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	PassRate float64 `json:"pass_rate"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Count    int     `json:"count"`
}

// AggregateMetrics computes per-metric average, min, max, pass rate, and
// counts over the completed results only. Results whose metric set lacks a
// metric contribute nothing to that metric's aggregate.
func AggregateMetrics(results []EvalResult) map[string]MetricAggregate {
	aggregates := make(map[string]MetricAggregate, len(MetricNames))
	for _, name := range MetricNames {
		var agg MetricAggregate
		sum := 0.0
		for _, res := range results {
			if res.Status != EvalItemCompleted {
				continue
			}
			mr, ok := res.Metrics[name]
			if !ok {
				continue
			}
			if agg.Count == 0 || mr.Score < agg.Min {
				agg.Min = mr.Score
			}
			if agg.Count == 0 || mr.Score > agg.Max {
				agg.Max = mr.Score
			}
			sum += mr.Score
			agg.Count++
			if mr.Passed {
				agg.Passed++
			} else {
				agg.Failed++
			}
		}
		if agg.Count > 0 {
			agg.Average = sum / float64(agg.Count)
			agg.PassRate = float64(agg.Passed) / float64(agg.Count)
		}
		aggregates[name] = agg
	}
	return aggregates
}
