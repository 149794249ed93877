// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipelines

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextualPrecision(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []float64
		want     float64
	}{
		{"ranked example", []float64{1, 0, 1}, 0.5555555555555555},
		{"all relevant", []float64{1, 1, 1}, 1.0},
		{"none relevant", []float64{0, 0, 0}, 0.0},
		{"empty", nil, 0.0},
		{"relevant first only", []float64{1, 0, 0}, 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, contextualPrecision(tt.verdicts), 1e-9)
		})
	}
}

func TestComputeMetrics_DAGNormalization(t *testing.T) {
	passing := computeMetrics(judgeResponse{DAGScore: 5})
	assert.InDelta(t, 0.5, passing[datatypes.MetricDAGScore].Score, 1e-9)
	assert.True(t, passing[datatypes.MetricDAGScore].Passed)

	failing := computeMetrics(judgeResponse{DAGScore: 1})
	assert.InDelta(t, 0.1, failing[datatypes.MetricDAGScore].Score, 1e-9)
	assert.False(t, failing[datatypes.MetricDAGScore].Passed)
}

func TestComputeMetrics_Thresholds(t *testing.T) {
	set := computeMetrics(judgeResponse{
		GEvalCorrectness:    0.5,
		GEvalCoherence:      0.49,
		GEvalTonality:       1.0,
		GEvalSafety:         0.9,
		DAGScore:            10,
		ContextualRelevancy: 0.3,
		PrecisionVerdicts:   []float64{1, 0, 1},
		ContextualRecall:    0.7,
		AnswerRelevancy:     0.71,
		AnswerFaithfulness:  0.9,
	})

	// G-Eval passes at the threshold; the others pass strictly above it.
	assert.True(t, set[datatypes.MetricGEvalCorrectness].Passed)
	assert.False(t, set[datatypes.MetricGEvalCoherence].Passed)
	assert.False(t, set[datatypes.MetricContextualRelevancy].Passed, "0.3 is not above 0.3")
	assert.True(t, set[datatypes.MetricContextualPrecision].Passed)
	assert.False(t, set[datatypes.MetricContextualRecall].Passed, "0.7 is not above 0.7")
	assert.True(t, set[datatypes.MetricAnswerRelevancy].Passed)

	assert.Len(t, set, len(datatypes.MetricNames))
	for _, name := range datatypes.MetricNames {
		_, ok := set[name]
		assert.True(t, ok, "missing metric %s", name)
	}
}

func testEvalDeps(t *testing.T, judgeFn func(string) (string, error)) EvalDeps {
	index := &fakeIndex{hits: []datatypes.ChunkHit{
		{ID: "c1", FilePath: "a.go", Content: "code one"},
		{ID: "c2", FilePath: "b.go", Content: "code two"},
		{ID: "c3", FilePath: "c.go", Content: "code three"},
	}}
	ragLLM := &fakeLLM{fn: func(prompt string) (string, error) {
		return "the actual answer", nil
	}}
	return EvalDeps{
		RAG: RAGDeps{
			LLM:      ragLLM,
			Embedder: &fakeEmbedder{vec: []float32{0.5}},
			Index:    index,
			Config:   fastConfig(),
		},
		Judge:  &fakeLLM{fn: judgeFn},
		Store:  newTestRecordStore(t),
		Config: fastConfig(),
	}
}

func TestEvaluatePair_HappyPath(t *testing.T) {
	deps := testEvalDeps(t, func(prompt string) (string, error) {
		require.Contains(t, prompt, "Gold answer: the gold answer")
		require.Contains(t, prompt, "Actual answer: the actual answer")
		return `{
			"g_eval_correctness": 0.8, "g_eval_coherence": 0.9,
			"g_eval_tonality": 0.9, "g_eval_safety": 1.0,
			"dag_score": 5,
			"contextual_relevancy": 0.6,
			"precision_verdicts": [1, 0, 1],
			"contextual_recall": 0.9,
			"answer_relevancy": 0.8,
			"answer_faithfulness": 0.95
		}`, nil
	})

	pair := datatypes.QAPair{ID: "qa-1", RepoID: "repo-1", Question: "q?", Answer: "the gold answer"}
	result, err := EvaluatePair(context.Background(), deps, "job-1", pair)
	require.NoError(t, err)

	assert.Equal(t, datatypes.EvalItemCompleted, result.Status)
	assert.Equal(t, "the actual answer", result.ActualAnswer)
	assert.Len(t, result.Chunks, 3)
	assert.InDelta(t, 0.556, result.Metrics[datatypes.MetricContextualPrecision].Score, 0.001)
	assert.True(t, result.Metrics[datatypes.MetricDAGScore].Passed)
	assert.True(t, result.Metrics[datatypes.MetricAnswerFaithfulness].Passed)

	stored, err := deps.Store.GetEvalResult(context.Background(), "job-1", "qa-1")
	require.NoError(t, err)
	assert.Equal(t, result.ID, stored.ID)
}

func TestEvaluatePair_UnparseableJudgeDegradesToErrorMetrics(t *testing.T) {
	deps := testEvalDeps(t, func(string) (string, error) {
		return "I refuse to emit JSON today.", nil
	})

	pair := datatypes.QAPair{ID: "qa-2", RepoID: "repo-1", Question: "q?", Answer: "gold"}
	result, err := EvaluatePair(context.Background(), deps, "job-1", pair)
	require.NoError(t, err, "one unparseable item must not fail the batch")

	assert.Equal(t, datatypes.EvalItemCompleted, result.Status)
	require.Len(t, result.Metrics, len(datatypes.MetricNames))
	for name, mr := range result.Metrics {
		assert.Zero(t, mr.Score, "metric %s", name)
		assert.False(t, mr.Passed, "metric %s", name)
		assert.True(t, strings.HasPrefix(mr.Reason, "Error computing metric:"), "metric %s reason %q", name, mr.Reason)
	}
}

func TestEvaluatePair_AnswerPipelineFailureDegrades(t *testing.T) {
	deps := testEvalDeps(t, func(string) (string, error) {
		t.Fatal("judge must not be called when the answer pipeline fails")
		return "", nil
	})
	deps.RAG.Embedder = &fakeEmbedder{err: context.DeadlineExceeded}

	pair := datatypes.QAPair{ID: "qa-3", RepoID: "repo-1", Question: "q?", Answer: "gold"}
	result, err := EvaluatePair(context.Background(), deps, "job-1", pair)
	require.NoError(t, err)
	assert.Empty(t, result.ActualAnswer)
	assert.False(t, result.Metrics[datatypes.MetricGEvalCorrectness].Passed)
}

func TestAggregationWorkedExample(t *testing.T) {
	results := []datatypes.EvalResult{
		{Status: datatypes.EvalItemCompleted, Metrics: datatypes.MetricSet{
			datatypes.MetricDAGScore: {Score: 0.9, Passed: true},
		}},
		{Status: datatypes.EvalItemCompleted, Metrics: datatypes.MetricSet{
			datatypes.MetricDAGScore: {Score: 0.6, Passed: false},
		}},
	}
	agg := datatypes.AggregateMetrics(results)[datatypes.MetricDAGScore]
	assert.InDelta(t, 0.75, agg.Average, 1e-9)
	assert.InDelta(t, 0.5, agg.PassRate, 1e-9)
	assert.Equal(t, 2, agg.Count)
}
