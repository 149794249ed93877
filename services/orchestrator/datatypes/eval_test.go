// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultErrorMetrics(t *testing.T) {
	set := DefaultErrorMetrics(errors.New("no valid JSON found in response"))

	require.Len(t, set, len(MetricNames))
	for _, name := range MetricNames {
		mr, ok := set[name]
		require.True(t, ok, "metric %s missing", name)
		assert.Equal(t, 0.0, mr.Score)
		assert.False(t, mr.Passed)
		assert.Contains(t, mr.Reason, "no valid JSON found in response")
	}
}

func TestAggregateMetrics_AverageAndPassRate(t *testing.T) {
	results := []EvalResult{
		{
			Status: EvalItemCompleted,
			Metrics: MetricSet{
				MetricAnswerRelevancy: {Score: 0.9, Passed: true},
			},
		},
		{
			Status: EvalItemCompleted,
			Metrics: MetricSet{
				MetricAnswerRelevancy: {Score: 0.6, Passed: false},
			},
		},
	}

	agg := AggregateMetrics(results)[MetricAnswerRelevancy]

	assert.InDelta(t, 0.75, agg.Average, 1e-9)
	assert.InDelta(t, 0.5, agg.PassRate, 1e-9)
	assert.Equal(t, 0.6, agg.Min)
	assert.Equal(t, 0.9, agg.Max)
	assert.Equal(t, 1, agg.Passed)
	assert.Equal(t, 1, agg.Failed)
	assert.Equal(t, 2, agg.Count)
}

func TestAggregateMetrics_ExcludesPendingItems(t *testing.T) {
	results := []EvalResult{
		{
			Status:  EvalItemCompleted,
			Metrics: MetricSet{MetricDAGScore: {Score: 0.5, Passed: true}},
		},
		{
			Status:  EvalItemPending,
			Metrics: MetricSet{MetricDAGScore: {Score: 0.0, Passed: false}},
		},
	}

	agg := AggregateMetrics(results)[MetricDAGScore]

	assert.Equal(t, 1, agg.Count, "pending items are excluded, not counted as zero")
	assert.InDelta(t, 0.5, agg.Average, 1e-9)
	assert.InDelta(t, 1.0, agg.PassRate, 1e-9)
}

func TestAggregateMetrics_EmptyInput(t *testing.T) {
	agg := AggregateMetrics(nil)
	require.Len(t, agg, len(MetricNames))
	for name, a := range agg {
		assert.Zero(t, a.Count, "metric %s", name)
		assert.Zero(t, a.Average)
		assert.Zero(t, a.PassRate)
	}
}

func TestChunkScoreMean(t *testing.T) {
	s := ChunkScore{Clarity: 0.8, Depth: 0.6, Structure: 0.4, Relevance: 0.2}
	assert.InDelta(t, 0.5, s.Mean(), 1e-9)
}

func TestQuestionScoreMean(t *testing.T) {
	s := QuestionScore{SelfContainment: 0.9, Clarity: 0.5}
	assert.InDelta(t, 0.7, s.Mean(), 1e-9)
}
