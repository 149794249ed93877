// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipelines

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGrounded_SearchesThenDrafts(t *testing.T) {
	dispatches := 0
	client := &fakeLLM{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Decide the next step"):
			dispatches++
			if dispatches == 1 {
				return `{"action": "search", "query": "go workflow engines"}`, nil
			}
			return `{"action": "stop"}`, nil
		case strings.Contains(prompt, "Answer the question using the research below"):
			require.Contains(t, prompt, "go workflow engines")
			return "Drafted answer.", nil
		}
		return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
	}}
	searcher := &fakeSearcher{result: "Top result: engines compared."}
	deps := GroundedDeps{LLM: client, Searcher: searcher, Config: fastConfig()}

	answer, research, err := RunGrounded(context.Background(), deps, "which engine should I use?")
	require.NoError(t, err)

	assert.Equal(t, "Drafted answer.", answer)
	assert.Contains(t, research, "### Search: go workflow engines")
	assert.Contains(t, research, "engines compared")
	assert.Equal(t, []string{"go workflow engines"}, searcher.queries)
	assert.Equal(t, 2, dispatches, "dispatcher re-decides after each search")
}

func TestRunGrounded_MultipleSearchRoundsAccumulate(t *testing.T) {
	dispatches := 0
	client := &fakeLLM{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Decide the next step"):
			dispatches++
			switch dispatches {
			case 1:
				return `{"action": "search", "query": "first topic"}`, nil
			case 2:
				return `{"action": "search", "query": "second topic"}`, nil
			default:
				return `{"action": "stop"}`, nil
			}
		case strings.Contains(prompt, "Answer the question using the research below"):
			return "done", nil
		}
		return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
	}}
	searcher := &fakeSearcher{result: "a result"}
	deps := GroundedDeps{LLM: client, Searcher: searcher, Config: fastConfig()}

	_, research, err := RunGrounded(context.Background(), deps, "q")
	require.NoError(t, err)

	assert.Contains(t, research, "### Search: first topic")
	assert.Contains(t, research, "### Search: second topic")
	assert.Less(t, strings.Index(research, "first topic"), strings.Index(research, "second topic"),
		"research accumulates in search order")
}

func TestRunGrounded_UndecodableDispatchEndsWithError(t *testing.T) {
	client := &fakeLLM{fn: func(prompt string) (string, error) {
		return "let me think about that...", nil
	}}
	deps := GroundedDeps{LLM: client, Searcher: &fakeSearcher{}, Config: fastConfig()}

	_, _, err := RunGrounded(context.Background(), deps, "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undecodable dispatch decision")
}

func TestRunGrounded_SearchFailureFallsBackToGatheredResearch(t *testing.T) {
	dispatches := 0
	client := &fakeLLM{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Decide the next step"):
			dispatches++
			if dispatches == 1 {
				return `{"action": "search", "query": "anything"}`, nil
			}
			return `{"action": "stop"}`, nil
		case strings.Contains(prompt, "Answer the question using the research below"):
			return "answered without search results", nil
		}
		return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
	}}
	searcher := &fakeSearcher{err: fmt.Errorf("every provider is down")}
	deps := GroundedDeps{LLM: client, Searcher: searcher, Config: fastConfig()}

	answer, research, err := RunGrounded(context.Background(), deps, "q")
	require.NoError(t, err, "a dead search backend degrades, it does not abort")
	assert.Equal(t, "answered without search results", answer)
	assert.Empty(t, research)
}

func TestRunGrounded_LoopIsBounded(t *testing.T) {
	// A dispatcher that always wants another search must hit the step cap
	// instead of spinning forever.
	client := &fakeLLM{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Decide the next step") {
			return `{"action": "search", "query": "again"}`, nil
		}
		return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
	}}
	deps := GroundedDeps{LLM: client, Searcher: &fakeSearcher{result: "r"}, Config: fastConfig()}

	_, _, err := RunGrounded(context.Background(), deps, "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}
