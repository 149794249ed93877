// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chainflow/services/llm"
	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/pipelines"
)

type scriptedLLM struct {
	fn func(prompt string) (string, error)
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return s.fn(prompt)
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	return s.fn(messages[len(messages)-1].Content)
}

type scriptedSearcher struct {
	result string
}

func (s *scriptedSearcher) Name() string { return "scripted" }

func (s *scriptedSearcher) Search(ctx context.Context, query string) (string, error) {
	return s.result, nil
}

func TestHandleGroundedQuery(t *testing.T) {
	dispatched := false
	deps := pipelines.GroundedDeps{
		LLM: &scriptedLLM{fn: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Decide the next step") {
				if !dispatched {
					dispatched = true
					return `{"action": "search", "query": "gin middleware ordering"}`, nil
				}
				return `{"action": "stop"}`, nil
			}
			return "Middleware runs in registration order.", nil
		}},
		Searcher: &scriptedSearcher{result: "docs say registration order"},
		Config:   pipelines.DefaultConfig(),
	}

	router := gin.New()
	router.POST("/v1/grounded", HandleGroundedQuery(deps))

	rec := perform(router, http.MethodPost, "/v1/grounded",
		GroundedRequest{Query: "in what order does gin run middleware?"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Middleware runs in registration order.", body["answer"])
	assert.Contains(t, body["research"], "gin middleware ordering")
}

func TestHandleGroundedQuery_MissingQuery400(t *testing.T) {
	router := gin.New()
	router.POST("/v1/grounded", HandleGroundedQuery(pipelines.GroundedDeps{}))

	rec := perform(router, http.MethodPost, "/v1/grounded", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
