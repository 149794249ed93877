// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFile_SmallContentSingleChunk(t *testing.T) {
	chunks, err := SplitFile("main.go", "package main\n\nfunc main() {}\n", Config{})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Contains(t, chunks[0].Text, "func main()")
}

func TestSplitFile_LargeContentSplits(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("def handler_")
		sb.WriteString(strings.Repeat("x", 10))
		sb.WriteString("():\n    return compute_all_the_things()\n\n")
	}

	chunks, err := SplitFile("app.py", sb.String(), Config{ChunkSize: 500, ChunkOverlap: 50})

	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index, "chunks are indexed in order")
		assert.NotEmpty(t, strings.TrimSpace(ch.Text))
	}
}

func TestSplitFile_EmptyContent(t *testing.T) {
	chunks, err := SplitFile("empty.txt", "", Config{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestWithContext_PrefixesSummary(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Text: "func Add(a, b int) int { return a + b }"},
		{Index: 1, Text: "func Sub(a, b int) int { return a - b }"},
	}

	wrapped := WithContext("math/ops.go", "Arithmetic helpers.", chunks)

	require.Len(t, wrapped, 2)
	assert.True(t, strings.HasPrefix(wrapped[0].Text, "File: math/ops.go\nSummary: Arithmetic helpers."))
	assert.Contains(t, wrapped[1].Text, "func Sub")
	assert.Equal(t, 1, wrapped[1].Index)
}

func TestWithContext_EmptySummaryIsNoOp(t *testing.T) {
	chunks := []Chunk{{Index: 0, Text: "content"}}
	assert.Equal(t, chunks, WithContext("a.go", "", chunks))
}

func TestSplitTokens(t *testing.T) {
	content := strings.Repeat("the quick brown fox jumps over the lazy dog ", 400)

	chunks, err := SplitTokens(content, Config{ChunkSize: 200, ChunkOverlap: 20})

	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
}
