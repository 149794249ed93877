// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFiles_FiltersToBlobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello/git/trees/main", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"tree": []map[string]any{
				{"path": "README.md", "type": "blob", "size": 120},
				{"path": "src", "type": "tree"},
				{"path": "src/main.go", "type": "blob", "size": 2048},
			},
		})
	}))
	defer server.Close()

	client := NewGitHubClientWithHTTP(server.Client(), server.URL, "secret")
	entries, err := client.ListFiles(context.Background(), "octocat", "hello", "main")

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "README.md", entries[0].Path)
	assert.Equal(t, "src/main.go", entries[1].Path)
	assert.Equal(t, int64(2048), entries[1].Size)
}

func TestListFiles_RejectsInvalidCoordinates(t *testing.T) {
	client := NewGitHubClientWithHTTP(http.DefaultClient, "http://unused", "")
	_, err := client.ListFiles(context.Background(), "../etc", "hello", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid repository")
}

func TestFileContent_DecodesBase64(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello/contents/src/main.go", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		// The contents API wraps base64 at 60 columns.
		encoded := base64.StdEncoding.EncodeToString([]byte(content))
		wrapped := encoded[:20] + "\n" + encoded[20:]
		json.NewEncoder(w).Encode(map[string]any{
			"content":  wrapped,
			"encoding": "base64",
		})
	}))
	defer server.Close()

	client := NewGitHubClientWithHTTP(server.Client(), server.URL, "")
	got, err := client.FileContent(context.Background(), "octocat", "hello", "src/main.go", "main")

	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFileContent_UnexpectedEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": "xx", "encoding": "utf-8"})
	}))
	defer server.Close()

	client := NewGitHubClientWithHTTP(server.Client(), server.URL, "")
	_, err := client.FileContent(context.Background(), "octocat", "hello", "a.go", "main")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content encoding")
}

func TestGet_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewGitHubClientWithHTTP(server.Client(), server.URL, "")
	_, err := client.ListFiles(context.Background(), "octocat", "missing", "main")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
