// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetcher retrieves repository trees and file contents from the
// GitHub REST API.
package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/chainflow/pkg/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chainflow.fetcher")

const defaultAPIBaseURL = "https://api.github.com"

// HTTPClient interface allows injecting mock HTTP clients for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TreeEntry is one blob in a repository tree.
type TreeEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// GitHubClient fetches repository metadata and contents. An empty token
// limits requests to public repositories and the unauthenticated rate
// ceiling.
type GitHubClient struct {
	httpClient HTTPClient
	baseURL    string
	token      string
}

// NewGitHubClient builds a client from the environment. GITHUB_ACCESS_TOKEN
// is optional; GITHUB_API_BASE_URL overrides the endpoint for tests and
// GitHub Enterprise.
func NewGitHubClient() *GitHubClient {
	token := os.Getenv("GITHUB_ACCESS_TOKEN")
	baseURL := os.Getenv("GITHUB_API_BASE_URL")
	if token == "" {
		slog.Warn("GITHUB_ACCESS_TOKEN not set, only public repositories are reachable")
	}
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	return &GitHubClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}
}

// NewGitHubClientWithHTTP builds a client around an injected HTTP client.
func NewGitHubClientWithHTTP(httpClient HTTPClient, baseURL, token string) *GitHubClient {
	return &GitHubClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Size int64  `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// ListFiles returns every blob in the repository tree at the given branch.
func (g *GitHubClient) ListFiles(ctx context.Context, owner, name, branch string) ([]TreeEntry, error) {
	ctx, span := tracer.Start(ctx, "GitHubClient.ListFiles")
	defer span.End()
	span.SetAttributes(
		attribute.String("github.repo", owner+"/"+name),
		attribute.String("github.branch", branch),
	)

	if err := validation.ValidateRepoCoordinates(owner, name, branch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("invalid repository: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", g.baseURL, owner, name, branch)
	body, err := g.get(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var tree treeResponse
	if err := json.Unmarshal(body, &tree); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse GitHub tree response: %w", err)
	}
	if tree.Truncated {
		slog.Warn("GitHub tree response was truncated", "repo", owner+"/"+name, "branch", branch)
	}

	entries := make([]TreeEntry, 0, len(tree.Tree))
	for _, item := range tree.Tree {
		if item.Type != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{Path: item.Path, Size: item.Size})
	}
	slog.Info("Listed repository files", "repo", owner+"/"+name, "branch", branch, "files", len(entries))
	return entries, nil
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FileContent returns the decoded content of one file at the given branch.
func (g *GitHubClient) FileContent(ctx context.Context, owner, name, path, branch string) (string, error) {
	ctx, span := tracer.Start(ctx, "GitHubClient.FileContent")
	defer span.End()
	span.SetAttributes(
		attribute.String("github.repo", owner+"/"+name),
		attribute.String("github.path", path),
	)

	if err := validation.ValidateRepoCoordinates(owner, name, branch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("invalid repository: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", g.baseURL, owner, name, path, branch)
	body, err := g.get(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var contents contentsResponse
	if err := json.Unmarshal(body, &contents); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to parse GitHub contents response: %w", err)
	}
	if contents.Encoding != "base64" {
		return "", fmt.Errorf("unexpected content encoding %q for %s", contents.Encoding, path)
	}

	// The contents API inserts newlines into the base64 payload.
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(contents.Content, "\n", ""))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return string(decoded), nil
}

func (g *GitHubClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Error("GitHub API call failed", "error", err)
		return nil, fmt.Errorf("GitHub API call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read GitHub response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("GitHub returned an error", "status_code", resp.StatusCode, "url", url)
		return nil, fmt.Errorf("GitHub request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
