// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBraveBaseURL = "https://api.search.brave.com"

// Brave queries the Brave web search API. Requires a subscription token.
type Brave struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewBrave builds a Brave provider. An empty baseURL uses the public
// endpoint.
func NewBrave(apiKey, baseURL string) (*Brave, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("brave search requires an API key")
	}
	if baseURL == "" {
		baseURL = defaultBraveBaseURL
	}
	return &Brave{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}, nil
}

// Name implements the Provider interface
func (b *Brave) Name() string {
	return "brave"
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements the Provider interface
func (b *Brave) Search(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("%s/res/v1/web/search?q=%s", b.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create Brave request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Brave request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read Brave response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Brave returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse Brave response: %w", err)
	}

	sections := make([]string, 0, len(parsed.Web.Results))
	for _, result := range parsed.Web.Results {
		sections = append(sections, fmt.Sprintf("Title: %s\nURL: %s\nDescription: %s",
			result.Title, result.URL, result.Description))
	}
	if len(sections) == 0 {
		return "No results found.", nil
	}
	return strings.Join(sections, "\n\n"), nil
}
