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
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultDuckDuckGoBaseURL = "https://api.duckduckgo.com"

// maxDuckDuckGoResults caps how many related topics go into the digest.
const maxDuckDuckGoResults = 10

// DuckDuckGo queries the DuckDuckGo instant answer API. No API key needed.
type DuckDuckGo struct {
	httpClient *http.Client
	baseURL    string
}

// NewDuckDuckGo builds a DuckDuckGo provider. An empty baseURL uses the
// public endpoint.
func NewDuckDuckGo(baseURL string) *DuckDuckGo {
	if baseURL == "" {
		baseURL = defaultDuckDuckGoBaseURL
	}
	return &DuckDuckGo{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// Name implements the Provider interface
func (d *DuckDuckGo) Name() string {
	return "duckduckgo"
}

type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search implements the Provider interface
func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", d.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create DuckDuckGo request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("DuckDuckGo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read DuckDuckGo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("DuckDuckGo returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ddgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse DuckDuckGo response: %w", err)
	}

	var sections []string
	if parsed.AbstractText != "" {
		sections = append(sections, fmt.Sprintf("Title: %s\nURL: %s\nSnippet: %s",
			parsed.Heading, parsed.AbstractURL, parsed.AbstractText))
	}
	for i, topic := range parsed.RelatedTopics {
		if i >= maxDuckDuckGoResults {
			break
		}
		if topic.Text == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("URL: %s\nSnippet: %s", topic.FirstURL, topic.Text))
	}
	if len(sections) == 0 {
		slog.Debug("DuckDuckGo returned no usable results", "query", query)
		return "No results found.", nil
	}
	return strings.Join(sections, "\n\n"), nil
}
