// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipelines

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Ingestion splitter strategies.
const (
	SplitterRecursive = "recursive"
	SplitterToken     = "token"
)

// Config tunes the pipelines. Loaded from YAML; zero values fall back to
// the defaults below.
type Config struct {
	// TopK is how many chunks vector search returns.
	TopK int `yaml:"top_k"`

	// ChunkSize and ChunkOverlap control the ingestion splitter.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// ChunkScoreThreshold and QuestionScoreThreshold gate which chunks and
	// questions survive QA generation.
	ChunkScoreThreshold    float64 `yaml:"chunk_score_threshold"`
	QuestionScoreThreshold float64 `yaml:"question_score_threshold"`

	// Splitter selects the ingestion split strategy: SplitterRecursive
	// uses language-aware separators, SplitterToken plain token windows.
	Splitter string `yaml:"splitter"`

	// LLMRequestsPerSecond and LLMBurst shape the token bucket throttling
	// per-item LLM calls inside generation and evaluation loops.
	LLMRequestsPerSecond float64 `yaml:"llm_requests_per_second"`
	LLMBurst             int     `yaml:"llm_burst"`

	// NodeRetries and NodeRetryDelaySeconds set the retry policy for the
	// fallible pipeline stages.
	NodeRetries           int `yaml:"node_retries"`
	NodeRetryDelaySeconds int `yaml:"node_retry_delay_seconds"`
}

// DefaultConfig returns the documented type defaults. The generation
// thresholds here are the conservative 0.5 baseline; deployments run the
// looser ProductionConfig values unless a config file says otherwise.
func DefaultConfig() Config {
	return Config{
		TopK:                   5,
		ChunkSize:              1000,
		ChunkOverlap:           100,
		ChunkScoreThreshold:    0.5,
		QuestionScoreThreshold: 0.5,
		Splitter:               SplitterRecursive,
		LLMRequestsPerSecond:   2,
		LLMBurst:               1,
		NodeRetries:            3,
		NodeRetryDelaySeconds:  2,
	}
}

// ProductionConfig is what a deployment runs without a config file. QA
// generation gates chunks and questions at 0.3; the 0.5 type default throws
// away too much of a typical repository to build a useful gold set.
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkScoreThreshold = 0.3
	cfg.QuestionScoreThreshold = 0.3
	return cfg
}

// LoadConfig reads a YAML config file over the production tuning. A missing
// path returns the production tuning with a warning rather than an error.
func LoadConfig(path string) (Config, error) {
	cfg := ProductionConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Pipeline config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read pipeline config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
	}
	cfg = cfg.withDefaults()
	slog.Info("Loaded pipeline config", "path", path)
	return cfg, nil
}

func (c Config) withDefaults() Config {
	d := ProductionConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = d.ChunkOverlap
	}
	if c.ChunkScoreThreshold <= 0 {
		c.ChunkScoreThreshold = d.ChunkScoreThreshold
	}
	if c.QuestionScoreThreshold <= 0 {
		c.QuestionScoreThreshold = d.QuestionScoreThreshold
	}
	if c.Splitter == "" {
		c.Splitter = d.Splitter
	}
	if c.LLMRequestsPerSecond <= 0 {
		c.LLMRequestsPerSecond = d.LLMRequestsPerSecond
	}
	if c.LLMBurst <= 0 {
		c.LLMBurst = d.LLMBurst
	}
	if c.NodeRetries <= 0 {
		c.NodeRetries = d.NodeRetries
	}
	if c.NodeRetryDelaySeconds <= 0 {
		c.NodeRetryDelaySeconds = d.NodeRetryDelaySeconds
	}
	return c
}

// Limiter builds the shared token bucket for LLM calls.
func (c Config) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(c.LLMRequestsPerSecond), c.LLMBurst)
}
