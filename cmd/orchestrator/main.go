// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the chainflow orchestrator HTTP server.
//
// This is the entry point for the containerized service. It reads
// configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_PROVIDER: LLM backend - ollama, openai, gemini (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate vector index URL (required)
//   - DATA_DIR: BadgerDB directory for durable records (default: in-memory)
//   - GCS_BUCKET: object archive bucket (optional)
//   - PIPELINE_CONFIG_PATH: YAML pipeline thresholds file (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//   - ENABLE_TRACING: set to "true" to export spans
//   - WORKERS_PER_QUEUE: worker pool size per job queue (default: 4)
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/chainflow/pkg/logging"
	"github.com/AleutianAI/chainflow/services/orchestrator"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := orchestrator.Config{
		Port:               getEnvInt("ORCHESTRATOR_PORT", 12210),
		LLMProvider:        getEnvString("LLM_PROVIDER", "ollama"),
		WeaviateURL:        os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:       getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		EnableTracing:      os.Getenv("ENABLE_TRACING") == "true",
		DataDir:            os.Getenv("DATA_DIR"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSKeyPath:         os.Getenv("GCS_SA_KEY_PATH"),
		PipelineConfigPath: os.Getenv("PIPELINE_CONFIG_PATH"),
		WorkersPerQueue:    getEnvInt("WORKERS_PER_QUEUE", 4),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
