// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/chainflow/pkg/logging"
	"github.com/AleutianAI/chainflow/services/orchestrator"
)

const version = "0.3.0"

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// ragPollInterval paces job polling in `ask`.
const ragPollInterval = 500 * time.Millisecond

func runServe(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := orchestrator.Config{
		Port:               envInt("ORCHESTRATOR_PORT", 12210),
		LLMProvider:        envString("LLM_PROVIDER", "ollama"),
		WeaviateURL:        os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:       envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		EnableTracing:      os.Getenv("ENABLE_TRACING") == "true",
		DataDir:            os.Getenv("DATA_DIR"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSKeyPath:         os.Getenv("GCS_SA_KEY_PATH"),
		PipelineConfigPath: os.Getenv("PIPELINE_CONFIG_PATH"),
		WorkersPerQueue:    envInt("WORKERS_PER_QUEUE", 4),
	}

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

func runRegister(cmd *cobra.Command, args []string) {
	owner, name, ok := strings.Cut(args[0], "/")
	if !ok {
		log.Fatalf("Expected owner/name, got %q", args[0])
	}

	body := map[string]string{"owner": owner, "name": name, "branch": branch}
	resp, err := postJSON(serverURL+"/v1/repos", body)
	if err != nil {
		log.Fatalf("Failed to register repository: %v", err)
	}

	if already, _ := resp["already_registered"].(bool); already {
		repo := resp["repo"].(map[string]any)
		fmt.Printf("Already registered: repo_id=%v\n", repo["id"])
		return
	}
	repo := resp["repo"].(map[string]any)
	fmt.Printf("Registered %s/%s@%s\n", owner, name, branch)
	fmt.Printf("  repo_id:  %v\n", repo["id"])
	fmt.Printf("  batch_id: %v\n", resp["batch_id"])
	fmt.Printf("  files:    %v\n", resp["files"])
	fmt.Printf("Track progress with: chainflow status %v\n", resp["batch_id"])
}

func runAsk(cmd *cobra.Command, args []string) {
	if repoID == "" {
		log.Fatal("--repo is required")
	}
	question := strings.Join(args, " ")

	resp, err := postJSON(serverURL+"/v1/rag", map[string]string{
		"repo_id": repoID,
		"query":   question,
	})
	if err != nil {
		log.Fatalf("Failed to submit question: %v", err)
	}
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		log.Fatalf("Server returned no job ID: %v", resp)
	}

	for {
		time.Sleep(ragPollInterval)
		job, err := getJSON(serverURL + "/v1/jobs/" + jobID)
		if err != nil {
			log.Fatalf("Failed to poll job: %v", err)
		}
		switch job["status"] {
		case "completed":
			result := job["result"].(map[string]any)
			fmt.Println(result["response"])
			if sources, ok := result["sources"].([]any); ok && len(sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range sources {
					hit := src.(map[string]any)
					fmt.Printf("  - %v\n", hit["file_path"])
				}
			}
			return
		case "failed":
			log.Fatalf("Query failed: %v", job["error"])
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) {
	status, err := getJSON(serverURL + "/v1/batches/" + args[0])
	if err != nil {
		log.Fatalf("Failed to fetch batch status: %v", err)
	}
	fmt.Printf("batch %v: %v (%v/%v)\n",
		status["batch_id"], status["status"], status["processed"], status["total"])
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("chainflow %s\n", version)
}

// --- HTTP helpers ---

func postJSON(url string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

func getJSON(url string) (map[string]any, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("undecodable response (%d): %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server returned %d: %v", resp.StatusCode, body["error"])
	}
	return body, nil
}

func envString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
