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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL string
	branch    string
	repoID    string

	rootCmd = &cobra.Command{
		Use:   "chainflow",
		Short: "A cli for the chainflow repository Q&A and evaluation service",
		Long: `Chainflow ingests GitHub repositories into a vector index,
answers questions about them with a retrieval pipeline, generates
synthetic gold Q&A datasets, and scores the answer pipeline against them.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server in the foreground",
		Run:   runServe,
	}

	registerCmd = &cobra.Command{
		Use:   "register [owner/name]",
		Short: "Register a GitHub repository and start ingesting it",
		Args:  cobra.ExactArgs(1),
		Run:   runRegister,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about an ingested repository",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAsk,
	}

	statusCmd = &cobra.Command{
		Use:   "status [batch-id]",
		Short: "Show the progress of an ingestion, generation, or evaluation batch",
		Args:  cobra.ExactArgs(1),
		Run:   runStatus,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the chainflow version",
		Run:   runVersion,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		"http://localhost:12210", "orchestrator base URL")
	registerCmd.Flags().StringVar(&branch, "branch", "main", "branch to ingest")
	askCmd.Flags().StringVar(&repoID, "repo", "", "repository ID to query (required)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
