// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring pipeline
// execution. Metrics include:
//   - Chain and node execution counters (by chain, node, status)
//   - Job queue counters and active-job gauges (by queue)
//   - Batch fan-out completion counters (by batch kind)
//   - LLM call latency histograms (by provider and operation)
//   - Evaluation metric pass/fail counters (by metric name)
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "chainflow"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for chain and job execution.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// throughput and LLM latency. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - ChainRunsTotal: Counter of chain executions by chain name and status
//   - NodeRetriesTotal: Counter of node retry attempts by chain and node
//   - JobsTotal: Counter of queue jobs by queue and terminal status
//   - ActiveJobs: Gauge of jobs currently executing per queue
//   - BatchChildrenTotal: Counter of recorded child completions by batch kind
//   - LLMRequestSeconds: Histogram of LLM call latency by provider and operation
//   - EvalResultsTotal: Counter of evaluation metric outcomes by metric name
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// ChainRunsTotal counts chain executions by chain name and status.
	// Labels: chain, status (success, error)
	ChainRunsTotal *prometheus.CounterVec

	// NodeRetriesTotal counts retry attempts beyond the first.
	// Labels: chain, node
	NodeRetriesTotal *prometheus.CounterVec

	// JobsTotal counts queue jobs reaching a terminal state.
	// Labels: queue, status (completed, failed)
	JobsTotal *prometheus.CounterVec

	// ActiveJobs tracks jobs currently executing.
	// Labels: queue
	ActiveJobs *prometheus.GaugeVec

	// BatchChildrenTotal counts recorded child completions.
	// Labels: kind (ingestion, qa_generation, evaluation)
	BatchChildrenTotal *prometheus.CounterVec

	// LLMRequestSeconds measures LLM call latency.
	// Labels: provider (ollama, openai, gemini), operation (generate, chat, embed)
	LLMRequestSeconds *prometheus.HistogramVec

	// EvalResultsTotal counts evaluation metric outcomes.
	// Labels: metric (g_eval_correctness, dag_score, etc.), outcome (passed, failed)
	EvalResultsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *PipelineMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		ChainRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "chain_runs_total",
				Help:      "Total chain executions by chain name and status",
			},
			[]string{"chain", "status"},
		),

		NodeRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "node_retries_total",
				Help:      "Total node retry attempts beyond the first",
			},
			[]string{"chain", "node"},
		),

		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "jobs_total",
				Help:      "Total queue jobs reaching a terminal state",
			},
			[]string{"queue", "status"},
		),

		ActiveJobs: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_jobs",
				Help:      "Number of jobs currently executing",
			},
			[]string{"queue"},
		),

		BatchChildrenTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "batch_children_total",
				Help:      "Total recorded child completions by batch kind",
			},
			[]string{"kind"},
		),

		LLMRequestSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "llm_request_seconds",
				Help:      "LLM call latency by provider and operation",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"provider", "operation"},
		),

		EvalResultsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "eval_results_total",
				Help:      "Total evaluation metric outcomes by metric name",
			},
			[]string{"metric", "outcome"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordChainRun records a finished chain execution.
//
// # Inputs
//
//   - chain: The chain name.
//   - success: Whether the chain completed without error.
func (m *PipelineMetrics) RecordChainRun(chain string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ChainRunsTotal.WithLabelValues(chain, status).Inc()
}

// RecordNodeRetry records one retry attempt beyond a node's first attempt.
//
// # Inputs
//
//   - chain: The owning chain name.
//   - node: The retrying node's name.
func (m *PipelineMetrics) RecordNodeRetry(chain, node string) {
	m.NodeRetriesTotal.WithLabelValues(chain, node).Inc()
}

// JobStarted increments the active jobs gauge for a queue.
//
// # Inputs
//
//   - queue: The queue name.
func (m *PipelineMetrics) JobStarted(queue string) {
	m.ActiveJobs.WithLabelValues(queue).Inc()
}

// JobFinished decrements the active jobs gauge and records the terminal
// status.
//
// # Inputs
//
//   - queue: The queue name.
//   - success: Whether the job completed successfully.
func (m *PipelineMetrics) JobFinished(queue string, success bool) {
	m.ActiveJobs.WithLabelValues(queue).Dec()
	status := "completed"
	if !success {
		status = "failed"
	}
	m.JobsTotal.WithLabelValues(queue, status).Inc()
}

// RecordBatchChild records one child completion for a batch kind.
//
// # Inputs
//
//   - kind: The batch kind (ingestion, qa_generation, evaluation).
func (m *PipelineMetrics) RecordBatchChild(kind string) {
	m.BatchChildrenTotal.WithLabelValues(kind).Inc()
}

// RecordLLMRequest records the latency of one LLM call.
//
// # Inputs
//
//   - provider: The backend provider name.
//   - operation: The call kind (generate, chat, embed).
//   - seconds: Call duration in seconds.
func (m *PipelineMetrics) RecordLLMRequest(provider, operation string, seconds float64) {
	m.LLMRequestSeconds.WithLabelValues(provider, operation).Observe(seconds)
}

// RecordEvalResult records one evaluation metric outcome.
//
// # Inputs
//
//   - metric: The metric key.
//   - passed: Whether the metric passed its threshold.
func (m *PipelineMetrics) RecordEvalResult(metric string, passed bool) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.EvalResultsTotal.WithLabelValues(metric, outcome).Inc()
}
