// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chain implements a small directed workflow engine for multi-step,
// failure-prone pipelines.
//
// The engine has three pieces:
//
//   - Context: a single mutable string-keyed map shared by every node in a
//     run. It carries the working item, accumulated log entries, and per-node
//     phase timings.
//   - Node: a unit of work with four phases. Prepare extracts inputs from the
//     context, Execute does the fallible work (the only retried phase),
//     ExecuteFallback handles retry exhaustion, and PostProcess writes
//     results back and picks the outgoing transition label.
//   - Chain: a composite Node that drives a label-routed graph from a start
//     node until no edge matches the returned label.
//
// # Concurrency
//
// A Context belongs to exactly one chain run and is mutated by nodes in
// sequence. It is NOT safe for concurrent use; parallel work happens by
// running separate chains over separate contexts.
package chain

import (
	"time"
)

// =============================================================================
// Well-Known Context Keys
// =============================================================================

// Reserved keys the engine itself writes into the context. Pipelines add
// their own ad hoc keys next to these.
const (
	// KeyLogs holds the []LogEntry accumulated across the run.
	KeyLogs = "logs"

	// KeyTiming holds the map[string][]PhaseTiming of per-node phase timings.
	KeyTiming = "timing"

	// KeyChainTiming holds the ChainTiming for the most recent chain drive.
	KeyChainTiming = "chain_timing"

	// KeyOutput is the conventional key for a pipeline's terminal product.
	KeyOutput = "output"
)

// LogEntry is one structured event appended during a run. Entries are free
// form; the engine writes "type", "node", and "event" fields and pipelines
// append their own shapes (retrieval traces, stage results).
type LogEntry map[string]any

// PhaseTiming records the wall clock cost of one node phase.
type PhaseTiming struct {
	Phase     string        `json:"phase"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ChainTiming records one full drive of a Chain.
type ChainTiming struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Nodes     []string      `json:"nodes"`
}

// =============================================================================
// Context
// =============================================================================

// Context is the shared mutable state of a chain run.
type Context map[string]any

// NewContext returns an empty run context.
func NewContext() Context {
	return make(Context)
}

// Set stores a value under key, replacing any previous value.
func (c Context) Set(key string, value any) {
	c[key] = value
}

// Get returns the value for key and whether it was present.
func (c Context) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// GetString returns the string stored under key, or "" when the key is
// absent or holds a non-string.
func (c Context) GetString(key string) string {
	s, _ := c[key].(string)
	return s
}

// GetFloat returns the float64 stored under key, or 0 when absent or not a
// float64.
func (c Context) GetFloat(key string) float64 {
	f, _ := c[key].(float64)
	return f
}

// GetStringSlice returns the []string stored under key, or nil.
func (c Context) GetStringSlice(key string) []string {
	s, _ := c[key].([]string)
	return s
}

// AppendLog appends one entry to the run log under KeyLogs.
func (c Context) AppendLog(entry LogEntry) {
	logs, _ := c[KeyLogs].([]LogEntry)
	c[KeyLogs] = append(logs, entry)
}

// Logs returns the accumulated run log. The returned slice is the live
// backing slice, not a copy.
func (c Context) Logs() []LogEntry {
	logs, _ := c[KeyLogs].([]LogEntry)
	return logs
}

// RecordTiming appends a phase timing for the named node under KeyTiming.
func (c Context) RecordTiming(node, phase string, startedAt time.Time, d time.Duration) {
	timings, _ := c[KeyTiming].(map[string][]PhaseTiming)
	if timings == nil {
		timings = make(map[string][]PhaseTiming)
		c[KeyTiming] = timings
	}
	timings[node] = append(timings[node], PhaseTiming{
		Phase:     phase,
		StartedAt: startedAt,
		Duration:  d,
	})
}

// Timings returns the per-node phase timings recorded so far.
func (c Context) Timings() map[string][]PhaseTiming {
	timings, _ := c[KeyTiming].(map[string][]PhaseTiming)
	return timings
}
