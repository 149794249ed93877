// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chainflow.chain")

// DefaultLabel is the implicit transition label. A PostProcess that returns
// "" is treated as returning DefaultLabel.
const DefaultLabel = "default"

// =============================================================================
// Node Interface
// =============================================================================

// Node is one unit of work in a chain.
//
// Phase contract:
//
//   - Prepare reads from the shared Context and returns the node's input.
//     It must not mutate the context. A Prepare error aborts the run.
//   - Execute does the fallible work. It is the ONLY phase the runner
//     retries. It must not mutate the context.
//   - ExecuteFallback runs once after every Execute attempt has failed. The
//     default behavior returns the error unchanged, which aborts the run.
//     An override may substitute a degraded result instead.
//   - PostProcess is the only phase allowed to mutate the shared context. It
//     returns the outgoing transition label; "" means DefaultLabel.
type Node interface {
	Name() string
	Retries() int
	RetryDelay() time.Duration
	Verbose() bool

	// Successor returns the node wired to the given label, or nil.
	Successor(label string) Node
	// Connect wires a labeled edge to next and returns next so call sites
	// can keep building from it.
	Connect(label string, next Node) Node
	// Then is Connect with DefaultLabel.
	Then(next Node) Node

	Prepare(ctx context.Context, c Context) (any, error)
	Execute(ctx context.Context, c Context, prepared any) (any, error)
	ExecuteFallback(ctx context.Context, c Context, prepared any, execErr error) (any, error)
	PostProcess(ctx context.Context, c Context, prepared, result any) (string, error)
}

// =============================================================================
// BaseNode
// =============================================================================

// NodeConfig configures a BaseNode.
type NodeConfig struct {
	Name        string
	Description string

	// Retries is the total number of Execute attempts. Values below 1 are
	// treated as 1 (a single attempt, no retry).
	Retries int

	// RetryDelay is the fixed wait between Execute attempts.
	RetryDelay time.Duration

	// Verbose makes the runner append start/success/failure entries to the
	// context log for this node.
	Verbose bool
}

// BaseNode carries the bookkeeping every node needs: identity, retry policy,
// and the outgoing edge map. Concrete nodes embed it and override the phase
// methods they care about.
//
// The zero-value phase implementations are all no-ops: Prepare and Execute
// return nil, ExecuteFallback returns the original error, and PostProcess
// returns the default label.
type BaseNode struct {
	name        string
	description string
	retries     int
	retryDelay  time.Duration
	verbose     bool
	successors  map[string]Node
}

// NewBaseNode builds a BaseNode from cfg, applying retry defaults.
func NewBaseNode(cfg NodeConfig) BaseNode {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return BaseNode{
		name:        cfg.Name,
		description: cfg.Description,
		retries:     cfg.Retries,
		retryDelay:  cfg.RetryDelay,
		verbose:     cfg.Verbose,
		successors:  make(map[string]Node),
	}
}

func (b *BaseNode) Name() string              { return b.name }
func (b *BaseNode) Description() string       { return b.description }
func (b *BaseNode) Retries() int              { return b.retries }
func (b *BaseNode) RetryDelay() time.Duration { return b.retryDelay }
func (b *BaseNode) Verbose() bool             { return b.verbose }

// Successor returns the node wired to label, or nil when no edge matches.
func (b *BaseNode) Successor(label string) Node {
	return b.successors[label]
}

// Connect wires label to next. Reconnecting an existing label replaces the
// edge. Cycles are legal; the graph is never validated up front.
func (b *BaseNode) Connect(label string, next Node) Node {
	if b.successors == nil {
		b.successors = make(map[string]Node)
	}
	if _, exists := b.successors[label]; exists {
		slog.Warn("Replacing existing chain edge", "node", b.name, "label", label)
	}
	b.successors[label] = next
	return next
}

// Then wires the default-label edge to next.
func (b *BaseNode) Then(next Node) Node {
	return b.Connect(DefaultLabel, next)
}

func (b *BaseNode) Prepare(ctx context.Context, c Context) (any, error) {
	return nil, nil
}

func (b *BaseNode) Execute(ctx context.Context, c Context, prepared any) (any, error) {
	return nil, nil
}

// ExecuteFallback re-raises by default: a node with no fallback override
// aborts the chain once its retries are exhausted.
func (b *BaseNode) ExecuteFallback(ctx context.Context, c Context, prepared any, execErr error) (any, error) {
	return nil, execErr
}

func (b *BaseNode) PostProcess(ctx context.Context, c Context, prepared, result any) (string, error) {
	return DefaultLabel, nil
}

// =============================================================================
// Runner
// =============================================================================

// Run drives one node through its full phase lifecycle against the shared
// context and returns the transition label it produced.
//
// Execute is attempted up to n.Retries() times with a fixed n.RetryDelay()
// wait between attempts; the wait honors ctx cancellation. When every
// attempt fails, ExecuteFallback runs exactly once with the last error. Each
// phase's wall clock time is appended to the context under KeyTiming, and
// verbose nodes additionally log start/success/failure entries under
// KeyLogs.
func Run(ctx context.Context, n Node, c Context) (string, error) {
	name := n.Name()
	ctx, span := tracer.Start(ctx, "chain.Run")
	defer span.End()
	span.SetAttributes(attribute.String("chain.node", name))

	if n.Verbose() {
		c.AppendLog(LogEntry{"type": "node", "node": name, "event": "start"})
	}

	prepStart := time.Now()
	prepared, err := n.Prepare(ctx, c)
	c.RecordTiming(name, "prepare", prepStart, time.Since(prepStart))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Node prepare failed", "node", name, "error", err)
		return "", err
	}

	execStart := time.Now()
	result, execErr := runWithRetries(ctx, n, c, prepared)
	c.RecordTiming(name, "execute", execStart, time.Since(execStart))

	if execErr != nil {
		fbStart := time.Now()
		result, err = n.ExecuteFallback(ctx, c, prepared, execErr)
		c.RecordTiming(name, "fallback", fbStart, time.Since(fbStart))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if n.Verbose() {
				c.AppendLog(LogEntry{"type": "node", "node": name, "event": "failed", "error": err.Error()})
			}
			slog.Error("Node failed after fallback", "node", name, "error", err)
			return "", err
		}
		slog.Debug("Node recovered via fallback", "node", name)
	}

	postStart := time.Now()
	label, err := n.PostProcess(ctx, c, prepared, result)
	c.RecordTiming(name, "postprocess", postStart, time.Since(postStart))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Node postprocess failed", "node", name, "error", err)
		return "", err
	}
	if label == "" {
		label = DefaultLabel
	}

	if n.Verbose() {
		c.AppendLog(LogEntry{"type": "node", "node": name, "event": "done", "label": label})
	}
	span.SetAttributes(attribute.String("chain.label", label))
	return label, nil
}

// runWithRetries attempts Execute up to n.Retries() times, waiting the fixed
// retry delay between attempts. The delay wait is cancellation aware.
func runWithRetries(ctx context.Context, n Node, c Context, prepared any) (any, error) {
	retries := n.Retries()
	if retries < 1 {
		retries = 1
	}

	var result any
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		result, lastErr = n.Execute(ctx, c, prepared)
		if lastErr == nil {
			return result, nil
		}
		slog.Warn("Node execute attempt failed",
			"node", n.Name(), "attempt", attempt, "retries", retries, "error", lastErr)
		if n.Verbose() {
			c.AppendLog(LogEntry{
				"type": "node", "node": n.Name(), "event": "retry",
				"attempt": attempt, "error": lastErr.Error(),
			})
		}
		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(n.RetryDelay()):
			}
		}
	}
	return nil, lastErr
}
