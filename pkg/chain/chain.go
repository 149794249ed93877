// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMaxSteps bounds a chain drive when ChainConfig.MaxSteps is zero.
// Cycles are legal in the graph, so an unbounded drive can spin forever on a
// routing bug; the cap turns that into an explicit error.
const DefaultMaxSteps = 1000

// =============================================================================
// Chain
// =============================================================================

// Chain drives a label-routed graph of nodes. It is itself a Node, so a
// whole chain can be wired as a single step inside a larger chain.
//
// The drive loop runs the current node, takes the label it returns, and
// follows the matching outgoing edge. A label with no matching edge
// terminates the drive, and that label becomes the chain's own result.
type Chain struct {
	BaseNode
	start    Node
	maxSteps int
}

// ChainConfig configures a Chain.
type ChainConfig struct {
	Name    string
	Start   Node
	Verbose bool

	// MaxSteps caps the number of node runs in one drive. Zero means
	// DefaultMaxSteps; negative disables the cap.
	MaxSteps int
}

// NewChain builds a chain that drives from cfg.Start.
func NewChain(cfg ChainConfig) *Chain {
	maxSteps := cfg.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Chain{
		BaseNode: NewBaseNode(NodeConfig{Name: cfg.Name, Verbose: cfg.Verbose}),
		start:    cfg.Start,
		maxSteps: maxSteps,
	}
}

// Execute drives the graph from the start node until a returned label has no
// matching edge. The terminal label is the result. Chain-level timing (start,
// duration, visited node order) is recorded under KeyChainTiming.
func (ch *Chain) Execute(ctx context.Context, c Context, prepared any) (any, error) {
	ctx, span := tracer.Start(ctx, "chain.Chain.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("chain.name", ch.Name()))

	if ch.start == nil {
		err := fmt.Errorf("chain %q has no start node", ch.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	driveStart := time.Now()
	var visited []string
	label := DefaultLabel
	current := ch.start
	steps := 0

	for current != nil {
		steps++
		if ch.maxSteps > 0 && steps > ch.maxSteps {
			err := fmt.Errorf("chain %q exceeded %d steps; last node %q, last label %q",
				ch.Name(), ch.maxSteps, visited[len(visited)-1], label)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		visited = append(visited, current.Name())
		next, err := Run(ctx, current, c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		label = next
		current = current.Successor(label)
	}

	c.Set(KeyChainTiming, ChainTiming{
		StartedAt: driveStart,
		Duration:  time.Since(driveStart),
		Nodes:     visited,
	})
	slog.Debug("Chain drive finished",
		"chain", ch.Name(), "steps", steps, "terminal_label", label)
	span.SetAttributes(
		attribute.Int("chain.steps", steps),
		attribute.String("chain.terminal_label", label),
	)
	return label, nil
}

// PostProcess forwards the drive's terminal label as this chain's own
// transition label, so a nested chain routes its parent the same way a plain
// node would.
func (ch *Chain) PostProcess(ctx context.Context, c Context, prepared, result any) (string, error) {
	if label, ok := result.(string); ok {
		return label, nil
	}
	return DefaultLabel, nil
}

// Run drives the chain as a standalone workflow over c and returns its
// terminal label.
func (ch *Chain) Run(ctx context.Context, c Context) (string, error) {
	return Run(ctx, ch, c)
}
