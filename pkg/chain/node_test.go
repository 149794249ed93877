// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Nodes
// =============================================================================

// countingNode fails its first failUntil Execute calls, then succeeds.
type countingNode struct {
	BaseNode
	execCalls     int
	fallbackCalls int
	failUntil     int
	recoverValue  any
	recover       bool
}

func (n *countingNode) Execute(ctx context.Context, c Context, prepared any) (any, error) {
	n.execCalls++
	if n.execCalls <= n.failUntil {
		return nil, errors.New("transient failure")
	}
	return "ok", nil
}

func (n *countingNode) ExecuteFallback(ctx context.Context, c Context, prepared any, execErr error) (any, error) {
	n.fallbackCalls++
	if n.recover {
		return n.recoverValue, nil
	}
	return nil, execErr
}

func (n *countingNode) PostProcess(ctx context.Context, c Context, prepared, result any) (string, error) {
	c.Set("result", result)
	return DefaultLabel, nil
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_SingleAttemptSuccess(t *testing.T) {
	n := &countingNode{BaseNode: NewBaseNode(NodeConfig{Name: "worker", Retries: 3})}
	c := NewContext()

	label, err := Run(context.Background(), n, c)

	require.NoError(t, err)
	assert.Equal(t, DefaultLabel, label)
	assert.Equal(t, 1, n.execCalls)
	assert.Equal(t, 0, n.fallbackCalls)
	assert.Equal(t, "ok", c["result"])
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	n := &countingNode{
		BaseNode:  NewBaseNode(NodeConfig{Name: "worker", Retries: 3, RetryDelay: time.Millisecond}),
		failUntil: 2,
	}
	c := NewContext()

	_, err := Run(context.Background(), n, c)

	require.NoError(t, err)
	assert.Equal(t, 3, n.execCalls)
	assert.Equal(t, 0, n.fallbackCalls, "fallback must not run when a retry succeeds")
}

func TestRun_ExhaustionInvokesFallbackOnce(t *testing.T) {
	const retries = 3
	delay := 20 * time.Millisecond
	n := &countingNode{
		BaseNode:  NewBaseNode(NodeConfig{Name: "worker", Retries: retries, RetryDelay: delay}),
		failUntil: 100,
	}
	c := NewContext()

	start := time.Now()
	_, err := Run(context.Background(), n, c)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, retries, n.execCalls, "exactly retries attempts before fallback")
	assert.Equal(t, 1, n.fallbackCalls, "fallback runs exactly once")
	assert.GreaterOrEqual(t, elapsed, time.Duration(retries-1)*delay,
		"attempts separated by at least the retry delay")
}

func TestRun_FallbackRecoveryContinuesToPostProcess(t *testing.T) {
	n := &countingNode{
		BaseNode:     NewBaseNode(NodeConfig{Name: "worker", Retries: 2, RetryDelay: time.Millisecond}),
		failUntil:    100,
		recover:      true,
		recoverValue: "degraded",
	}
	c := NewContext()

	label, err := Run(context.Background(), n, c)

	require.NoError(t, err)
	assert.Equal(t, DefaultLabel, label)
	assert.Equal(t, "degraded", c["result"], "postprocess sees the fallback result")
}

func TestRun_DefaultFallbackReRaises(t *testing.T) {
	n := &countingNode{
		BaseNode:  NewBaseNode(NodeConfig{Name: "worker", Retries: 1}),
		failUntil: 100,
	}
	n.recover = false
	c := NewContext()

	_, err := Run(context.Background(), n, c)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient failure")
}

func TestRun_ZeroRetriesMeansOneAttempt(t *testing.T) {
	n := &countingNode{BaseNode: NewBaseNode(NodeConfig{Name: "worker"}), failUntil: 100, recover: true}
	c := NewContext()

	_, err := Run(context.Background(), n, c)

	require.NoError(t, err)
	assert.Equal(t, 1, n.execCalls)
}

func TestRun_ContextCancellationDuringRetryWait(t *testing.T) {
	n := &countingNode{
		BaseNode:  NewBaseNode(NodeConfig{Name: "worker", Retries: 5, RetryDelay: time.Minute}),
		failUntil: 100,
	}
	c := NewContext()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Run(ctx, n, c)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation cuts the retry wait short")
	assert.Equal(t, 1, n.execCalls)
}

type failingPrepareNode struct {
	BaseNode
	execCalls int
}

func (n *failingPrepareNode) Prepare(ctx context.Context, c Context) (any, error) {
	return nil, errors.New("missing input")
}

func (n *failingPrepareNode) Execute(ctx context.Context, c Context, prepared any) (any, error) {
	n.execCalls++
	return nil, nil
}

func TestRun_PrepareErrorIsNotRetried(t *testing.T) {
	n := &failingPrepareNode{BaseNode: NewBaseNode(NodeConfig{Name: "worker", Retries: 5})}
	c := NewContext()

	_, err := Run(context.Background(), n, c)

	require.Error(t, err)
	assert.Equal(t, 0, n.execCalls)
}

func TestRun_RecordsPhaseTimings(t *testing.T) {
	n := &countingNode{BaseNode: NewBaseNode(NodeConfig{Name: "worker"})}
	c := NewContext()

	_, err := Run(context.Background(), n, c)
	require.NoError(t, err)

	timings := c.Timings()
	require.Contains(t, timings, "worker")
	phases := make([]string, 0, len(timings["worker"]))
	for _, pt := range timings["worker"] {
		phases = append(phases, pt.Phase)
	}
	assert.Equal(t, []string{"prepare", "execute", "postprocess"}, phases)
}

func TestRun_VerboseNodeAppendsLogEntries(t *testing.T) {
	n := &countingNode{
		BaseNode:  NewBaseNode(NodeConfig{Name: "worker", Retries: 2, RetryDelay: time.Millisecond, Verbose: true}),
		failUntil: 1,
	}
	c := NewContext()

	_, err := Run(context.Background(), n, c)
	require.NoError(t, err)

	events := make([]string, 0)
	for _, entry := range c.Logs() {
		events = append(events, entry["event"].(string))
	}
	assert.Equal(t, []string{"start", "retry", "done"}, events)
}

// =============================================================================
// Edge Wiring Tests
// =============================================================================

func TestConnect_ReturnsNextForChaining(t *testing.T) {
	a := &countingNode{BaseNode: NewBaseNode(NodeConfig{Name: "a"})}
	b := &countingNode{BaseNode: NewBaseNode(NodeConfig{Name: "b"})}
	cNode := &countingNode{BaseNode: NewBaseNode(NodeConfig{Name: "c"})}

	a.Then(b).Connect("error", cNode)

	assert.Same(t, Node(b), a.Successor(DefaultLabel))
	assert.Same(t, Node(cNode), b.Successor("error"))
	assert.Nil(t, a.Successor("error"))
}
