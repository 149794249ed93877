// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContext_TypedAccessors(t *testing.T) {
	c := NewContext()
	c.Set("query", "what does the scheduler do")
	c.Set("score", 0.75)
	c.Set("paths", []string{"a.go", "b.go"})

	assert.Equal(t, "what does the scheduler do", c.GetString("query"))
	assert.Equal(t, 0.75, c.GetFloat("score"))
	assert.Equal(t, []string{"a.go", "b.go"}, c.GetStringSlice("paths"))

	assert.Equal(t, "", c.GetString("missing"))
	assert.Equal(t, 0.0, c.GetFloat("query"), "type mismatch falls back to zero value")

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestContext_AppendLogAccumulates(t *testing.T) {
	c := NewContext()
	c.AppendLog(LogEntry{"type": "retrieval", "hits": 3})
	c.AppendLog(LogEntry{"type": "generation"})

	logs := c.Logs()
	assert.Len(t, logs, 2)
	assert.Equal(t, "retrieval", logs[0]["type"])
}

func TestContext_RecordTimingGroupsByNode(t *testing.T) {
	c := NewContext()
	now := time.Now()
	c.RecordTiming("embed", "prepare", now, time.Millisecond)
	c.RecordTiming("embed", "execute", now, 2*time.Millisecond)
	c.RecordTiming("search", "execute", now, 3*time.Millisecond)

	timings := c.Timings()
	assert.Len(t, timings["embed"], 2)
	assert.Len(t, timings["search"], 1)
	assert.Equal(t, "execute", timings["embed"][1].Phase)
}
