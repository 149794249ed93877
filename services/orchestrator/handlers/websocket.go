// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/chainflow/services/orchestrator/datatypes"
	"github.com/AleutianAI/chainflow/services/orchestrator/jobs"
	"github.com/AleutianAI/chainflow/services/orchestrator/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// batchPollInterval paces the status stream. The snapshot is a recount, so
// every tick reflects children completed out of band too.
const batchPollInterval = time.Second

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleBatchWebSocket streams batch status snapshots to the client until
// the batch completes or the client disconnects. One snapshot is pushed
// immediately on connect.
func HandleBatchWebSocket(tracker *jobs.BatchTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		batchID := c.Param("batch_id")

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected", "batch_id", batchID)

		// Drain the read side so peer close frames are noticed.
		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ctx := c.Request.Context()
		ticker := time.NewTicker(batchPollInterval)
		defer ticker.Stop()

		for {
			status, err := tracker.GetBatchStatus(ctx, batchID)
			if errors.Is(err, store.ErrNotFound) {
				_ = sendJSON(ws, gin.H{"error": "batch not found"})
				return
			}
			if err != nil {
				slog.Error("Failed to read batch status", "batch_id", batchID, "error", err)
				_ = sendJSON(ws, gin.H{"error": err.Error()})
				return
			}
			if sendJSON(ws, status) != nil {
				return
			}
			if status.Status == datatypes.BatchCompleted {
				slog.Info("Batch completed, closing stream", "batch_id", batchID)
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-disconnected:
				slog.Info("Websocket client disconnected", "batch_id", batchID)
				return
			case <-ticker.C:
			}
		}
	}
}
