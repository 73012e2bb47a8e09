// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second

	// wsSendBuffer bounds queued change events per connection. A client
	// that cannot drain this many events is disconnected rather than
	// allowed to back-pressure the store's publish loop.
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin is enforced by the CORS middleware on the upgrade request.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// changeEvent is the wire shape pushed to dashboard clients.
type changeEvent struct {
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

// WatchRecords upgrades to a websocket and streams change events for
// every record under the requested key prefix. The client re-fetches
// the full record on receipt; events carry only the key and version.
func WatchRecords(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		prefix := c.Query("prefix")
		if prefix == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "prefix is required"})
			return
		}
		// A trailing slash subscribes to the whole prefix.
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Websocket upgrade failed", "error", err)
			return
		}

		events := make(chan changeEvent, wsSendBuffer)
		cancel := st.Subscribe(prefix, func(ch store.Change) {
			ev := changeEvent{Kind: string(ch.Kind), Key: ch.Key}
			if ch.Record != nil {
				ev.Version = ch.Record.Version
			}
			select {
			case events <- ev:
			default:
				// Slow consumer; drop the event. The client's next
				// re-fetch converges it anyway.
			}
		})
		defer cancel()

		done := make(chan struct{})

		// Reader goroutine: drain control frames, detect close.
		go func() {
			defer close(done)
			conn.SetReadLimit(1024)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		defer conn.Close()

		for {
			select {
			case <-done:
				return
			case ev := <-events:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
