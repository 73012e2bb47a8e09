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
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/datatypes"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/middleware"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
)

// Feeds hands out one cached notification feed per user.
type Feeds struct {
	mu     sync.Mutex
	store  notify.NotificationStore
	logger *slog.Logger
	active map[string]*notify.Feed
}

// NewFeeds builds the per-user feed registry.
func NewFeeds(store notify.NotificationStore, logger *slog.Logger) *Feeds {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeds{store: store, logger: logger, active: make(map[string]*notify.Feed)}
}

// For returns the feed for userID, creating it on first use.
func (f *Feeds) For(userID string) *notify.Feed {
	f.mu.Lock()
	defer f.mu.Unlock()
	feed, ok := f.active[userID]
	if !ok {
		feed = notify.NewFeed(userID, f.store, f.logger)
		f.active[userID] = feed
	}
	return feed
}

// ListNotifications refreshes and returns the authenticated user's
// feed. When the refresh fails the last-known-good items are served
// with the error surfaced alongside, not instead of, the data.
func ListNotifications(feeds *Feeds) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		feed := feeds.For(info.UserID)
		if err := feed.Refresh(c.Request.Context()); err != nil {
			slog.Warn("Notification refresh failed, serving cached items",
				"userId", info.UserID, "error", err)
		}
		c.JSON(http.StatusOK, datatypes.NotificationListResponse{
			Items:  feed.Items(),
			Unread: feed.Unread(),
			Error:  feed.Err(),
		})
	}
}

// MarkNotificationsRead marks the given notifications read. Each id is
// flipped optimistically and rolled back if the persist fails; a
// partial failure reports which ids failed.
func MarkNotificationsRead(feeds *Feeds) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		var req datatypes.MarkReadRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		feed := feeds.For(info.UserID)
		var failed []string
		for _, id := range req.IDs {
			if err := feed.MarkRead(c.Request.Context(), id); err != nil {
				slog.Error("Failed to mark notification read",
					"userId", info.UserID, "notificationId", id, "error", err)
				failed = append(failed, id)
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "some notifications could not be marked read",
				"failed": failed,
				"unread": feed.Unread(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "unread": feed.Unread()})
	}
}
