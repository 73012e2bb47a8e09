// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Feed is one session's cached view of its notification list. Mark-read
// flips the local copy first and rolls it back if the store write
// fails; this is the only flow in the service with an explicit
// optimistic rollback.
type Feed struct {
	userID string
	store  NotificationStore
	logger *slog.Logger

	mu    sync.Mutex
	items []*Notification
	err   string
}

// NewFeed builds a feed for userID. Call Refresh to load it.
func NewFeed(userID string, store NotificationStore, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{userID: userID, store: store, logger: logger}
}

// Refresh reloads the list from the store, newest first. On failure the
// last-known-good list stays visible and Err reports the problem.
func (f *Feed) Refresh(ctx context.Context) error {
	items, err := f.store.ListForUser(ctx, f.userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.err = err.Error()
		return err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	f.items = items
	f.err = ""
	return nil
}

// Items returns the cached list.
func (f *Feed) Items() []*Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Unread counts unread cached notifications.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Err returns the last refresh error message, empty when healthy.
func (f *Feed) Err() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// MarkRead flips a notification to read optimistically and persists.
// On store failure the flip is rolled back and the error returned.
func (f *Feed) MarkRead(ctx context.Context, notificationID string) error {
	f.mu.Lock()
	var target *Notification
	for _, item := range f.items {
		if item.ID == notificationID {
			target = item
			break
		}
	}
	if target == nil {
		f.mu.Unlock()
		return fmt.Errorf("notification %s not in feed", notificationID)
	}
	wasRead := target.Read
	target.Read = true
	f.mu.Unlock()

	if wasRead {
		return nil
	}
	if err := f.store.SetRead(ctx, f.userID, notificationID, true); err != nil {
		f.logger.Error("Failed to persist mark-as-read, rolling back",
			"notificationId", notificationID, "error", err)
		f.mu.Lock()
		target.Read = false
		f.err = err.Error()
		f.mu.Unlock()
		return err
	}
	return nil
}
