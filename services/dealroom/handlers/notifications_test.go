// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/datatypes"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

func newNotificationFixture(t *testing.T) (*gin.Engine, *notify.RecordStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ns := notify.NewRecordStore(st)
	feeds := NewFeeds(ns, nil)

	r := gin.New()
	r.Use(withAuth("borrower-1"))
	r.GET("/v1/notifications", ListNotifications(feeds))
	r.POST("/v1/notifications/read", MarkNotificationsRead(feeds))
	return r, ns
}

func seedNotification(t *testing.T, ns *notify.RecordStore, id, userID string) {
	t.Helper()
	require.NoError(t, ns.Insert(t.Context(), &notify.Notification{
		ID:        id,
		UserID:    userID,
		EventID:   "evt-" + id,
		Type:      notify.EventDocumentUploaded,
		Title:     "Document uploaded",
		Body:      "A file was uploaded.",
		CreatedAt: time.Now().UTC(),
	}))
}

func TestListNotificationsReturnsOwnFeed(t *testing.T) {
	r, ns := newNotificationFixture(t)
	seedNotification(t, ns, "n1", "borrower-1")
	seedNotification(t, ns, "n2", "borrower-1")
	seedNotification(t, ns, "n3", "someone-else")

	w := doJSON(t, r, http.MethodGet, "/v1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.NotificationListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, 2, resp.Unread)
	assert.Empty(t, resp.Error)
}

func TestMarkNotificationsRead(t *testing.T) {
	r, ns := newNotificationFixture(t)
	seedNotification(t, ns, "n1", "borrower-1")
	seedNotification(t, ns, "n2", "borrower-1")

	// Prime the feed cache.
	require.Equal(t, http.StatusOK, doJSON(t, r, http.MethodGet, "/v1/notifications", nil).Code)

	w := doJSON(t, r, http.MethodPost, "/v1/notifications/read",
		datatypes.MarkReadRequest{IDs: []string{"n1"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/notifications", nil)
	var resp datatypes.NotificationListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Unread)
}

func TestMarkNotificationsReadValidation(t *testing.T) {
	r, _ := newNotificationFixture(t)
	w := doJSON(t, r, http.MethodPost, "/v1/notifications/read", datatypes.MarkReadRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
