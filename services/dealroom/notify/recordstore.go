// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// RecordStore persists notifications as records under
// notifications/{userID}/{notificationID}, so realtime subscribers of
// the user's prefix see new notifications pushed like any other record
// change.
type RecordStore struct {
	records store.Store
}

// NewRecordStore wraps the record store.
func NewRecordStore(records store.Store) *RecordStore {
	return &RecordStore{records: records}
}

func notificationKey(userID, id string) string {
	return "notifications/" + userID + "/" + id
}

func toContent(n *Notification) map[string]any {
	return map[string]any{
		"id":         n.ID,
		"user_id":    n.UserID,
		"event_id":   n.EventID,
		"type":       n.Type,
		"title":      n.Title,
		"body":       n.Body,
		"link_url":   n.LinkURL,
		"read":       n.Read,
		"created_at": n.CreatedAt.Format(time.RFC3339Nano),
	}
}

func fromContent(content map[string]any) (*Notification, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	var flat struct {
		ID        string `json:"id"`
		UserID    string `json:"user_id"`
		EventID   string `json:"event_id"`
		Type      string `json:"type"`
		Title     string `json:"title"`
		Body      string `json:"body"`
		LinkURL   string `json:"link_url"`
		Read      bool   `json:"read"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, flat.CreatedAt)
	return &Notification{
		ID:        flat.ID,
		UserID:    flat.UserID,
		EventID:   flat.EventID,
		Type:      flat.Type,
		Title:     flat.Title,
		Body:      flat.Body,
		LinkURL:   flat.LinkURL,
		Read:      flat.Read,
		CreatedAt: createdAt,
	}, nil
}

// Insert implements NotificationStore.
func (s *RecordStore) Insert(ctx context.Context, n *Notification) error {
	_, err := s.records.Put(ctx, &store.Record{
		Key:     notificationKey(n.UserID, n.ID),
		Content: toContent(n),
	})
	return err
}

// ExistingRecipients implements NotificationStore by scanning the
// notifications prefix. Notification volume per event is small (project
// membership), so the scan is acceptable.
func (s *RecordStore) ExistingRecipients(ctx context.Context, eventID string) (map[string]bool, error) {
	recs, err := s.records.List(ctx, "notifications/")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, rec := range recs {
		if rec.Content["event_id"] == eventID {
			if userID, ok := rec.Content["user_id"].(string); ok {
				out[userID] = true
			}
		}
	}
	return out, nil
}

// ListForUser implements NotificationStore.
func (s *RecordStore) ListForUser(ctx context.Context, userID string) ([]*Notification, error) {
	recs, err := s.records.List(ctx, "notifications/"+userID+"/")
	if err != nil {
		return nil, err
	}
	out := make([]*Notification, 0, len(recs))
	for _, rec := range recs {
		n, err := fromContent(rec.Content)
		if err != nil {
			return nil, fmt.Errorf("malformed notification record %s: %w", rec.Key, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// SetRead implements NotificationStore.
func (s *RecordStore) SetRead(ctx context.Context, userID, notificationID string, read bool) error {
	key := notificationKey(userID, notificationID)
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		return err
	}
	rec.Content["read"] = read
	_, err = s.records.Put(ctx, rec)
	return err
}
