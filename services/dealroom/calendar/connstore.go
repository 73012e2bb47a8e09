// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// RecordConnectionStore keeps calendar connections in the record store
// under calendar-connections/{userID}/{provider}. Token refreshes ride
// the normal versioned put path.
type RecordConnectionStore struct {
	records store.Store
}

// NewRecordConnectionStore builds a connection store over records.
func NewRecordConnectionStore(records store.Store) *RecordConnectionStore {
	return &RecordConnectionStore{records: records}
}

func connKey(userID, provider string) string {
	return "calendar-connections/" + userID + "/" + provider
}

func connFromRecord(rec *store.Record) (*Connection, error) {
	raw, err := json.Marshal(rec.Content)
	if err != nil {
		return nil, err
	}
	var conn Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, fmt.Errorf("malformed connection record %s: %w", rec.Key, err)
	}
	return &conn, nil
}

func connToContent(conn *Connection) (map[string]any, error) {
	raw, err := json.Marshal(conn)
	if err != nil {
		return nil, err
	}
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, err
	}
	return content, nil
}

// Connection returns the user's stored connection for provider.
func (s *RecordConnectionStore) Connection(ctx context.Context, userID, provider string) (*Connection, error) {
	rec, err := s.records.Get(ctx, connKey(userID, provider))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoConnection
		}
		return nil, err
	}
	return connFromRecord(rec)
}

// Save stores or replaces a connection.
func (s *RecordConnectionStore) Save(ctx context.Context, conn *Connection) error {
	content, err := connToContent(conn)
	if err != nil {
		return err
	}
	_, err = s.records.Put(ctx, &store.Record{
		Key:     connKey(conn.UserID, conn.Provider),
		Content: content,
	})
	return err
}

// UpdateToken persists a refreshed access token. connectionID is
// resolved by scanning the user's connections; connection records are
// few per user.
func (s *RecordConnectionStore) UpdateToken(ctx context.Context, connectionID string, accessToken, refreshToken string, expiresAt time.Time) error {
	recs, err := s.records.List(ctx, "calendar-connections/")
	if err != nil {
		return err
	}
	for _, rec := range recs {
		conn, err := connFromRecord(rec)
		if err != nil || conn.ID != connectionID {
			continue
		}
		conn.AccessToken = accessToken
		if refreshToken != "" {
			conn.RefreshToken = refreshToken
		}
		conn.TokenExpiresAt = expiresAt
		return s.Save(ctx, conn)
	}
	return fmt.Errorf("calendar connection %s not found", connectionID)
}
