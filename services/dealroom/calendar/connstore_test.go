// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

func TestRecordConnectionStoreRoundTrip(t *testing.T) {
	st, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cs := NewRecordConnectionStore(st)

	_, err = cs.Connection(t.Context(), "u1", "google")
	assert.ErrorIs(t, err, ErrNoConnection)

	expires := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cs.Save(t.Context(), &Connection{
		ID:             "conn-1",
		UserID:         "u1",
		Provider:       "google",
		AccessToken:    "tok-a",
		RefreshToken:   "ref-a",
		TokenExpiresAt: expires,
	}))

	conn, err := cs.Connection(t.Context(), "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "tok-a", conn.AccessToken)
	assert.True(t, conn.TokenExpiresAt.Equal(expires))
}

func TestRecordConnectionStoreUpdateToken(t *testing.T) {
	st, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cs := NewRecordConnectionStore(st)
	require.NoError(t, cs.Save(t.Context(), &Connection{
		ID:           "conn-1",
		UserID:       "u1",
		Provider:     "google",
		AccessToken:  "tok-old",
		RefreshToken: "ref-old",
	}))

	newExpiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, cs.UpdateToken(t.Context(), "conn-1", "tok-new", "", newExpiry))

	conn, err := cs.Connection(t.Context(), "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", conn.AccessToken)
	assert.Equal(t, "ref-old", conn.RefreshToken, "refresh token survives when the provider does not rotate it")

	// Unknown connection id fails loudly.
	assert.Error(t, cs.UpdateToken(t.Context(), "missing", "x", "", newExpiry))
}
