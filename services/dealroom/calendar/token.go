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
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Connection is one user's stored link to a calendar provider.
type Connection struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// ConnectionStore persists calendar connections and rotated tokens.
type ConnectionStore interface {
	// Connection returns the user's connection for provider, or
	// ErrNoConnection.
	Connection(ctx context.Context, userID, provider string) (*Connection, error)
	// UpdateToken persists a refreshed access token (and refresh token,
	// when the provider rotated it).
	UpdateToken(ctx context.Context, connectionID string, accessToken, refreshToken string, expiresAt time.Time) error
}

// OAuthEndpoint is one provider's token refresh endpoint plus client
// credentials.
type OAuthEndpoint struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// TokenManager hands out valid bearer tokens per connection, refreshing
// through the provider's OAuth endpoint when the stored token has
// expired.
type TokenManager struct {
	store      ConnectionStore
	endpoints  map[string]OAuthEndpoint
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewTokenManager builds a manager over the given connection store.
// endpoints is keyed by provider name ("google", "microsoft").
func NewTokenManager(store ConnectionStore, endpoints map[string]OAuthEndpoint, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		store:      store,
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// Token returns a valid access token for the user's connection to
// provider. ErrNoConnection passes through so callers can skip the
// provider.
func (tm *TokenManager) Token(ctx context.Context, userID, provider string) (string, *Connection, error) {
	conn, err := tm.store.Connection(ctx, userID, provider)
	if err != nil {
		return "", nil, err
	}
	token, err := tm.EnsureValid(ctx, conn)
	if err != nil {
		return "", nil, err
	}
	return token, conn, nil
}

// EnsureValid returns the connection's access token, refreshing first
// when it has expired. An unparseable or missing expiry is treated as
// expired.
func (tm *TokenManager) EnsureValid(ctx context.Context, conn *Connection) (string, error) {
	expired := conn.TokenExpiresAt.IsZero() || conn.TokenExpiresAt.Before(tm.now())
	if !expired {
		return conn.AccessToken, nil
	}

	tm.logger.Info("Access token expired, refreshing", "connectionId", conn.ID, "provider", conn.Provider)

	if conn.RefreshToken == "" {
		return "", errors.New("access token expired and no refresh token available")
	}

	refreshed, err := tm.refresh(ctx, conn.Provider, conn.RefreshToken)
	if err != nil {
		return "", err
	}

	newRefresh := conn.RefreshToken
	if refreshed.RefreshToken != "" && refreshed.RefreshToken != conn.RefreshToken {
		newRefresh = refreshed.RefreshToken
	}
	if err := tm.store.UpdateToken(ctx, conn.ID, refreshed.AccessToken, newRefresh, refreshed.ExpiresAt); err != nil {
		// Token still works for this call even if persisting it failed.
		tm.logger.Error("Failed to persist refreshed token", "connectionId", conn.ID, "error", err)
	}

	conn.AccessToken = refreshed.AccessToken
	conn.RefreshToken = newRefresh
	conn.TokenExpiresAt = refreshed.ExpiresAt
	return refreshed.AccessToken, nil
}

type refreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (tm *TokenManager) refresh(ctx context.Context, provider, refreshToken string) (*refreshedToken, error) {
	endpoint, ok := tm.endpoints[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider for token refresh: %s", provider)
	}
	if endpoint.ClientID == "" || endpoint.ClientSecret == "" {
		return nil, fmt.Errorf("%s OAuth credentials not configured", provider)
	}

	form := url.Values{
		"refresh_token": {refreshToken},
		"client_id":     {endpoint.ClientID},
		"client_secret": {endpoint.ClientSecret},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s token refresh failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s token refresh failed: %s", provider, string(raw))
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s token refresh returned invalid JSON: %w", provider, err)
	}

	return &refreshedToken{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    tm.now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}
