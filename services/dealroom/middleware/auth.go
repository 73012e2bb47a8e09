// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the dealroom service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, verifies its signature and expiry, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Verify HS256 signature + expiry
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
// Using a distinct key prevents collisions with other context values.
const authInfoKey = "capmatch_auth_info"

// AuthInfo is the authenticated identity attached to a request.
type AuthInfo struct {
	UserID string
	Email  string
	Role   string
}

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
// Called by AuthMiddleware after successful verification; handlers
// retrieve it via GetAuthInfo.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin
// context. Returns nil if the request was not authenticated.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header and verifies
// it as an HS256 JWT signed with secret. Tokens must carry a "sub"
// claim (the user id); "email" and "role" claims are optional.
// Requests with a missing, malformed, expired, or forged token are
// rejected with 401.
//
// # Inputs
//
//   - secret: HMAC signing key shared with the token issuer. Must not
//     be empty.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))
//
// # Limitations
//
//   - Only supports Bearer token authentication
//   - Does not cache verification results (verifies every request)
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractBearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		}, jwt.WithExpirationRequired(), jwt.WithLeeway(30*time.Second))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "token missing subject",
			})
			return
		}

		info := &AuthInfo{UserID: sub}
		if email, ok := claims["email"].(string); ok {
			info.Email = email
		}
		if role, ok := claims["role"].(string); ok {
			info.Role = role
		}
		SetAuthInfo(c, info)
		c.Next()
	}
}

// IssueToken mints an HS256 JWT for the given identity. Used by tests
// and local tooling; production tokens come from the identity service.
func IssueToken(secret []byte, info AuthInfo, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": info.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if info.Email != "" {
		claims["email"] = info.Email
	}
	if info.Role != "" {
		claims["role"] = info.Role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
