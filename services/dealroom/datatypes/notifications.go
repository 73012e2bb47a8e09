// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains types for the notification feed and AI extraction
// endpoints.
package datatypes

import (
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
)

// =============================================================================
// Notification Types
// =============================================================================

// NotificationListResponse is the body for GET /v1/notifications.
//
// Error is non-empty when the feed is serving last-known-good items
// after a refresh failure.
type NotificationListResponse struct {
	Items  []*notify.Notification `json:"items"`
	Unread int                    `json:"unread"`
	Error  string                 `json:"error,omitempty"`
}

// MarkReadRequest is the body for POST /v1/notifications/read.
type MarkReadRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100"`
}

// Validate checks the request after JSON binding.
func (r *MarkReadRequest) Validate() error {
	return validate.Struct(r)
}

// =============================================================================
// Extraction Types
// =============================================================================

// ExtractRequest is the body for POST /v1/resumes/:kind/:id/extract.
//
// DocumentName attributes extracted fields; Text is the document's
// extracted plain text. Fields limits extraction to the named fields
// (empty means the full resume field set).
type ExtractRequest struct {
	DocumentName string   `json:"document_name" validate:"required,max=500"`
	Text         string   `json:"text" validate:"required"`
	Fields       []string `json:"fields,omitempty" validate:"max=200"`
}

// Validate checks the request after JSON binding.
func (r *ExtractRequest) Validate() error {
	return validate.Struct(r)
}

// ExtractResponse reports which fields were extracted and which were
// skipped because they are locked.
type ExtractResponse struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
}
