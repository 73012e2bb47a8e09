// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request and response types for meeting scheduling
// and calendar response endpoints.
package datatypes

import (
	"time"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/meetings"
)

// =============================================================================
// Meeting Request Types
// =============================================================================

// MeetingParticipant identifies one invitee of a meeting.
type MeetingParticipant struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
}

// ScheduleMeetingRequest is the body for POST /v1/meetings.
//
// EndsAt must be after StartsAt; the organizer is taken from the
// authenticated user, never from the body.
type ScheduleMeetingRequest struct {
	ProjectID    string               `json:"project_id" validate:"required"`
	Title        string               `json:"title" validate:"required,max=300"`
	Description  string               `json:"description,omitempty" validate:"max=5000"`
	StartsAt     time.Time            `json:"starts_at" validate:"required"`
	EndsAt       time.Time            `json:"ends_at" validate:"required,gtfield=StartsAt"`
	Location     string               `json:"location,omitempty" validate:"max=500"`
	JoinURL      string               `json:"join_url,omitempty" validate:"omitempty,url"`
	Participants []MeetingParticipant `json:"participants" validate:"required,min=1,max=50,dive"`
}

// Validate checks the request after JSON binding.
func (r *ScheduleMeetingRequest) Validate() error {
	return validate.Struct(r)
}

// UpdateMeetingResponseRequest is the body for
// POST /v1/meetings/:id/response.
type UpdateMeetingResponseRequest struct {
	Status string `json:"status" validate:"required,oneof=pending accepted declined tentative"`
}

// Validate checks the request after JSON binding.
func (r *UpdateMeetingResponseRequest) Validate() error {
	return validate.Struct(r)
}

// SummarizeMeetingRequest is the body for POST /v1/meetings/:id/summary.
// Format defaults to plain text; "vtt" runs the WebVTT parser first.
type SummarizeMeetingRequest struct {
	Transcript string `json:"transcript" validate:"required"`
	Format     string `json:"format,omitempty" validate:"omitempty,oneof=text vtt"`
}

// Validate checks the request after JSON binding.
func (r *SummarizeMeetingRequest) Validate() error {
	return validate.Struct(r)
}

// =============================================================================
// Meeting Response Types
// =============================================================================

// MeetingResponse wraps a stored meeting for API consumers.
type MeetingResponse struct {
	Meeting *meetings.Meeting `json:"meeting"`
}

// UpdateResponseResult reports how many calendar events were patched
// when a participant responded.
type UpdateResponseResult struct {
	MeetingID    string `json:"meeting_id"`
	Status       string `json:"status"`
	EventsSynced int    `json:"events_synced"`
}
