// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package calendar talks to the calendar providers meetings are synced
// to. Provider-specific JSON shapes (Google Calendar v3, Microsoft
// Graph) are normalized to a common event result and a common attendee
// response status so the meetings service never branches on vendor.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNoConnection is returned when a user has no calendar connection
// for the requested provider. Callers treat it as "skip this provider",
// not as a sync failure.
var ErrNoConnection = errors.New("calendar: no connection for provider")

// ResponseStatus is the normalized attendee response across providers.
type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseAccepted  ResponseStatus = "accepted"
	ResponseDeclined  ResponseStatus = "declined"
	ResponseTentative ResponseStatus = "tentative"
)

// EventRequest is the provider-independent shape of an event to create.
type EventRequest struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string // email addresses
	Location    string
	JoinURL     string
}

// EventResult is the normalized outcome of creating an event.
type EventResult struct {
	EventID   string `json:"eventId"`
	EventLink string `json:"eventLink"`
}

// Provider is one calendar backend. Implementations take a bearer token
// per call; token lifetime is the TokenManager's problem.
type Provider interface {
	Name() string
	CreateEvent(ctx context.Context, token string, req EventRequest) (EventResult, error)
	DeleteEvent(ctx context.Context, token, eventID string) error
	AttendeeStatus(ctx context.Context, token, eventID string) (map[string]ResponseStatus, error)
	UpdateAttendeeResponse(ctx context.Context, token, eventID, attendeeEmail string, status ResponseStatus) error
}
