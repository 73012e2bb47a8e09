// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultGoogleBaseURL = "https://www.googleapis.com/calendar/v3"

// Google targets the Calendar v3 REST API on the user's primary
// calendar; creates and patches go through the user's own token so no
// service account is needed.
type Google struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewGoogle returns a Google provider against the production API.
func NewGoogle() *Google {
	return &Google{
		BaseURL:    defaultGoogleBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *Google) Name() string { return "google" }

type googleEvent struct {
	ID          string               `json:"id,omitempty"`
	Summary     string               `json:"summary,omitempty"`
	Description string               `json:"description,omitempty"`
	Location    string               `json:"location,omitempty"`
	HTMLLink    string               `json:"htmlLink,omitempty"`
	Start       *googleEventTime     `json:"start,omitempty"`
	End         *googleEventTime     `json:"end,omitempty"`
	Attendees   []googleAttendee     `json:"attendees,omitempty"`
	ConfData    *googleConferenceRef `json:"conferenceData,omitempty"`
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleAttendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"responseStatus,omitempty"`
}

type googleConferenceRef struct {
	EntryPoints []struct {
		URI string `json:"uri"`
	} `json:"entryPoints"`
}

// googleStatus maps the normalized response status onto Google's enum.
func googleStatus(s ResponseStatus) string {
	if s == ResponsePending {
		return "needsAction"
	}
	return string(s)
}

func fromGoogleStatus(s string) ResponseStatus {
	switch s {
	case "accepted":
		return ResponseAccepted
	case "declined":
		return ResponseDeclined
	case "tentative":
		return ResponseTentative
	default:
		return ResponsePending
	}
}

func (g *Google) do(ctx context.Context, token, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("google calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("google calendar returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateEvent creates an event on the primary calendar and sends
// invitations to all attendees.
func (g *Google) CreateEvent(ctx context.Context, token string, req EventRequest) (EventResult, error) {
	attendees := make([]googleAttendee, 0, len(req.Attendees))
	for _, email := range req.Attendees {
		attendees = append(attendees, googleAttendee{Email: email})
	}
	description := req.Description
	if req.JoinURL != "" {
		description = description + "\n\nJoin: " + req.JoinURL
	}
	event := googleEvent{
		Summary:     req.Title,
		Description: description,
		Location:    req.Location,
		Start:       &googleEventTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &googleEventTime{DateTime: req.End.Format(time.RFC3339)},
		Attendees:   attendees,
	}

	var created googleEvent
	if err := g.do(ctx, token, http.MethodPost, "/calendars/primary/events?sendUpdates=all", event, &created); err != nil {
		return EventResult{}, err
	}
	return EventResult{EventID: created.ID, EventLink: created.HTMLLink}, nil
}

// DeleteEvent removes an event from the primary calendar.
func (g *Google) DeleteEvent(ctx context.Context, token, eventID string) error {
	return g.do(ctx, token, http.MethodDelete, "/calendars/primary/events/"+url.PathEscape(eventID), nil, nil)
}

// AttendeeStatus reads the current response status of every attendee.
func (g *Google) AttendeeStatus(ctx context.Context, token, eventID string) (map[string]ResponseStatus, error) {
	var event googleEvent
	if err := g.do(ctx, token, http.MethodGet, "/calendars/primary/events/"+url.PathEscape(eventID), nil, &event); err != nil {
		return nil, err
	}
	out := make(map[string]ResponseStatus, len(event.Attendees))
	for _, a := range event.Attendees {
		out[a.Email] = fromGoogleStatus(a.ResponseStatus)
	}
	return out, nil
}

// UpdateAttendeeResponse patches the attendee list with the new status
// for one attendee, leaving everyone else untouched. When the attendee
// is not on the event the patch is skipped, matching the lenient
// behavior of the sync path.
func (g *Google) UpdateAttendeeResponse(ctx context.Context, token, eventID, attendeeEmail string, status ResponseStatus) error {
	var event googleEvent
	if err := g.do(ctx, token, http.MethodGet, "/calendars/primary/events/"+url.PathEscape(eventID), nil, &event); err != nil {
		return fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}
	if len(event.Attendees) == 0 {
		slog.Info("No attendees on event, skipping response sync", "eventId", eventID)
		return nil
	}

	found := false
	for i, a := range event.Attendees {
		if a.Email == attendeeEmail {
			event.Attendees[i].ResponseStatus = googleStatus(status)
			found = true
		}
	}
	if !found {
		slog.Info("Attendee not on event, skipping response sync",
			"eventId", eventID, "attendee", attendeeEmail)
		return nil
	}

	patch := map[string]any{"attendees": event.Attendees}
	return g.do(ctx, token, http.MethodPatch, "/calendars/primary/events/"+url.PathEscape(eventID), patch, nil)
}
