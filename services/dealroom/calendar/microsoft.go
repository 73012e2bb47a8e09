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
	"net/http"
	"net/url"
	"time"
)

const defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Microsoft targets the Graph API for Outlook calendars.
type Microsoft struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewMicrosoft returns a Microsoft provider against the production
// Graph endpoint.
func NewMicrosoft() *Microsoft {
	return &Microsoft{
		BaseURL:    defaultGraphBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *Microsoft) Name() string { return "microsoft" }

type graphEvent struct {
	ID        string          `json:"id,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	WebLink   string          `json:"webLink,omitempty"`
	Body      *graphBody      `json:"body,omitempty"`
	Start     *graphDateTime  `json:"start,omitempty"`
	End       *graphDateTime  `json:"end,omitempty"`
	Location  *graphLocation  `json:"location,omitempty"`
	Attendees []graphAttendee `json:"attendees,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphAttendee struct {
	Type         string         `json:"type,omitempty"`
	EmailAddress graphEmail     `json:"emailAddress"`
	Status       *graphResponse `json:"status,omitempty"`
}

type graphEmail struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphResponse struct {
	Response string `json:"response"`
	Time     string `json:"time,omitempty"`
}

func fromGraphStatus(s string) ResponseStatus {
	switch s {
	case "accepted", "organizer":
		return ResponseAccepted
	case "declined":
		return ResponseDeclined
	case "tentativelyAccepted":
		return ResponseTentative
	default: // none, notResponded
		return ResponsePending
	}
}

// graphResponseAction maps the normalized status onto the Graph
// respond-to-event action path.
func graphResponseAction(s ResponseStatus) string {
	switch s {
	case ResponseAccepted:
		return "accept"
	case ResponseDeclined:
		return "decline"
	case ResponseTentative:
		return "tentativelyAccept"
	default:
		return ""
	}
}

func (m *Microsoft) do(ctx context.Context, token, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.BaseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateEvent creates an event on the signed-in user's default
// calendar.
func (m *Microsoft) CreateEvent(ctx context.Context, token string, req EventRequest) (EventResult, error) {
	attendees := make([]graphAttendee, 0, len(req.Attendees))
	for _, email := range req.Attendees {
		attendees = append(attendees, graphAttendee{
			Type:         "required",
			EmailAddress: graphEmail{Address: email},
		})
	}
	content := req.Description
	if req.JoinURL != "" {
		content = content + "\n\nJoin: " + req.JoinURL
	}
	event := graphEvent{
		Subject:   req.Title,
		Body:      &graphBody{ContentType: "text", Content: content},
		Start:     &graphDateTime{DateTime: req.Start.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		End:       &graphDateTime{DateTime: req.End.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		Attendees: attendees,
	}
	if req.Location != "" {
		event.Location = &graphLocation{DisplayName: req.Location}
	}

	var created graphEvent
	if err := m.do(ctx, token, http.MethodPost, "/me/events", event, &created); err != nil {
		return EventResult{}, err
	}
	return EventResult{EventID: created.ID, EventLink: created.WebLink}, nil
}

// DeleteEvent removes an event from the user's calendar.
func (m *Microsoft) DeleteEvent(ctx context.Context, token, eventID string) error {
	return m.do(ctx, token, http.MethodDelete, "/me/events/"+url.PathEscape(eventID), nil, nil)
}

// AttendeeStatus reads the normalized response status per attendee.
func (m *Microsoft) AttendeeStatus(ctx context.Context, token, eventID string) (map[string]ResponseStatus, error) {
	var event graphEvent
	if err := m.do(ctx, token, http.MethodGet, "/me/events/"+url.PathEscape(eventID), nil, &event); err != nil {
		return nil, err
	}
	out := make(map[string]ResponseStatus, len(event.Attendees))
	for _, a := range event.Attendees {
		status := ""
		if a.Status != nil {
			status = a.Status.Response
		}
		out[a.EmailAddress.Address] = fromGraphStatus(status)
	}
	return out, nil
}

// UpdateAttendeeResponse uses the Graph respond actions, which apply to
// the calling user's own copy of the event. Graph has no way to respond
// on behalf of another attendee, so attendeeEmail is informational and
// a pending status is a no-op (Graph has no "un-respond" action).
func (m *Microsoft) UpdateAttendeeResponse(ctx context.Context, token, eventID, attendeeEmail string, status ResponseStatus) error {
	action := graphResponseAction(status)
	if action == "" {
		return nil
	}
	body := map[string]any{"sendResponse": true}
	return m.do(ctx, token, http.MethodPost, "/me/events/"+url.PathEscape(eventID)+"/"+action, body, nil)
}
