// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package meetings schedules deal-room meetings and keeps participant
// calendars in sync.
//
// Calendar sync is best effort with per-connection isolation: one
// participant's broken or missing connection never blocks the meeting
// or the other participants' invites. Failures are logged and the
// meeting record keeps whatever event references were created.
package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/calendar"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// ErrNotFound is returned for unknown meeting ids.
var ErrNotFound = errors.New("meetings: meeting not found")

// ErrForbidden is returned when a user updates someone else's response.
var ErrForbidden = errors.New("meetings: participants may only update their own response")

// Participant is one attendee of a meeting.
type Participant struct {
	UserID         string                  `json:"user_id"`
	Email          string                  `json:"email"`
	ResponseStatus calendar.ResponseStatus `json:"response_status"`
	RespondedAt    *time.Time              `json:"responded_at,omitempty"`
}

// EventRef records one provider event created for a meeting.
type EventRef struct {
	Provider  string `json:"provider"`
	UserID    string `json:"user_id"`
	EventID   string `json:"eventId"`
	EventLink string `json:"eventLink,omitempty"`
}

// Meeting is the stored meeting document.
type Meeting struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	StartsAt         time.Time      `json:"starts_at"`
	EndsAt           time.Time      `json:"ends_at"`
	OrganizerID      string         `json:"organizer_id"`
	Location         string         `json:"location,omitempty"`
	JoinURL          string         `json:"join_url,omitempty"`
	Participants     []Participant  `json:"participants"`
	CalendarEventIDs []EventRef     `json:"calendar_event_ids"`
	Summary          map[string]any `json:"summary,omitempty"`
	Cancelled        bool           `json:"cancelled,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Service schedules meetings and syncs them to calendars.
type Service struct {
	records   store.Store
	tokens    *calendar.TokenManager
	providers []calendar.Provider
	logger    *slog.Logger
}

// NewService wires the meetings service. providers lists every calendar
// backend to attempt per participant.
func NewService(records store.Store, tokens *calendar.TokenManager, providers []calendar.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, tokens: tokens, providers: providers, logger: logger}
}

func meetingKey(id string) string { return "meetings/" + id }

func toRecord(m *Meeting) (*store.Record, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, err
	}
	return &store.Record{Key: meetingKey(m.ID), Content: content}, nil
}

func fromRecord(rec *store.Record) (*Meeting, error) {
	raw, err := json.Marshal(rec.Content)
	if err != nil {
		return nil, err
	}
	var m Meeting
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("malformed meeting record %s: %w", rec.Key, err)
	}
	return &m, nil
}

// Get loads one meeting.
func (s *Service) Get(ctx context.Context, meetingID string) (*Meeting, error) {
	rec, err := s.records.Get(ctx, meetingKey(meetingID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromRecord(rec)
}

// ListForProject returns a project's meetings.
func (s *Service) ListForProject(ctx context.Context, projectID string) ([]*Meeting, error) {
	recs, err := s.records.List(ctx, "meetings/")
	if err != nil {
		return nil, err
	}
	var out []*Meeting
	for _, rec := range recs {
		m, err := fromRecord(rec)
		if err != nil {
			s.logger.Warn("Skipping malformed meeting record", "key", rec.Key, "error", err)
			continue
		}
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListUpcoming returns non-cancelled meetings starting in [from, until].
// The reminder worker scans with this.
func (s *Service) ListUpcoming(ctx context.Context, from, until time.Time) ([]*Meeting, error) {
	recs, err := s.records.List(ctx, "meetings/")
	if err != nil {
		return nil, err
	}
	var out []*Meeting
	for _, rec := range recs {
		m, err := fromRecord(rec)
		if err != nil {
			s.logger.Warn("Skipping malformed meeting record", "key", rec.Key, "error", err)
			continue
		}
		if m.Cancelled || m.StartsAt.Before(from) || m.StartsAt.After(until) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Schedule persists the meeting, then creates a calendar event through
// every provider connection each participant has. Sync failures are
// isolated per connection; the meeting is returned with whatever event
// references succeeded.
func (s *Service) Schedule(ctx context.Context, m *Meeting) (*Meeting, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()
	for i := range m.Participants {
		if m.Participants[i].ResponseStatus == "" {
			m.Participants[i].ResponseStatus = calendar.ResponsePending
		}
	}

	rec, err := toRecord(m)
	if err != nil {
		return nil, err
	}
	if _, err := s.records.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist meeting: %w", err)
	}

	attendees := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		attendees = append(attendees, p.Email)
	}
	eventReq := calendar.EventRequest{
		Title:       m.Title,
		Description: m.Description,
		Start:       m.StartsAt,
		End:         m.EndsAt,
		Attendees:   attendees,
		Location:    m.Location,
		JoinURL:     m.JoinURL,
	}

	refs := s.syncToCalendars(ctx, m, eventReq)
	if len(refs) > 0 {
		m.CalendarEventIDs = refs
		if rec, err = toRecord(m); err == nil {
			if _, err := s.records.Put(ctx, rec); err != nil {
				s.logger.Error("Failed to persist calendar event refs", "meetingId", m.ID, "error", err)
			}
		}
	}
	return m, nil
}

// syncToCalendars creates the event on every reachable connection.
// Participants without a connection for a provider are skipped quietly;
// real failures are logged. Events are created concurrently but one
// participant+provider at a time is enough parallelism for meeting-size
// attendee lists.
func (s *Service) syncToCalendars(ctx context.Context, m *Meeting, eventReq calendar.EventRequest) []EventRef {
	type result struct {
		ref EventRef
		ok  bool
	}
	results := make([]result, len(m.Participants)*len(s.providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for pi, participant := range m.Participants {
		for vi, provider := range s.providers {
			g.Go(func() error {
				token, _, err := s.tokens.Token(gctx, participant.UserID, provider.Name())
				if err != nil {
					if errors.Is(err, calendar.ErrNoConnection) {
						return nil
					}
					s.logger.Error("Calendar token unavailable, skipping sync",
						"meetingId", m.ID, "userId", participant.UserID,
						"provider", provider.Name(), "error", err)
					return nil
				}
				created, err := provider.CreateEvent(gctx, token, eventReq)
				if err != nil {
					s.logger.Error("Calendar event creation failed",
						"meetingId", m.ID, "userId", participant.UserID,
						"provider", provider.Name(), "error", err)
					return nil
				}
				results[pi*len(s.providers)+vi] = result{
					ref: EventRef{
						Provider:  provider.Name(),
						UserID:    participant.UserID,
						EventID:   created.EventID,
						EventLink: created.EventLink,
					},
					ok: true,
				}
				return nil
			})
		}
	}
	_ = g.Wait() // workers never return errors; isolation is the point

	var refs []EventRef
	for _, r := range results {
		if r.ok {
			refs = append(refs, r.ref)
		}
	}
	return refs
}

// UpdateResponse records a participant's response and patches each
// provider event on the participant's own calendar connections. Returns
// the number of events successfully synced.
//
// Ownership is enforced here: authenticatedUserID must equal the
// participant being updated.
func (s *Service) UpdateResponse(ctx context.Context, meetingID, authenticatedUserID, participantUserID string, status calendar.ResponseStatus) (int, error) {
	if authenticatedUserID != participantUserID {
		return 0, ErrForbidden
	}

	m, err := s.Get(ctx, meetingID)
	if err != nil {
		return 0, err
	}

	var participant *Participant
	for i := range m.Participants {
		if m.Participants[i].UserID == participantUserID {
			participant = &m.Participants[i]
			break
		}
	}
	if participant == nil {
		return 0, fmt.Errorf("user %s is not a participant of meeting %s", participantUserID, meetingID)
	}

	now := time.Now().UTC()
	participant.ResponseStatus = status
	participant.RespondedAt = &now

	rec, err := toRecord(m)
	if err != nil {
		return 0, err
	}
	if _, err := s.records.Put(ctx, rec); err != nil {
		return 0, fmt.Errorf("failed to persist response update: %w", err)
	}

	synced := 0
	for _, provider := range s.providers {
		token, _, err := s.tokens.Token(ctx, participantUserID, provider.Name())
		if err != nil {
			if !errors.Is(err, calendar.ErrNoConnection) {
				s.logger.Error("Calendar token unavailable for response sync",
					"meetingId", meetingID, "provider", provider.Name(), "error", err)
			}
			continue
		}
		for _, ref := range m.CalendarEventIDs {
			if ref.Provider != provider.Name() {
				continue
			}
			if err := provider.UpdateAttendeeResponse(ctx, token, ref.EventID, participant.Email, status); err != nil {
				s.logger.Error("Failed to sync response to calendar event",
					"meetingId", meetingID, "eventId", ref.EventID,
					"provider", provider.Name(), "error", err)
				continue
			}
			synced++
		}
	}
	return synced, nil
}

// SaveSummary attaches a generated transcript summary to the meeting.
// Only the organizer or a participant may attach one.
func (s *Service) SaveSummary(ctx context.Context, meetingID, userID string, summary map[string]any) error {
	m, err := s.Get(ctx, meetingID)
	if err != nil {
		return err
	}

	allowed := m.OrganizerID == userID
	for _, p := range m.Participants {
		if p.UserID == userID {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrForbidden
	}

	m.Summary = summary
	rec, err := toRecord(m)
	if err != nil {
		return err
	}
	if _, err := s.records.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist meeting summary: %w", err)
	}
	return nil
}

// Cancel deletes the meeting's calendar events (best effort) and marks
// the record cancelled. The record itself is superseded, not deleted.
func (s *Service) Cancel(ctx context.Context, meetingID, organizerID string) error {
	m, err := s.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if m.OrganizerID != organizerID {
		return ErrForbidden
	}

	for _, ref := range m.CalendarEventIDs {
		token, _, err := s.tokens.Token(ctx, ref.UserID, ref.Provider)
		if err != nil {
			continue
		}
		for _, provider := range s.providers {
			if provider.Name() != ref.Provider {
				continue
			}
			if err := provider.DeleteEvent(ctx, token, ref.EventID); err != nil {
				s.logger.Error("Failed to delete calendar event",
					"meetingId", meetingID, "eventId", ref.EventID, "error", err)
			}
		}
	}

	m.Cancelled = true
	rec, err := toRecord(m)
	if err != nil {
		return err
	}
	_, err = s.records.Put(ctx, rec)
	return err
}
