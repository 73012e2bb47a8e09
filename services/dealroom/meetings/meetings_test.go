// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package meetings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/calendar"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// ===== Fakes =====

type memConnStore struct {
	conns map[string]*calendar.Connection // key: userID|provider
}

func (m *memConnStore) Connection(_ context.Context, userID, provider string) (*calendar.Connection, error) {
	conn, ok := m.conns[userID+"|"+provider]
	if !ok {
		return nil, calendar.ErrNoConnection
	}
	return conn, nil
}

func (m *memConnStore) UpdateToken(_ context.Context, _ string, _, _ string, _ time.Time) error {
	return nil
}

type fakeProvider struct {
	mu        sync.Mutex
	name      string
	created   []calendar.EventRequest
	responses []string // "eventID|email|status"
	createErr error
	updateErr error
	deleted   []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateEvent(_ context.Context, _ string, req calendar.EventRequest) (calendar.EventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return calendar.EventResult{}, f.createErr
	}
	f.created = append(f.created, req)
	return calendar.EventResult{EventID: "evt-" + f.name, EventLink: "https://cal.example/" + f.name}, nil
}

func (f *fakeProvider) DeleteEvent(_ context.Context, _ string, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeProvider) AttendeeStatus(_ context.Context, _, _ string) (map[string]calendar.ResponseStatus, error) {
	return nil, nil
}

func (f *fakeProvider) UpdateAttendeeResponse(_ context.Context, _ string, eventID, email string, status calendar.ResponseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.responses = append(f.responses, eventID+"|"+email+"|"+string(status))
	return nil
}

func validConn(userID, provider string) *calendar.Connection {
	return &calendar.Connection{
		ID:             "conn-" + userID,
		UserID:         userID,
		Provider:       provider,
		AccessToken:    "tok-" + userID,
		TokenExpiresAt: time.Now().Add(time.Hour),
	}
}

func newTestService(t *testing.T, conns *memConnStore, providers ...calendar.Provider) *Service {
	t.Helper()
	records, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	tokens := calendar.NewTokenManager(conns, nil, nil)
	return NewService(records, tokens, providers, nil)
}

func sampleMeeting() *Meeting {
	start := time.Date(2026, 9, 14, 15, 0, 0, 0, time.UTC)
	return &Meeting{
		ProjectID:   "proj-1",
		Title:       "Term sheet walkthrough",
		StartsAt:    start,
		EndsAt:      start.Add(30 * time.Minute),
		OrganizerID: "advisor-1",
		Participants: []Participant{
			{UserID: "advisor-1", Email: "advisor@capmatch.dev"},
			{UserID: "borrower-1", Email: "borrower@example.com"},
		},
	}
}

// ===== Schedule =====

func TestScheduleCreatesCalendarEventsPerConnection(t *testing.T) {
	google := &fakeProvider{name: "google"}
	conns := &memConnStore{conns: map[string]*calendar.Connection{
		"advisor-1|google":  validConn("advisor-1", "google"),
		"borrower-1|google": validConn("borrower-1", "google"),
	}}
	svc := newTestService(t, conns, google)

	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Len(t, m.CalendarEventIDs, 2)
	assert.Len(t, google.created, 2)

	// Round-trips through the record store.
	stored, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Term sheet walkthrough", stored.Title)
	assert.Len(t, stored.CalendarEventIDs, 2)
	assert.Equal(t, calendar.ResponsePending, stored.Participants[0].ResponseStatus)
}

func TestScheduleSkipsParticipantsWithoutConnections(t *testing.T) {
	google := &fakeProvider{name: "google"}
	conns := &memConnStore{conns: map[string]*calendar.Connection{
		"advisor-1|google": validConn("advisor-1", "google"),
	}}
	svc := newTestService(t, conns, google)

	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)
	require.Len(t, m.CalendarEventIDs, 1)
	assert.Equal(t, "advisor-1", m.CalendarEventIDs[0].UserID)
}

func TestScheduleIsolatesProviderFailures(t *testing.T) {
	google := &fakeProvider{name: "google", createErr: errors.New("quota exceeded")}
	microsoft := &fakeProvider{name: "microsoft"}
	conns := &memConnStore{conns: map[string]*calendar.Connection{
		"advisor-1|google":    validConn("advisor-1", "google"),
		"advisor-1|microsoft": validConn("advisor-1", "microsoft"),
	}}
	svc := newTestService(t, conns, google, microsoft)

	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err, "a broken provider must not fail the meeting")
	require.Len(t, m.CalendarEventIDs, 1)
	assert.Equal(t, "microsoft", m.CalendarEventIDs[0].Provider)
}

func TestScheduleWithNoConnectionsStillPersists(t *testing.T) {
	svc := newTestService(t, &memConnStore{conns: map[string]*calendar.Connection{}}, &fakeProvider{name: "google"})

	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)
	assert.Empty(t, m.CalendarEventIDs)

	stored, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, stored.ID)
}

// ===== UpdateResponse =====

func TestUpdateResponseSyncsOwnCalendars(t *testing.T) {
	google := &fakeProvider{name: "google"}
	conns := &memConnStore{conns: map[string]*calendar.Connection{
		"advisor-1|google":  validConn("advisor-1", "google"),
		"borrower-1|google": validConn("borrower-1", "google"),
	}}
	svc := newTestService(t, conns, google)

	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)

	synced, err := svc.UpdateResponse(context.Background(), m.ID, "borrower-1", "borrower-1", calendar.ResponseAccepted)
	require.NoError(t, err)
	assert.Equal(t, 2, synced, "both stored google events should be patched")

	stored, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	var borrower *Participant
	for i := range stored.Participants {
		if stored.Participants[i].UserID == "borrower-1" {
			borrower = &stored.Participants[i]
		}
	}
	require.NotNil(t, borrower)
	assert.Equal(t, calendar.ResponseAccepted, borrower.ResponseStatus)
	assert.NotNil(t, borrower.RespondedAt)
}

func TestUpdateResponseRejectsOtherUsers(t *testing.T) {
	svc := newTestService(t, &memConnStore{conns: map[string]*calendar.Connection{}}, &fakeProvider{name: "google"})
	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)

	_, err = svc.UpdateResponse(context.Background(), m.ID, "advisor-1", "borrower-1", calendar.ResponseDeclined)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateResponsePersistsEvenWhenSyncFails(t *testing.T) {
	google := &fakeProvider{name: "google", updateErr: errors.New("backend down")}
	conns := &memConnStore{conns: map[string]*calendar.Connection{
		"advisor-1|google": validConn("advisor-1", "google"),
	}}
	svc := newTestService(t, conns, google)

	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)

	synced, err := svc.UpdateResponse(context.Background(), m.ID, "advisor-1", "advisor-1", calendar.ResponseTentative)
	require.NoError(t, err)
	assert.Equal(t, 0, synced)

	stored, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.ResponseTentative, stored.Participants[0].ResponseStatus)
}

func TestUpdateResponseUnknownMeeting(t *testing.T) {
	svc := newTestService(t, &memConnStore{conns: map[string]*calendar.Connection{}})
	_, err := svc.UpdateResponse(context.Background(), "missing", "u1", "u1", calendar.ResponseAccepted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateResponseNonParticipant(t *testing.T) {
	svc := newTestService(t, &memConnStore{conns: map[string]*calendar.Connection{}})
	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)

	_, err = svc.UpdateResponse(context.Background(), m.ID, "stranger", "stranger", calendar.ResponseAccepted)
	assert.Error(t, err)
}

// ===== Cancel / listing =====

func TestCancelDeletesEventsAndRequiresOrganizer(t *testing.T) {
	google := &fakeProvider{name: "google"}
	conns := &memConnStore{conns: map[string]*calendar.Connection{
		"advisor-1|google": validConn("advisor-1", "google"),
	}}
	svc := newTestService(t, conns, google)

	m, err := svc.Schedule(context.Background(), sampleMeeting())
	require.NoError(t, err)
	require.Len(t, m.CalendarEventIDs, 1)

	err = svc.Cancel(context.Background(), m.ID, "borrower-1")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, svc.Cancel(context.Background(), m.ID, "advisor-1"))
	assert.Len(t, google.deleted, 1)
}

func TestListForProjectFiltersByProject(t *testing.T) {
	svc := newTestService(t, &memConnStore{conns: map[string]*calendar.Connection{}})

	a := sampleMeeting()
	b := sampleMeeting()
	b.ProjectID = "proj-2"
	_, err := svc.Schedule(context.Background(), a)
	require.NoError(t, err)
	_, err = svc.Schedule(context.Background(), b)
	require.NoError(t, err)

	got, err := svc.ListForProject(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "proj-1", got[0].ProjectID)
}
