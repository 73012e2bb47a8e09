// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/provenance"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/calendar"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/meetings"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

type noConnStore struct{}

func (noConnStore) Connection(context.Context, string, string) (*calendar.Connection, error) {
	return nil, calendar.ErrNoConnection
}

func (noConnStore) UpdateToken(context.Context, string, string, string, time.Time) error {
	return nil
}

func newWorkerFixture(t *testing.T) (*store.Badger, *notify.Fanout, notify.NotificationStore) {
	t.Helper()
	st, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.Put(t.Context(), &store.Record{
		Key: "projects/p-1",
		Content: map[string]any{
			"name":    "Harbor Point Refi",
			"members": []any{"advisor-1", "borrower-1"},
		},
	})
	require.NoError(t, err)

	notifyStore := notify.NewRecordStore(st)
	access := notify.NewRecordAccessResolver(st)
	fanout := notify.NewFanout(notifyStore, access, access, access, notify.DefaultRules, nil)
	return st, fanout, notifyStore
}

func countByType(t *testing.T, ns notify.NotificationStore, userID, eventType string) int {
	t.Helper()
	items, err := ns.ListForUser(t.Context(), userID)
	require.NoError(t, err)
	n := 0
	for _, item := range items {
		if item.Type == eventType {
			n++
		}
	}
	return n
}

func TestMeetingReminders(t *testing.T) {
	st, fanout, notifyStore := newWorkerFixture(t)
	tokens := calendar.NewTokenManager(noConnStore{}, nil, nil)
	svc := meetings.NewService(st, tokens, nil, nil)

	now := time.Now().UTC()
	soon, err := svc.Schedule(t.Context(), &meetings.Meeting{
		ProjectID:   "p-1",
		Title:       "Lender intro",
		StartsAt:    now.Add(30 * time.Minute),
		EndsAt:      now.Add(time.Hour),
		OrganizerID: "advisor-1",
	})
	require.NoError(t, err)

	// Outside the window and cancelled meetings never remind.
	_, err = svc.Schedule(t.Context(), &meetings.Meeting{
		ProjectID: "p-1", Title: "Far out", OrganizerID: "advisor-1",
		StartsAt: now.Add(3 * time.Hour), EndsAt: now.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	cancelled, err := svc.Schedule(t.Context(), &meetings.Meeting{
		ProjectID: "p-1", Title: "Called off", OrganizerID: "advisor-1",
		StartsAt: now.Add(20 * time.Minute), EndsAt: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(t.Context(), cancelled.ID, "advisor-1"))

	job := NewMeetingReminders(svc, fanout, time.Hour)
	require.NoError(t, job.Run(t.Context()))
	// A second scan inside the window must not remind anyone twice.
	require.NoError(t, job.Run(t.Context()))

	for _, userID := range []string{"advisor-1", "borrower-1"} {
		assert.Equal(t, 1, countByType(t, notifyStore, userID, notify.EventMeetingReminder),
			"user %s should get exactly one reminder", userID)
	}

	items, err := notifyStore.ListForUser(t.Context(), "borrower-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "meeting-reminder-"+soon.ID, items[0].EventID)
	assert.Contains(t, items[0].Body, "Lender intro")
}

func TestResumeNudges(t *testing.T) {
	t.Run("stale incomplete resume nudges each member once", func(t *testing.T) {
		st, fanout, notifyStore := newWorkerFixture(t)
		_, err := st.Put(t.Context(), &store.Record{
			Key:     "resumes/project/p-1",
			Content: map[string]any{"projectName": "Harbor Point Refi"},
		})
		require.NoError(t, err)

		job := NewResumeNudges(st, fanout, DefaultNudgeThreshold, time.Nanosecond, nil)
		require.NoError(t, job.Run(t.Context()))
		require.NoError(t, job.Run(t.Context()))

		for _, userID := range []string{"advisor-1", "borrower-1"} {
			assert.Equal(t, 1, countByType(t, notifyStore, userID, notify.EventResumeIncomplete))
		}
	})

	t.Run("complete resume is left alone", func(t *testing.T) {
		st, fanout, notifyStore := newWorkerFixture(t)
		content := map[string]any{}
		for _, key := range provenance.ProjectFields.Required {
			content[key] = "filled"
		}
		for _, key := range provenance.ProjectFields.Optional {
			content[key] = "filled"
		}
		_, err := st.Put(t.Context(), &store.Record{Key: "resumes/project/p-1", Content: content})
		require.NoError(t, err)

		job := NewResumeNudges(st, fanout, DefaultNudgeThreshold, time.Nanosecond, nil)
		require.NoError(t, job.Run(t.Context()))
		assert.Equal(t, 0, countByType(t, notifyStore, "borrower-1", notify.EventResumeIncomplete))
	})

	t.Run("recently edited resume is left alone", func(t *testing.T) {
		st, fanout, notifyStore := newWorkerFixture(t)
		_, err := st.Put(t.Context(), &store.Record{
			Key:     "resumes/project/p-1",
			Content: map[string]any{"projectName": "Harbor Point Refi"},
		})
		require.NoError(t, err)

		job := NewResumeNudges(st, fanout, DefaultNudgeThreshold, time.Hour, nil)
		require.NoError(t, job.Run(t.Context()))
		assert.Equal(t, 0, countByType(t, notifyStore, "borrower-1", notify.EventResumeIncomplete))
	})
}

func TestRunnerStops(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := jobFunc(func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	r := NewRunner(time.Minute, []Job{job}, nil)
	r.Start(t.Context())
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	r.Stop()
}

type jobFunc func(ctx context.Context) error

func (jobFunc) Name() string                    { return "test-job" }
func (f jobFunc) Run(ctx context.Context) error { return f(ctx) }
