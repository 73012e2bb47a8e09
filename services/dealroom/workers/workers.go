// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workers runs the dealroom's periodic background jobs: meeting
// start reminders and incomplete-resume nudges.
//
// Jobs are plain scans over the record store that push notifications
// through the same fan-out pipeline the request path uses. Event IDs
// are deterministic, so the pipeline's recipient dedupe makes repeated
// scans idempotent per recipient.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/provenance"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/meetings"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// Defaults for job tuning knobs.
const (
	DefaultInterval       = 10 * time.Minute
	DefaultReminderWindow = time.Hour
	DefaultNudgeThreshold = 60
	DefaultNudgeAge       = 24 * time.Hour
)

// Job is one periodic unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner drives a set of jobs on a shared interval.
type Runner struct {
	interval time.Duration
	jobs     []Job
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRunner builds a runner. interval <= 0 uses DefaultInterval.
func NewRunner(interval time.Duration, jobs []Job, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{interval: interval, jobs: jobs, logger: logger}
}

// Start launches the run loop. Jobs run once immediately, then on each
// tick until Stop or context cancellation.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.runAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) runAll(ctx context.Context) {
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			return
		}
		if err := job.Run(ctx); err != nil {
			r.logger.Error("Background job failed", "job", job.Name(), "error", err)
		}
	}
}

// =============================================================================
// Meeting Reminders
// =============================================================================

// MeetingReminders notifies a meeting's project members shortly before
// the meeting starts.
type MeetingReminders struct {
	meetings *meetings.Service
	fanout   *notify.Fanout
	window   time.Duration
}

// NewMeetingReminders builds the job. window <= 0 uses
// DefaultReminderWindow.
func NewMeetingReminders(svc *meetings.Service, fanout *notify.Fanout, window time.Duration) *MeetingReminders {
	if window <= 0 {
		window = DefaultReminderWindow
	}
	return &MeetingReminders{meetings: svc, fanout: fanout, window: window}
}

func (j *MeetingReminders) Name() string { return "meeting-reminders" }

// Run fans out one reminder per meeting starting within the window. The
// event ID is the meeting ID, so a member is reminded at most once per
// meeting no matter how many scans see it.
func (j *MeetingReminders) Run(ctx context.Context) error {
	now := time.Now().UTC()
	upcoming, err := j.meetings.ListUpcoming(ctx, now, now.Add(j.window))
	if err != nil {
		return fmt.Errorf("failed to list upcoming meetings: %w", err)
	}
	for _, m := range upcoming {
		event := &notify.DomainEvent{
			ID:        "meeting-reminder-" + m.ID,
			Type:      notify.EventMeetingReminder,
			ProjectID: m.ProjectID,
			Payload:   map[string]any{"title": m.Title},
			CreatedAt: now,
		}
		if _, err := j.fanout.Process(ctx, event); err != nil {
			return fmt.Errorf("reminder fan-out failed for meeting %s: %w", m.ID, err)
		}
	}
	return nil
}

// =============================================================================
// Resume Nudges
// =============================================================================

const projectResumePrefix = "resumes/project/"

// ResumeNudges nudges a project's members when the project resume has
// sat below the completeness threshold with no edits for minAge.
type ResumeNudges struct {
	records   store.Store
	fanout    *notify.Fanout
	threshold int
	minAge    time.Duration
	logger    *slog.Logger
}

// NewResumeNudges builds the job. threshold <= 0 uses
// DefaultNudgeThreshold; minAge <= 0 uses DefaultNudgeAge.
func NewResumeNudges(records store.Store, fanout *notify.Fanout, threshold int, minAge time.Duration, logger *slog.Logger) *ResumeNudges {
	if threshold <= 0 {
		threshold = DefaultNudgeThreshold
	}
	if minAge <= 0 {
		minAge = DefaultNudgeAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeNudges{records: records, fanout: fanout, threshold: threshold, minAge: minAge, logger: logger}
}

func (j *ResumeNudges) Name() string { return "resume-nudges" }

// Run scans project resumes and fans out a nudge for each stale
// incomplete one. The event ID carries the scan date, so a resume
// nudges each member at most once per day.
func (j *ResumeNudges) Run(ctx context.Context) error {
	recs, err := j.records.List(ctx, projectResumePrefix)
	if err != nil {
		return fmt.Errorf("failed to list project resumes: %w", err)
	}
	now := time.Now().UTC()
	for _, rec := range recs {
		if now.Sub(rec.UpdatedAt) < j.minAge {
			continue
		}
		flat, _ := provenance.Normalize(rec.Content)
		aux, _ := flat["principals"].([]any)
		score := provenance.Completeness(rec.Content, aux, provenance.ProjectFields)
		if score >= j.threshold {
			continue
		}
		projectID := strings.TrimPrefix(rec.Key, projectResumePrefix)
		event := &notify.DomainEvent{
			ID:        fmt.Sprintf("resume-nudge-%s-%s", projectID, now.Format("2006-01-02")),
			Type:      notify.EventResumeIncomplete,
			ProjectID: projectID,
			CreatedAt: now,
		}
		inserted, err := j.fanout.Process(ctx, event)
		if err != nil {
			return fmt.Errorf("nudge fan-out failed for project %s: %w", projectID, err)
		}
		if inserted > 0 {
			j.logger.Info("Nudged incomplete resume", "project", projectID, "completeness", score)
		}
	}
	return nil
}
