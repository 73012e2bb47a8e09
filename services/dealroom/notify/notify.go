// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify fans domain events out into per-recipient in-app
// notifications.
//
// The pipeline per event: collect candidate recipients → drop the actor
// → filter by resource access → drop muted users → dedupe against
// recipients already notified for the event → insert. Each stage can
// only shrink the recipient set, so re-delivery of an event
// (at-least-once upstream) converges to zero inserts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Known event types.
const (
	EventDocumentUploaded = "document_uploaded"
	EventMeetingScheduled = "meeting_scheduled"
	EventMeetingReminder  = "meeting_reminder"
	EventResumeUpdated    = "resume_updated"
	EventResumeIncomplete = "resume_incomplete"
)

// DomainEvent is one thing that happened in a project.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id"`
	ProjectID  string         `json:"project_id"`
	ResourceID string         `json:"resource_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Notification is one recipient's in-app notification.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	LinkURL   string    `json:"link_url,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationStore persists notifications and answers dedupe queries.
type NotificationStore interface {
	Insert(ctx context.Context, n *Notification) error
	// ExistingRecipients returns user IDs already notified for eventID.
	ExistingRecipients(ctx context.Context, eventID string) (map[string]bool, error)
	ListForUser(ctx context.Context, userID string) ([]*Notification, error)
	SetRead(ctx context.Context, userID, notificationID string, read bool) error
}

// AccessResolver answers who may see a project or resource.
type AccessResolver interface {
	ProjectMembers(ctx context.Context, projectID string) ([]string, error)
	// CanAccessResource reports whether userID may see resourceID.
	// An empty resourceID means project-level scope, always allowed
	// for members.
	CanAccessResource(ctx context.Context, userID, resourceID string) (bool, error)
}

// PreferenceStore answers per-user mute settings.
type PreferenceStore interface {
	IsMuted(ctx context.Context, userID, eventType, projectID string) (bool, error)
}

// Rule configures one event type's routing.
type Rule struct {
	// Disabled turns the event type off entirely.
	Disabled bool `yaml:"disabled"`
	// TitleTemplate and BodyTemplate use %s for the project name and
	// the payload's display name respectively.
	TitleTemplate string `yaml:"title_template"`
	BodyTemplate  string `yaml:"body_template"`
	// LinkBase is the in-app path prefix for the notification link.
	LinkBase string `yaml:"link_base"`
}

// Rules maps event type to routing configuration.
type Rules map[string]Rule

// DefaultRules covers the known event types.
var DefaultRules = Rules{
	EventDocumentUploaded: {
		TitleTemplate: "Document uploaded - %s",
		BodyTemplate:  "New file **\"%s\"** was uploaded to **%s**.",
		LinkBase:      "/project/workspace",
	},
	EventMeetingScheduled: {
		TitleTemplate: "Meeting scheduled - %s",
		BodyTemplate:  "**%s** was scheduled in **%s**.",
		LinkBase:      "/project/meetings",
	},
	EventMeetingReminder: {
		TitleTemplate: "Meeting starting soon - %s",
		BodyTemplate:  "**%s** is about to start in **%s**.",
		LinkBase:      "/project/meetings",
	},
	EventResumeUpdated: {
		TitleTemplate: "Resume updated - %s",
		BodyTemplate:  "The borrower resume for **%s** was updated.",
		LinkBase:      "/project/resume",
	},
	EventResumeIncomplete: {
		TitleTemplate: "Resume needs attention - %s",
		BodyTemplate:  "The resume for **%s** is still missing required fields.",
		LinkBase:      "/project/resume",
	},
}

// LoadRules reads routing rules from a YAML file, falling back to
// DefaultRules for event types the file does not mention.
func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notification rules: %w", err)
	}
	var fileRules Rules
	if err := yaml.Unmarshal(raw, &fileRules); err != nil {
		return nil, fmt.Errorf("failed to parse notification rules: %w", err)
	}
	merged := make(Rules, len(DefaultRules))
	for k, v := range DefaultRules {
		merged[k] = v
	}
	for k, v := range fileRules {
		merged[k] = v
	}
	return merged, nil
}

// Fanout processes domain events into notifications.
type Fanout struct {
	store  NotificationStore
	access AccessResolver
	prefs  PreferenceStore
	rules  Rules
	names  ProjectNamer
	logger *slog.Logger
}

// ProjectNamer resolves a project's display name for notification text.
type ProjectNamer interface {
	ProjectName(ctx context.Context, projectID string) (string, error)
}

// NewFanout wires the pipeline. rules may be nil for DefaultRules.
func NewFanout(store NotificationStore, access AccessResolver, prefs PreferenceStore, names ProjectNamer, rules Rules, logger *slog.Logger) *Fanout {
	if rules == nil {
		rules = DefaultRules
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{store: store, access: access, prefs: prefs, rules: rules, names: names, logger: logger}
}

// Process fans one event out. Returns the number of notifications
// inserted. Per-recipient failures are logged and skipped; the event is
// never failed wholesale because upstream redelivers it anyway.
func (f *Fanout) Process(ctx context.Context, event *DomainEvent) (int, error) {
	eventsProcessed.WithLabelValues(event.Type).Inc()

	rule, known := f.rules[event.Type]
	if !known || rule.Disabled {
		f.logger.Debug("No rule for event type, skipping", "type", event.Type)
		return 0, nil
	}

	candidates, err := f.access.ProjectMembers(ctx, event.ProjectID)
	if err != nil {
		return 0, fmt.Errorf("failed to collect candidates for event %s: %w", event.ID, err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	already, err := f.store.ExistingRecipients(ctx, event.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing recipients for event %s: %w", event.ID, err)
	}

	projectName := event.ProjectID
	if f.names != nil {
		if name, err := f.names.ProjectName(ctx, event.ProjectID); err == nil && name != "" {
			projectName = name
		}
	}

	displayName, _ := event.Payload["fileName"].(string)
	if displayName == "" {
		displayName, _ = event.Payload["title"].(string)
	}
	if displayName == "" {
		displayName = projectName
	}

	linkURL := rule.LinkBase + "/" + event.ProjectID
	if event.ResourceID != "" {
		linkURL += "?resourceId=" + event.ResourceID
	}

	inserted := 0
	for _, userID := range candidates {
		if userID == event.ActorID {
			continue
		}
		if already[userID] {
			continue
		}
		if event.ResourceID != "" {
			ok, err := f.access.CanAccessResource(ctx, userID, event.ResourceID)
			if err != nil {
				f.logger.Error("Resource access check failed, skipping recipient",
					"eventId", event.ID, "userId", userID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		muted, err := f.prefs.IsMuted(ctx, userID, event.Type, event.ProjectID)
		if err != nil {
			f.logger.Error("Preference check failed, defaulting to delivery",
				"eventId", event.ID, "userId", userID, "error", err)
		}
		if muted {
			notificationsMuted.WithLabelValues(event.Type).Inc()
			continue
		}

		n := &Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			EventID:   event.ID,
			Type:      event.Type,
			Title:     fmt.Sprintf(rule.TitleTemplate, projectName),
			Body:      f.body(rule, event.Type, displayName, projectName),
			LinkURL:   linkURL,
			CreatedAt: time.Now().UTC(),
		}
		if err := f.store.Insert(ctx, n); err != nil {
			f.logger.Error("Failed to insert notification",
				"eventId", event.ID, "userId", userID, "error", err)
			continue
		}
		inserted++
	}

	notificationsInserted.WithLabelValues(event.Type).Add(float64(inserted))
	f.logger.Info("Fan-out completed", "eventId", event.ID, "type", event.Type, "inserted", inserted)
	return inserted, nil
}

func (f *Fanout) body(rule Rule, eventType, displayName, projectName string) string {
	switch eventType {
	case EventResumeUpdated, EventResumeIncomplete:
		return fmt.Sprintf(rule.BodyTemplate, projectName)
	default:
		return fmt.Sprintf(rule.BodyTemplate, displayName, projectName)
	}
}
