// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// RecordAccessResolver answers membership, resource-access, naming, and
// mute queries from project and preference records.
//
// Project records live at projects/{id} with a "name" string and a
// "members" array of user ids. Mute preferences live at
// notification-prefs/{userID} with "mutedTypes" and "mutedProjects"
// arrays. Missing records mean empty membership and nothing muted.
type RecordAccessResolver struct {
	records store.Store
}

// NewRecordAccessResolver builds a resolver over the record store.
func NewRecordAccessResolver(records store.Store) *RecordAccessResolver {
	return &RecordAccessResolver{records: records}
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ProjectMembers returns the project's member user ids.
func (r *RecordAccessResolver) ProjectMembers(ctx context.Context, projectID string) ([]string, error) {
	rec, err := r.records.Get(ctx, "projects/"+projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return stringList(rec.Content["members"]), nil
}

// CanAccessResource reports whether userID may see resourceID. Scoped
// resources carry a record at resources/{id} with an "allowedUsers"
// array; a resource without such a record is project-visible.
func (r *RecordAccessResolver) CanAccessResource(ctx context.Context, userID, resourceID string) (bool, error) {
	if resourceID == "" {
		return true, nil
	}
	rec, err := r.records.Get(ctx, "resources/"+resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	allowed := stringList(rec.Content["allowedUsers"])
	if len(allowed) == 0 {
		return true, nil
	}
	for _, id := range allowed {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// ProjectName resolves the project's display name.
func (r *RecordAccessResolver) ProjectName(ctx context.Context, projectID string) (string, error) {
	rec, err := r.records.Get(ctx, "projects/"+projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	name, _ := rec.Content["name"].(string)
	return strings.TrimSpace(name), nil
}

// IsMuted reports whether userID muted eventType or projectID.
func (r *RecordAccessResolver) IsMuted(ctx context.Context, userID, eventType, projectID string) (bool, error) {
	rec, err := r.records.Get(ctx, "notification-prefs/"+userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, t := range stringList(rec.Content["mutedTypes"]) {
		if t == eventType {
			return true, nil
		}
	}
	for _, p := range stringList(rec.Content["mutedProjects"]) {
		if p == projectID {
			return true, nil
		}
	}
	return false, nil
}
