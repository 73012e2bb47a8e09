// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP handlers for the dealroom service.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/provenance"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/validation"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/datatypes"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/middleware"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/notify"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/reconcile"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

// =============================================================================
// Reconciler Registry
// =============================================================================

// Registry hands out one running reconciler per resume key. Dashboards
// reading the same record share a reconciler; it is started on first
// use and stopped when the registry closes.
type Registry struct {
	mu     sync.Mutex
	store  store.Store
	logger *slog.Logger
	active map[string]*reconcile.Reconciler
}

// NewRegistry builds a registry over the record store.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  st,
		logger: logger,
		active: make(map[string]*reconcile.Reconciler),
	}
}

// For returns the running reconciler for key, starting one if needed.
func (g *Registry) For(ctx context.Context, key string, fields provenance.FieldSet) (*reconcile.Reconciler, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.active[key]; ok {
		return rec, nil
	}
	rec := reconcile.New(key, g.store, reconcile.Options{
		Fields: fields,
		Logger: g.logger,
	})
	if err := rec.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	g.active[key] = rec
	return rec, nil
}

// Close stops every running reconciler.
func (g *Registry) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, rec := range g.active {
		rec.Stop()
		delete(g.active, key)
	}
}

// =============================================================================
// Resume Handlers
// =============================================================================

// resumeKey builds the record key for a resume kind and owner id.
// Kind is validated by resumeFields before this is used.
func resumeKey(kind, id string) string {
	return "resumes/" + kind + "/" + id
}

// resumeFields maps a resume kind to its completeness field set.
func resumeFields(kind string) (provenance.FieldSet, error) {
	switch kind {
	case "borrower":
		return provenance.BorrowerFields, nil
	case "project":
		return provenance.ProjectFields, nil
	default:
		return provenance.FieldSet{}, fmt.Errorf("unknown resume kind %q", kind)
	}
}

// resumeParams validates the kind and id route params. The id becomes
// a record-key segment, so it gets the identifier guard.
func resumeParams(c *gin.Context) (string, string, provenance.FieldSet, bool) {
	kind, id := c.Param("kind"), c.Param("id")
	fields, err := resumeFields(kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", provenance.FieldSet{}, false
	}
	if err := validation.ValidateID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", provenance.FieldSet{}, false
	}
	return kind, id, fields, true
}

// auxEntries pulls the principals list out of the flat projection for
// completeness scoring.
func auxEntries(flat map[string]any) []any {
	if arr, ok := flat["principals"].([]any); ok {
		return arr
	}
	return nil
}

func resumeResponse(key string, view reconcile.View, fields provenance.FieldSet) datatypes.ResumeResponse {
	resp := datatypes.ResumeResponse{
		Key:            key,
		Content:        view.Flat,
		Metadata:       view.Meta,
		Completeness:   provenance.Completeness(view.Flat, auxEntries(view.Flat), fields),
		RemoteUpdating: view.RemoteUpdating,
		RemoteUpdated:  view.RemoteUpdated,
	}
	if view.Record != nil {
		resp.Version = view.Record.Version
		resp.LockedFields = view.Record.LockedFields
	}
	return resp
}

// GetResume returns the cached view of a resume: the flat projection,
// provenance metadata, completeness, and the remote-update banner
// state. Serves from the reconciler's cache; no store round trip on
// the read path.
func GetResume(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, id, fields, ok := resumeParams(c)
		if !ok {
			return
		}
		key := resumeKey(kind, id)
		rec, err := reg.For(c.Request.Context(), key, fields)
		if err != nil {
			slog.Error("Failed to start reconciler", "key", key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load resume"})
			return
		}
		c.JSON(http.StatusOK, resumeResponse(key, rec.Snapshot(), fields))
	}
}

// SaveResume applies a field update through the reconciler: merge over
// the latest stored content, optimistic cache replacement, echo
// suppression for the self-write, then the store put. Project resume
// saves fan out a resume_updated event to the project's members; the
// first save of a project also provisions its document folders.
func SaveResume(reg *Registry, st store.Store, fanout *notify.Fanout, bucket Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, id, fields, ok := resumeParams(c)
		if !ok {
			return
		}

		var req datatypes.ResumeSaveRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		actor := ""
		if info := middleware.GetAuthInfo(c); info != nil {
			actor = info.UserID
		}

		key := resumeKey(kind, id)
		rec, err := reg.For(c.Request.Context(), key, fields)
		if err != nil {
			slog.Error("Failed to start reconciler", "key", key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load resume"})
			return
		}

		saved, err := rec.Save(c.Request.Context(), st, req.Updates, req.Metadata, actor)
		if err != nil {
			slog.Error("Resume save failed", "key", key, "actor", actor, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save resume"})
			return
		}

		// A version-1 save is the project's first write; create its
		// document folders so they show up before any upload.
		if bucket != nil && kind == "project" && saved.Version == 1 {
			if err := bucket.EnsureProjectFolders(c.Request.Context(), id); err != nil {
				slog.Error("Project folder provisioning failed", "project", id, "error", err)
			}
		}

		// Borrower resumes are not project-scoped, so only project
		// resume saves notify.
		if fanout != nil && kind == "project" {
			event := &notify.DomainEvent{
				ID:        fmt.Sprintf("resume-updated-%s-v%d", id, saved.Version),
				Type:      notify.EventResumeUpdated,
				ProjectID: id,
				ActorID:   actor,
				CreatedAt: saved.UpdatedAt,
			}
			if _, err := fanout.Process(c.Request.Context(), event); err != nil {
				slog.Error("Resume notification fan-out failed", "key", key, "error", err)
			}
		}

		c.JSON(http.StatusOK, resumeResponse(key, rec.Snapshot(), fields))
	}
}

// AckResumeBanner clears the remote-update banner after the dashboard
// has shown it.
func AckResumeBanner(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, id, fields, ok := resumeParams(c)
		if !ok {
			return
		}
		key := resumeKey(kind, id)
		rec, err := reg.For(c.Request.Context(), key, fields)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load resume"})
			return
		}
		rec.AckRemoteUpdate()
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
	}
}

// LockResumeFields updates which fields are advisor-locked. Locked
// fields are dropped from AI extraction updates and split out of
// content on merge.
func LockResumeFields(reg *Registry, st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, id, fields, ok := resumeParams(c)
		if !ok {
			return
		}

		var req datatypes.LockFieldsRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		actor := ""
		if info := middleware.GetAuthInfo(c); info != nil {
			actor = info.UserID
		}

		key := resumeKey(kind, id)
		rec, err := reg.For(c.Request.Context(), key, fields)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load resume"})
			return
		}

		// Locks ride the same merge path as content, keyed under
		// _lockedFields so provenance splits them out.
		updates := map[string]any{"_lockedFields": lockMapToAny(req.Fields)}
		if _, err := rec.Save(c.Request.Context(), st, updates, nil, actor); err != nil {
			slog.Error("Lock update failed", "key", key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update locks"})
			return
		}
		c.JSON(http.StatusOK, resumeResponse(key, rec.Snapshot(), fields))
	}
}

func lockMapToAny(in map[string]bool) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
