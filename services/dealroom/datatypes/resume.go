// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response types for the
// dealroom service.
//
// This file contains types for borrower and project resume endpoints.
// For meeting types see meetings.go; for notification types see
// notifications.go.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/provenance"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate is the validator instance shared by all dealroom datatypes.
var validate = validator.New()

// MaxFieldsPerSave is the maximum number of fields one save request may
// touch. Resume forms are large but bounded; anything past this is a
// malformed or abusive payload.
const MaxFieldsPerSave = 200

// =============================================================================
// Resume Types
// =============================================================================

// ResumeSaveRequest is the body for PUT /v1/resumes/:kind/:id.
//
// Updates maps field names to either flat values or rich envelopes
// ({"value": ..., "source": ...}); both forms are accepted and
// normalized server-side. Metadata optionally carries provenance for
// flat updates, keyed by field name.
type ResumeSaveRequest struct {
	Updates  map[string]any                  `json:"updates" validate:"required,min=1"`
	Metadata map[string]provenance.FieldMeta `json:"metadata,omitempty"`
}

// Validate checks the request after JSON binding.
func (r *ResumeSaveRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if len(r.Updates) > MaxFieldsPerSave {
		return fmt.Errorf("too many fields in one save: %d (max %d)", len(r.Updates), MaxFieldsPerSave)
	}
	return nil
}

// ResumeResponse is the canonical read shape for a resume: the flat
// projection plus per-field provenance, the record version, and the
// remote-update banner state.
type ResumeResponse struct {
	Key            string                          `json:"key"`
	Version        int64                           `json:"version"`
	Content        map[string]any                  `json:"content"`
	Metadata       map[string]provenance.FieldMeta `json:"metadata"`
	LockedFields   map[string]bool                 `json:"locked_fields,omitempty"`
	Completeness   int                             `json:"completeness"`
	RemoteUpdating bool                            `json:"remote_updating"`
	RemoteUpdated  bool                            `json:"remote_updated"`
}

// LockFieldsRequest is the body for POST /v1/resumes/:kind/:id/locks.
type LockFieldsRequest struct {
	Fields map[string]bool `json:"fields" validate:"required,min=1"`
}

// Validate checks the request after JSON binding.
func (r *LockFieldsRequest) Validate() error {
	return validate.Struct(r)
}
