// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package provenance handles the dual representation of resume fields.
//
// Resume content historically mixes two shapes for the same field: a bare
// scalar/array written by older code paths, and a rich envelope
// { value, source, warnings, original_value } written by the document
// extraction pipeline. Every consumer wants exactly one flat projection,
// so the shape decision is made once here, at the storage boundary, and
// nowhere else.
//
// # Field Envelopes
//
// An envelope carries where a value came from:
//
//	{
//	  "value": "Meridian Capital Partners LLC",
//	  "source": { "type": "document", "name": "om_draft_v3.pdf" },
//	  "warnings": ["low OCR confidence on page 4"],
//	  "original_value": "Meridian Capital LLC"
//	}
//
// Normalize unwraps envelopes into a flat map plus a side metadata map
// keyed by field. Merge goes the other direction: it forces every field
// into rich form so a freshly saved record is never shape-ambiguous.
package provenance

import (
	"math"
	"strings"
)

// Source types. Anything that is not user input records how the value
// was produced so the UI can attribute it.
const (
	SourceUserInput = "user_input"
	SourceDocument  = "document"
	SourceDerived   = "derived"
	SourceAPI       = "api"
)

// Reserved root-level keys that are never treated as resume fields.
const (
	keyMetadata     = "_metadata"
	keyLockedFields = "_lockedFields"
)

var reservedRootKeys = map[string]bool{
	"projectSections":  true,
	"borrowerSections": true,
}

// principalsKey must stay an array even when a legacy write wrapped it
// in an envelope with a non-array inner value.
const principalsKey = "principals"

// Source identifies how a field value was populated.
type Source struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Envelope is the rich form of a field value.
type Envelope struct {
	Value         any      `json:"value"`
	Source        Source   `json:"source"`
	Warnings      []string `json:"warnings"`
	OriginalValue any      `json:"original_value,omitempty"`
}

// FieldMeta is the side metadata produced by Normalize for one field.
type FieldMeta struct {
	Source        Source   `json:"source"`
	Warnings      []string `json:"warnings,omitempty"`
	OriginalValue any      `json:"original_value,omitempty"`
}

// NormalizeSource accepts every source shape that has ever been written
// and returns the canonical Source object.
//
// Handled inputs:
//  1. nil                                  -> {type: user_input}
//  2. map with "type"                      -> passed through
//  3. ["user_input"] legacy array          -> {type: user_input}
//  4. ["om_draft.pdf"] legacy array        -> {type: document, name: "om_draft.pdf"}
//  5. "user_input" legacy string           -> {type: user_input}
//  6. "om_draft.pdf" legacy string         -> {type: document, name: "om_draft.pdf"}
func NormalizeSource(input any) Source {
	switch v := input.(type) {
	case nil:
		return Source{Type: SourceUserInput}
	case Source:
		if v.Type == "" {
			return Source{Type: SourceUserInput}
		}
		return v
	case map[string]any:
		if t, ok := v["type"].(string); ok && t != "" {
			name, _ := v["name"].(string)
			return Source{Type: t, Name: name}
		}
	case []any:
		if len(v) > 0 {
			return NormalizeSource(v[0])
		}
	case string:
		if v == "" {
			return Source{Type: SourceUserInput}
		}
		normalized := strings.ToLower(strings.TrimSpace(v))
		if normalized == "user_input" || normalized == "user input" {
			return Source{Type: SourceUserInput}
		}
		return Source{Type: SourceDocument, Name: v}
	}
	return Source{Type: SourceUserInput}
}

// isEnvelope reports whether a stored field value is the rich form.
// Arrays are never envelopes; only a JSON object carrying a "value"
// key qualifies.
func isEnvelope(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasValue := m["value"]
	return hasValue
}

// hasRichMarkers reports whether a map looks like a (possibly partial)
// envelope: it carries value, source or sources. Merge uses this wider
// check because legacy writes sometimes stored source without value.
func hasRichMarkers(m map[string]any) bool {
	if _, ok := m["value"]; ok {
		return true
	}
	if _, ok := m["source"]; ok {
		return true
	}
	_, ok := m["sources"]
	return ok
}

// primarySource extracts the source input from an envelope map,
// preferring the singular "source" key over the legacy "sources" array.
func primarySource(m map[string]any) any {
	if s, ok := m["source"]; ok && s != nil {
		return s
	}
	if list, ok := m["sources"].([]any); ok && len(list) > 0 {
		return list[0]
	}
	return nil
}

func envelopeWarnings(m map[string]any) []string {
	raw, ok := m["warnings"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		if s, ok := w.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Normalize produces the canonical flat projection of a record that may
// mix flat and rich-envelope fields, plus a metadata map holding the
// provenance stripped off each envelope.
//
// Flat-only input is a no-op: the returned flat map equals the input and
// the metadata map is empty. The principals list keeps its array-ness
// even when wrapped: a wrapped non-array value is coerced to an empty
// array instead of propagating the wrong type.
func Normalize(content map[string]any) (map[string]any, map[string]FieldMeta) {
	flat := make(map[string]any, len(content))
	meta := make(map[string]FieldMeta)

	for key, raw := range content {
		if !isEnvelope(raw) {
			flat[key] = raw
			continue
		}
		env := raw.(map[string]any)
		value := env["value"]
		if key == principalsKey {
			if _, ok := value.([]any); !ok {
				value = []any{}
			}
		}
		flat[key] = value
		meta[key] = FieldMeta{
			Source:        NormalizeSource(primarySource(env)),
			Warnings:      envelopeWarnings(env),
			OriginalValue: env["original_value"],
		}
	}
	return flat, meta
}

// Merge folds a partial update into existing content, forcing every
// field into rich form on the way out. The incoming metadata map (from
// the extraction pipeline) wins over metadata already stored on a field;
// without it, a field's existing provenance is preserved and genuinely
// new values are attributed to user input.
//
// Root-level reserved keys (underscore-prefixed, section layouts) pass
// through untouched. The _lockedFields map is split off and returned
// separately because it lives in its own column, not in content.
func Merge(existing, updates map[string]any, metadata map[string]FieldMeta) (map[string]any, map[string]bool) {
	final := make(map[string]any)
	rootKeys := make(map[string]any)

	for key, value := range updates {
		if key == keyMetadata {
			continue
		}
		if strings.HasPrefix(key, "_") || reservedRootKeys[key] {
			rootKeys[key] = value
		}
	}

	for key, value := range updates {
		if key == keyMetadata || strings.HasPrefix(key, "_") || reservedRootKeys[key] {
			continue
		}
		// An update value may arrive already in rich form. Unwrap it so
		// the stored field never nests one envelope inside another; its
		// own provenance stands in for missing side metadata.
		if env, ok := value.(map[string]any); ok && hasRichMarkers(env) {
			if m, found := metadata[key]; found {
				final[key] = richField(env["value"], m.Source, m.Warnings, m.OriginalValue)
			} else {
				final[key] = richField(env["value"], NormalizeSource(primarySource(env)), envelopeWarnings(env), env["original_value"])
			}
			continue
		}
		if metadata != nil {
			m, ok := metadata[key]
			if !ok {
				m = FieldMeta{Source: Source{Type: SourceUserInput}}
			}
			final[key] = richField(value, m.Source, m.Warnings, m.OriginalValue)
			continue
		}
		// No metadata on the update: keep whatever provenance the
		// existing field already carried.
		if prev, ok := existing[key].(map[string]any); ok && hasRichMarkers(prev) {
			final[key] = richField(value, NormalizeSource(primarySource(prev)), envelopeWarnings(prev), prev["original_value"])
		} else {
			final[key] = richField(value, Source{Type: SourceUserInput}, nil, nil)
		}
	}

	// Carry over existing fields the update did not touch.
	for key, value := range existing {
		if _, done := final[key]; done {
			continue
		}
		if _, isRoot := rootKeys[key]; isRoot {
			continue
		}
		if m, ok := value.(map[string]any); ok && hasRichMarkers(m) {
			final[key] = richField(m["value"], NormalizeSource(primarySource(m)), envelopeWarnings(m), m["original_value"])
		} else if value != nil {
			if _, isMap := value.(map[string]any); !isMap {
				final[key] = richField(value, Source{Type: SourceUserInput}, nil, nil)
			} else {
				final[key] = value
			}
		} else {
			final[key] = value
		}
	}

	var locked map[string]bool
	if raw, ok := rootKeys[keyLockedFields]; ok {
		delete(rootKeys, keyLockedFields)
		locked = coerceLockMap(raw)
	}

	merged := make(map[string]any, len(rootKeys)+len(final))
	for k, v := range rootKeys {
		merged[k] = v
	}
	for k, v := range final {
		merged[k] = v
	}
	return merged, locked
}

func richField(value any, source Source, warnings []string, original any) map[string]any {
	if warnings == nil {
		warnings = []string{}
	}
	field := map[string]any{
		"value":    value,
		"source":   map[string]any{"type": source.Type},
		"warnings": warnings,
	}
	if source.Name != "" {
		field["source"].(map[string]any)["name"] = source.Name
	}
	if original != nil {
		field["original_value"] = original
	}
	return field
}

func coerceLockMap(raw any) map[string]bool {
	m, ok := raw.(map[string]any)
	if !ok {
		if typed, ok := raw.(map[string]bool); ok {
			return typed
		}
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		if b, ok := v.(bool); ok {
			out[k] = b
		}
	}
	return out
}

// ApplyLocks drops updates to fields the user has locked against
// automatic overwrite. Extraction results go through here before Merge
// so a locked field's value survives an automated fill.
func ApplyLocks(updates map[string]any, locked map[string]bool) map[string]any {
	if len(locked) == 0 {
		return updates
	}
	out := make(map[string]any, len(updates))
	for k, v := range updates {
		if locked[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// FieldSet pins which fields count toward completeness for one record
// kind. Required fields score a full point, optional fields half.
type FieldSet struct {
	Required []string
	Optional []string
}

// BorrowerFields is the scoring set for borrower resumes.
var BorrowerFields = FieldSet{
	Required: []string{
		"fullLegalName",
		"primaryEntityName",
		"primaryEntityStructure",
		"contactEmail",
		"contactPhone",
		"contactAddress",
		"yearsCREExperienceRange",
		"assetClassesExperience",
		"geographicMarketsExperience",
		"totalDealValueClosedRange",
		"existingLenderRelationships",
		"creditScoreRange",
	},
	Optional: []string{
		"bioNarrative",
		"linkedinUrl",
		"websiteUrl",
		"yearFounded",
	},
}

// ProjectFields is the scoring set for project resumes (offering
// memorandum drafts).
var ProjectFields = FieldSet{
	Required: []string{
		"projectName",
		"assetType",
		"dealType",
		"propertyAddress",
		"loanAmountRequested",
		"purchasePrice",
		"ltvRequested",
		"targetCloseDate",
	},
	Optional: []string{
		"projectNarrative",
		"exitStrategy",
		"businessPlanSummary",
		"capexBudget",
	},
}

const (
	auxFlatPoints     = 1.0
	auxPerEntryPoints = 0.5
	auxEntryCap       = 3
)

// populated reports whether a flat field value counts toward
// completeness: a non-empty string or a non-empty array.
func populated(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	default:
		return false
	}
}

// Completeness computes the 0-100 completeness percentage of a record
// against a field set, plus an auxiliary list (principals/participants)
// that contributes a flat point for being non-empty and half a point per
// entry up to three entries.
//
// The record may be flat or mixed; envelopes are unwrapped first. Pure
// function, no side effects.
func Completeness(content map[string]any, aux []any, fields FieldSet) int {
	flat, _ := Normalize(content)

	earned := 0.0
	for _, key := range fields.Required {
		if populated(flat[key]) {
			earned++
		}
	}
	for _, key := range fields.Optional {
		if populated(flat[key]) {
			earned += 0.5
		}
	}
	if len(aux) > 0 {
		entries := len(aux)
		if entries > auxEntryCap {
			entries = auxEntryCap
		}
		earned += auxFlatPoints + auxPerEntryPoints*float64(entries)
	}

	maxPossible := float64(len(fields.Required)) + 0.5*float64(len(fields.Optional)) +
		auxFlatPoints + auxPerEntryPoints*auxEntryCap
	if maxPossible == 0 {
		return 0
	}
	pct := int(math.Round(100 * earned / maxPossible))
	if pct > 100 {
		pct = 100
	}
	return pct
}
