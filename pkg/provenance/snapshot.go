// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provenance

// A known failure mode overwrote resume content with a boolean-only
// side-table (the locked-fields map), leaving a snapshot where every
// field reads true/false. The guard below rejects such a snapshot so the
// reconciler can fall back to the previous valid version instead of
// rendering a blank resume.

// IsCorrupted reports whether a candidate record looks like it was
// clobbered by a boolean-only write. A record is corrupted when none of
// the required fields holds a non-boolean value; a single required field
// carrying a real value is enough to classify it as valid.
func IsCorrupted(content map[string]any, fields FieldSet) bool {
	if len(content) == 0 {
		return true
	}
	flat, _ := Normalize(content)
	for _, key := range fields.Required {
		v, ok := flat[key]
		if !ok || v == nil {
			continue
		}
		if _, isBool := v.(bool); !isBool {
			return false
		}
	}
	return true
}

// SelectSnapshot picks the newest valid snapshot out of candidates
// ordered most-recent-first. When the newest candidate trips the
// corruption guard the next-most-recent valid one wins; when every
// candidate is corrupted the newest is returned anyway rather than
// failing outright, so the caller always has something to show.
func SelectSnapshot(candidates []map[string]any, fields FieldSet) (map[string]any, int) {
	if len(candidates) == 0 {
		return nil, -1
	}
	for i, c := range candidates {
		if !IsCorrupted(c, fields) {
			return c, i
		}
	}
	return candidates[0], 0
}
