// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for
// security-critical operations.
//
// Identifiers from URL parameters end up inside record-store keys and
// object-storage paths. Validating them here prevents path traversal
// and key-namespace injection.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches record and resource identifiers: UUIDs, short ids,
// and user handles. No slashes, no dots, nothing that can cross a key
// segment boundary.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateID validates an identifier used as one segment of a record
// key or storage path.
//
// Valid identifiers:
//   - 1-64 characters
//   - Letters, digits, underscores, hyphens
//   - Must start with a letter or digit
//
// Returns an error naming the offending value if invalid.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier %q: only letters, digits, '-' and '_' are allowed (max 64 chars)", id)
	}
	return nil
}

// ValidateFileName validates an uploaded file's name before it becomes
// part of an object path. Rejects separators, traversal sequences, and
// control characters; enforces a sane length.
func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("file name must not be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("file name too long: %d chars (max 255)", len(name))
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("file name %q must not contain path separators", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("file name %q must not contain '..'", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("file name contains control characters")
		}
	}
	return nil
}
