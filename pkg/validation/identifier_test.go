// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", false},
		{"short id", "prj-1", false},
		{"underscore", "user_42", false},
		{"single char", "a", false},
		{"empty", "", true},
		{"slash", "a/b", true},
		{"traversal", "../etc", true},
		{"leading hyphen", "-abc", true},
		{"space", "a b", true},
		{"too long", strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr bool
	}{
		{"plain", "rent-roll.pdf", false},
		{"spaces ok", "offering memorandum.pdf", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"forward slash", "a/b.pdf", true},
		{"backslash", `a\b.pdf`, true},
		{"traversal", "..secret", true},
		{"control char", "bad\x00name", true},
		{"too long", strings.Repeat("a", 256), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.file)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFileName(%q) error = %v, wantErr %v", tt.file, err, tt.wantErr)
			}
		})
	}
}
