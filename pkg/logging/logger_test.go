// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestLoggerEmitsJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "dealroom", Output: &buf})
	defer logger.Close()

	logger.Info("record saved", "key", "resumes/borrower/b1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "record saved", line["msg"])
	assert.Equal(t, "dealroom", line["service"])
	assert.Equal(t, "resumes/borrower/b1", line["key"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})
	defer logger.Close()

	logger.Info("not emitted")
	logger.Warn("emitted")

	assert.NotContains(t, buf.String(), "not emitted")
	assert.Contains(t, buf.String(), "emitted")
}

func TestLoggerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf}).With("projectId", "prj-1")
	defer logger.Close()

	logger.Info("hello")
	assert.Contains(t, buf.String(), `"projectId":"prj-1"`)
}

func TestLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "dealroom", LogDir: dir, Output: &buf})

	logger.Info("both streams")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "close is idempotent")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "dealroom_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "both streams")
	assert.Contains(t, buf.String(), "both streams")
}
