// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MeetingSummary is the structured summary generated from a meeting
// transcript.
type MeetingSummary struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	ExecutiveSummary string   `json:"executive_summary"`
	KeyPoints        []string `json:"key_points"`
	ImportantNumbers []string `json:"important_numbers"`
	ActionItems      []string `json:"action_items"`
	SpeakerInsights  []string `json:"speaker_insights"`
	QuestionsRaised  []string `json:"questions_raised"`
	OpenQuestions    []string `json:"open_questions"`
}

const summarySystemPrompt = `You summarize meeting transcripts for a commercial real estate financing platform. Discussions cover deal structures, loan terms, capital stack, property details and next steps for borrowers and lenders. Return ONLY a JSON object, no markdown formatting, no code blocks.`

const summaryPromptTemplate = `Create a detailed summary of this meeting transcript.

Title: a concise, descriptive title (3-8 words)
Description: one sentence on the meeting's purpose
Executive Summary: 2-3 sentence overview
Key Points Discussed, Important Numbers/Metrics, Action Items, Speaker Insights, Questions Raised, Open Questions: lists of strings (empty list when none)

<transcript>
%s
</transcript>

Respond with JSON keys: title, description, executive_summary, key_points, important_numbers, action_items, speaker_insights, questions_raised, open_questions.`

// Summarize generates a structured summary from a plain-text
// transcript. Call ParseWebVTT first when starting from a raw VTT file.
func (e *Extractor) Summarize(ctx context.Context, transcript string) (*MeetingSummary, error) {
	raw, err := e.completer.Complete(ctx, summarySystemPrompt, fmt.Sprintf(summaryPromptTemplate, transcript))
	if err != nil {
		return nil, err
	}
	var summary MeetingSummary
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &summary); err != nil {
		e.logger.Error("Failed to parse summary response", "error", err)
		return nil, fmt.Errorf("summary returned invalid JSON: %w", err)
	}
	return &summary, nil
}

var (
	speakerTagRe = regexp.MustCompile(`^<v>([^<]+):</v>(.*)`)
	timestampRe  = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3}`)
)

// ParseWebVTT extracts plain "Speaker: text" lines from a WebVTT
// transcript, dropping headers, cue timestamps and empty lines.
func ParseWebVTT(vtt string) string {
	var out []string
	for _, line := range strings.Split(vtt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" ||
			strings.HasPrefix(line, "WEBVTT") ||
			strings.HasPrefix(line, "NOTE") ||
			strings.HasPrefix(line, "transcript:") ||
			timestampRe.MatchString(line) {
			continue
		}
		if m := speakerTagRe.FindStringSubmatch(line); m != nil {
			out = append(out, strings.TrimSpace(m[1])+": "+strings.TrimSpace(m[2]))
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
