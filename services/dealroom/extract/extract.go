// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract runs AI-assisted field extraction over deal documents
// and transcript summarization over recorded meetings.
//
// Extraction output is attributed: every extracted field comes back as
// a provenance envelope pointing at the source document, so a user can
// always see which value was typed and which was pulled from an OM.
// Locked fields are filtered out before extracted values are merged, so
// an automated fill never overwrites a value the user pinned.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/provenance"
)

// Completer is the LLM backend contract. The OpenAI client implements
// it; tests plug in canned responses.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// OpenAICompleter backs Completer with the chat completions API.
// Requests are throttled client-side so bulk extraction jobs stay
// under the account's requests-per-minute ceiling.
type OpenAICompleter struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAICompleter reads OPENAI_API_KEY (falling back to the mounted
// secret), OPENAI_MODEL, and OPENAI_RPM from the environment.
func NewOpenAICompleter() (*OpenAICompleter, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read the OpenAI API key from mounted secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	rpm := 60
	if v := os.Getenv("OPENAI_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			rpm = parsed
		} else {
			slog.Warn("Invalid OPENAI_RPM value, using default", "value", v, "default", rpm)
		}
	}
	return &OpenAICompleter{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// Complete implements Completer.
func (o *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

const extractionSystemPrompt = `You are a data extraction assistant for a commercial real estate financing platform. You read borrower and deal documents (offering memoranda, intake forms, track-record decks) and extract structured profile fields. Return ONLY a JSON object, no markdown formatting, no code blocks.`

// extractedField is the per-field shape the model is asked to return.
type extractedField struct {
	Value    any      `json:"value"`
	Warnings []string `json:"warnings,omitempty"`
}

// UnmarshalJSON accepts both the requested {"value": ...} shape and a
// bare scalar or array, which models return despite instructions.
func (f *extractedField) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		if rawValue, ok := obj["value"]; ok {
			if err := json.Unmarshal(rawValue, &f.Value); err != nil {
				return err
			}
			if rawWarnings, ok := obj["warnings"]; ok {
				if err := json.Unmarshal(rawWarnings, &f.Warnings); err != nil {
					return err
				}
			}
			return nil
		}
		// An object without "value" is itself the extracted value.
	}
	return json.Unmarshal(data, &f.Value)
}

// Extractor turns document text into provenance-attributed field
// envelopes.
type Extractor struct {
	completer Completer
	logger    *slog.Logger
}

// NewExtractor builds an Extractor over the given backend.
func NewExtractor(completer Completer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{completer: completer, logger: logger}
}

// Fields extracts the given field names from document text. Every
// returned envelope is attributed to documentName. Fields the model
// cannot find are absent from the result.
func (e *Extractor) Fields(ctx context.Context, documentName, text string, fieldNames []string) (map[string]provenance.Envelope, error) {
	prompt := fmt.Sprintf(`Extract the following fields from the document below. For each field you can find, return an entry {"value": ..., "warnings": [...]} where warnings lists any ambiguity you noticed. Omit fields you cannot find. Fields: %s

<document name=%q>
%s
</document>`, strings.Join(fieldNames, ", "), documentName, text)

	raw, err := e.completer.Complete(ctx, extractionSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var parsed map[string]extractedField
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &parsed); err != nil {
		e.logger.Error("Failed to parse extraction response", "document", documentName, "error", err)
		return nil, fmt.Errorf("extraction returned invalid JSON: %w", err)
	}

	out := make(map[string]provenance.Envelope, len(parsed))
	for name, field := range parsed {
		if field.Value == nil {
			continue
		}
		out[name] = provenance.Envelope{
			Value:    field.Value,
			Source:   provenance.Source{Type: provenance.SourceDocument, Name: documentName},
			Warnings: field.Warnings,
		}
	}
	e.logger.Info("Extraction completed", "document", documentName, "fields", len(out))
	return out, nil
}

// Updates converts extraction envelopes into the update + metadata pair
// the merge path expects, dropping locked fields first.
func Updates(fields map[string]provenance.Envelope, locked map[string]bool) (map[string]any, map[string]provenance.FieldMeta) {
	updates := make(map[string]any, len(fields))
	meta := make(map[string]provenance.FieldMeta, len(fields))
	for name, env := range fields {
		updates[name] = env.Value
		meta[name] = provenance.FieldMeta{Source: env.Source, Warnings: env.Warnings}
	}
	updates = provenance.ApplyLocks(updates, locked)
	for name := range meta {
		if _, kept := updates[name]; !kept {
			delete(meta, name)
		}
	}
	return updates, meta
}

// StripCodeFence removes a wrapping markdown code block from a model
// response, which some models emit despite instructions.
func StripCodeFence(s string) string {
	out := strings.TrimSpace(s)
	if strings.HasPrefix(out, "```") {
		if idx := strings.Index(out, "\n"); idx >= 0 {
			out = out[idx+1:]
		} else {
			out = strings.TrimPrefix(out, "```json")
			out = strings.TrimPrefix(out, "```")
		}
		out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	}
	return strings.TrimSpace(out)
}
