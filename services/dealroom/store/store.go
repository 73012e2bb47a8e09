// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store is the keyed record store behind the deal room: borrower
// resumes, project resumes, meetings and notifications all live here as
// versioned JSON documents.
//
// The store doubles as the change source for realtime consumers: every
// committed write fans out an insert/update notification to subscribers
// of that key. Delivery is at-least-once and carries no ordering
// guarantee across distinct keys, which is exactly the contract the
// reconciler is written against. Subscribers who need the authoritative
// state re-fetch by key instead of trusting the pushed payload.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get for keys with no record.
var ErrNotFound = errors.New("store: record not found")

// ChangeKind distinguishes first writes from updates.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

// Record is a versioned document-shaped payload identified by a stable
// key. Records are superseded by new versions, never structurally
// deleted.
type Record struct {
	Key          string          `json:"key"`
	Version      int64           `json:"version"`
	UpdatedAt    time.Time       `json:"updated_at"`
	UpdatedBy    string          `json:"updated_by,omitempty"`
	Content      map[string]any  `json:"content"`
	LockedFields map[string]bool `json:"locked_fields,omitempty"`
}

// Clone returns a shallow-content copy safe to hand to callers that
// mutate top-level fields.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Content = make(map[string]any, len(r.Content))
	for k, v := range r.Content {
		out.Content[k] = v
	}
	if r.LockedFields != nil {
		out.LockedFields = make(map[string]bool, len(r.LockedFields))
		for k, v := range r.LockedFields {
			out.LockedFields[k] = v
		}
	}
	return &out
}

// Change is one notification delivered to subscribers. Record is the row
// as of the write that produced the notification; it may already be
// stale by the time it is handled.
type Change struct {
	Key    string     `json:"key"`
	Kind   ChangeKind `json:"kind"`
	Record *Record    `json:"record"`
}

// Store is the narrow contract the rest of the service programs against.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec *Record) (*Record, error)
	List(ctx context.Context, prefix string) ([]*Record, error)
	Subscribe(key string, fn func(Change)) (cancel func())
}

// Badger is the embedded implementation of Store.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[int]func(Change)
	next int
}

// Config holds the knobs for opening the store.
type Config struct {
	// Path is the directory for the database files. Ignored in memory.
	Path string
	// InMemory disables disk persistence. Used by tests.
	InMemory bool
	// SyncWrites forces fsync on commit.
	SyncWrites bool
	// Logger receives store-level log lines. Badger's own logging is
	// disabled.
	Logger *slog.Logger
}

// Open creates the badger-backed store.
func Open(cfg Config) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Badger{
		db:     db,
		logger: logger,
		subs:   make(map[string]map[int]func(Change)),
	}, nil
}

// Close shuts down the underlying database.
func (s *Badger) Close() error {
	return s.db.Close()
}

// Get returns the latest record for key, or ErrNotFound.
func (s *Badger) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return &rec, nil
}

// Put upserts a record, bumping its version, and notifies subscribers of
// the key. The stored record is returned with version and timestamp
// filled in.
func (s *Badger) Put(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil || rec.Key == "" {
		return nil, errors.New("store: record key is required")
	}
	stored := rec.Clone()
	kind := ChangeInsert

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(rec.Key))
		switch {
		case err == nil:
			kind = ChangeUpdate
			var prev Record
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &prev)
			}); verr == nil {
				stored.Version = prev.Version + 1
			} else {
				stored.Version++
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			stored.Version = 1
		default:
			return err
		}
		stored.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return txn.Set([]byte(rec.Key), payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write record %s: %w", rec.Key, err)
	}

	s.publish(Change{Key: stored.Key, Kind: kind, Record: stored.Clone()})
	return stored, nil
}

// List returns all records whose key starts with prefix.
func (s *Badger) List(ctx context.Context, prefix string) ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records under %s: %w", prefix, err)
	}
	return out, nil
}

// Subscribe registers fn for change notifications on key. A key ending
// in "/" subscribes to the whole prefix. The returned cancel func is
// idempotent.
func (s *Badger) Subscribe(key string, fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(Change))
	}
	id := s.next
	s.next++
	s.subs[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[key], id)
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
		})
	}
}

// publish dispatches a change to exact-key and prefix subscribers.
// Dispatch is asynchronous per subscriber; a slow consumer does not hold
// up the write path.
func (s *Badger) publish(ch Change) {
	s.mu.Lock()
	var targets []func(Change)
	for pattern, fns := range s.subs {
		match := pattern == ch.Key ||
			(strings.HasSuffix(pattern, "/") && strings.HasPrefix(ch.Key, pattern))
		if !match {
			continue
		}
		for _, fn := range fns {
			targets = append(targets, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range targets {
		go fn(ch)
	}
}
