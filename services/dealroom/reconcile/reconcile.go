// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reconcile keeps one session's view of a record coherent with
// remote writes to the same key.
//
// A session edits optimistically: Save merges into the latest known
// record, updates the local cache immediately, then persists. Change
// notifications for the key flow back through the same store, including
// the echo of the session's own write. The store provides no
// write-ack-to-notification correlation id, so self-echoes are detected
// with a bounded-time suppression window instead of an exact handshake.
//
// Known trade-off: a genuinely remote write landing inside the
// suppression window is swallowed as if it were the echo. That false
// negative is accepted in exchange for never showing a self-conflict
// banner; the window length is a tunable, not a correctness guarantee.
//
// Remote updates replace the cached record wholesale, discarding any
// uncommitted local edits. That is existing product behavior and is
// surfaced to the UI through the RemoteUpdated flag rather than being
// silently merged away.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paramvora-capmatch/capmatch-dev-sub007/pkg/provenance"
	"github.com/paramvora-capmatch/capmatch-dev-sub007/services/dealroom/store"
)

const (
	// DefaultSuppressionWindow bounds how long a self-echo is expected
	// to take. Observed round trips sit well under a second; values
	// between 1s and 5s all behave acceptably.
	DefaultSuppressionWindow = 3 * time.Second

	// DefaultRemoteGrace is how long the remote-update banner flag
	// stays set after a remote change is applied.
	DefaultRemoteGrace = 2 * time.Second
)

// Source is the narrow change-source contract the reconciler needs. The
// badger store satisfies it; tests plug in fakes.
type Source interface {
	Get(ctx context.Context, key string) (*store.Record, error)
	Subscribe(key string, fn func(store.Change)) (cancel func())
}

// Writer is the persistence half of the write path.
type Writer interface {
	Put(ctx context.Context, rec *store.Record) (*store.Record, error)
}

// EchoSuppressor marks an outgoing write so the notification it echoes
// back is not treated as a remote update. Disarmed by the first matching
// notification or by expiry, whichever comes first.
type EchoSuppressor struct {
	mu      sync.Mutex
	armedAt time.Time
	armed   bool
	window  time.Duration
	now     func() time.Time
}

// NewEchoSuppressor builds a suppressor with the given window; zero
// means DefaultSuppressionWindow.
func NewEchoSuppressor(window time.Duration) *EchoSuppressor {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return &EchoSuppressor{window: window, now: time.Now}
}

// Arm flags the next notification as a probable self-echo.
func (e *EchoSuppressor) Arm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed = true
	e.armedAt = e.now()
}

// Consume disarms and reports true when armed and inside the window.
// An expired flag is cleared and reported as not suppressed.
func (e *EchoSuppressor) Consume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.armed {
		return false
	}
	e.armed = false
	return e.now().Sub(e.armedAt) <= e.window
}

// View is the snapshot handed to the UI layer: the canonical flat
// projection, the provenance side map, and the conflict-banner flags.
type View struct {
	Record         *store.Record
	Flat           map[string]any
	Meta           map[string]provenance.FieldMeta
	RemoteUpdating bool
	RemoteUpdated  bool
}

// Reconciler owns the local cache for one record key.
type Reconciler struct {
	key    string
	src    Source
	echo   *EchoSuppressor
	fields provenance.FieldSet
	grace  time.Duration
	logger *slog.Logger

	mu             sync.Mutex
	rec            *store.Record
	flat           map[string]any
	meta           map[string]provenance.FieldMeta
	remoteUpdating bool
	remoteUpdated  bool

	// seq orders re-fetches so a stale in-flight response cannot
	// overwrite fresher state.
	seq     atomic.Uint64
	applied atomic.Uint64

	cancel func()
	graceT *time.Timer
}

// Options tune a Reconciler; the zero value uses defaults.
type Options struct {
	SuppressionWindow time.Duration
	RemoteGrace       time.Duration
	Fields            provenance.FieldSet
	Logger            *slog.Logger
}

// New builds a Reconciler for key over src. Call Start to load the
// initial record and begin watching.
func New(key string, src Source, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.RemoteGrace
	if grace <= 0 {
		grace = DefaultRemoteGrace
	}
	fields := opts.Fields
	if len(fields.Required) == 0 {
		fields = provenance.BorrowerFields
	}
	return &Reconciler{
		key:    key,
		src:    src,
		echo:   NewEchoSuppressor(opts.SuppressionWindow),
		fields: fields,
		grace:  grace,
		logger: logger,
	}
}

// Start fetches the current record and subscribes for changes. A missing
// record is not an error; the cache simply starts empty and fills on the
// first notification or save.
func (r *Reconciler) Start(ctx context.Context) error {
	rec, err := r.src.Get(ctx, r.key)
	switch {
	case err == nil:
		r.replace(rec, false)
	case errors.Is(err, store.ErrNotFound):
	default:
		return err
	}
	r.cancel = r.src.Subscribe(r.key, r.onChange)
	return nil
}

// Stop unsubscribes from the change source.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Lock()
	if r.graceT != nil {
		r.graceT.Stop()
	}
	r.mu.Unlock()
}

// Snapshot returns the current view.
func (r *Reconciler) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		Record:         r.rec.Clone(),
		Flat:           r.flat,
		Meta:           r.meta,
		RemoteUpdating: r.remoteUpdating,
		RemoteUpdated:  r.remoteUpdated,
	}
}

// AckRemoteUpdate clears the conflict banner flag once the UI has shown
// it.
func (r *Reconciler) AckRemoteUpdate() {
	r.mu.Lock()
	r.remoteUpdated = false
	r.mu.Unlock()
}

// Save merges updates into the latest stored record and persists the
// result, updating the local cache optimistically. The record is
// re-fetched immediately before the merge to shrink the lost-update
// window under concurrent editors; the echo suppressor is armed before
// the write goes out.
func (r *Reconciler) Save(ctx context.Context, w Writer, updates map[string]any, meta map[string]provenance.FieldMeta, actor string) (*store.Record, error) {
	latest, err := r.src.Get(ctx, r.key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	existing := map[string]any{}
	var lockedBefore map[string]bool
	if latest != nil {
		existing = latest.Content
		lockedBefore = latest.LockedFields
	}

	merged, locked := provenance.Merge(existing, updates, meta)
	if locked == nil {
		locked = lockedBefore
	}

	rec := &store.Record{
		Key:          r.key,
		Content:      merged,
		LockedFields: locked,
		UpdatedBy:    actor,
	}

	// Optimistic local apply before the persist call. A failed persist
	// leaves the optimistic state in place; the next notification or
	// save re-syncs it.
	r.replace(rec, false)
	r.echo.Arm()

	stored, err := w.Put(ctx, rec)
	if err != nil {
		return nil, err
	}
	r.replace(stored, false)
	return stored, nil
}

// onChange handles one notification for the watched key.
func (r *Reconciler) onChange(ch store.Change) {
	if r.echo.Consume() {
		r.logger.Debug("suppressed self-echo notification", "key", r.key)
		return
	}

	r.mu.Lock()
	r.remoteUpdating = true
	r.mu.Unlock()

	// Re-fetch the authoritative record rather than trusting the pushed
	// payload; it may be stale relative to a fast follow-up write.
	seq := r.seq.Add(1)
	ctx, cancelFetch := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFetch()

	rec, err := r.src.Get(ctx, r.key)
	if err != nil {
		// Fail safe: keep showing last-known-good state.
		r.logger.Error("remote update re-fetch failed, keeping cached record",
			"key", r.key, "error", err)
		r.mu.Lock()
		r.remoteUpdating = false
		r.mu.Unlock()
		return
	}

	// Ignore responses that lost the race to a newer re-fetch.
	for {
		applied := r.applied.Load()
		if seq <= applied {
			r.logger.Debug("dropping stale re-fetch response", "key", r.key, "seq", seq)
			return
		}
		if r.applied.CompareAndSwap(applied, seq) {
			break
		}
	}

	r.replace(rec, true)

	r.mu.Lock()
	r.remoteUpdating = false
	if r.graceT != nil {
		r.graceT.Stop()
	}
	r.graceT = time.AfterFunc(r.grace, r.AckRemoteUpdate)
	r.mu.Unlock()
}

// replace swaps the cached record and re-derives the normalized view.
// When multiple snapshots are available upstream the corruption guard
// has already chosen among them; here a boolean-only record is still
// refused in favour of the current cache.
func (r *Reconciler) replace(rec *store.Record, remote bool) {
	if rec == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if remote && r.rec != nil && provenance.IsCorrupted(rec.Content, r.fields) && !provenance.IsCorrupted(r.rec.Content, r.fields) {
		r.logger.Warn("refusing corrupted remote snapshot", "key", r.key, "version", rec.Version)
		return
	}
	r.rec = rec.Clone()
	r.flat, r.meta = provenance.Normalize(rec.Content)
	if remote {
		r.remoteUpdated = true
	}
}
