/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"canvasqr/internal/autosave"
	"canvasqr/internal/canvas"
	"canvasqr/internal/history"
	applog "canvasqr/internal/log"
)

// LoadFunc fetches the stored document of a design when a session opens.
type LoadFunc func(ctx context.Context, designID string) (*canvas.Document, error)

// Registry maps design ids to live sessions. The history budget is shared
// across all of them.
type Registry struct {
	hist  *history.Manager
	saver autosave.Saver
	opts  Options
	l     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(saver autosave.Saver, hist *history.Manager, opts Options) *Registry {
	if hist == nil {
		hist = history.NewManager(history.Config{})
	}
	return &Registry{
		hist:     hist,
		saver:    saver,
		opts:     opts.withDefaults(),
		l:        applog.WithComponent("editor"),
		sessions: map[string]*Session{},
	}
}

// Open returns the live session of a design, loading it on first use.
func (r *Registry) Open(ctx context.Context, designID string, load LoadFunc) (*Session, error) {
	if designID == "" {
		return nil, fmt.Errorf("%w: empty design id", ErrInvalidInput)
	}
	r.mu.Lock()
	if s, ok := r.sessions[designID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	var doc *canvas.Document
	if load != nil {
		d, err := load(ctx, designID)
		if err != nil {
			return nil, err
		}
		doc = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another caller may have opened it while we were loading
	if s, ok := r.sessions[designID]; ok {
		return s, nil
	}
	s := NewSession(designID, doc, r.hist, r.saver, r.opts)
	r.sessions[designID] = s
	r.l.Debug("session opened", slog.String("design_id", designID))
	return s, nil
}

// Get returns an already open session.
func (r *Registry) Get(designID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[designID]
	return s, ok
}

// IDs lists open sessions in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close flushes and drops one session.
func (r *Registry) Close(ctx context.Context, designID string) error {
	r.mu.Lock()
	s, ok := r.sessions[designID]
	delete(r.sessions, designID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// FlushAll writes every pending autosave. Failures are joined.
func (r *Registry) FlushAll(ctx context.Context) error {
	var errs []error
	for _, s := range r.snapshot() {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// CloseAll flushes and drops every session.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := r.sessions
	r.sessions = map[string]*Session{}
	r.mu.Unlock()
	var errs []error
	for id, s := range all {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// EvictIdle closes sessions untouched for longer than maxIdle and reports
// how many were closed.
func (r *Registry) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	n := 0
	for _, s := range r.snapshot() {
		if s.LastUsed().After(cutoff) || s.Dirty() {
			continue
		}
		if err := r.Close(ctx, s.ID()); err != nil {
			r.l.Warn("evict session", slog.String("design_id", s.ID()), slog.Any("err", err))
		}
		n++
	}
	return n
}

// HistoryStats reports the shared history usage.
func (r *Registry) HistoryStats() history.Stats { return r.hist.Stats() }

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
