/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package history keeps snapshot-based undo/redo stacks per design.
// The top of a design's undo stack is always its current state, so undo
// needs at least two entries. Nothing here touches persistence.
package history

import (
	"sync"
	"time"
)

// Snapshot is a serialized canvas state. Blob is opaque to the manager and
// its size is estimated as len(Blob).
type Snapshot struct {
	Key  string
	Blob []byte
	TS   time.Time
}

// Config controls memory and depth caps and coalescing behaviour.
type Config struct {
	// MaxBytes caps the bytes held across all designs; oldest entries go first.
	MaxBytes int
	// MaxDepth limits the undo entries kept per design (0 means unlimited).
	MaxDepth int
	// MinInterval replaces the current entry instead of pushing when the new
	// snapshot arrives within the interval. 0 disables coalescing.
	MinInterval time.Duration
}

// Stats is a diagnostic summary.
type Stats struct {
	TotalBytes int `json:"totalBytes"`
	Designs    int `json:"designs"`
	Undo       int `json:"undo"`
	Redo       int `json:"redo"`
}

// Manager holds undo/redo stacks keyed by design id. It is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex

	undo map[string][]Snapshot
	redo map[string][]Snapshot

	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 * 1024 * 1024
	}
	return &Manager{cfg: cfg, undo: make(map[string][]Snapshot), redo: make(map[string][]Snapshot)}
}

// Reset discards a design's history and makes initial its only state.
func (m *Manager) Reset(key string, initial Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(key)
	initial.Key = key
	if initial.TS.IsZero() {
		initial.TS = time.Now()
	}
	m.undo[key] = []Snapshot{initial}
	m.totalBytes += len(initial.Blob)
	m.enforceCapsLocked(key)
}

// Record pushes a new current state and clears the redo stack. A snapshot
// within MinInterval of the current one replaces it.
func (m *Manager) Record(key string, s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Key = key
	if s.TS.IsZero() {
		s.TS = time.Now()
	}
	m.dropRedoLocked(key)
	stack := m.undo[key]
	if n := len(stack); n > 1 && m.cfg.MinInterval > 0 && s.TS.Sub(stack[n-1].TS) < m.cfg.MinInterval {
		m.totalBytes += len(s.Blob) - len(stack[n-1].Blob)
		stack[n-1] = s
		m.enforceCapsLocked(key)
		return
	}
	m.undo[key] = append(stack, s)
	m.totalBytes += len(s.Blob)
	m.enforceCapsLocked(key)
}

// Undo moves the current state onto the redo stack and returns the state
// that is now current.
func (m *Manager) Undo(key string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[key]
	if len(stack) < 2 {
		return Snapshot{}, false
	}
	top := stack[len(stack)-1]
	m.undo[key] = stack[:len(stack)-1]
	m.redo[key] = append(m.redo[key], top)
	return m.undo[key][len(m.undo[key])-1], true
}

// Redo re-applies the most recently undone state and returns it.
func (m *Manager) Redo(key string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redo[key]
	if len(r) == 0 {
		return Snapshot{}, false
	}
	s := r[len(r)-1]
	m.redo[key] = r[:len(r)-1]
	m.undo[key] = append(m.undo[key], s)
	m.enforceCapsLocked(key)
	return s, true
}

func (m *Manager) CanUndo(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo[key]) > 1
}

func (m *Manager) CanRedo(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo[key]) > 0
}

// Current returns the design's current state.
func (m *Manager) Current(key string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[key]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	return stack[len(stack)-1], true
}

// Clear frees a design's stacks.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(key)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{TotalBytes: m.totalBytes, Designs: len(m.undo)}
	for _, v := range m.undo {
		st.Undo += len(v)
	}
	for _, v := range m.redo {
		st.Redo += len(v)
	}
	return st
}

func (m *Manager) clearLocked(key string) {
	for _, s := range m.undo[key] {
		m.totalBytes -= len(s.Blob)
	}
	for _, s := range m.redo[key] {
		m.totalBytes -= len(s.Blob)
	}
	delete(m.undo, key)
	delete(m.redo, key)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

func (m *Manager) dropRedoLocked(key string) {
	for _, s := range m.redo[key] {
		m.totalBytes -= len(s.Blob)
	}
	delete(m.redo, key)
}

func (m *Manager) enforceCapsLocked(key string) {
	if m.cfg.MaxDepth > 0 {
		stack := m.undo[key]
		if len(stack) > m.cfg.MaxDepth {
			toDrop := len(stack) - m.cfg.MaxDepth
			for i := 0; i < toDrop; i++ {
				m.totalBytes -= len(stack[i].Blob)
			}
			m.undo[key] = append([]Snapshot{}, stack[toDrop:]...)
		}
	}
	// Global cap: prune the oldest non-current entry across all designs.
	for m.cfg.MaxBytes > 0 && m.totalBytes > m.cfg.MaxBytes {
		oldestKey := ""
		var oldestTS time.Time
		found := false
		for k, stack := range m.undo {
			if len(stack) < 2 {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldestKey, oldestTS, found = k, stack[0].TS, true
			}
		}
		if !found {
			break
		}
		stack := m.undo[oldestKey]
		m.totalBytes -= len(stack[0].Blob)
		m.undo[oldestKey] = stack[1:]
	}
}
