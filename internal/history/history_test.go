/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package history

import (
	"fmt"
	"testing"
	"time"
)

func snap(s string) Snapshot { return Snapshot{Blob: []byte(s)} }

func TestUndoRedoLaw(t *testing.T) {
	m := NewManager(Config{})
	m.Reset("d", snap("s0"))
	for i := 1; i <= 5; i++ {
		m.Record("d", snap(fmt.Sprintf("s%d", i)))
	}
	// k undos then k redos returns to the same state
	for k := 1; k <= 5; k++ {
		for i := 0; i < k; i++ {
			if _, ok := m.Undo("d"); !ok {
				t.Fatalf("undo %d/%d failed", i, k)
			}
		}
		for i := 0; i < k; i++ {
			if _, ok := m.Redo("d"); !ok {
				t.Fatalf("redo %d/%d failed", i, k)
			}
		}
		if cur, _ := m.Current("d"); string(cur.Blob) != "s5" {
			t.Fatalf("after %d undo/redo pairs current = %q", k, cur.Blob)
		}
	}
}

func TestUndoReturnsPreviousState(t *testing.T) {
	m := NewManager(Config{})
	m.Reset("d", snap("a"))
	m.Record("d", snap("b"))
	s, ok := m.Undo("d")
	if !ok || string(s.Blob) != "a" {
		t.Fatalf("undo = %q, %v", s.Blob, ok)
	}
	if m.CanUndo("d") {
		t.Fatalf("initial state cannot be undone")
	}
	if _, ok := m.Undo("d"); ok {
		t.Fatalf("undo past initial state must fail")
	}
	s, ok = m.Redo("d")
	if !ok || string(s.Blob) != "b" {
		t.Fatalf("redo = %q, %v", s.Blob, ok)
	}
	if m.CanRedo("d") {
		t.Fatalf("redo stack should be empty")
	}
}

func TestRecordClearsRedo(t *testing.T) {
	m := NewManager(Config{})
	m.Reset("d", snap("a"))
	m.Record("d", snap("b"))
	m.Undo("d")
	m.Record("d", snap("c"))
	if m.CanRedo("d") {
		t.Fatalf("record must clear redo")
	}
	if st := m.Stats(); st.TotalBytes != 2 || st.Undo != 2 || st.Redo != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestCoalesce(t *testing.T) {
	m := NewManager(Config{MinInterval: 50 * time.Millisecond})
	t0 := time.Now()
	m.Reset("d", Snapshot{Blob: []byte("0"), TS: t0})
	m.Record("d", Snapshot{Blob: []byte("1"), TS: t0.Add(100 * time.Millisecond)})
	m.Record("d", Snapshot{Blob: []byte("2"), TS: t0.Add(110 * time.Millisecond)})
	if st := m.Stats(); st.Undo != 2 {
		t.Fatalf("expected coalesced to 2 entries, got %d", st.Undo)
	}
	if cur, _ := m.Current("d"); string(cur.Blob) != "2" {
		t.Fatalf("current = %q", cur.Blob)
	}
	s, ok := m.Undo("d")
	if !ok || string(s.Blob) != "0" {
		t.Fatalf("undo should skip the coalesced entry, got %q", s.Blob)
	}
}

func TestCoalesceDisabledByDefault(t *testing.T) {
	m := NewManager(Config{})
	t0 := time.Now()
	m.Reset("d", Snapshot{Blob: []byte("0"), TS: t0})
	m.Record("d", Snapshot{Blob: []byte("1"), TS: t0})
	m.Record("d", Snapshot{Blob: []byte("2"), TS: t0})
	if st := m.Stats(); st.Undo != 3 {
		t.Fatalf("expected every record kept, got %d", st.Undo)
	}
}

func TestDepthCap(t *testing.T) {
	m := NewManager(Config{MaxDepth: 2})
	m.Reset("d", snap("x"))
	for i := 0; i < 10; i++ {
		m.Record("d", snap("xxxxx"))
	}
	if st := m.Stats(); st.Undo != 2 || st.TotalBytes != 10 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestGlobalPruneKeepsCurrent(t *testing.T) {
	m := NewManager(Config{MaxBytes: 8})
	t0 := time.Now()
	m.Reset("one", Snapshot{Blob: []byte("aaaa"), TS: t0})
	m.Record("one", Snapshot{Blob: []byte("bbbb"), TS: t0.Add(time.Second)})
	m.Reset("two", Snapshot{Blob: []byte("cccc"), TS: t0.Add(2 * time.Second)})
	if cur, ok := m.Current("one"); !ok || string(cur.Blob) != "bbbb" {
		t.Fatalf("current of one lost: %q", cur.Blob)
	}
	if cur, ok := m.Current("two"); !ok || string(cur.Blob) != "cccc" {
		t.Fatalf("current of two lost: %q", cur.Blob)
	}
	if m.CanUndo("one") {
		t.Fatalf("oldest entry of one should have been pruned")
	}
	// over budget with only current states left: nothing else may go
	m.Reset("three", Snapshot{Blob: []byte("dddd"), TS: t0.Add(3 * time.Second)})
	if st := m.Stats(); st.Designs != 3 || st.Undo != 3 {
		t.Fatalf("current states must survive pruning: %+v", st)
	}
}

func TestClear(t *testing.T) {
	m := NewManager(Config{})
	m.Reset("d", snap("abcdef"))
	m.Record("d", snap("x"))
	m.Undo("d")
	m.Clear("d")
	if st := m.Stats(); st != (Stats{}) {
		t.Fatalf("stats after clear = %+v", st)
	}
	if _, ok := m.Current("d"); ok {
		t.Fatalf("cleared design has no current state")
	}
}
