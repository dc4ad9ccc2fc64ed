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
	"sync/atomic"
	"testing"
	"time"

	"canvasqr/internal/canvas"
)

func TestRegistryLoadsOnceAndFlushes(t *testing.T) {
	saver := &memSaver{}
	reg := NewRegistry(saver, nil, quiet)
	var loads int32
	load := func(_ context.Context, id string) (*canvas.Document, error) {
		atomic.AddInt32(&loads, 1)
		return canvas.Parse([]byte(`{"objects":[]}`))
	}
	ctx := context.Background()
	s1, err := reg.Open(ctx, "d1", load)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s2, _ := reg.Open(ctx, "d1", load)
	if s1 != s2 || atomic.LoadInt32(&loads) != 1 {
		t.Fatalf("expected a single live session")
	}
	reg.Open(ctx, "d2", load)
	if got := reg.IDs(); len(got) != 2 || got[0] != "d1" {
		t.Fatalf("ids = %v", got)
	}

	s1.Add(rect(t, "a", 0, 0))
	if err := reg.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if saver.count() != 1 || saver.last().DesignID != "d1" {
		t.Fatalf("saves = %d", saver.count())
	}
	if err := reg.CloseAll(ctx); err != nil || reg.Len() != 0 {
		t.Fatalf("close all: %v, %d left", err, reg.Len())
	}
}

func TestRegistryEvictsIdleCleanSessions(t *testing.T) {
	reg := NewRegistry(&memSaver{}, nil, quiet)
	ctx := context.Background()
	idle, _ := reg.Open(ctx, "idle", nil)
	dirty, _ := reg.Open(ctx, "dirty", nil)
	dirty.Add(rect(t, "a", 0, 0))
	_ = idle
	time.Sleep(5 * time.Millisecond)
	if n := reg.EvictIdle(ctx, time.Millisecond); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if _, ok := reg.Get("idle"); ok {
		t.Fatalf("idle session still open")
	}
	if _, ok := reg.Get("dirty"); !ok {
		t.Fatalf("dirty session evicted")
	}
	if reg.HistoryStats().Designs != 1 {
		t.Fatalf("history of evicted session kept: %+v", reg.HistoryStats())
	}
}
