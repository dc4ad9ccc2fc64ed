/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"canvasqr/internal/autosave"
	"canvasqr/internal/domain"
)

func TestSearchDesignsByCanvasText(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	menu := newDesign(t, w, "Cafe menu", `{"objects":[{"type":"textbox","text":"Espresso and croissant"},
	  {"type":"group","objects":[{"type":"text","text":"Opening hours"}]}]}`)
	newDesign(t, w, "Business card", `{"objects":[{"type":"text","text":"Jane Doe, architect"}]}`)

	hits, err := w.SearchDesigns(ctx, "espress", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].DesignID != menu.ID {
		t.Fatalf("hits = %+v", hits)
	}
	if !strings.Contains(hits[0].Snippet, "[Espresso]") {
		t.Fatalf("snippet = %q", hits[0].Snippet)
	}
	if hits[0].Score < 0 {
		t.Fatalf("score = %v", hits[0].Score)
	}

	// grouped text is indexed too
	if hits, _ := w.SearchDesigns(ctx, "hours", 10); len(hits) != 1 {
		t.Fatalf("group text hits = %+v", hits)
	}
	// names are searchable
	if hits, _ := w.SearchDesigns(ctx, "business", 10); len(hits) != 1 {
		t.Fatalf("name hits = %+v", hits)
	}
}

func TestSearchDesignsIgnoresOperators(t *testing.T) {
	w := openWS(t, Options{})
	newDesign(t, w, "Menu", `{"objects":[{"type":"text","text":"tea"}]}`)
	for _, q := range []string{`"unbalanced`, `tea OR`, `NEAR(`, `*`, `   `} {
		if _, err := w.SearchDesigns(context.Background(), q, 10); err != nil {
			t.Fatalf("query %q: %v", q, err)
		}
	}
	if got := MatchExpr(`tea "OR" coffee`); got != `"tea"* "OR"* "coffee"*` {
		t.Fatalf("MatchExpr = %q", got)
	}
}

func TestSearchReflectsUpdatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	d := newDesign(t, w, "Flyer", `{"objects":[{"type":"text","text":"summer sale"}]}`)
	d.CanvasData = json.RawMessage(`{"objects":[{"type":"text","text":"winter sale"}]}`)
	if err := w.SaveDesign(ctx, d); err != nil {
		t.Fatalf("save: %v", err)
	}
	if hits, _ := w.SearchDesigns(ctx, "summer", 10); len(hits) != 0 {
		t.Fatalf("stale text still indexed: %+v", hits)
	}
	if hits, _ := w.SearchDesigns(ctx, "winter", 10); len(hits) != 1 {
		t.Fatalf("new text missing: %+v", hits)
	}
	if err := w.DeleteDesign(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if hits, _ := w.SearchDesigns(ctx, "winter", 10); len(hits) != 0 {
		t.Fatalf("deleted design found: %+v", hits)
	}
}

func TestSearchFiltersWithoutText(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	a := domain.NewDesign("Poster red", 1, 1)
	a.OwnerID = "u1"
	b := domain.NewDesign("Poster blue", 1, 1)
	b.OwnerID = "u2"
	for _, d := range []*domain.Design{a, b} {
		if err := w.SaveDesign(ctx, d); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	hits, err := w.Search(ctx, SearchQuery{Name: "poster", OwnerID: "u2"})
	if err != nil || len(hits) != 1 || hits[0].DesignID != b.ID {
		t.Fatalf("filtered = %+v, %v", hits, err)
	}
}

func TestSnapshotsSaveLoadPrune(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{KeepSnapshots: 3})
	d := newDesign(t, w, "doc", `{"objects":[]}`)

	var saver autosave.Saver = w
	for i := 1; i <= 5; i++ {
		c := json.RawMessage(`{"objects":[],"rev":` + string(rune('0'+i)) + `}`)
		if err := saver.Save(ctx, autosave.Snapshot{DesignID: d.ID, Canvas: c, Seq: uint64(i), SavedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	list, err := w.ListSnapshots(ctx, SnapshotKey(d.ID), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Seq != 5 {
		t.Fatalf("snapshots = %d, newest seq %d", len(list), list[0].Seq)
	}

	var loader autosave.Loader = w
	s, err := loader.Load(ctx, d.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(string(s.Canvas), `"rev":5`) {
		t.Fatalf("loaded canvas = %s", s.Canvas)
	}
	got, _ := w.LoadDesign(ctx, d.ID)
	if !strings.Contains(string(got.CanvasData), `"rev":5`) {
		t.Fatalf("manifest canvas not updated: %s", got.CanvasData)
	}
}

func TestSnapshotWithoutManifest(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	if _, err := w.Load(ctx, "draft"); !errors.Is(err, autosave.ErrNotFound) {
		t.Fatalf("empty load err = %v", err)
	}
	if err := w.Save(ctx, autosave.Snapshot{DesignID: "draft", Canvas: json.RawMessage(`{"objects":[]}`)}); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	s, err := w.Load(ctx, "draft")
	if err != nil || string(s.Canvas) != `{"objects":[]}` {
		t.Fatalf("draft = %+v, %v", s, err)
	}
	if err := w.Save(ctx, autosave.Snapshot{DesignID: "draft", Canvas: json.RawMessage(`{`)}); err == nil {
		t.Fatalf("expected invalid canvas error")
	}
}

func TestPreviewCacheLRU(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{PreviewCapBytes: 250})
	k := func(id string) PreviewKey { return PreviewKey{DesignID: id, Kind: PreviewKindThumb, W: 64, H: 64} }
	blob := make([]byte, 100)
	for _, id := range []string{"a", "b"} {
		if err := w.PutPreview(ctx, k(id), blob); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	// touch a so b becomes the eviction victim
	if b, err := w.GetPreview(ctx, k("a")); err != nil || len(b) != 100 {
		t.Fatalf("get a = %d, %v", len(b), err)
	}
	if err := w.PutPreview(ctx, k("c"), blob); err != nil {
		t.Fatalf("put c: %v", err)
	}
	if b, _ := w.GetPreview(ctx, k("b")); b != nil {
		t.Fatalf("b should have been evicted")
	}
	if b, _ := w.GetPreview(ctx, k("a")); b == nil {
		t.Fatalf("a should survive")
	}
	if total, _ := w.TotalPreviewBytes(ctx); total > 250 {
		t.Fatalf("total = %d", total)
	}
	if err := w.PutPreview(ctx, PreviewKey{DesignID: "a", Kind: "geom"}, blob); err == nil {
		t.Fatalf("expected invalid kind error")
	}
}

func TestGetOrCreatePreviewAndInvalidation(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	d := newDesign(t, w, "p", "")
	k := PreviewKey{DesignID: d.ID, Kind: PreviewKindThumb, W: 32, H: 24}
	calls := 0
	gen := func(context.Context) ([]byte, error) { calls++; return []byte("png"), nil }
	for i := 0; i < 2; i++ {
		if b, err := w.GetOrCreatePreview(ctx, k, gen); err != nil || string(b) != "png" {
			t.Fatalf("preview = %q, %v", b, err)
		}
	}
	if calls != 1 {
		t.Fatalf("generator calls = %d", calls)
	}
	// saving the design drops its cached previews
	if err := w.SaveDesign(ctx, d); err != nil {
		t.Fatalf("save: %v", err)
	}
	if b, _ := w.GetPreview(ctx, k); b != nil {
		t.Fatalf("preview survived save")
	}
}

func TestMaxPreviewsBytesFromEnv(t *testing.T) {
	t.Setenv("CQR_PREVIEWS_MAX_BYTES", "1234")
	if got := MaxPreviewsBytesFromEnv(); got != 1234 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("CQR_PREVIEWS_MAX_BYTES", "junk")
	if got := MaxPreviewsBytesFromEnv(); got != 256*1024*1024 {
		t.Fatalf("fallback = %d", got)
	}
}
