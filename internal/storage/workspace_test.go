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
	"os"
	"path/filepath"
	"testing"
	"time"

	"canvasqr/internal/domain"
)

func openWS(t *testing.T, opts Options) *Workspace {
	t.Helper()
	w, err := Open(context.Background(), t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func newDesign(t *testing.T, w *Workspace, name, canvasJSON string) *domain.Design {
	t.Helper()
	d := domain.NewDesign(name, 800, 600)
	if canvasJSON != "" {
		d.CanvasData = json.RawMessage(canvasJSON)
	}
	if err := w.SaveDesign(context.Background(), d); err != nil {
		t.Fatalf("save design: %v", err)
	}
	return d
}

func TestOpenCreatesLayout(t *testing.T) {
	w := openWS(t, Options{})
	for _, d := range []string{DesignsDirName, TemplatesDirName, filepath.Join(BackupsDirName, DesignsDirName), IndexDirName} {
		if fi, err := os.Stat(filepath.Join(w.Root, d)); err != nil || !fi.IsDir() {
			t.Fatalf("expected dir %s: %v", d, err)
		}
	}
	if _, err := os.Stat(IndexPath(w.Root)); err != nil {
		t.Fatalf("index missing: %v", err)
	}
}

func TestSaveLoadDesignRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	d := newDesign(t, w, "Menu", `{"width":800,"height":600,"objects":[{"type":"text","text":"Hello"}]}`)
	created := d.CreatedAt

	got, err := w.LoadDesign(ctx, d.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Menu" || got.Width != 800 || string(got.CanvasData) == "" {
		t.Fatalf("loaded = %+v", got)
	}

	// an update keeps created_at even when the caller lost it
	got.Name = "Menu v2"
	got.CreatedAt = time.Time{}
	if err := w.SaveDesign(ctx, got); err != nil {
		t.Fatalf("resave: %v", err)
	}
	again, _ := w.LoadDesign(ctx, d.ID)
	if !again.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed: %v != %v", again.CreatedAt, created)
	}
	if again.Name != "Menu v2" || again.UpdatedAt.Before(created) {
		t.Fatalf("update not applied: %+v", again)
	}
}

func TestLoadMissingDesign(t *testing.T) {
	w := openWS(t, Options{})
	if _, err := w.LoadDesign(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := w.LoadDesign(context.Background(), "../etc"); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("path escape err = %v", err)
	}
}

func TestCorruptManifestFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	d := newDesign(t, w, "First", "")
	d.Name = "Second"
	if err := w.SaveDesign(ctx, d); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if err := os.WriteFile(w.designPath(d.ID), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	got, err := w.LoadDesign(ctx, d.ID)
	if err != nil {
		t.Fatalf("load with backup: %v", err)
	}
	if got.Name != "First" {
		t.Fatalf("backup name = %q, want First", got.Name)
	}
}

func TestBackupsArePruned(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{MaxBackups: 2})
	d := newDesign(t, w, "x", "")
	for i := 0; i < 5; i++ {
		if err := w.SaveDesign(ctx, d); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if n := len(backupsOf(filepath.Join(w.Root, BackupsDirName, DesignsDirName), d.ID+".json")); n != 2 {
		t.Fatalf("backups = %d, want 2", n)
	}
}

func TestSlugUniqueAndLookup(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	a := domain.NewDesign("A", 10, 10)
	a.Slug = "cafe-menu"
	if err := w.SaveDesign(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	b := domain.NewDesign("B", 10, 10)
	b.Slug = "cafe-menu"
	if err := w.SaveDesign(ctx, b); !errors.Is(err, domain.ErrSlugTaken) {
		t.Fatalf("err = %v, want ErrSlugTaken", err)
	}
	got, err := w.FindDesignBySlug(ctx, "cafe-menu")
	if err != nil || got.ID != a.ID {
		t.Fatalf("find slug = %+v, %v", got, err)
	}
	if _, err := w.FindDesignBySlug(ctx, "other"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing slug err = %v", err)
	}
}

func TestListDesignsFilters(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	a := domain.NewDesign("A", 10, 10)
	a.OwnerID = "u1"
	b := domain.NewDesign("B", 10, 10)
	b.OwnerID = "u1"
	b.IsArchived = true
	c := domain.NewDesign("C", 10, 10)
	c.OwnerID = "u2"
	c.IsPublic = true
	for _, d := range []*domain.Design{a, b, c} {
		if err := w.SaveDesign(ctx, d); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := w.ListDesigns(ctx, domain.ListFilter{OwnerID: "u1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("owner list = %+v", got)
	}
	got, _ = w.ListDesigns(ctx, domain.ListFilter{OwnerID: "u1", IncludeArchived: true})
	if len(got) != 2 || got[0].ID != b.ID {
		t.Fatalf("newest first with archived = %+v", got)
	}
	got, _ = w.ListDesigns(ctx, domain.ListFilter{PublicOnly: true})
	if len(got) != 1 || got[0].ID != c.ID || got[0].CanvasData != nil {
		t.Fatalf("public list = %+v", got)
	}
}

func TestDeleteDesign(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	d := newDesign(t, w, "gone", "")
	if err := w.DeleteDesign(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := w.ListDesigns(ctx, domain.ListFilter{}); len(got) != 0 {
		t.Fatalf("deleted design still listed")
	}
	if err := w.DeleteDesign(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestQRCodeFastPath(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	d := newDesign(t, w, "qr", "")
	meta := &domain.QRMetadata{QRSize: 256, QRColor: "#000000", BgColor: "#ffffff", LogoSize: 40, Version: 1}
	if err := w.SaveQRCode(ctx, d.ID, domain.QRCode{URL: "https://x/qr.png", Data: "https://x/en/menu"}, meta); err != nil {
		t.Fatalf("save qr: %v", err)
	}
	code, err := w.LoadQRCode(ctx, d.ID)
	if err != nil || code.URL != "https://x/qr.png" || code.Data != "https://x/en/menu" {
		t.Fatalf("qr = %+v, %v", code, err)
	}
	got, _ := w.LoadDesign(ctx, d.ID)
	if got.QRMetadata == nil || got.QRMetadata.LogoSize != 40 {
		t.Fatalf("metadata not persisted: %+v", got.QRMetadata)
	}
	if _, err := w.LoadQRCode(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing qr err = %v", err)
	}
}

func TestCanvasDataReadsBackAsSaved(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	const canvas = `{"objects":[{"type":"text","text":"hi","left":1,"top":2}],"background":"#fff"}`
	d := newDesign(t, w, "exact", canvas)
	got, err := w.LoadDesign(ctx, d.ID)
	if err != nil || string(got.CanvasData) != canvas {
		t.Fatalf("design canvas = %s, %v", got.CanvasData, err)
	}
	tpl := d.AsTemplate("Exact")
	if err := w.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	gt, err := w.LoadTemplate(ctx, tpl.ID)
	if err != nil || string(gt.CanvasData) != canvas {
		t.Fatalf("template canvas = %s, %v", gt.CanvasData, err)
	}
}

func TestTemplatesCRUD(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	d := newDesign(t, w, "src", `{"objects":[]}`)
	tpl := d.AsTemplate("Zeta")
	other := d.AsTemplate("Alpha")
	for _, x := range []*domain.Template{tpl, other} {
		if err := w.SaveTemplate(ctx, x); err != nil {
			t.Fatalf("save template: %v", err)
		}
	}
	list, err := w.ListTemplates(ctx)
	if err != nil || len(list) != 2 || list[0].Name != "Alpha" {
		t.Fatalf("templates = %+v, %v", list, err)
	}
	got, err := w.LoadTemplate(ctx, tpl.ID)
	if err != nil || string(got.CanvasData) != `{"objects":[]}` {
		t.Fatalf("load template = %+v, %v", got, err)
	}
	if err := w.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if _, err := w.LoadTemplate(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing template err = %v", err)
	}
	if list, _ := w.ListTemplates(ctx); len(list) != 1 {
		t.Fatalf("after delete = %+v", list)
	}
}
