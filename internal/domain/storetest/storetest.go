/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storetest holds behaviour checks shared by every domain.Store
// implementation. Data is namespaced per run so shared databases work.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"canvasqr/internal/domain"
)

// Run exercises store against the domain.Store contract.
func Run(t *testing.T, store domain.Store) {
	t.Helper()
	run := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	t.Run("upsert and load", func(t *testing.T) { upsertLoad(t, store) })
	t.Run("slug", func(t *testing.T) { slugs(t, store, run) })
	t.Run("list", func(t *testing.T) { list(t, store, run) })
	t.Run("qr code", func(t *testing.T) { qrCode(t, store) })
	t.Run("templates", func(t *testing.T) { templates(t, store, run) })
	t.Run("search", func(t *testing.T) { search(t, store, run) })
	t.Run("delete", func(t *testing.T) { deleteDesign(t, store) })
}

func save(t *testing.T, s domain.Store, d *domain.Design) {
	t.Helper()
	if err := s.SaveDesign(context.Background(), d); err != nil {
		t.Fatalf("save design %s: %v", d.Name, err)
	}
}

func upsertLoad(t *testing.T, s domain.Store) {
	ctx := context.Background()
	d := domain.NewDesign("Contract", 1080, 1920)
	d.Description = "poster"
	d.CanvasData = json.RawMessage(`{"width":1080,"height":1920,"objects":[{"type":"rect","id":"a"}]}`)
	save(t, s, d)
	created := d.CreatedAt

	got, err := s.LoadDesign(ctx, d.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Contract" || got.Width != 1080 || got.Description != "poster" {
		t.Fatalf("loaded = %+v", got)
	}
	if string(got.CanvasData) != string(d.CanvasData) {
		t.Fatalf("canvas = %s, want %s", got.CanvasData, d.CanvasData)
	}

	got.Name = "Contract v2"
	save(t, s, got)
	again, _ := s.LoadDesign(ctx, d.ID)
	if again.Name != "Contract v2" {
		t.Fatalf("upsert lost update: %+v", again)
	}
	if again.CreatedAt.Sub(created).Abs() > 1e6 {
		t.Fatalf("created_at moved: %v -> %v", created, again.CreatedAt)
	}
	if _, err := s.LoadDesign(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing design err = %v", err)
	}
}

func slugs(t *testing.T, s domain.Store, run string) {
	ctx := context.Background()
	slug := "menu-" + run
	a := domain.NewDesign("A", 1, 1)
	a.Slug = slug
	save(t, s, a)
	b := domain.NewDesign("B", 1, 1)
	b.Slug = slug
	if err := s.SaveDesign(ctx, b); !errors.Is(err, domain.ErrSlugTaken) {
		t.Fatalf("duplicate slug err = %v", err)
	}
	got, err := s.FindDesignBySlug(ctx, slug)
	if err != nil || got.ID != a.ID {
		t.Fatalf("find slug = %+v, %v", got, err)
	}
	// a design may keep its own slug across saves
	save(t, s, a)
}

func list(t *testing.T, s domain.Store, run string) {
	ctx := context.Background()
	owner := "owner-" + run
	first := domain.NewDesign("first", 1, 1)
	first.OwnerID = owner
	archived := domain.NewDesign("archived", 1, 1)
	archived.OwnerID = owner
	archived.IsArchived = true
	last := domain.NewDesign("last", 1, 1)
	last.OwnerID = owner
	last.IsPublic = true
	for _, d := range []*domain.Design{first, archived, last} {
		save(t, s, d)
	}
	got, err := s.ListDesigns(ctx, domain.ListFilter{OwnerID: owner})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != last.ID || got[1].ID != first.ID {
		t.Fatalf("list = %+v", got)
	}
	got, _ = s.ListDesigns(ctx, domain.ListFilter{OwnerID: owner, IncludeArchived: true, Limit: 1, Offset: 1})
	if len(got) != 1 || got[0].ID != archived.ID {
		t.Fatalf("page 2 = %+v", got)
	}
	got, _ = s.ListDesigns(ctx, domain.ListFilter{OwnerID: owner, PublicOnly: true})
	if len(got) != 1 || got[0].ID != last.ID {
		t.Fatalf("public = %+v", got)
	}
}

func qrCode(t *testing.T, s domain.Store) {
	ctx := context.Background()
	d := domain.NewDesign("qr", 1, 1)
	save(t, s, d)
	meta := &domain.QRMetadata{QRSize: 512, QRColor: "#112233", BgColor: "#ffffff", LogoSize: 80, Version: 1}
	code := domain.QRCode{URL: "https://cdn.example/qr.png", Data: "https://example.com/en/" + d.ID}
	if err := s.SaveQRCode(ctx, d.ID, code, meta); err != nil {
		t.Fatalf("save qr: %v", err)
	}
	got, err := s.LoadQRCode(ctx, d.ID)
	if err != nil || got != code {
		t.Fatalf("qr = %+v, %v", got, err)
	}
	full, _ := s.LoadDesign(ctx, d.ID)
	if full.QRMetadata == nil || full.QRMetadata.QRSize != 512 || full.QRCodeURL != code.URL {
		t.Fatalf("design qr fields = %+v", full)
	}
	if err := s.SaveQRCode(ctx, uuid.NewString(), code, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("qr for missing design err = %v", err)
	}
}

func templates(t *testing.T, s domain.Store, run string) {
	ctx := context.Background()
	d := domain.NewDesign("source", 300, 200)
	d.CanvasData = json.RawMessage(`{"objects":[{"type":"text","text":"hi"}]}`)
	tpl := d.AsTemplate("Template " + run)
	if err := s.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	got, err := s.LoadTemplate(ctx, tpl.ID)
	if err != nil || got.Width != 300 || string(got.CanvasData) != `{"objects":[{"type":"text","text":"hi"}]}` {
		t.Fatalf("template = %+v, %v", got, err)
	}
	all, err := s.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	found := false
	for _, x := range all {
		if x.ID == tpl.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("template missing from list")
	}
	if err := s.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
	if _, err := s.LoadTemplate(ctx, tpl.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted template err = %v", err)
	}
}

func search(t *testing.T, s domain.Store, run string) {
	ctx := context.Background()
	word := "kw" + run
	d := domain.NewDesign("Searchable", 1, 1)
	d.CanvasData = json.RawMessage(`{"objects":[{"type":"group","objects":[{"type":"text","text":"order ` + word + ` today"}]}]}`)
	save(t, s, d)
	hits, err := s.SearchDesigns(ctx, word[:len(word)-2], 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].DesignID != d.ID {
		t.Fatalf("prefix hits = %+v", hits)
	}
	if hits, err := s.SearchDesigns(ctx, `"(`, 10); err != nil || len(hits) != 0 {
		t.Fatalf("junk query = %+v, %v", hits, err)
	}
}

func deleteDesign(t *testing.T, s domain.Store) {
	ctx := context.Background()
	d := domain.NewDesign("gone", 1, 1)
	save(t, s, d)
	if err := s.DeleteDesign(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.LoadDesign(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted design err = %v", err)
	}
	if err := s.DeleteDesign(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}
