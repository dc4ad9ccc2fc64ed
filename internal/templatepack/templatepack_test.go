/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package templatepack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"canvasqr/internal/domain"
	"canvasqr/internal/storage"
)

func openStore(t *testing.T) *storage.Workspace {
	t.Helper()
	w, err := storage.Open(context.Background(), t.TempDir(), storage.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func addTemplate(t *testing.T, s domain.Store, name, canvasJSON string) *domain.Template {
	t.Helper()
	d := domain.NewDesign(name, 400, 300)
	d.CanvasData = json.RawMessage(canvasJSON)
	tpl := d.AsTemplate(name)
	if err := s.SaveTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	return tpl
}

func TestExportAndInstall(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	a := addTemplate(t, src, "Menu", `{"width":400,"height":300,"objects":[{"type":"text","text":"Menu"}]}`)
	b := addTemplate(t, src, "Card", `{"width":400,"height":300,"objects":[]}`)

	zipPath := filepath.Join(t.TempDir(), "packs", "all.zip")
	n, err := Export(ctx, src, nil, zipPath)
	if err != nil || n != 2 {
		t.Fatalf("export = %d, %v", n, err)
	}
	if _, err := os.Stat(zipPath + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp zip left behind: %v", err)
	}
	m, err := ReadManifest(zipPath)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.Format != 1 || len(m.Templates) != 2 {
		t.Fatalf("manifest = %+v", m)
	}

	dst := openStore(t)
	res, err := Install(ctx, dst, zipPath, false)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(res.Installed) != 2 || len(res.Skipped) != 0 {
		t.Fatalf("result = %+v", res)
	}
	got, err := dst.LoadTemplate(ctx, a.ID)
	if err != nil || got.Name != "Menu" || string(got.CanvasData) == "" {
		t.Fatalf("installed template = %+v, %v", got, err)
	}

	// existing ids are skipped unless overwrite is set
	got.Name = "Local edit"
	if err := dst.SaveTemplate(ctx, got); err != nil {
		t.Fatalf("edit: %v", err)
	}
	res, err = Install(ctx, dst, zipPath, false)
	if err != nil || len(res.Installed) != 0 || len(res.Skipped) != 2 {
		t.Fatalf("second install = %+v, %v", res, err)
	}
	if again, _ := dst.LoadTemplate(ctx, a.ID); again.Name != "Local edit" {
		t.Fatalf("skipped template was overwritten: %s", again.Name)
	}
	res, err = Install(ctx, dst, zipPath, true)
	if err != nil || len(res.Installed) != 2 {
		t.Fatalf("overwrite install = %+v, %v", res, err)
	}
	if again, _ := dst.LoadTemplate(ctx, a.ID); again.Name != "Menu" {
		t.Fatalf("overwrite ignored: %s", again.Name)
	}
	if _, err := dst.LoadTemplate(ctx, b.ID); err != nil {
		t.Fatalf("card missing: %v", err)
	}
}

func TestExportSelectedAndMissing(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	a := addTemplate(t, src, "Menu", `{"objects":[]}`)
	addTemplate(t, src, "Other", `{"objects":[]}`)
	zipPath := filepath.Join(t.TempDir(), "one.zip")
	if n, err := Export(ctx, src, []string{a.ID}, zipPath); err != nil || n != 1 {
		t.Fatalf("export = %d, %v", n, err)
	}
	if _, err := Export(ctx, src, []string{"nope"}, zipPath); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing template err = %v", err)
	}
}

func TestInstallRejectsInvalidEntries(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "bad.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("templates/x.json")
	_, _ = w.Write([]byte(`{"id":"x","name":"Bad","canvas_data":{"objects":"nope"}}`))
	_ = zw.Close()
	_ = f.Close()

	res, err := Install(context.Background(), openStore(t), zipPath, false)
	if err == nil || len(res.Installed) != 0 {
		t.Fatalf("expected invalid canvas error, got %+v, %v", res, err)
	}
}
