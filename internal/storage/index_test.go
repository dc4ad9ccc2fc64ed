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
	"os"
	"path/filepath"
	"testing"

	"canvasqr/internal/domain"
)

func TestFreshIndexMigratesToCurrentSchema(t *testing.T) {
	w := openWS(t, Options{})
	var v int
	if err := w.DB().QueryRow(`SELECT schema FROM version WHERE id=1`).Scan(&v); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != schemaVersion {
		t.Fatalf("schema = %d, want %d", v, schemaVersion)
	}
	var n int
	_ = w.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_designs_updated'`).Scan(&n)
	if n != 1 {
		t.Fatalf("migration index missing")
	}
}

func TestMigrationFromV1(t *testing.T) {
	root := t.TempDir()
	db, err := InitOrOpenIndex(root)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	// simulate an index written by the first schema
	for _, q := range []string{
		`DROP INDEX idx_designs_updated`,
		`DROP INDEX idx_designs_owner`,
		`UPDATE version SET schema=1 WHERE id=1`,
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	_ = db.Close()

	db, err = InitOrOpenIndex(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var v, n int
	_ = db.QueryRow(`SELECT schema FROM version WHERE id=1`).Scan(&v)
	_ = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name IN ('idx_designs_updated','idx_designs_owner')`).Scan(&n)
	if v != schemaVersion || n != 2 {
		t.Fatalf("after migration schema=%d indexes=%d", v, n)
	}
}

func TestCorruptIndexIsRebuiltFromManifests(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	w, err := Open(ctx, root, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := domain.NewDesign("Survivor", 100, 100)
	d.Slug = "survivor"
	if err := w.SaveDesign(ctx, d); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = w.Close()

	path := IndexPath(root)
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	if err := os.WriteFile(path, []byte("this is not a database"), 0o644); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}

	w, err = Open(ctx, root, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()
	got, err := w.FindDesignBySlug(ctx, "survivor")
	if err != nil || got.ID != d.ID {
		t.Fatalf("slug after rebuild = %+v, %v", got, err)
	}
	baks, _ := filepath.Glob(filepath.Join(root, IndexDirName, "backups", IndexFileName+".*.bak"))
	if len(baks) == 0 {
		t.Fatalf("corrupt index was not backed up")
	}
}

func TestReindexSkipsBrokenManifests(t *testing.T) {
	ctx := context.Background()
	w := openWS(t, Options{})
	good := newDesign(t, w, "good", "")
	if err := os.WriteFile(filepath.Join(w.Root, DesignsDirName, "broken.json"), []byte(`{"id":"broken"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Reindex(ctx); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	list, _ := w.ListDesigns(ctx, domain.ListFilter{})
	if len(list) != 1 || list[0].ID != good.ID {
		t.Fatalf("list after reindex = %+v", list)
	}
}

func TestValidateManifest(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		ok   bool
	}{
		{"minimal", `{"id":"a","name":"n","width":1,"height":1,"created_at":"x","updated_at":"y"}`, true},
		{"missing name", `{"id":"a","width":1,"height":1,"created_at":"x","updated_at":"y"}`, false},
		{"negative width", `{"id":"a","name":"n","width":-1,"height":1,"created_at":"x","updated_at":"y"}`, false},
		{"bad slug", `{"id":"a","name":"n","width":1,"height":1,"slug":"Not A Slug","created_at":"x","updated_at":"y"}`, false},
		{"canvas array", `{"id":"a","name":"n","width":1,"height":1,"canvas_data":[],"created_at":"x","updated_at":"y"}`, false},
	}
	for _, c := range cases {
		err := validateManifest([]byte(c.doc))
		if (err == nil) != c.ok {
			t.Fatalf("%s: err = %v", c.name, err)
		}
	}
}

func TestIndexIsSingleConnection(t *testing.T) {
	db, err := InitOrOpenIndex(t.TempDir())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer db.Close()
	if st := db.Stats(); st.MaxOpenConnections != 1 {
		t.Fatalf("max open = %d", st.MaxOpenConnections)
	}
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || mode != "wal" {
		t.Fatalf("journal_mode = %q, %v", mode, err)
	}
}
