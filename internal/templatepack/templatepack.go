/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package templatepack moves design templates between stores as zip
// archives: one templates/<id>.json entry per template plus a YAML
// manifest at the root.
package templatepack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	applog "canvasqr/internal/log"
	"canvasqr/internal/version"
)

// ManifestName is the root entry describing a pack.
const ManifestName = "templatepack.yaml"

// maxEntryBytes bounds one template entry when installing.
const maxEntryBytes = 32 << 20

// Manifest is written to ManifestName.
type Manifest struct {
	Format    int       `yaml:"format"`
	Generator string    `yaml:"generator"`
	Created   time.Time `yaml:"created"`
	Templates []Entry   `yaml:"templates"`
}

// Entry lists one template in the manifest.
type Entry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// Result summarizes an install.
type Result struct {
	Installed []string `json:"installed"`
	Skipped   []string `json:"skipped"`
}

// Export writes the templates named by ids (all when empty) to a zip at
// destZipPath and returns how many were packed.
func Export(ctx context.Context, store domain.Store, ids []string, destZipPath string) (int, error) {
	l := applog.WithOperation(applog.WithComponent("templatepack"), "export").With(slog.String("zip", destZipPath))
	if strings.TrimSpace(destZipPath) == "" {
		return 0, errors.New("destZipPath is required")
	}
	templates, err := selectTemplates(ctx, store, ids)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(destZipPath), 0o755); err != nil {
		return 0, fmt.Errorf("ensure zip dir: %w", err)
	}
	tmp := destZipPath + ".tmp"
	zf, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create zip: %w", err)
	}
	defer func() { _ = os.Remove(tmp) }()
	if err := Write(zf, templates); err != nil {
		_ = zf.Close()
		l.Error("zip build failed", slog.Any("err", err))
		return 0, err
	}
	if err := zf.Close(); err != nil {
		return 0, fmt.Errorf("close zip: %w", err)
	}
	if err := os.Rename(tmp, destZipPath); err != nil {
		return 0, fmt.Errorf("replace zip: %w", err)
	}
	l.Info("template pack exported", slog.Int("templates", len(templates)))
	return len(templates), nil
}

func selectTemplates(ctx context.Context, store domain.Store, ids []string) ([]domain.Template, error) {
	if len(ids) == 0 {
		list, err := store.ListTemplates(ctx)
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		// listings may omit canvas_data
		ids = make([]string, 0, len(list))
		for _, t := range list {
			ids = append(ids, t.ID)
		}
	}
	out := make([]domain.Template, 0, len(ids))
	for _, id := range ids {
		t, err := store.LoadTemplate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", id, err)
		}
		out = append(out, *t)
	}
	return out, nil
}

// Write encodes templates as a pack onto w.
func Write(w io.Writer, templates []domain.Template) error {
	zw := zip.NewWriter(w)
	m := Manifest{Format: 1, Generator: "canvasqr " + version.String(), Created: time.Now().UTC()}
	for _, t := range templates {
		name := path.Join("templates", t.ID+".json")
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("encode template %s: %w", t.ID, err)
		}
		fw, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		m.Templates = append(m.Templates, Entry{ID: t.ID, Name: t.Name, File: name})
	}
	mw, err := zw.Create(ManifestName)
	if err != nil {
		return fmt.Errorf("add manifest: %w", err)
	}
	enc := yaml.NewEncoder(mw)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return zw.Close()
}

// Install reads the pack at packZipPath into store. Templates whose id
// already exists are skipped unless overwrite is set.
func Install(ctx context.Context, store domain.Store, packZipPath string, overwrite bool) (Result, error) {
	if strings.TrimSpace(packZipPath) == "" {
		return Result{}, errors.New("packZipPath is required")
	}
	r, err := zip.OpenReader(packZipPath)
	if err != nil {
		return Result{}, fmt.Errorf("open pack: %w", err)
	}
	defer func() { _ = r.Close() }()
	return InstallFrom(ctx, store, &r.Reader, overwrite)
}

// InstallFrom installs every templates/*.json entry of zr.
func InstallFrom(ctx context.Context, store domain.Store, zr *zip.Reader, overwrite bool) (Result, error) {
	l := applog.WithOperation(applog.WithComponent("templatepack"), "install")
	res := Result{Installed: []string{}, Skipped: []string{}}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, "templates/") || path.Ext(f.Name) != ".json" {
			continue
		}
		t, err := readTemplate(f)
		if err != nil {
			return res, err
		}
		if !overwrite {
			_, err := store.LoadTemplate(ctx, t.ID)
			if err == nil {
				l.Warn("skip existing template", slog.String("template", t.ID))
				res.Skipped = append(res.Skipped, t.ID)
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return res, fmt.Errorf("check template %s: %w", t.ID, err)
			}
		}
		if err := store.SaveTemplate(ctx, t); err != nil {
			return res, fmt.Errorf("save template %s: %w", t.ID, err)
		}
		res.Installed = append(res.Installed, t.ID)
	}
	l.Info("template pack installed", slog.Int("installed", len(res.Installed)), slog.Int("skipped", len(res.Skipped)))
	return res, nil
}

func readTemplate(f *zip.File) (*domain.Template, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("%s: entry too large", f.Name)
	}
	var t domain.Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", f.Name, domain.ErrInvalid, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	if err := canvas.Validate(t.CanvasData); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return &t, nil
}

// ReadManifest returns the manifest of the pack at packZipPath.
func ReadManifest(packZipPath string) (*Manifest, error) {
	r, err := zip.OpenReader(packZipPath)
	if err != nil {
		return nil, fmt.Errorf("open pack: %w", err)
	}
	defer func() { _ = r.Close() }()
	rc, err := r.Open(ManifestName)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = rc.Close() }()
	var m Manifest
	if err := yaml.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
