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
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"canvasqr/internal/domain"
	applog "canvasqr/internal/log"
)

const (
	DesignsDirName   = "designs"
	TemplatesDirName = "templates"
	BackupsDirName   = "backups"
)

//go:embed design.schema.json
var designSchemaJSON []byte

var (
	designSchemaOnce sync.Once
	designSchema     *gojsonschema.Schema
	designSchemaErr  error
)

// Options tunes a workspace. Zero values pick the defaults.
type Options struct {
	// MaxBackups bounds the timestamped backups kept per manifest; default 10.
	MaxBackups int
	// KeepSnapshots bounds the autosave snapshots kept per design; default 20.
	KeepSnapshots int
	// PreviewCapBytes caps the preview cache; default from CQR_PREVIEWS_MAX_BYTES or 256MB.
	PreviewCapBytes int64
}

// Workspace is the local design store: one JSON manifest per design and
// template plus the embedded SQLite index under Root. It implements
// domain.Store and the autosave Saver and Loader.
type Workspace struct {
	Root string
	opts Options
	db   *sql.DB
	l    *slog.Logger

	// mu serializes manifest writes and their index updates.
	mu sync.Mutex
}

var _ domain.Store = (*Workspace)(nil)

// Open creates the workspace layout under root if needed and opens its
// index. A corrupt or missing index is rebuilt from the manifests.
func Open(ctx context.Context, root string, opts Options) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	for _, d := range []string{DesignsDirName, TemplatesDirName, filepath.Join(BackupsDirName, DesignsDirName), filepath.Join(BackupsDirName, TemplatesDirName)} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.KeepSnapshots <= 0 {
		opts.KeepSnapshots = 20
	}
	if opts.PreviewCapBytes <= 0 {
		opts.PreviewCapBytes = MaxPreviewsBytesFromEnv()
	}
	w := &Workspace{Root: root, opts: opts, l: applog.WithComponent("storage").With(slog.String("root", root))}
	db, rebuilt, err := openHealthyIndex(ctx, root)
	if err != nil {
		return nil, err
	}
	w.db = db
	empty, err := w.indexEmpty(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if rebuilt || empty {
		if err := w.Reindex(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return w, nil
}

// Close releases the index.
func (w *Workspace) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

// DB exposes the index for diagnostics and tests.
func (w *Workspace) DB() *sql.DB { return w.db }

func (w *Workspace) designPath(id string) string {
	return filepath.Join(w.Root, DesignsDirName, id+".json")
}

func (w *Workspace) templatePath(id string) string {
	return filepath.Join(w.Root, TemplatesDirName, id+".json")
}

// validID rejects ids that would escape the workspace directories.
func validID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: id %q", domain.ErrInvalid, id)
	}
	return nil
}

// SaveDesign writes the manifest transactionally and refreshes the index.
// CreatedAt of an existing design is preserved.
func (w *Workspace) SaveDesign(ctx context.Context, d *domain.Design) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := validID(d.ID); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saveDesignLocked(ctx, d)
}

func (w *Workspace) saveDesignLocked(ctx context.Context, d *domain.Design) error {
	if d.Slug != "" {
		var owner string
		err := w.db.QueryRowContext(ctx, `SELECT id FROM designs WHERE slug=? AND id<>?`, d.Slug, d.ID).Scan(&owner)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrSlugTaken, d.Slug)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check slug: %w", err)
		}
	}
	if d.CreatedAt.IsZero() {
		if prev, err := w.readDesign(d.ID); err == nil {
			d.CreatedAt = prev.CreatedAt
		}
	}
	d.Touch()
	path := w.designPath(d.ID)
	if err := writeManifest(path, filepath.Join(w.Root, BackupsDirName, DesignsDirName), d, w.opts.MaxBackups); err != nil {
		return err
	}
	if err := indexDesign(ctx, w.db, d); err != nil {
		// the manifest is the source of truth; the index heals on Reindex
		w.l.Warn("index design failed", slog.String("design_id", d.ID), slog.Any("err", err))
	}
	_ = w.deletePreviews(ctx, d.ID)
	return nil
}

// LoadDesign reads a design manifest, falling back to its latest backup
// when the manifest is unreadable or fails validation.
func (w *Workspace) LoadDesign(ctx context.Context, id string) (*domain.Design, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return w.readDesign(id)
}

func (w *Workspace) readDesign(id string) (*domain.Design, error) {
	path := w.designPath(id)
	var d domain.Design
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("design %s: %w", id, domain.ErrNotFound)
	}
	if err == nil {
		if err = validateManifest(b); err == nil {
			if err = json.Unmarshal(b, &d); err == nil {
				return &d, nil
			}
		}
	}
	d = domain.Design{}
	berr := readLatestBackup(filepath.Join(w.Root, BackupsDirName, DesignsDirName), filepath.Base(path), &d)
	if berr == nil {
		w.l.Warn("design manifest unreadable, using backup", slog.String("design_id", id), slog.Any("err", err))
		return &d, nil
	}
	return nil, fmt.Errorf("open design %s: %w; backup attempt: %v", id, err, berr)
}

// FindDesignBySlug resolves a slug through the index.
func (w *Workspace) FindDesignBySlug(ctx context.Context, slug string) (*domain.Design, error) {
	var id string
	err := w.db.QueryRowContext(ctx, `SELECT id FROM designs WHERE slug=?`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slug %s: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find slug: %w", err)
	}
	return w.LoadDesign(ctx, id)
}

// DeleteDesign removes the manifest and every index row of the design.
// Backups are kept.
func (w *Workspace) DeleteDesign(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.Remove(w.designPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("design %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("delete design: %w", err)
	}
	return unindexDesign(ctx, w.db, id)
}

// SaveQRCode stores the code on the design record and in the index fast path.
func (w *Workspace) SaveQRCode(ctx context.Context, designID string, code domain.QRCode, meta *domain.QRMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, err := w.readDesign(designID)
	if err != nil {
		return err
	}
	d.QRCodeURL = code.URL
	d.QRCodeData = code.Data
	if meta != nil {
		m := *meta
		d.QRMetadata = &m
	}
	return w.saveDesignLocked(ctx, d)
}

// LoadQRCode reads the code from the index without touching the manifest.
func (w *Workspace) LoadQRCode(ctx context.Context, designID string) (domain.QRCode, error) {
	var c domain.QRCode
	err := w.db.QueryRowContext(ctx, `SELECT qr_code_url, qr_code_data FROM designs WHERE id=?`, designID).Scan(&c.URL, &c.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("design %s: %w", designID, domain.ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("load qr code: %w", err)
	}
	return c, nil
}

// SaveTemplate writes a template manifest and indexes it.
func (w *Workspace) SaveTemplate(ctx context.Context, t *domain.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := validID(t.ID); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if err := writeManifest(w.templatePath(t.ID), filepath.Join(w.Root, BackupsDirName, TemplatesDirName), t, w.opts.MaxBackups); err != nil {
		return err
	}
	return indexTemplate(ctx, w.db, t)
}

func (w *Workspace) LoadTemplate(ctx context.Context, id string) (*domain.Template, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	path := w.templatePath(id)
	var t domain.Template
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	if err == nil {
		if err = json.Unmarshal(b, &t); err == nil {
			return &t, nil
		}
	}
	if berr := readLatestBackup(filepath.Join(w.Root, BackupsDirName, TemplatesDirName), filepath.Base(path), &t); berr == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("open template %s: %w", id, err)
}

// ListTemplates returns templates by name, without canvas data.
func (w *Workspace) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT id, name, description, width, height, created_at, updated_at FROM templates ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	out := []domain.Template{}
	for rows.Next() {
		var t domain.Template
		var created, updated string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Width, &t.Height, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.CreatedAt = parseTS(created)
		t.UpdatedAt = parseTS(updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (w *Workspace) DeleteTemplate(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.Remove(w.templatePath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("delete template: %w", err)
	}
	if _, err := w.db.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id); err != nil {
		return fmt.Errorf("unindex template: %w", err)
	}
	return nil
}

func validateManifest(b []byte) error {
	designSchemaOnce.Do(func() {
		designSchema, designSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(designSchemaJSON))
	})
	if designSchemaErr != nil {
		return fmt.Errorf("compile manifest schema: %w", designSchemaErr)
	}
	res, err := designSchema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return fmt.Errorf("validate manifest: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("manifest does not conform: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// writeManifest writes v as compact JSON to path with transactional
// semantics, first copying the current file into a timestamped backup.
func writeManifest(path, backupDir string, v any, maxBackups int) error {
	// Compact so embedded canvas bytes read back as they were saved.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	name := filepath.Base(path)
	if _, statErr := os.Stat(path); statErr == nil {
		stamp := time.Now().UTC().Format("20060102-150405.000000")
		if cerr := copyFile(path, filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", name, stamp))); cerr != nil {
			return fmt.Errorf("backup current manifest: %w", cerr)
		}
		pruneBackups(backupDir, name, maxBackups)
	}
	dir := filepath.Dir(path)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", name, os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write temp manifest: %w", werr)
	}
	if rerr := os.Rename(temp, path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace manifest: %w", rerr)
	}
	return nil
}

func backupsOf(dir, name string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if strings.HasPrefix(n, name+".") && strings.HasSuffix(n, ".bak") {
			out = append(out, filepath.Join(dir, n))
		}
	}
	// the timestamp in the name sorts lexicographically
	sort.Strings(out)
	return out
}

func pruneBackups(dir, name string, keep int) {
	all := backupsOf(dir, name)
	for len(all) > keep {
		_ = os.Remove(all[0])
		all = all[1:]
	}
}

// readLatestBackup decodes the newest backup of name into v.
func readLatestBackup(dir, name string, v any) error {
	all := backupsOf(dir, name)
	if len(all) == 0 {
		return errors.New("no backups found")
	}
	b, err := os.ReadFile(all[len(all)-1])
	if err != nil {
		return fmt.Errorf("read latest backup: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse latest backup: %w", err)
	}
	return nil
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies src to dst, overwriting dst.
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sf.Close()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
