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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	applog "canvasqr/internal/log"
	"canvasqr/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// IndexDirName holds the disposable index data under the workspace root.
	IndexDirName  = ".cqr"
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the index schema. Fresh databases start at 1 and
	// migrate forward like old ones.
	schemaVersion = 2

	// indexTimeLayout is fixed width so timestamps sort as text.
	indexTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// IndexPath returns the full path to the workspace index database file.
func IndexPath(root string) string {
	return filepath.Join(root, IndexDirName, IndexFileName)
}

// InitOrOpenIndex ensures the index exists at .cqr/index.sqlite, opens it,
// enables WAL mode and brings the schema up to date.
func InitOrOpenIndex(root string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_init").With(
		slog.String("root", root),
	)
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, IndexDirName), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	path := IndexPath(root)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure index schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("index ready", slog.String("path", path))
	return db, nil
}

// openHealthyIndex opens the index and replaces it when it cannot be
// opened or fails an integrity check. rebuilt reports a replacement.
func openHealthyIndex(ctx context.Context, root string) (db *sql.DB, rebuilt bool, err error) {
	path := IndexPath(root)
	db, err = InitOrOpenIndex(root)
	if err == nil {
		var chk string
		qerr := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk)
		if qerr == nil && strings.Contains(strings.ToLower(chk), "ok") {
			if _, perr := db.ExecContext(ctx, `SELECT 1 FROM designs LIMIT 1;`); perr == nil {
				return db, false, nil
			}
		}
		_ = db.Close()
	}
	backupIndexFile(path)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	db, rerr := InitOrOpenIndex(root)
	if rerr != nil {
		return nil, false, fmt.Errorf("recreate index: %w (open err: %v)", rerr, err)
	}
	applog.WithComponent("storage").Warn("index rebuilt", slog.String("root", root), slog.Any("cause", err))
	return db, true, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// migrations maps a target schema version to its statements.
var migrations = map[int][]string{
	2: {
		`CREATE INDEX IF NOT EXISTS idx_designs_updated ON designs(updated_at);`,
		`CREATE INDEX IF NOT EXISTS idx_designs_owner ON designs(owner_id);`,
	},
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range migrations[next] {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	// best-effort FTS optimize
	_, _ = db.ExecContext(ctx, `INSERT INTO fts_documents(fts_documents) VALUES('optimize')`)
	return nil
}

// ensureIndexSchema creates the index tables and FTS structures.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS designs (
			id           TEXT PRIMARY KEY,
			name         TEXT    NOT NULL,
			description  TEXT    NOT NULL DEFAULT '',
			width        REAL    NOT NULL DEFAULT 0,
			height       REAL    NOT NULL DEFAULT 0,
			slug         TEXT UNIQUE,
			owner_id     TEXT    NOT NULL DEFAULT '',
			is_template  INTEGER NOT NULL DEFAULT 0,
			is_archived  INTEGER NOT NULL DEFAULT 0,
			is_public    INTEGER NOT NULL DEFAULT 0,
			qr_code_url  TEXT    NOT NULL DEFAULT '',
			qr_code_data TEXT    NOT NULL DEFAULT '',
			created_at   TEXT    NOT NULL,
			updated_at   TEXT    NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS templates (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			width       REAL NOT NULL DEFAULT 0,
			height      REAL NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
		// One searchable document per design: its name and the text on its canvas.
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id    INTEGER PRIMARY KEY,
			design_id TEXT NOT NULL UNIQUE,
			name      TEXT,
			body      TEXT
		);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_documents USING fts5(
			name,
			body,
			content='documents',
			content_rowid='doc_id',
			tokenize = 'unicode61'
		);`,
		`CREATE TABLE IF NOT EXISTS previews (
			id          INTEGER PRIMARY KEY,
			design_id   TEXT    NOT NULL,
			kind        TEXT    NOT NULL DEFAULT 'thumb',
			w           INTEGER NOT NULL DEFAULT 0,
			h           INTEGER NOT NULL DEFAULT 0,
			blob        BLOB    NOT NULL,
			size        INTEGER NOT NULL DEFAULT 0,
			updated_at  TEXT    NOT NULL,
			last_access TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_previews_variant ON previews(design_id, kind, w, h);`,
		`CREATE INDEX IF NOT EXISTS idx_previews_access ON previews(last_access);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id   INTEGER PRIMARY KEY,
			key  TEXT    NOT NULL,
			seq  INTEGER NOT NULL DEFAULT 0,
			ts   TEXT    NOT NULL,
			blob BLOB    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_key_ts ON snapshots(key, ts);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO fts_documents(rowid, name, body) VALUES (new.doc_id, new.name, new.body);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, name, body) VALUES ('delete', old.doc_id, old.name, old.body);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, name, body) VALUES ('delete', old.doc_id, old.name, old.body);
			INSERT INTO fts_documents(rowid, name, body) VALUES (new.doc_id, new.name, new.body);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return nil
}

// backupIndexFile copies the index into a timestamped backup in .cqr/backups.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// indexDesign upserts the list row and the searchable document of d.
func indexDesign(ctx context.Context, db *sql.DB, d *domain.Design) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO designs(id,name,description,width,height,slug,owner_id,is_template,is_archived,is_public,qr_code_url,qr_code_data,created_at,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, width=excluded.width, height=excluded.height,
			slug=excluded.slug, owner_id=excluded.owner_id, is_template=excluded.is_template, is_archived=excluded.is_archived,
			is_public=excluded.is_public, qr_code_url=excluded.qr_code_url, qr_code_data=excluded.qr_code_data, updated_at=excluded.updated_at`,
		d.ID, d.Name, d.Description, d.Width, d.Height, nullIfEmpty(d.Slug), d.OwnerID,
		boolInt(d.IsTemplate), boolInt(d.IsArchived), boolInt(d.IsPublic), d.QRCodeURL, d.QRCodeData,
		d.CreatedAt.UTC().Format(indexTimeLayout), d.UpdatedAt.UTC().Format(indexTimeLayout))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert design: %w", err)
	}
	body := strings.TrimSpace(d.Description + "\n" + canvasText(d.CanvasData))
	_, err = tx.ExecContext(ctx, `INSERT INTO documents(design_id, name, body) VALUES(?,?,?)
		ON CONFLICT(design_id) DO UPDATE SET name=excluded.name, body=excluded.body`, d.ID, d.Name, body)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert document: %w", err)
	}
	return tx.Commit()
}

func unindexDesign(ctx context.Context, db *sql.DB, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmts := []struct {
		q   string
		arg string
	}{
		{`DELETE FROM designs WHERE id=?`, id},
		{`DELETE FROM documents WHERE design_id=?`, id},
		{`DELETE FROM previews WHERE design_id=?`, id},
		{`DELETE FROM snapshots WHERE key=?`, SnapshotKey(id)},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.q, s.arg); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("unindex design: %w", err)
		}
	}
	return tx.Commit()
}

func indexTemplate(ctx context.Context, db *sql.DB, t *domain.Template) error {
	_, err := db.ExecContext(ctx, `INSERT INTO templates(id,name,description,width,height,created_at,updated_at) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, width=excluded.width,
			height=excluded.height, updated_at=excluded.updated_at`,
		t.ID, t.Name, t.Description, t.Width, t.Height,
		t.CreatedAt.UTC().Format(indexTimeLayout), t.UpdatedAt.UTC().Format(indexTimeLayout))
	if err != nil {
		return fmt.Errorf("index template: %w", err)
	}
	return nil
}

// canvasText joins the text content of a canvas, groups included.
func canvasText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	doc, err := canvas.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.Join(doc.Texts(), "\n")
}

func (w *Workspace) indexEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := w.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM designs) + (SELECT COUNT(*) FROM templates)`).Scan(&n); err != nil {
		return false, fmt.Errorf("count index rows: %w", err)
	}
	return n == 0, nil
}

// Reindex rebuilds the list and search tables from the manifests on disk.
// Previews and snapshots are kept.
func (w *Workspace) Reindex(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, q := range []string{`DELETE FROM designs;`, `DELETE FROM documents;`, `DELETE FROM templates;`} {
		if _, err := w.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	n := 0
	for _, id := range manifestIDs(filepath.Join(w.Root, DesignsDirName)) {
		d, err := w.readDesign(id)
		if err != nil {
			w.l.Warn("skip unreadable design", slog.String("design_id", id), slog.Any("err", err))
			continue
		}
		if err := indexDesign(ctx, w.db, d); err != nil {
			w.l.Warn("skip unindexable design", slog.String("design_id", id), slog.Any("err", err))
			continue
		}
		n++
	}
	for _, id := range manifestIDs(filepath.Join(w.Root, TemplatesDirName)) {
		t, err := w.LoadTemplate(ctx, id)
		if err != nil {
			w.l.Warn("skip unreadable template", slog.String("template_id", id), slog.Any("err", err))
			continue
		}
		if err := indexTemplate(ctx, w.db, t); err != nil {
			return err
		}
	}
	w.l.Info("index rebuilt from manifests", slog.Int("designs", n))
	return nil
}

func manifestIDs(dir string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(n, ".json"))
	}
	return ids
}

// ListDesigns reads list rows from the index, most recently updated first.
func (w *Workspace) ListDesigns(ctx context.Context, f domain.ListFilter) ([]domain.Design, error) {
	var sb strings.Builder
	var args []any
	sb.WriteString(`SELECT id, name, description, width, height, COALESCE(slug,''), owner_id, is_template, is_archived, is_public, qr_code_url, created_at, updated_at
		FROM designs WHERE 1=1`)
	if f.OwnerID != "" {
		sb.WriteString(" AND owner_id=?")
		args = append(args, f.OwnerID)
	}
	if !f.IncludeArchived {
		sb.WriteString(" AND is_archived=0")
	}
	if f.TemplatesOnly {
		sb.WriteString(" AND is_template=1")
	}
	if f.PublicOnly {
		sb.WriteString(" AND is_public=1")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	sb.WriteString(" ORDER BY updated_at DESC, id LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := w.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list designs: %w", err)
	}
	defer rows.Close()
	out := []domain.Design{}
	for rows.Next() {
		var d domain.Design
		var tpl, arch, pub int
		var created, updated string
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Width, &d.Height, &d.Slug, &d.OwnerID, &tpl, &arch, &pub, &d.QRCodeURL, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan design: %w", err)
		}
		d.IsTemplate, d.IsArchived, d.IsPublic = tpl == 1, arch == 1, pub == 1
		d.CreatedAt, d.UpdatedAt = parseTS(created), parseTS(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}
