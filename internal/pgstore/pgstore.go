/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package pgstore is the Postgres implementation of domain.Store for
// hosted deployments. Schema changes ship as embedded SQL migrations.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	applog "canvasqr/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options tunes the connection pool. Zero values pick the defaults.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store keeps designs and templates in Postgres.
type Store struct {
	pool *pgxpool.Pool
	l    *slog.Logger
}

var _ domain.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and applies pending migrations.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{pool: pool, l: applog.WithComponent("pgstore")}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate applies embedded SQL migrations in filename order, each in its
// own transaction, recording them in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied := map[int64]bool{}
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		if err := s.applyMigration(ctx, version, fname, string(b)); err != nil {
			return err
		}
		s.l.Info("applied migration", slog.String("name", fname))
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int64, name, sqlText string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if strings.TrimSpace(sqlText) != "" {
		if _, err := tx.Exec(ctx, sqlText); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1, $2)`, version, name); err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	return tx.Commit(ctx)
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	prefix, _, ok := strings.Cut(base, "_")
	if !ok {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

// --- designs ---

const designColumns = `id, name, description, width, height, canvas_data, qr_code_url, qr_code_data,
	design_qr_metadata, is_template, is_archived, is_public, owner_id, COALESCE(slug, ''), created_at, updated_at`

const listColumns = `id, name, description, width, height, qr_code_url, is_template, is_archived, is_public,
	owner_id, COALESCE(slug, ''), created_at, updated_at`

// language=SQL
const upsertDesignSQL = `INSERT INTO designs (id, name, description, width, height, canvas_data, qr_code_url, qr_code_data,
	design_qr_metadata, is_template, is_archived, is_public, owner_id, slug, search_text, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name, description = EXCLUDED.description, width = EXCLUDED.width, height = EXCLUDED.height,
	canvas_data = EXCLUDED.canvas_data, qr_code_url = EXCLUDED.qr_code_url, qr_code_data = EXCLUDED.qr_code_data,
	design_qr_metadata = EXCLUDED.design_qr_metadata, is_template = EXCLUDED.is_template,
	is_archived = EXCLUDED.is_archived, is_public = EXCLUDED.is_public, owner_id = EXCLUDED.owner_id,
	slug = EXCLUDED.slug, search_text = EXCLUDED.search_text, updated_at = EXCLUDED.updated_at
RETURNING created_at`

func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// searchText extracts the canvas text indexed alongside name and description.
func searchText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	doc, err := canvas.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.Join(doc.Texts(), "\n")
}

func isSlugConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "slug")
}

// SaveDesign upserts d. CreatedAt is owned by the database row.
func (s *Store) SaveDesign(ctx context.Context, d *domain.Design) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.Touch()
	var meta []byte
	if d.QRMetadata != nil {
		b, err := json.Marshal(d.QRMetadata)
		if err != nil {
			return fmt.Errorf("marshal qr metadata: %w", err)
		}
		meta = b
	}
	err := s.pool.QueryRow(ctx, upsertDesignSQL,
		d.ID, d.Name, d.Description, d.Width, d.Height, jsonParam(d.CanvasData), d.QRCodeURL, d.QRCodeData,
		jsonParam(meta), d.IsTemplate, d.IsArchived, d.IsPublic, d.OwnerID, nullable(d.Slug),
		searchText(d.CanvasData), d.CreatedAt, d.UpdatedAt,
	).Scan(&d.CreatedAt)
	if isSlugConflict(err) {
		return fmt.Errorf("%w: %s", domain.ErrSlugTaken, d.Slug)
	}
	if err != nil {
		return fmt.Errorf("upsert design: %w", err)
	}
	return nil
}

func scanDesign(row pgx.Row) (*domain.Design, error) {
	var d domain.Design
	var canvasData, meta []byte
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Width, &d.Height, &canvasData, &d.QRCodeURL, &d.QRCodeData,
		&meta, &d.IsTemplate, &d.IsArchived, &d.IsPublic, &d.OwnerID, &d.Slug, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(canvasData) > 0 {
		d.CanvasData = canvasData
	}
	if len(meta) > 0 {
		var m domain.QRMetadata
		if err := json.Unmarshal(meta, &m); err != nil {
			return nil, fmt.Errorf("decode qr metadata: %w", err)
		}
		d.QRMetadata = &m
	}
	return &d, nil
}

func (s *Store) LoadDesign(ctx context.Context, id string) (*domain.Design, error) {
	d, err := scanDesign(s.pool.QueryRow(ctx, `SELECT `+designColumns+` FROM designs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("design %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load design: %w", err)
	}
	return d, nil
}

func (s *Store) FindDesignBySlug(ctx context.Context, slug string) (*domain.Design, error) {
	d, err := scanDesign(s.pool.QueryRow(ctx, `SELECT `+designColumns+` FROM designs WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("slug %s: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find slug: %w", err)
	}
	return d, nil
}

// ListDesigns returns list rows without canvas data, newest first.
func (s *Store) ListDesigns(ctx context.Context, f domain.ListFilter) ([]domain.Design, error) {
	var (
		args []any
		b    strings.Builder
	)
	place := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	b.WriteString("SELECT " + listColumns + " FROM designs WHERE TRUE")
	if f.OwnerID != "" {
		b.WriteString(" AND owner_id = " + place(f.OwnerID))
	}
	if !f.IncludeArchived {
		b.WriteString(" AND NOT is_archived")
	}
	if f.TemplatesOnly {
		b.WriteString(" AND is_template")
	}
	if f.PublicOnly {
		b.WriteString(" AND is_public")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	b.WriteString(" ORDER BY updated_at DESC, id LIMIT " + place(limit) + " OFFSET " + place(offset))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list designs: %w", err)
	}
	defer rows.Close()
	out := []domain.Design{}
	for rows.Next() {
		var d domain.Design
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Width, &d.Height, &d.QRCodeURL, &d.IsTemplate,
			&d.IsArchived, &d.IsPublic, &d.OwnerID, &d.Slug, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan design: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDesign(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM designs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete design: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("design %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SaveQRCode updates only the QR columns. A nil meta keeps the stored metadata.
func (s *Store) SaveQRCode(ctx context.Context, designID string, code domain.QRCode, meta *domain.QRMetadata) error {
	var mb []byte
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal qr metadata: %w", err)
		}
		mb = b
	}
	tag, err := s.pool.Exec(ctx, `UPDATE designs SET qr_code_url = $2, qr_code_data = $3,
		design_qr_metadata = COALESCE($4::jsonb, design_qr_metadata), updated_at = now() WHERE id = $1`,
		designID, code.URL, code.Data, jsonParam(mb))
	if err != nil {
		return fmt.Errorf("save qr code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("design %s: %w", designID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) LoadQRCode(ctx context.Context, designID string) (domain.QRCode, error) {
	var c domain.QRCode
	err := s.pool.QueryRow(ctx, `SELECT qr_code_url, qr_code_data FROM designs WHERE id = $1`, designID).Scan(&c.URL, &c.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, fmt.Errorf("design %s: %w", designID, domain.ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("load qr code: %w", err)
	}
	return c, nil
}

// SearchDesigns matches every word of q as a prefix, best match first.
func (s *Store) SearchDesigns(ctx context.Context, q string, limit int) ([]domain.SearchHit, error) {
	expr := tsQuery(q)
	if expr == "" {
		return []domain.SearchHit{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name,
		COALESCE(ts_headline('simple', name || ' ' || description || ' ' || search_text, q,
			'StartSel=[, StopSel=], MaxFragments=1, MaxWords=12'), ''),
		ts_rank(search_vector, q)
		FROM designs, to_tsquery('simple', $1) q
		WHERE search_vector @@ q AND NOT is_archived
		ORDER BY ts_rank(search_vector, q) DESC, updated_at DESC
		LIMIT $2`, expr, limit)
	if err != nil {
		return nil, fmt.Errorf("search designs: %w", err)
	}
	defer rows.Close()
	out := []domain.SearchHit{}
	for rows.Next() {
		var h domain.SearchHit
		var rank float32
		if err := rows.Scan(&h.DesignID, &h.Name, &h.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Score = float64(rank)
		out = append(out, h)
	}
	return out, rows.Err()
}

// tsQuery turns free text into a tsquery of AND-ed prefix terms.
func tsQuery(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, w+":*")
	}
	return strings.Join(terms, " & ")
}

// --- templates ---

func (s *Store) SaveTemplate(ctx context.Context, t *domain.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	err := s.pool.QueryRow(ctx, `INSERT INTO templates (id, name, description, width, height, canvas_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, width = EXCLUDED.width,
			height = EXCLUDED.height, canvas_data = EXCLUDED.canvas_data, updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		t.ID, t.Name, t.Description, t.Width, t.Height, []byte(t.CanvasData), t.CreatedAt, t.UpdatedAt).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

func (s *Store) LoadTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var t domain.Template
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT id, name, description, width, height, canvas_data, created_at, updated_at
		FROM templates WHERE id = $1`, id).Scan(&t.ID, &t.Name, &t.Description, &t.Width, &t.Height, &data, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	t.CanvasData = data
	return &t, nil
}

// ListTemplates returns templates by name, without canvas data.
func (s *Store) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, width, height, created_at, updated_at
		FROM templates ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	out := []domain.Template{}
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Width, &t.Height, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
