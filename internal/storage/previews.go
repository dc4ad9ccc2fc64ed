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
	"os"
	"strconv"
	"strings"
	"time"
)

// Preview kinds stored in the previews table.
// - thumb: raster thumbnail (PNG) of the whole design
// - scene: the preview tree as JSON
const (
	PreviewKindThumb = "thumb"
	PreviewKindScene = "scene"
)

// PreviewKey identifies one cached variant of a design preview.
type PreviewKey struct {
	DesignID string
	Kind     string
	W, H     int
}

func (k PreviewKey) validate() error {
	if k.Kind != PreviewKindThumb && k.Kind != PreviewKindScene {
		return fmt.Errorf("invalid preview kind: %s", k.Kind)
	}
	return validID(k.DesignID)
}

// GetPreview returns the cached blob for k and refreshes its access time.
// A miss returns nil, nil.
func (w *Workspace) GetPreview(ctx context.Context, k PreviewKey) ([]byte, error) {
	var blob []byte
	err := w.db.QueryRowContext(ctx, `SELECT blob FROM previews WHERE design_id=? AND kind=? AND w=? AND h=?`,
		k.DesignID, k.Kind, k.W, k.H).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query preview: %w", err)
	}
	now := time.Now().UTC().Format(indexTimeLayout)
	_, _ = w.db.ExecContext(ctx, `UPDATE previews SET last_access=? WHERE design_id=? AND kind=? AND w=? AND h=?`,
		now, k.DesignID, k.Kind, k.W, k.H)
	return blob, nil
}

// PutPreview upserts a preview blob and evicts least recently used
// entries until the cache fits its cap.
func (w *Workspace) PutPreview(ctx context.Context, k PreviewKey, blob []byte) error {
	if err := k.validate(); err != nil {
		return err
	}
	now := time.Now().UTC().Format(indexTimeLayout)
	_, err := w.db.ExecContext(ctx, `INSERT INTO previews(design_id,kind,w,h,blob,size,updated_at,last_access)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(design_id,kind,w,h) DO UPDATE SET blob=excluded.blob, size=excluded.size, updated_at=excluded.updated_at, last_access=excluded.last_access`,
		k.DesignID, k.Kind, k.W, k.H, blob, len(blob), now, now)
	if err != nil {
		return fmt.Errorf("upsert preview: %w", err)
	}
	if w.opts.PreviewCapBytes > 0 {
		return EvictPreviewsToFit(ctx, w.db, w.opts.PreviewCapBytes)
	}
	return nil
}

// GetOrCreatePreview fetches a preview or generates and stores it with gen.
func (w *Workspace) GetOrCreatePreview(ctx context.Context, k PreviewKey, gen func(context.Context) ([]byte, error)) ([]byte, error) {
	if b, err := w.GetPreview(ctx, k); err != nil {
		return nil, err
	} else if b != nil {
		return b, nil
	}
	if gen == nil {
		return nil, nil
	}
	data, err := gen(ctx)
	if err != nil || data == nil {
		return nil, err
	}
	if err := w.PutPreview(ctx, k, data); err != nil {
		return nil, err
	}
	return data, nil
}

// deletePreviews drops every cached variant of a design.
func (w *Workspace) deletePreviews(ctx context.Context, designID string) error {
	if _, err := w.db.ExecContext(ctx, `DELETE FROM previews WHERE design_id=?`, designID); err != nil {
		return fmt.Errorf("delete previews: %w", err)
	}
	return nil
}

// EvictPreviewsToFit deletes least-recently-used rows until total size <= capBytes.
func EvictPreviewsToFit(ctx context.Context, db *sql.DB, capBytes int64) error {
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM previews`).Scan(&total); err != nil {
		return fmt.Errorf("sum previews size: %w", err)
	}
	if total <= capBytes {
		return nil
	}
	rows, err := db.QueryContext(ctx, `SELECT id, size FROM previews ORDER BY
		CASE WHEN last_access IS NULL THEN 0 ELSE 1 END ASC, last_access ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	toDelete := make([]any, 0, 32)
	cur := total
	for rows.Next() {
		var id, sz int64
		if err := rows.Scan(&id, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		toDelete = append(toDelete, id)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// close the cursor before writing on the single connection
	if err := rows.Close(); err != nil {
		return err
	}
	if len(toDelete) == 0 {
		return nil
	}
	q := `DELETE FROM previews WHERE id IN (` + placeholders(len(toDelete)) + `)`
	if _, err := db.ExecContext(ctx, q, toDelete...); err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	return nil
}

// TotalPreviewBytes returns the bytes tracked by the preview cache.
func (w *Workspace) TotalPreviewBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := w.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM previews`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// MaxPreviewsBytesFromEnv reads CQR_PREVIEWS_MAX_BYTES, defaulting to 256MB.
func MaxPreviewsBytesFromEnv() int64 {
	v := os.Getenv("CQR_PREVIEWS_MAX_BYTES")
	if v == "" {
		return 256 * 1024 * 1024
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 256 * 1024 * 1024
	}
	return n
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
