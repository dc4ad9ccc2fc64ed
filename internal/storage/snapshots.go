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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"canvasqr/internal/autosave"
	"canvasqr/internal/domain"
)

// language=SQL
// dialect=SQLite
const insertSnapshotSQL = `INSERT INTO snapshots(key, seq, ts, blob) VALUES (?, ?, ?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestSnapshotSQL = `SELECT seq, ts, blob FROM snapshots WHERE key = ? ORDER BY ts DESC, id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listSnapshotsSQL = `SELECT seq, ts, blob FROM snapshots WHERE key = ? ORDER BY ts DESC, id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const pruneOldSnapshotsSQL = `DELETE FROM snapshots WHERE key = ? AND id NOT IN (
	SELECT id FROM snapshots WHERE key = ? ORDER BY ts DESC, id DESC LIMIT ?
)`

// SnapshotKey is the local cache key of a design's canvas snapshots.
func SnapshotKey(designID string) string { return "design_" + designID }

// StoredSnapshot is one persisted canvas state.
type StoredSnapshot struct {
	Seq  uint64
	TS   time.Time
	Blob []byte
}

// SaveSnapshot appends a snapshot for key.
func (w *Workspace) SaveSnapshot(ctx context.Context, key string, seq uint64, blob []byte, ts time.Time) error {
	_, err := w.db.ExecContext(ctx, insertSnapshotSQL, key, int64(seq), ts.UTC().Format(indexTimeLayout), blob)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot returns the newest snapshot for key; ok is false when none exists.
func (w *Workspace) GetLatestSnapshot(ctx context.Context, key string) (StoredSnapshot, bool, error) {
	var s StoredSnapshot
	var seq int64
	var ts string
	err := w.db.QueryRowContext(ctx, selectLatestSnapshotSQL, key).Scan(&seq, &ts, &s.Blob)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredSnapshot{}, false, nil
	}
	if err != nil {
		return StoredSnapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	s.Seq, s.TS = uint64(seq), parseTS(ts)
	return s, true, nil
}

// ListSnapshots returns up to limit most recent snapshots for key.
func (w *Workspace) ListSnapshots(ctx context.Context, key string, limit int) ([]StoredSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.db.QueryContext(ctx, listSnapshotsSQL, key, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []StoredSnapshot
	for rows.Next() {
		var s StoredSnapshot
		var seq int64
		var ts string
		if err := rows.Scan(&seq, &ts, &s.Blob); err != nil {
			return nil, err
		}
		s.Seq, s.TS = uint64(seq), parseTS(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneOldSnapshots keeps at most keepLast snapshots for key.
func (w *Workspace) PruneOldSnapshots(ctx context.Context, key string, keepLast int) (int64, error) {
	if keepLast <= 0 {
		return 0, nil
	}
	res, err := w.db.ExecContext(ctx, pruneOldSnapshotsSQL, key, key, keepLast)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Save implements autosave.Saver. The snapshot is appended to the local
// cache and, when the design has a manifest, becomes its canvas_data.
func (w *Workspace) Save(ctx context.Context, s autosave.Snapshot) error {
	if err := validID(s.DesignID); err != nil {
		return err
	}
	if !json.Valid(s.Canvas) {
		return fmt.Errorf("%w: canvas is not valid JSON", domain.ErrInvalid)
	}
	ts := s.SavedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	key := SnapshotKey(s.DesignID)
	if err := w.SaveSnapshot(ctx, key, s.Seq, s.Canvas, ts); err != nil {
		return err
	}

	w.mu.Lock()
	d, err := w.readDesign(s.DesignID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		w.l.Debug("snapshot cached for design without manifest", slog.String("design_id", s.DesignID))
	case err != nil:
		w.mu.Unlock()
		return err
	default:
		d.CanvasData = append(json.RawMessage(nil), s.Canvas...)
		err = w.saveDesignLocked(ctx, d)
	}
	w.mu.Unlock()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if n, perr := w.PruneOldSnapshots(ctx, key, w.opts.KeepSnapshots); perr != nil {
		w.l.Warn("prune snapshots failed", slog.String("design_id", s.DesignID), slog.Any("err", perr))
	} else if n > 0 {
		w.l.Debug("pruned snapshots", slog.String("design_id", s.DesignID), slog.Int64("n", n))
	}
	return nil
}

// Load implements autosave.Loader: the newer of the latest cached
// snapshot and the manifest's canvas_data.
func (w *Workspace) Load(ctx context.Context, designID string) (autosave.Snapshot, error) {
	if err := validID(designID); err != nil {
		return autosave.Snapshot{}, err
	}
	snap, ok, err := w.GetLatestSnapshot(ctx, SnapshotKey(designID))
	if err != nil {
		return autosave.Snapshot{}, err
	}
	d, derr := w.readDesign(designID)
	if derr != nil && !errors.Is(derr, domain.ErrNotFound) {
		return autosave.Snapshot{}, derr
	}
	if derr == nil && len(d.CanvasData) > 0 && (!ok || !d.UpdatedAt.Before(snap.TS)) {
		return autosave.Snapshot{DesignID: designID, Canvas: d.CanvasData, SavedAt: d.UpdatedAt}, nil
	}
	if ok {
		return autosave.Snapshot{DesignID: designID, Canvas: snap.Blob, Seq: snap.Seq, SavedAt: snap.TS}, nil
	}
	return autosave.Snapshot{}, fmt.Errorf("design %s: %w", designID, autosave.ErrNotFound)
}
