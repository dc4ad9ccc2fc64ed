/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"canvasqr/internal/autosave"
	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	"canvasqr/internal/editor"
)

// storeSaver persists autosave snapshots as a design's canvas_data and
// queues a thumbnail refresh after every successful save.
type storeSaver struct {
	store domain.Store
	jobs  PreviewQueue
	l     *slog.Logger
}

func (s *storeSaver) Save(ctx context.Context, snap autosave.Snapshot) error {
	if sv, ok := s.store.(autosave.Saver); ok {
		if err := sv.Save(ctx, snap); err != nil {
			return err
		}
	} else {
		d, err := s.store.LoadDesign(ctx, snap.DesignID)
		if err != nil {
			return err
		}
		d.CanvasData = append(d.CanvasData[:0:0], snap.Canvas...)
		d.Touch()
		if err := s.store.SaveDesign(ctx, d); err != nil {
			return err
		}
	}
	if s.jobs != nil {
		rev := snap.SavedAt
		if rev.IsZero() {
			rev = time.Now()
		}
		if err := s.jobs.EnqueuePreview(ctx, snap.DesignID, rev); err != nil {
			s.l.Warn("enqueue preview", slog.String("design_id", snap.DesignID), slog.Any("err", err))
		}
	}
	return nil
}

// loadDocument reads the latest canvas of a design: the store's snapshot
// cache when it has one, else canvas_data, else a blank canvas sized to
// the design.
func (s *Server) loadDocument(ctx context.Context, id string) (*canvas.Document, error) {
	d, err := s.store.LoadDesign(ctx, id)
	if err != nil {
		return nil, err
	}
	if ld, ok := s.store.(autosave.Loader); ok {
		snap, err := ld.Load(ctx, id)
		switch {
		case err == nil:
			return canvas.ParseOrNew(snap.Canvas, d.Width, d.Height)
		case !errors.Is(err, autosave.ErrNotFound):
			return nil, err
		}
	}
	return canvas.ParseOrNew(d.CanvasData, d.Width, d.Height)
}

// design loads the {id} route variable and checks access.
func (s *Server) design(r *http.Request, write bool) (*domain.Design, error) {
	d, err := s.store.LoadDesign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return nil, err
	}
	owner := ownerFrom(r.Context())
	if write && !canWrite(owner, d.OwnerID) {
		return nil, fmt.Errorf("%w: design belongs to another owner", errForbidden)
	}
	if !write && !canRead(owner, d.OwnerID, d.IsPublic) {
		// hide private designs from other owners
		return nil, fmt.Errorf("design %s: %w", d.ID, domain.ErrNotFound)
	}
	return d, nil
}

// session opens the editor session of the {id} design after a write check.
func (s *Server) session(r *http.Request) (*editor.Session, error) {
	d, err := s.design(r, true)
	if err != nil {
		return nil, err
	}
	return s.sessions.Open(r.Context(), d.ID, s.loadDocument)
}

// currentDocument prefers a live session over the stored canvas.
func (s *Server) currentDocument(ctx context.Context, d *domain.Design) (*canvas.Document, error) {
	if sess, ok := s.sessions.Get(d.ID); ok {
		return sess.Document(), nil
	}
	return s.loadDocument(ctx, d.ID)
}
