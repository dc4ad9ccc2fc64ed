/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	"canvasqr/internal/render"
)

// designInput is the writable subset of a design. Nil fields are left
// unchanged on update.
type designInput struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Width       *float64        `json:"width"`
	Height      *float64        `json:"height"`
	CanvasData  json.RawMessage `json:"canvas_data"`
	Slug        *string         `json:"slug"`
	IsPublic    *bool           `json:"is_public"`
	IsArchived  *bool           `json:"is_archived"`
	IsTemplate  *bool           `json:"is_template"`
}

func (in designInput) apply(d *domain.Design) error {
	if in.Name != nil {
		d.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		d.Description = *in.Description
	}
	if in.Width != nil {
		d.Width = *in.Width
	}
	if in.Height != nil {
		d.Height = *in.Height
	}
	if in.Slug != nil {
		slug := domain.Slugify(*in.Slug)
		if *in.Slug != "" && slug == "" {
			return fmt.Errorf("%w: slug %q has no usable characters", errBadRequest, *in.Slug)
		}
		d.Slug = slug
	}
	if in.IsPublic != nil {
		d.IsPublic = *in.IsPublic
	}
	if in.IsArchived != nil {
		d.IsArchived = *in.IsArchived
	}
	if in.IsTemplate != nil {
		d.IsTemplate = *in.IsTemplate
	}
	return nil
}

func (in designInput) canvas() ([]byte, bool, error) {
	if len(in.CanvasData) == 0 || string(in.CanvasData) == "null" {
		return nil, false, nil
	}
	if err := canvas.Validate(in.CanvasData); err != nil {
		return nil, false, err
	}
	return in.CanvasData, true, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func (s *Server) handleListDesigns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner := ownerFrom(r.Context())
	f := domain.ListFilter{
		OwnerID:         owner,
		IncludeArchived: queryBool(r, "archived"),
		TemplatesOnly:   queryBool(r, "templates"),
		PublicOnly:      queryBool(r, "public"),
		Limit:           limit,
		Offset:          offset,
	}
	list, err := s.store.ListDesigns(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]domain.Design, 0, len(list))
	for _, d := range list {
		if canRead(owner, d.OwnerID, d.IsPublic) {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"designs": out})
}

func (s *Server) handleCreateDesign(w http.ResponseWriter, r *http.Request) {
	var in designInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		writeError(w, r, fmt.Errorf("%w: name is required", errBadRequest))
		return
	}
	d := domain.NewDesign("", render.DefaultWidth, render.DefaultHeight)
	if err := in.apply(d); err != nil {
		writeError(w, r, err)
		return
	}
	data, ok, err := in.canvas()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		data = canvas.NewDocument(d.Width, d.Height).Bytes()
	}
	d.CanvasData = data
	d.OwnerID = ownerFrom(r.Context())
	if err := s.store.SaveDesign(r.Context(), d); err != nil {
		writeError(w, r, err)
		return
	}
	s.l.Info("design created", slog.String("design_id", d.ID), slog.String("owner", d.OwnerID))
	s.refreshPreview(r, d)
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDesign(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess, ok := s.sessions.Get(d.ID); ok {
		d.CanvasData = sess.Snapshot()
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateDesign(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in designInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := in.apply(d); err != nil {
		writeError(w, r, err)
		return
	}
	data, hasCanvas, err := in.canvas()
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, live := s.sessions.Get(d.ID)
	switch {
	case hasCanvas && live:
		doc, err := canvas.Parse(data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := sess.Replace(doc); err != nil {
			writeError(w, r, err)
			return
		}
		d.CanvasData = sess.Snapshot()
	case hasCanvas:
		d.CanvasData = data
	case live:
		d.CanvasData = sess.Snapshot()
	}
	d.Touch()
	if err := s.store.SaveDesign(r.Context(), d); err != nil {
		writeError(w, r, err)
		return
	}
	if hasCanvas {
		s.refreshPreview(r, d)
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDesign(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sessions.Close(r.Context(), d.ID); err != nil {
		s.l.Warn("close session before delete", slog.String("design_id", d.ID), slog.Any("err", err))
	}
	if err := s.store.DeleteDesign(r.Context(), d.ID); err != nil {
		writeError(w, r, err)
		return
	}
	s.l.Info("design deleted", slog.String("design_id", d.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchDesigns(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, fmt.Errorf("%w: q is required", errBadRequest))
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hits, err := s.store.SearchDesigns(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	owner := ownerFrom(r.Context())
	out := make([]domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		d, err := s.store.LoadDesign(r.Context(), h.DesignID)
		if err != nil || !canRead(owner, d.OwnerID, d.IsPublic) {
			continue
		}
		out = append(out, h)
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": out})
}

// refreshPreview queues a thumbnail render without failing the request.
func (s *Server) refreshPreview(r *http.Request, d *domain.Design) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.EnqueuePreview(r.Context(), d.ID, d.UpdatedAt); err != nil {
		s.l.Warn("enqueue preview", slog.String("design_id", d.ID), slog.Any("err", err))
	}
}
