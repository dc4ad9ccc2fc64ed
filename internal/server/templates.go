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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	"canvasqr/internal/editor"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListTemplates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": list})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Width       float64         `json:"width"`
		Height      float64         `json:"height"`
		CanvasData  json.RawMessage `json:"canvas_data"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if len(in.CanvasData) > 0 {
		if err := canvas.Validate(in.CanvasData); err != nil {
			writeError(w, r, err)
			return
		}
	}
	now := time.Now().UTC()
	t := &domain.Template{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Width:       in.Width,
		Height:      in.Height,
		CanvasData:  in.CanvasData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.SaveTemplate(r.Context(), t); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.LoadTemplate(r.Context(), mux.Vars(r)["tid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTemplate(r.Context(), mux.Vars(r)["tid"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveAsTemplate copies the design's current canvas into a new,
// independent template.
func (s *Server) handleSaveAsTemplate(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, err)
			return
		}
	}
	doc, err := s.currentDocument(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.CanvasData = doc.Bytes()
	t := d.AsTemplate(in.Name)
	if err := s.store.SaveTemplate(r.Context(), t); err != nil {
		writeError(w, r, err)
		return
	}
	s.l.Info("template saved", slog.String("design_id", d.ID), slog.String("template_id", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

// handleLoadTemplate overwrites the session canvas with the template;
// the change is undoable and auto-saved.
func (s *Server) handleLoadTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.LoadTemplate(r.Context(), mux.Vars(r)["tid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		if err := sess.ApplyTemplate(t.CanvasData); err != nil {
			return fmt.Errorf("apply template %s: %w", t.ID, err)
		}
		st.Canvas = sess.Snapshot()
		return nil
	})
}
