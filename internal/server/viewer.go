/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"canvasqr/internal/domain"
	"canvasqr/internal/qr"
	"canvasqr/internal/render"
)

// viewable resolves a slug or id and hides archived or foreign private
// designs behind a 404.
func (s *Server) viewable(r *http.Request, slugOrID string) (*domain.Design, error) {
	d, err := s.store.FindDesignBySlug(r.Context(), slugOrID)
	if errors.Is(err, domain.ErrNotFound) {
		d, err = s.store.LoadDesign(r.Context(), slugOrID)
	}
	if err != nil {
		return nil, err
	}
	if d.IsArchived || !canRead(ownerFrom(r.Context()), d.OwnerID, d.IsPublic) {
		return nil, fmt.Errorf("design %s: %w", slugOrID, domain.ErrNotFound)
	}
	return d, nil
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, err := s.viewable(r, vars["slugOrID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	sc, err := s.scene(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     d.ID,
			"name":   d.Name,
			"slug":   d.Slug,
			"locale": vars["locale"],
			"scene":  sc,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(render.HTML(sc, render.HTMLOptions{Title: d.Name, Lang: vars["locale"]})))
}

// handleQRScreen returns what the QR page of a design shows.
func (s *Server) handleQRScreen(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, err := s.viewable(r, vars["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	code, err := s.store.LoadQRCode(r.Context(), d.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"designId":   d.ID,
		"name":       d.Name,
		"viewerUrl":  s.viewerTarget(d, vars["locale"]),
		"qrCodeUrl":  code.URL,
		"qrCodeData": code.Data,
		"screenUrl":  qr.QRScreenURL(s.cfg.General.PublicOrigin, vars["locale"], d.ID),
	})
}
