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
	"io"
	"log/slog"
	"net/http"

	"canvasqr/internal/uploads"
)

// handleUpload accepts one multipart "file" part, validates it and stores
// it in the artifact store.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.arts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "artifact storage is not configured"})
		return
	}
	max := s.cfg.Server.MaxUploadBytes
	if max <= 0 {
		max = uploads.DefaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, max+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	var up *uploads.Upload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		data, err := uploads.ReadLimited(part, max)
		_ = part.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		if up, err = uploads.Inspect(part.FileName(), data); err != nil {
			writeError(w, r, err)
			return
		}
		break
	}
	if up == nil {
		writeError(w, r, fmt.Errorf("%w: missing file part", errBadRequest))
		return
	}
	url, err := s.arts.Put(r.Context(), up.Key(), up.Data, up.ContentType)
	if err != nil {
		writeError(w, r, fmt.Errorf("store upload: %w", err))
		return
	}
	s.l.Info("upload stored", slog.String("kind", string(up.Kind)), slog.Int("size", up.Size), slog.String("owner", ownerFrom(r.Context())))
	resp := map[string]any{"url": url, "upload": up}
	if up.Kind == uploads.KindImage {
		if uri, err := up.DataURI(); err == nil {
			resp["dataUri"] = uri
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}
