/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"canvasqr/internal/domain"
	"canvasqr/internal/jobs"
	"canvasqr/internal/render"
	"canvasqr/internal/storage"
)

// maxThumbWidth bounds ?w= on thumbnails.
const maxThumbWidth = 2048

// fetchImage resolves image sources that point into the artifact store.
// Other remote sources get the renderer's placeholder.
func (s *Server) fetchImage(ctx context.Context) render.ImageFetcher {
	if s.arts == nil {
		return nil
	}
	prefix := strings.TrimSuffix(s.arts.URL("k"), "k")
	if len(prefix) < 2 {
		return nil
	}
	return func(src string) (image.Image, error) {
		key, ok := strings.CutPrefix(src, prefix)
		if !ok {
			return nil, fmt.Errorf("image %q is not an artifact", src)
		}
		data, err := s.arts.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		return img, err
	}
}

// scene builds the preview tree of the current document.
func (s *Server) scene(ctx context.Context, d *domain.Design) (*render.Scene, error) {
	doc, err := s.currentDocument(ctx, d)
	if err != nil {
		return nil, err
	}
	return render.Build(doc, render.Options{Layout: s.layout}), nil
}

// cacheable reports whether the stored canvas is the current one, so the
// preview cache keyed by design is valid.
func (s *Server) cacheable(id string) bool {
	if s.previews == nil {
		return false
	}
	sess, ok := s.sessions.Get(id)
	return !ok || !sess.Dirty()
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	gen := func(ctx context.Context) ([]byte, error) {
		sc, err := s.scene(ctx, d)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sc)
	}
	var body []byte
	if s.cacheable(d.ID) {
		body, err = s.previews.GetOrCreatePreview(r.Context(), storage.PreviewKey{DesignID: d.ID, Kind: storage.PreviewKindScene}, gen)
	} else {
		body, err = gen(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(body)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	width, err := queryInt(r, "w", s.cfg.Jobs.PreviewWidth)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if width <= 0 {
		width = jobs.DefaultPreviewWidth
	}
	if width > maxThumbWidth {
		writeError(w, r, fmt.Errorf("%w: w exceeds %d", errBadRequest, maxThumbWidth))
		return
	}
	sc, err := s.scene(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sc.Width <= 0 {
		writeError(w, r, render.ErrEmptyCanvas)
		return
	}
	gen := func(context.Context) ([]byte, error) {
		return render.Raster(sc, render.RasterOptions{Scale: float64(width) / sc.Width, Fetch: s.fetchImage(r.Context())})
	}
	var png []byte
	if s.cacheable(d.ID) {
		png, err = s.previews.GetOrCreatePreview(r.Context(), jobs.ThumbKey(d.ID, sc, width), gen)
	} else {
		png, err = gen(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

var exportTypes = map[string]string{
	"html": "text/html; charset=utf-8",
	"svg":  "image/svg+xml",
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"pdf":  "application/pdf",
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	format := mux.Vars(r)["format"]
	sc, err := s.scene(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.export(r, d, sc, format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := d.Slug
	if name == "" {
		name = d.ID
	}
	disposition := "attachment"
	if queryBool(r, "inline") {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", exportTypes[format])
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name + "." + format}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) export(r *http.Request, d *domain.Design, sc *render.Scene, format string) ([]byte, error) {
	q := r.URL.Query()
	switch format {
	case "html":
		lang := q.Get("lang")
		if lang == "" {
			lang = s.cfg.General.DefaultLocale
		}
		return []byte(render.HTML(sc, render.HTMLOptions{Title: d.Name, Lang: lang, Fragment: queryBool(r, "fragment")})), nil
	case "svg":
		return render.SVG(sc)
	case "png", "jpeg":
		scale := 1.0
		if v := q.Get("scale"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 || f > 8 {
				return nil, fmt.Errorf("%w: scale must be in (0, 8]", errBadRequest)
			}
			scale = f
		}
		quality, err := queryInt(r, "quality", 0)
		if err != nil {
			return nil, err
		}
		return render.Raster(sc, render.RasterOptions{Scale: scale, Format: format, Quality: quality, Fetch: s.fetchImage(r.Context())})
	case "pdf":
		return render.PDFWith(sc, render.PDFOptions{Title: d.Name, Author: d.OwnerID, Fetch: s.fetchImage(r.Context())})
	}
	return nil, fmt.Errorf("%w: unknown format %q", errBadRequest, format)
}
