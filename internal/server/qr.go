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
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"canvasqr/internal/domain"
	"canvasqr/internal/qr"
)

// qrInput overrides the stored styling; nil fields keep it.
type qrInput struct {
	Size          *int    `json:"size"`
	Foreground    *string `json:"foreground"`
	Background    *string `json:"background"`
	IncludeMargin *bool   `json:"includeMargin"`
	Logo          *string `json:"logo"`
	LogoSize      *int    `json:"logoSize"`
	Style         *string `json:"style"`
	Label         *string `json:"label"`
	Locale        string  `json:"locale"`
}

// viewerTarget is the URL encoded into a design's code.
func (s *Server) viewerTarget(d *domain.Design, locale string) string {
	if locale == "" {
		locale = s.cfg.General.DefaultLocale
	}
	ref := d.Slug
	if ref == "" {
		ref = d.ID
	}
	return qr.ViewerURL(s.cfg.General.PublicOrigin, locale, ref)
}

// qrOptions starts from the stored metadata, else the configured defaults.
func (s *Server) qrOptions(d *domain.Design, locale string) qr.Options {
	content := s.viewerTarget(d, locale)
	if d.QRMetadata != nil {
		return qr.FromMetadata(content, *d.QRMetadata)
	}
	c := s.cfg.QR
	return qr.Options{
		Content:       content,
		Size:          c.DefaultSize,
		Foreground:    c.Foreground,
		Background:    c.Background,
		IncludeMargin: c.IncludeMargin,
	}
}

func (in qrInput) apply(o qr.Options) qr.Options {
	if in.Size != nil && *in.Size != o.Size {
		o = o.Resize(*in.Size)
	}
	if in.Foreground != nil {
		o.Foreground = *in.Foreground
	}
	if in.Background != nil {
		o.Background = *in.Background
	}
	if in.IncludeMargin != nil {
		o.IncludeMargin = *in.IncludeMargin
	}
	if in.Logo != nil {
		o.Logo = *in.Logo
	}
	if in.LogoSize != nil {
		o.LogoSize = *in.LogoSize
	}
	if in.Style != nil {
		o.Style = qr.Style(*in.Style)
	}
	if in.Label != nil {
		o.Label = *in.Label
	}
	return o
}

func (s *Server) handleGetQRCode(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code, err := s.store.LoadQRCode(r.Context(), d.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (s *Server) handleGenerateQRCode(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in qrInput
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	code, err := qr.Generate(in.apply(s.qrOptions(d, in.Locale)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	svg := code.SVG()
	saved := domain.QRCode{Data: string(svg)}
	if s.arts != nil {
		png, err := code.Raster("png", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}
		name, err := qr.ArtifactName(d.ID, "png", 0, code.Options().Style)
		if err != nil {
			writeError(w, r, err)
			return
		}
		url, err := s.arts.Put(r.Context(), "qr/"+name, png, "image/png")
		if err != nil {
			writeError(w, r, fmt.Errorf("store qr artifact: %w", err))
			return
		}
		saved.URL = url
	}
	meta := code.Metadata()
	if err := s.store.SaveQRCode(r.Context(), d.ID, saved, &meta); err != nil {
		writeError(w, r, err)
		return
	}
	s.l.Info("qr code generated", slog.String("design_id", d.ID), slog.String("style", meta.SelectedQrSampleID))
	writeJSON(w, http.StatusOK, map[string]any{
		"qrCodeUrl":  saved.URL,
		"qrCodeData": saved.Data,
		"metadata":   meta,
		"target":     code.Options().Content,
	})
}

func (s *Server) handleDownloadQRCode(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	format := strings.ToLower(q.Get("format"))
	ext, err := qr.Ext(format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := queryInt(r, "resolution", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts := s.qrOptions(d, q.Get("locale"))
	if st := q.Get("style"); st != "" {
		opts.Style = qr.Style(st)
	}
	code, err := qr.Generate(opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var data []byte
	contentType := "image/svg+xml"
	switch ext {
	case "svg":
		data = code.SVG()
	case "jpg":
		data, err = code.Raster("jpeg", res)
		contentType = "image/jpeg"
	default:
		data, err = code.Raster("png", res)
		contentType = "image/png"
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	name, err := qr.ArtifactName(d.ID, ext, res, code.Options().Style)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
