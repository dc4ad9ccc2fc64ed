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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"canvasqr/internal/artifacts"
	"canvasqr/internal/autosave"
	"canvasqr/internal/canvas"
	"canvasqr/internal/domain"
	"canvasqr/internal/editor"
	applog "canvasqr/internal/log"
	"canvasqr/internal/qr"
	"canvasqr/internal/render"
	"canvasqr/internal/uploads"
)

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// maxJSONBody bounds JSON request bodies other than uploads.
const maxJSONBody = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		applog.WithComponent("server").ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, editor.ErrObjectNotFound),
		errors.Is(err, autosave.ErrNotFound),
		errors.Is(err, artifacts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSlugTaken):
		return http.StatusConflict
	case errors.Is(err, uploads.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, uploads.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalid),
		errors.Is(err, canvas.ErrInvalidAction),
		errors.Is(err, canvas.ErrInvalidDocument),
		errors.Is(err, canvas.ErrNotObject),
		errors.Is(err, editor.ErrInvalidInput),
		errors.Is(err, editor.ErrEmptyClipboard),
		errors.Is(err, qr.ErrInvalid),
		errors.Is(err, render.ErrEmptyCanvas),
		errors.Is(err, artifacts.ErrInvalidKey),
		errors.Is(err, uploads.ErrEmpty),
		errors.Is(err, uploads.ErrCorrupt):
		return http.StatusBadRequest
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// readBody reads a bounded raw body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return b, nil
}
