/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package client talks to a remote canvasqr server. It implements the
// autosave Saver and Loader so CLI sessions can persist remotely.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvasqr/internal/autosave"
	"canvasqr/internal/config"
	"canvasqr/internal/domain"
)

// APIError is a non-2xx response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("server %s %s: %d", e.Method, e.Path, e.Status)
}

// Is lets callers match 404s with domain.ErrNotFound and 409s with
// domain.ErrSlugTaken.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.Status == http.StatusNotFound
	case domain.ErrSlugTaken:
		return e.Status == http.StatusConflict
	}
	return false
}

// Client is a minimal HTTP client for the design API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// New creates a client from the backend config. baseURL may include a
// trailing slash; it is normalized.
func New(cfg config.BackendConfig, token string) *Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSInsecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: cfg.EffectiveTimeout(), Transport: tr},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &APIError{Method: method, Path: u.Path, Status: resp.StatusCode, Message: e.Error}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if raw, ok := dest.(*json.RawMessage); ok {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*raw = b
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, dest any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}
	return c.do(ctx, method, path, body, dest)
}

func designPath(id string) string { return "/api/v1/designs/" + url.PathEscape(id) }

// ListDesigns returns the caller's designs.
func (c *Client) ListDesigns(ctx context.Context, limit int) ([]domain.Design, error) {
	var env struct {
		Designs []domain.Design `json:"designs"`
	}
	path := "/api/v1/designs"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env.Designs, nil
}

func (c *Client) GetDesign(ctx context.Context, id string) (*domain.Design, error) {
	var d domain.Design
	if err := c.doJSON(ctx, http.MethodGet, designPath(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDesign uploads a new design. The server assigns id and owner.
func (c *Client) CreateDesign(ctx context.Context, d *domain.Design) (*domain.Design, error) {
	in := map[string]any{
		"name":        d.Name,
		"description": d.Description,
		"width":       d.Width,
		"height":      d.Height,
		"is_public":   d.IsPublic,
	}
	if d.Slug != "" {
		in["slug"] = d.Slug
	}
	if len(d.CanvasData) > 0 {
		in["canvas_data"] = d.CanvasData
	}
	var out domain.Design
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/designs", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Save implements autosave.Saver: the canvas goes through the server's
// editor session and is persisted immediately.
func (c *Client) Save(ctx context.Context, s autosave.Snapshot) error {
	if err := c.do(ctx, http.MethodPut, designPath(s.DesignID)+"/canvas", s.Canvas, nil); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, designPath(s.DesignID)+"/save", nil, nil)
}

// Load implements autosave.Loader.
func (c *Client) Load(ctx context.Context, designID string) (autosave.Snapshot, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, designPath(designID)+"/canvas", nil, &raw)
	if errors.Is(err, domain.ErrNotFound) {
		return autosave.Snapshot{}, fmt.Errorf("design %s: %w", designID, autosave.ErrNotFound)
	}
	if err != nil {
		return autosave.Snapshot{}, err
	}
	return autosave.Snapshot{DesignID: designID, Canvas: raw, SavedAt: time.Now().UTC()}, nil
}

// Ping checks that the server is ready.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}
