/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the persisted records of canvasqr: designs wrapping a
// canvas state, reusable templates and the QR code linked to a design.

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlugTaken = errors.New("slug already in use")
	ErrInvalid   = errors.New("invalid record")
)

// Design wraps one canvas state plus its metadata. It serializes to the
// snake_case record shape shared by the local manifests and the database.
type Design struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Width       float64         `json:"width"`
	Height      float64         `json:"height"`
	CanvasData  json.RawMessage `json:"canvas_data,omitempty"`
	QRCodeURL   string          `json:"qr_code_url,omitempty"`
	// QRCodeData is the SVG markup of the generated code.
	QRCodeData string      `json:"qr_code_data,omitempty"`
	QRMetadata *QRMetadata `json:"design_qr_metadata,omitempty"`
	IsTemplate bool        `json:"is_template"`
	IsArchived bool        `json:"is_archived"`
	IsPublic   bool        `json:"is_public"`
	OwnerID    string      `json:"owner_id,omitempty"`
	Slug       string      `json:"slug,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Template is a reusable canvas, independent of the design it came from.
type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Width       float64         `json:"width"`
	Height      float64         `json:"height"`
	CanvasData  json.RawMessage `json:"canvas_data"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// QRMetadata holds the styling needed to regenerate a design's QR code.
type QRMetadata struct {
	QRSize             int       `json:"qrSize"`
	QRColor            string    `json:"qrColor"`
	BgColor            string    `json:"bgColor"`
	IncludeMargin      bool      `json:"includeMargin"`
	LogoImage          string    `json:"logoImage,omitempty"`
	LogoSize           int       `json:"logoSize"`
	SelectedQrSampleID string    `json:"selectedQrSampleId"`
	LastModified       time.Time `json:"lastModified"`
	Version            int       `json:"version"`
}

// QRCode is the fast-path view of a design's code.
type QRCode struct {
	URL  string `json:"qrCodeUrl"`
	Data string `json:"qrCodeData"`
}

// ListFilter narrows ListDesigns. Zero values mean no restriction except
// that archived designs are hidden unless asked for.
type ListFilter struct {
	OwnerID         string
	IncludeArchived bool
	TemplatesOnly   bool
	PublicOnly      bool
	Limit           int
	Offset          int
}

// SearchHit is one full-text match.
type SearchHit struct {
	DesignID string  `json:"designId"`
	Name     string  `json:"name"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// NewDesign returns a fresh design with an id and timestamps.
func NewDesign(name string, width, height float64) *Design {
	now := time.Now().UTC()
	return &Design{
		ID:        uuid.NewString(),
		Name:      name,
		Width:     width,
		Height:    height,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the fields every store relies on.
func (d *Design) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil design", ErrInvalid)
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: design id is required", ErrInvalid)
	}
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("%w: negative size %vx%v", ErrInvalid, d.Width, d.Height)
	}
	if len(d.CanvasData) > 0 && !json.Valid(d.CanvasData) {
		return fmt.Errorf("%w: canvas_data is not JSON", ErrInvalid)
	}
	if d.Slug != "" && Slugify(d.Slug) != d.Slug {
		return fmt.Errorf("%w: slug %q", ErrInvalid, d.Slug)
	}
	return nil
}

// Touch stamps the design as modified now, setting CreatedAt on first save.
func (d *Design) Touch() {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
}

// AsTemplate copies the design's canvas into a new, independent template.
func (d *Design) AsTemplate(name string) *Template {
	if strings.TrimSpace(name) == "" {
		name = d.Name
	}
	now := time.Now().UTC()
	return &Template{
		ID:          uuid.NewString(),
		Name:        name,
		Description: d.Description,
		Width:       d.Width,
		Height:      d.Height,
		CanvasData:  append(json.RawMessage(nil), d.CanvasData...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (t *Template) Validate() error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalid)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalid)
	}
	if len(t.CanvasData) == 0 || !json.Valid(t.CanvasData) {
		return fmt.Errorf("%w: template canvas_data is not JSON", ErrInvalid)
	}
	return nil
}

var slugJunk = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	s = slugJunk.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = strings.TrimRight(s[:64], "-")
	}
	return s
}
