/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package uploads validates user uploads (logo images, PDF menus and
// vCards) before they reach the artifact store.
package uploads

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	pdf "github.com/ledongthuc/pdf"
	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes caps an upload when no limit is configured.
const DefaultMaxBytes = 10 << 20

var (
	ErrTooLarge    = errors.New("upload too large")
	ErrEmpty       = errors.New("empty upload")
	ErrUnsupported = errors.New("unsupported upload type")
	ErrCorrupt     = errors.New("corrupt upload")
)

// Kind classifies an accepted upload.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	KindVCard Kind = "vcard"
)

// Upload is a validated file.
type Upload struct {
	Kind        Kind   `json:"kind"`
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName"`
	Size        int    `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Pages       int    `json:"pages,omitempty"`
	// Title is the vCard FN, when present.
	Title string `json:"title,omitempty"`
	Data  []byte `json:"-"`
}

// ReadLimited reads r fully and fails once more than max bytes arrive.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

// Inspect sniffs and validates data.
func Inspect(fileName string, data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	up := &Upload{FileName: SafeName(fileName), Size: len(data), Data: data}
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		pages, err := PageCount(data)
		if err != nil {
			return nil, err
		}
		up.Kind, up.ContentType, up.Pages = KindPDF, "application/pdf", pages
		return up, nil
	case isVCard(data):
		up.Kind, up.ContentType, up.Title = KindVCard, "text/vcard", vcardName(data)
		return up, nil
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") || ct == "image/svg+xml" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	up.Kind, up.ContentType, up.Width, up.Height = KindImage, ct, cfg.Width, cfg.Height
	return up, nil
}

// PageCount opens a PDF and returns its page count.
func PageCount(data []byte) (int, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	n := doc.NumPage()
	if n < 1 {
		return 0, fmt.Errorf("%w: pdf has no pages", ErrCorrupt)
	}
	return n, nil
}

// ExtractText returns the plain text of a PDF, page by page.
func ExtractText(data []byte) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func isVCard(data []byte) bool {
	s := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
	return strings.HasPrefix(strings.ToUpper(s), "BEGIN:VCARD") && strings.HasSuffix(strings.ToUpper(s), "END:VCARD")
}

func vcardName(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(key)
		if key == "FN" || strings.HasPrefix(key, "FN;") {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName reduces a client file name to a storable base name.
func SafeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "._")
	if base == "" {
		return "upload"
	}
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return base
}

// Key is the artifact key of a new upload: uploads/<uuid>/<name>.
func (u *Upload) Key() string {
	return "uploads/" + uuid.NewString() + "/" + u.FileName
}

// DataURI inlines an image upload, the form QR logos are stored in.
func (u *Upload) DataURI() (string, error) {
	if u.Kind != KindImage {
		return "", fmt.Errorf("%w: %s is not an image", ErrUnsupported, u.FileName)
	}
	return "data:" + u.ContentType + ";base64," + base64.StdEncoding.EncodeToString(u.Data), nil
}
