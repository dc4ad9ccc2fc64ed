/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package qr

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"canvasqr/internal/domain"
)

// MetadataVersion is written into new QR metadata.
const MetadataVersion = 1

// Ext maps a download format to its file extension.
func Ext(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "png":
		return "png", nil
	case "jpeg", "jpg":
		return "jpg", nil
	case "svg":
		return "svg", nil
	}
	return "", fmt.Errorf("%w: format %q", ErrInvalid, format)
}

// ArtifactName names a downloaded code:
// qr-code-{id}[-{res}px][-{style}].{ext}. Vector output carries no
// resolution and the default style adds no suffix.
func ArtifactName(designID, format string, resolution int, style Style) (string, error) {
	ext, err := Ext(format)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("qr-code-")
	b.WriteString(designID)
	if resolution > 0 && ext != "svg" {
		fmt.Fprintf(&b, "-%dpx", resolution)
	}
	if style != "" && style != StyleNone {
		b.WriteString("-")
		b.WriteString(string(style))
	}
	b.WriteString(".")
	b.WriteString(ext)
	return b.String(), nil
}

// WriteArtifact writes data to path through a temp file in the same
// directory and a rename, so readers never see a partial file.
func WriteArtifact(path string, data []byte) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("artifact path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(path), os.Getpid(), rand.Int()))
	f, err := os.OpenFile(temp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(temp)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(temp)
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(temp)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

// Metadata describes the code so it can be regenerated later.
func (c *Code) Metadata() domain.QRMetadata {
	o := c.opts
	return domain.QRMetadata{
		QRSize:             o.Size,
		QRColor:            o.Foreground,
		BgColor:            o.Background,
		IncludeMargin:      o.IncludeMargin,
		LogoImage:          o.Logo,
		LogoSize:           o.LogoSize,
		SelectedQrSampleID: string(o.Style),
		LastModified:       time.Now().UTC(),
		Version:            MetadataVersion,
	}
}

// FromMetadata rebuilds generation options from stored metadata.
func FromMetadata(content string, m domain.QRMetadata) Options {
	return Options{
		Content:       content,
		Size:          m.QRSize,
		Foreground:    m.QRColor,
		Background:    m.BgColor,
		IncludeMargin: m.IncludeMargin,
		Logo:          m.LogoImage,
		LogoSize:      m.LogoSize,
		Style:         Style(m.SelectedQrSampleID),
	}
}

// Resize changes the code size and rescales the logo with it.
func (o Options) Resize(newSize int) Options {
	old := o.Size
	if old == 0 {
		old = DefaultSize
	}
	o.LogoSize = RescaleLogo(o.LogoSize, old, newSize)
	o.Size = newSize
	return o
}

// ViewerURL is the public page of a design: {origin}/{locale}/{slugOrID}.
func ViewerURL(origin, locale, slugOrID string) string {
	return strings.TrimRight(origin, "/") + "/" + url.PathEscape(locale) + "/" + url.PathEscape(slugOrID)
}

// QRScreenURL is the QR page of a design: {origin}/{locale}/design/{id}/qr-code.
func QRScreenURL(origin, locale, designID string) string {
	return strings.TrimRight(origin, "/") + "/" + url.PathEscape(locale) + "/design/" + url.PathEscape(designID) + "/qr-code"
}
