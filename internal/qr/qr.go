/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package qr generates styled QR codes for designs and names, writes and
// describes the resulting artifacts.
package qr

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/skip2/go-qrcode"

	"canvasqr/internal/canvas"
)

// Style is a decorative frame around the code.
type Style string

const (
	StyleNone    Style = "none"
	StyleClassic Style = "classic"
	StyleRounded Style = "rounded"
	StyleBanner  Style = "banner"
	StyleBadge   Style = "badge"
)

const (
	DefaultSize = 256
	MinSize     = 64
	MaxSize     = 2048
	// InnerSize is the code size inside a frame.
	InnerSize = 200
	// DefaultLabel is printed by framed styles that carry a caption.
	DefaultLabel = "SCAN ME"
)

var (
	// ErrRaster marks failures to rasterize QR markup.
	ErrRaster   = errors.New("qr: rasterize")
	ErrInvalid  = errors.New("qr: invalid options")
	knownStyles = map[Style]bool{StyleNone: true, StyleClassic: true, StyleRounded: true, StyleBanner: true, StyleBadge: true}
)

// Styles lists the available frames in display order.
func Styles() []Style {
	return []Style{StyleNone, StyleClassic, StyleRounded, StyleBanner, StyleBadge}
}

// Options describes a code. Zero values pick the defaults.
type Options struct {
	Content       string
	Size          int
	Foreground    string
	Background    string
	IncludeMargin bool
	// Logo is an image data URI drawn in the centre.
	Logo     string
	LogoSize int
	Style    Style
	Label    string
}

func (o Options) withDefaults() Options {
	if o.Size == 0 {
		o.Size = DefaultSize
	}
	if o.Foreground == "" {
		o.Foreground = "#000000"
	}
	if o.Background == "" {
		o.Background = "#ffffff"
	}
	if o.Style == "" {
		o.Style = StyleNone
	}
	if o.Label == "" {
		o.Label = DefaultLabel
	}
	o.LogoSize = ClampLogo(o.Size, o.LogoSize)
	return o
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalid)
	}
	if o.Size < MinSize || o.Size > MaxSize {
		return fmt.Errorf("%w: size %d outside %d..%d", ErrInvalid, o.Size, MinSize, MaxSize)
	}
	if _, ok := canvas.ParseColor(o.Foreground); !ok {
		return fmt.Errorf("%w: foreground %q", ErrInvalid, o.Foreground)
	}
	if _, ok := canvas.ParseColor(o.Background); !ok {
		return fmt.Errorf("%w: background %q", ErrInvalid, o.Background)
	}
	if !knownStyles[o.Style] {
		return fmt.Errorf("%w: style %q", ErrInvalid, o.Style)
	}
	if o.Logo != "" && !strings.HasPrefix(o.Logo, "data:image/") {
		return fmt.Errorf("%w: logo must be an image data uri", ErrInvalid)
	}
	return nil
}

// Code is an encoded QR symbol with its styling.
type Code struct {
	opts    Options
	modules [][]bool
}

// Generate encodes opts.Content at the highest error-correction level so a
// centre logo stays scannable.
func Generate(opts Options) (*Code, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	q, err := qrcode.New(opts.Content, qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	q.DisableBorder = !opts.IncludeMargin
	return &Code{opts: opts, modules: q.Bitmap()}, nil
}

// Options returns the effective options.
func (c *Code) Options() Options { return c.opts }

// Modules is the side length in modules, quiet zone included.
func (c *Code) Modules() int { return len(c.modules) }

// Dark reports whether the module at column x, row y is dark.
func (c *Code) Dark(x, y int) bool {
	if y < 0 || y >= len(c.modules) || x < 0 || x >= len(c.modules[y]) {
		return false
	}
	return c.modules[y][x]
}

// codeSize is the pixel size the modules are drawn at.
func (c *Code) codeSize() float64 {
	if c.opts.Style != StyleNone {
		return InnerSize
	}
	return float64(c.opts.Size)
}

// logoSize scales the configured logo into the drawn code size.
func (c *Code) logoSize() float64 {
	if c.opts.Logo == "" || c.opts.LogoSize <= 0 {
		return 0
	}
	return float64(c.opts.LogoSize) * c.codeSize() / float64(c.opts.Size)
}

// ClampLogo caps a logo at a third of the code size.
func ClampLogo(size, logo int) int {
	if logo < 0 {
		return 0
	}
	if limit := size / 3; logo > limit {
		return limit
	}
	return logo
}

// RescaleLogo keeps the logo-to-code ratio when the code is resized.
func RescaleLogo(oldLogo, oldSize, newSize int) int {
	if oldSize <= 0 {
		return ClampLogo(newSize, oldLogo)
	}
	scaled := int(math.Round(float64(oldLogo) * float64(newSize) / float64(oldSize)))
	return ClampLogo(newSize, scaled)
}
