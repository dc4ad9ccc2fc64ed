/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package textlayout measures, wraps and draws text for the raster exports.
// Measurement goes through a Provider so tests can use a fixed-metric face.
package textlayout

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FontSpec describes a requested font. Sizes are in canvas pixels.
type FontSpec struct {
	Family string
	SizePx float64
	Weight int // 100..900
	Italic bool
}

// Metrics are pixel metrics of a resolved face.
type Metrics struct {
	Ascent, Descent, LineGap float64
}

// Line is one laid out line.
type Line struct {
	Text  string
	Width float64
}

// TextBox is the result of wrapping text into a width.
type TextBox struct {
	Lines      []Line
	Width      float64
	Height     float64
	LineHeight float64
	Metrics    Metrics
}

// Provider maps FontSpec to a concrete font.Face.
type Provider interface {
	Resolve(FontSpec) (font.Face, Metrics)
}

// BasicProvider uses basicfont.Face7x13 regardless of the spec. Results are
// deterministic, which is what tests want.
type BasicProvider struct{}

func (BasicProvider) Resolve(FontSpec) (font.Face, Metrics) {
	f := basicfont.Face7x13
	return f, metricsOf(f)
}

func metricsOf(f font.Face) Metrics {
	m := f.Metrics()
	return Metrics{
		Ascent:  float64(m.Ascent.Round()),
		Descent: float64(m.Descent.Round()),
		LineGap: float64(m.Height.Round() - m.Ascent.Round() - m.Descent.Round()),
	}
}

// Wrap breaks text into lines no wider than maxWidth (0 disables wrapping).
// Explicit newlines always break. lineHeight is a multiple of the font size;
// values <= 0 use the face's natural height.
func Wrap(p Provider, spec FontSpec, text string, maxWidth, lineHeight float64) TextBox {
	if p == nil {
		p = BasicProvider{}
	}
	face, met := p.Resolve(spec)
	d := &font.Drawer{Face: face}
	lh := met.Ascent + met.Descent + met.LineGap
	if lineHeight > 0 && spec.SizePx > 0 {
		lh = spec.SizePx * lineHeight
	}
	box := TextBox{Metrics: met, LineHeight: lh}
	add := func(s string) {
		w := advance(d, s)
		box.Lines = append(box.Lines, Line{Text: s, Width: w})
		if w > box.Width {
			box.Width = w
		}
	}
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			add("")
			continue
		}
		cur := words[0]
		for _, word := range words[1:] {
			next := cur + " " + word
			if maxWidth > 0 && advance(d, next) > maxWidth {
				add(cur)
				cur = word
				continue
			}
			cur = next
		}
		add(cur)
	}
	box.Height = float64(len(box.Lines)) * lh
	return box
}

func advance(d *font.Drawer, s string) float64 {
	return float64(d.MeasureString(s)) / 64
}

// Measure returns the unwrapped width and single-line height of s.
func Measure(p Provider, spec FontSpec, s string) (w, h float64) {
	if p == nil {
		p = BasicProvider{}
	}
	face, met := p.Resolve(spec)
	return advance(&font.Drawer{Face: face}, s), met.Ascent + met.Descent
}

// DrawOptions positions a TextBox on an image.
type DrawOptions struct {
	// Rect is the layout box; lines are aligned within its width.
	Rect  image.Rectangle
	Align string // left, center, right, justify (treated as left)
	// VCenter centres the block vertically inside Rect.
	VCenter   bool
	Color     color.Color
	Underline bool
	Strike    bool
}

// Draw renders box onto dst. Text outside dst is clipped by the drawer.
func Draw(dst *image.RGBA, p Provider, spec FontSpec, box TextBox, opts DrawOptions) {
	if p == nil {
		p = BasicProvider{}
	}
	face, met := p.Resolve(spec)
	col := opts.Color
	if col == nil {
		col = color.Black
	}
	src := image.NewUniform(col)
	d := &font.Drawer{Dst: dst, Src: src, Face: face}

	top := float64(opts.Rect.Min.Y)
	if opts.VCenter {
		top += (float64(opts.Rect.Dy()) - box.Height) / 2
	}
	width := float64(opts.Rect.Dx())
	for i, ln := range box.Lines {
		x := float64(opts.Rect.Min.X)
		switch opts.Align {
		case "center":
			x += (width - ln.Width) / 2
		case "right":
			x += width - ln.Width
		}
		// baseline sits ascent below the line top, with the extra leading split evenly
		extra := box.LineHeight - (met.Ascent + met.Descent)
		base := top + float64(i)*box.LineHeight + extra/2 + met.Ascent
		d.Dot = fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(base * 64)}
		d.DrawString(ln.Text)
		if ln.Width <= 0 {
			continue
		}
		thick := int(met.Ascent/12) + 1
		if opts.Underline {
			hline(dst, int(x), int(x+ln.Width), int(base)+thick, thick, col)
		}
		if opts.Strike {
			hline(dst, int(x), int(x+ln.Width), int(base-met.Ascent/3), thick, col)
		}
	}
}

func hline(dst *image.RGBA, x0, x1, y, thick int, c color.Color) {
	b := dst.Bounds()
	for yy := y; yy < y+thick; yy++ {
		if yy < b.Min.Y || yy >= b.Max.Y {
			continue
		}
		for x := x0; x < x1; x++ {
			if x >= b.Min.X && x < b.Max.X {
				dst.Set(x, yy, c)
			}
		}
	}
}
