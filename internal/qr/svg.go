/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package qr

import (
	"bytes"
	"fmt"
	"html"
	"strconv"

	"canvasqr/internal/canvas"
)

type rect struct{ X, Y, W, H float64 }

// frame is the geometry of a style. The code is drawn at (QX, QY).
type frame struct {
	W, H   float64
	QX, QY float64
	Label  *rect
	// LabelOnFg prints the caption in the background colour on a
	// foreground band.
	LabelOnFg bool
}

func frameFor(s Style, codeSize float64) frame {
	switch s {
	case StyleClassic, StyleRounded:
		return frame{W: codeSize + 40, H: codeSize + 40, QX: 20, QY: 20}
	case StyleBanner:
		return frame{W: codeSize + 40, H: codeSize + 100, QX: 20, QY: 20,
			Label: &rect{0, codeSize + 40, codeSize + 40, 60}, LabelOnFg: true}
	case StyleBadge:
		return frame{W: codeSize + 60, H: codeSize + 120, QX: 30, QY: 30,
			Label: &rect{0, codeSize + 50, codeSize + 60, 70}, LabelOnFg: true}
	}
	return frame{W: codeSize, H: codeSize}
}

func num(f float64) string {
	s := strconv.FormatFloat(f, 'f', 3, 64)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	if s == "-0" {
		return "0"
	}
	return s
}

// paint returns a hex colour and its opacity.
func paint(s string) (string, float64) {
	c, ok := canvas.ParseColor(s)
	if !ok {
		return "#000000", 1
	}
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B), float64(c.A) / 255
}

func fillAttr(s string) string {
	hex, op := paint(s)
	if op < 1 {
		return fmt.Sprintf(`fill="%s" fill-opacity="%s"`, hex, num(op))
	}
	return fmt.Sprintf(`fill="%s"`, hex)
}

type svgParts struct {
	logo  bool
	label bool
}

// SVG renders the code, its frame, caption and logo as standalone markup.
func (c *Code) SVG() []byte { return c.svg(svgParts{logo: true, label: true}) }

func (c *Code) svg(parts svgParts) []byte {
	var buf bytes.Buffer
	wf := func(format string, args ...any) { fmt.Fprintf(&buf, format, args...) }

	size := c.codeSize()
	f := frameFor(c.opts.Style, size)
	fg, bg := c.opts.Foreground, c.opts.Background

	wf(`<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s" shape-rendering="crispEdges">`+"\n",
		num(f.W), num(f.H), num(f.W), num(f.H))
	c.frameSVG(wf, f, fg, bg)

	wf(`<g transform="translate(%s,%s)">`+"\n", num(f.QX), num(f.QY))
	wf(`<rect x="0" y="0" width="%s" height="%s" %s/>`+"\n", num(size), num(size), fillAttr(bg))
	wf(`<path d="%s" %s/>`+"\n", c.modulePath(size), fillAttr(fg))
	if ls := c.logoSize(); parts.logo && ls > 0 {
		x := (size - ls) / 2
		wf(`<image x="%s" y="%s" width="%s" height="%s" preserveAspectRatio="xMidYMid meet" href="%s"/>`+"\n",
			num(x), num(x), num(ls), num(ls), html.EscapeString(c.opts.Logo))
	}
	wf("</g>\n")

	if parts.label && f.Label != nil {
		col := fg
		if f.LabelOnFg {
			col = bg
		}
		l := f.Label
		wf(`<text x="%s" y="%s" text-anchor="middle" dominant-baseline="central" font-family="Helvetica, Arial, sans-serif" font-weight="bold" font-size="%s" %s>%s</text>`+"\n",
			num(l.X+l.W/2), num(l.Y+l.H/2), num(labelFontSize(l)), fillAttr(col), html.EscapeString(c.opts.Label))
	}
	wf("</svg>\n")
	return buf.Bytes()
}

func labelFontSize(l *rect) float64 { return l.H * 0.4 }

func (c *Code) frameSVG(wf func(string, ...any), f frame, fg, bg string) {
	switch c.opts.Style {
	case StyleNone:
		return
	case StyleClassic:
		wf(`<rect x="0" y="0" width="%s" height="%s" %s/>`+"\n", num(f.W), num(f.H), fillAttr(bg))
		wf(`<rect x="4" y="4" width="%s" height="%s" fill="none" stroke="%s" stroke-width="8"/>`+"\n", num(f.W-8), num(f.H-8), hexOf(fg))
	case StyleRounded:
		wf(`<rect x="4" y="4" width="%s" height="%s" rx="28" ry="28" %s stroke="%s" stroke-width="8"/>`+"\n", num(f.W-8), num(f.H-8), fillAttr(bg), hexOf(fg))
	case StyleBanner:
		wf(`<rect x="0" y="0" width="%s" height="%s" %s/>`+"\n", num(f.W), num(f.H), fillAttr(bg))
		wf(`<rect x="4" y="4" width="%s" height="%s" fill="none" stroke="%s" stroke-width="8"/>`+"\n", num(f.W-8), num(f.H-8), hexOf(fg))
		l := f.Label
		wf(`<rect x="%s" y="%s" width="%s" height="%s" %s/>`+"\n", num(l.X), num(l.Y), num(l.W), num(l.H), fillAttr(fg))
	case StyleBadge:
		wf(`<rect x="0" y="0" width="%s" height="%s" rx="30" ry="30" %s/>`+"\n", num(f.W), num(f.H), fillAttr(fg))
		wf(`<rect x="%s" y="%s" width="%s" height="%s" rx="16" ry="16" %s/>`+"\n",
			num(f.QX-10), num(f.QY-10), num(f.W-2*(f.QX-10)), num(f.Label.Y-f.QY), fillAttr(bg))
	}
}

func hexOf(s string) string {
	h, _ := paint(s)
	return h
}

// modulePath draws dark modules as one path, merging horizontal runs.
func (c *Code) modulePath(size float64) string {
	n := len(c.modules)
	if n == 0 {
		return ""
	}
	m := size / float64(n)
	var b bytes.Buffer
	for y, row := range c.modules {
		for x := 0; x < len(row); {
			if !row[x] {
				x++
				continue
			}
			start := x
			for x < len(row) && row[x] {
				x++
			}
			w := float64(x-start) * m
			fmt.Fprintf(&b, "M%s %sh%sv%sh-%sz", num(float64(start)*m), num(float64(y)*m), num(w), num(m), num(w))
		}
	}
	return b.String()
}
