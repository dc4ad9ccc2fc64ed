/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"canvasqr/internal/canvas"
)

// svgWriter emits scene nodes as SVG elements. In shapesOnly mode text,
// images and anchors are left out so the output suits the rasterizer.
type svgWriter struct {
	buf        bytes.Buffer
	werr       error
	shapesOnly bool
	gradients  int
}

func (w *svgWriter) wf(format string, args ...any) {
	if w.werr != nil {
		return
	}
	_, w.werr = fmt.Fprintf(&w.buf, format, args...)
}

// SVG renders the scene as a standalone SVG document in canvas pixels.
func SVG(sc *Scene) ([]byte, error) {
	w := &svgWriter{}
	w.wf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	w.wf("<svg xmlns=\"http://www.w3.org/2000/svg\" xmlns:xlink=\"http://www.w3.org/1999/xlink\" version=\"1.1\" width=\"%s\" height=\"%s\" viewBox=\"0 0 %s %s\">\n",
		num(sc.Width), num(sc.Height), num(sc.Width), num(sc.Height))
	w.background(sc)
	for i := range sc.Nodes {
		w.node(&sc.Nodes[i], 1)
	}
	w.wf("</svg>\n")
	if w.werr != nil {
		return nil, fmt.Errorf("build svg: %w", w.werr)
	}
	return w.buf.Bytes(), nil
}

// shapeSVG renders a single node's vector parts on a canvas-sized viewport.
func shapeSVG(n *Node, width, height float64) []byte {
	w := &svgWriter{shapesOnly: true}
	w.wf("<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"%s\" height=\"%s\" viewBox=\"0 0 %s %s\">\n",
		num(width), num(height), num(width), num(height))
	w.node(n, 1)
	w.wf("</svg>\n")
	return w.buf.Bytes()
}

func (w *svgWriter) background(sc *Scene) {
	switch {
	case sc.Background.Gradient != nil:
		g := sc.Background.Gradient
		w.gradients++
		id := fmt.Sprintf("cqr-bg%d", w.gradients)
		w.wf("  <defs>\n")
		if g.Type == "radial" {
			w.wf("    <radialGradient id=\"%s\" cx=\"50%%\" cy=\"50%%\" r=\"50%%\">\n", id)
		} else {
			w.wf("    <linearGradient id=\"%s\" gradientUnits=\"userSpaceOnUse\" x1=\"%s\" y1=\"%s\" x2=\"%s\" y2=\"%s\">\n",
				id, num(g.Coords.X1), num(g.Coords.Y1), num(g.Coords.X2), num(g.Coords.Y2))
		}
		for _, st := range g.Stops {
			col, op := paint(stopColor(st))
			w.wf("      <stop offset=\"%s\" stop-color=\"%s\" stop-opacity=\"%s\"/>\n", num(st.Offset), col, num(op))
		}
		if g.Type == "radial" {
			w.wf("    </radialGradient>\n")
		} else {
			w.wf("    </linearGradient>\n")
		}
		w.wf("  </defs>\n")
		w.wf("  <rect x=\"0\" y=\"0\" width=\"%s\" height=\"%s\" fill=\"url(#%s)\"/>\n", num(sc.Width), num(sc.Height), id)
	case sc.Background.Color != "":
		col, op := paint(sc.Background.Color)
		w.wf("  <rect x=\"0\" y=\"0\" width=\"%s\" height=\"%s\" fill=\"%s\" fill-opacity=\"%s\"/>\n", num(sc.Width), num(sc.Height), col, num(op))
	}
}

// paint resolves a CSS colour into an SVG colour and opacity. Unknown
// colours paint nothing.
func paint(s string) (string, float64) {
	c, ok := canvas.ParseColor(s)
	if !ok || c.A == 0 {
		return "none", 0
	}
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B), float64(c.A) / 255
}

func (w *svgWriter) fillStroke(fill, stroke string, strokeWidth, opacity float64) string {
	fc, fo := paint(fill)
	attrs := fmt.Sprintf("fill=\"%s\"", fc)
	if fc != "none" {
		attrs += fmt.Sprintf(" fill-opacity=\"%s\"", num(fo*opacity))
	}
	if stroke != "" && strokeWidth > 0 {
		if sc, so := paint(stroke); sc != "none" {
			attrs += fmt.Sprintf(" stroke=\"%s\" stroke-opacity=\"%s\" stroke-width=\"%s\"", sc, num(so*opacity), num(strokeWidth))
		}
	}
	return attrs
}

func rotateAttr(n *Node) string {
	b := n.Box
	if b.Angle == 0 {
		return ""
	}
	c := b.Center()
	return fmt.Sprintf(" transform=\"rotate(%s %s %s)\"", num(b.Angle), num(c.X), num(c.Y))
}

func (w *svgWriter) node(n *Node, opacity float64) {
	opacity *= n.Box.Opacity
	link := n.Link != nil && !w.shapesOnly && n.Link.Href != ""
	if link {
		href := esc(safeHref(n.Link.Href))
		if n.Link.NewWindow {
			w.wf("  <a href=\"%s\" xlink:href=\"%s\" target=\"_blank\">\n", href, href)
		} else {
			w.wf("  <a href=\"%s\" xlink:href=\"%s\">\n", href, href)
		}
	}
	b := n.Box
	rot := rotateAttr(n)
	switch n.Kind {
	case canvas.KindShape:
		switch n.Shape {
		case canvas.ShapeCircle:
			c := b.Center()
			w.wf("  <ellipse cx=\"%s\" cy=\"%s\" rx=\"%s\" ry=\"%s\" %s%s/>\n",
				num(c.X), num(c.Y), num(b.Width/2), num(b.Height/2), w.fillStroke(n.Fill, n.Stroke, n.StrokeWidth, opacity), rot)
		case canvas.ShapeTriangle:
			w.wf("  <polygon points=\"%s,%s %s,%s %s,%s\" %s%s/>\n",
				num(b.Left), num(b.Top+b.Height), num(b.Left+b.Width/2), num(b.Top), num(b.Left+b.Width), num(b.Top+b.Height),
				w.fillStroke(n.Fill, n.Stroke, n.StrokeWidth, opacity), rot)
		case canvas.ShapeLine:
			if n.Line == nil {
				break
			}
			sc, so := paint(n.Stroke)
			w.wf("  <line x1=\"%s\" y1=\"%s\" x2=\"%s\" y2=\"%s\" stroke=\"%s\" stroke-opacity=\"%s\" stroke-width=\"%s\"%s/>\n",
				num(b.Left+n.Line.X1), num(b.Top+n.Line.Y1), num(b.Left+n.Line.X2), num(b.Top+n.Line.Y2),
				sc, num(so*opacity), num(n.StrokeWidth), rot)
		default:
			w.rect(b.Left, b.Top, b.Width, b.Height, n.Radius, w.fillStroke(n.Fill, n.Stroke, n.StrokeWidth, opacity), rot)
		}
	case canvas.KindButton:
		w.rect(b.Left, b.Top, b.Width, b.Height, n.Radius, w.fillStroke(n.Fill, n.Stroke, n.StrokeWidth, opacity), rot)
		if !w.shapesOnly {
			w.text(n, opacity, rot)
		}
	case canvas.KindText, canvas.KindLink:
		if n.Text.Background != "" {
			w.rect(b.Left, b.Top, b.Width, b.Height, 0, w.fillStroke(n.Text.Background, "", 0, opacity), rot)
		}
		if !w.shapesOnly {
			w.text(n, opacity, rot)
		}
	case canvas.KindImage, canvas.KindSocialIcon:
		if w.shapesOnly {
			break
		}
		src := safeSrc(n.Image.Src)
		if n.Image.SVG != "" {
			src = "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(n.Image.SVG))
		}
		if src == "" {
			break
		}
		w.wf("  <image x=\"%s\" y=\"%s\" width=\"%s\" height=\"%s\" href=\"%s\" xlink:href=\"%s\" preserveAspectRatio=\"%s\" opacity=\"%s\"%s/>\n",
			num(b.Left), num(b.Top), num(b.Width), num(b.Height), esc(src), esc(src), aspectFor(n.Image.Fit), num(opacity), rot)
	case canvas.KindGroup:
		tr := fmt.Sprintf("translate(%s %s)", num(b.Left), num(b.Top))
		if b.Angle != 0 {
			tr += fmt.Sprintf(" rotate(%s %s %s)", num(b.Angle), num(b.Width/2), num(b.Height/2))
		}
		w.wf("  <g transform=\"%s\">\n", tr)
		for i := range n.Children {
			w.node(&n.Children[i], opacity)
		}
		w.wf("  </g>\n")
	}
	if link {
		w.wf("  </a>\n")
	}
}

func (w *svgWriter) rect(x, y, width, height, radius float64, paintAttrs, rot string) {
	if radius > 0 {
		w.wf("  <rect x=\"%s\" y=\"%s\" width=\"%s\" height=\"%s\" rx=\"%s\" ry=\"%s\" %s%s/>\n",
			num(x), num(y), num(width), num(height), num(radius), num(radius), paintAttrs, rot)
		return
	}
	w.wf("  <rect x=\"%s\" y=\"%s\" width=\"%s\" height=\"%s\" %s%s/>\n", num(x), num(y), num(width), num(height), paintAttrs, rot)
}

func (w *svgWriter) text(n *Node, opacity float64, rot string) {
	t := n.Text
	b := n.Box
	col, op := paint(t.Color)
	lh := t.LineHeight
	if lh <= 0 {
		lh = canvas.DefaultLineHeight
	}
	anchor, x := "start", b.Left
	switch t.Align {
	case "center":
		anchor, x = "middle", b.Left+b.Width/2
	case "right":
		anchor, x = "end", b.Left+b.Width
	}
	lines := strings.Split(t.Content, "\n")
	y := b.Top + t.FontSize*0.8
	if n.Kind == canvas.KindButton {
		y = b.Top + b.Height/2 - float64(len(lines)-1)*t.FontSize*lh/2 + t.FontSize*0.35
	}
	w.wf("  <text x=\"%s\" y=\"%s\" font-family=\"%s\" font-size=\"%s\" fill=\"%s\" fill-opacity=\"%s\" text-anchor=\"%s\"",
		num(x), num(y), esc(strings.Trim(fontFamily(t.FontFamily), "'")), num(t.FontSize), col, num(op*opacity), anchor)
	if t.FontWeight != "" && t.FontWeight != "normal" {
		w.wf(" font-weight=\"%s\"", esc(t.FontWeight))
	}
	if t.FontStyle != "" && t.FontStyle != "normal" {
		w.wf(" font-style=\"%s\"", esc(t.FontStyle))
	}
	switch {
	case t.Underline && t.Linethrough:
		w.wf(" text-decoration=\"underline line-through\"")
	case t.Underline:
		w.wf(" text-decoration=\"underline\"")
	case t.Linethrough:
		w.wf(" text-decoration=\"line-through\"")
	}
	w.wf("%s>", rot)
	for i, line := range lines {
		if i == 0 {
			w.wf("<tspan x=\"%s\">%s</tspan>", num(x), esc(line))
			continue
		}
		w.wf("<tspan x=\"%s\" dy=\"%s\">%s</tspan>", num(x), num(t.FontSize*lh), esc(line))
	}
	w.wf("</text>\n")
}

func aspectFor(fit string) string {
	switch fit {
	case "contain":
		return "xMidYMid meet"
	case "cover":
		return "xMidYMid slice"
	}
	return "none"
}
