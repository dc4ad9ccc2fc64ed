/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package render turns a canvas document into its viewable forms: the live
// preview tree (Scene) and the HTML, SVG, PNG and PDF exports built from it.
// All of them read positions from the same layout.Box per node.
package render

import (
	"log/slog"
	"math"

	"canvasqr/internal/canvas"
	"canvasqr/internal/layout"
	applog "canvasqr/internal/log"
)

// Default canvas size when the document stores none.
const (
	DefaultWidth  = 800.0
	DefaultHeight = 600.0
)

// Options controls scene construction.
type Options struct {
	Layout layout.Options
	// Width and Height override the document's stored size when > 0.
	Width, Height float64
	// IncludeHidden keeps objects with visible:false (editor overlays).
	IncludeHidden bool
}

// Background is the resolved canvas fill.
type Background struct {
	Color    string           `json:"color,omitempty"`
	Gradient *canvas.Gradient `json:"gradient,omitempty"`
}

// Scene is the live preview tree of one document.
type Scene struct {
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	Background Background `json:"background"`
	Nodes      []Node     `json:"nodes"`
	// Skipped counts objects that produced no node.
	Skipped int `json:"skipped,omitempty"`
}

// TextStyle is the typography of text, button and link nodes.
type TextStyle struct {
	Content     string  `json:"content"`
	FontFamily  string  `json:"fontFamily"`
	FontSize    float64 `json:"fontSize"`
	FontWeight  string  `json:"fontWeight,omitempty"`
	FontStyle   string  `json:"fontStyle,omitempty"`
	Color       string  `json:"color"`
	Align       string  `json:"align,omitempty"`
	LineHeight  float64 `json:"lineHeight,omitempty"`
	Underline   bool    `json:"underline,omitempty"`
	Linethrough bool    `json:"linethrough,omitempty"`
	Background  string  `json:"background,omitempty"`
}

// ImageRef points at raster or vector image content.
type ImageRef struct {
	Src string `json:"src,omitempty"`
	// SVG is inline markup of social icons.
	SVG string `json:"svg,omitempty"`
	Fit string `json:"fit,omitempty"`
}

// Segment is a line in box-local coordinates.
type Segment struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Hover holds the colours applied while the pointer is over a node.
type Hover struct {
	Background string `json:"background,omitempty"`
	Color      string `json:"color,omitempty"`
}

// Node is one renderable object. Children of groups are positioned
// relative to the group's box.
type Node struct {
	ID          string           `json:"id,omitempty"`
	Kind        canvas.Kind      `json:"kind"`
	Shape       canvas.ShapeKind `json:"shape,omitempty"`
	Box         layout.Box       `json:"box"`
	Fill        string           `json:"fill,omitempty"`
	Stroke      string           `json:"stroke,omitempty"`
	StrokeWidth float64          `json:"strokeWidth,omitempty"`
	Radius      float64          `json:"radius,omitempty"`
	Text        *TextStyle       `json:"text,omitempty"`
	Image       *ImageRef        `json:"image,omitempty"`
	Line        *Segment         `json:"line,omitempty"`
	Hover       *Hover           `json:"hover,omitempty"`
	Link        *canvas.Dispatch `json:"link,omitempty"`
	Children    []Node           `json:"children,omitempty"`
}

// Build produces the preview tree of doc. Unsupported and hidden objects are
// skipped; Build never fails.
func Build(doc *canvas.Document, opts Options) *Scene {
	l := applog.WithComponent("render")
	w, h := doc.Size(DefaultWidth, DefaultHeight)
	if opts.Width > 0 {
		w = opts.Width
	}
	if opts.Height > 0 {
		h = opts.Height
	}
	sc := &Scene{Width: w, Height: h, Background: backgroundOf(doc.Background())}
	size := layout.Size{W: w, H: h}
	for i, o := range doc.Objects {
		el := canvas.Normalize(o)
		if el == nil {
			sc.Skipped++
			if !o.Opaque() {
				l.Debug("skipping unsupported object", slog.Int("index", i), slog.String("type", o.Type()))
			}
			continue
		}
		if !el.Base().Visible && !opts.IncludeHidden {
			sc.Skipped++
			continue
		}
		n := nodeOf(el, layout.Object(el, size, opts.Layout), opts)
		if !n.finite() {
			sc.Skipped++
			l.Debug("skipping object with non-finite geometry", slog.Int("index", i), slog.String("type", o.Type()))
			continue
		}
		sc.Nodes = append(sc.Nodes, n)
	}
	return sc
}

// finite reports whether the node's geometry and type size are usable
// numbers; CSS and JSON reject Inf and NaN.
func (n *Node) finite() bool {
	b := n.Box
	vals := []float64{b.Left, b.Top, b.Width, b.Height, b.Angle, b.Opacity, n.Radius, n.StrokeWidth}
	if b.Triangle != nil {
		vals = append(vals, b.Triangle.Side, b.Triangle.Base)
	}
	if n.Text != nil {
		vals = append(vals, n.Text.FontSize, n.Text.LineHeight)
	}
	if n.Line != nil {
		vals = append(vals, n.Line.X1, n.Line.Y1, n.Line.X2, n.Line.Y2)
	}
	for _, v := range vals {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Walk visits nodes depth-first in paint order.
func (s *Scene) Walk(fn func(n *Node, depth int)) {
	var walk func(ns []Node, depth int)
	walk = func(ns []Node, depth int) {
		for i := range ns {
			fn(&ns[i], depth)
			walk(ns[i].Children, depth+1)
		}
	}
	walk(s.Nodes, 0)
}

// HitTest returns the topmost top-level node containing the canvas point.
func (s *Scene) HitTest(x, y float64) (*Node, bool) {
	for i := len(s.Nodes) - 1; i >= 0; i-- {
		if s.Nodes[i].Box.Contains(layout.Pt{X: x, Y: y}) {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

func backgroundOf(bg canvas.Background) Background {
	switch bg.Kind {
	case canvas.BackgroundSolid:
		return Background{Color: bg.Color}
	case canvas.BackgroundGradient:
		return Background{Gradient: bg.Gradient}
	}
	return Background{}
}

func nodeOf(el canvas.Element, box layout.Box, opts Options) Node {
	c := el.Base()
	n := Node{ID: c.ID, Kind: el.Kind(), Box: box}
	if a := canvas.ClickAction(el); a != nil {
		if d := a.Dispatch(); !d.Empty() {
			n.Link = &d
		}
	}
	switch e := el.(type) {
	case *canvas.Text:
		n.Text = &TextStyle{
			Content:     e.Text,
			FontFamily:  e.FontFamily,
			FontSize:    e.FontSize * c.ScaleY,
			FontWeight:  e.FontWeight,
			FontStyle:   e.FontStyle,
			Color:       e.Fill,
			Align:       e.TextAlign,
			LineHeight:  e.LineHeight,
			Underline:   e.Underline,
			Linethrough: e.Linethrough,
			Background:  e.Background,
		}
	case *canvas.Shape:
		n.Shape = e.Shape
		n.Fill = e.Fill
		n.Stroke = e.Stroke
		n.StrokeWidth = e.StrokeWidth
		n.Radius = e.Rx * c.ScaleX
		if e.Shape == canvas.ShapeLine {
			n.Line = segmentOf(e, box)
		}
	case *canvas.Image:
		n.Image = &ImageRef{Src: e.Src, Fit: e.ObjectFit}
	case *canvas.Button:
		n.Fill = e.Background
		n.Stroke = e.BorderColor
		n.StrokeWidth = e.BorderWidth
		n.Radius = e.BorderRadius * c.ScaleX
		n.Text = &TextStyle{
			Content:    e.Label,
			FontFamily: e.FontFamily,
			FontSize:   e.FontSize * c.ScaleY,
			FontWeight: e.FontWeight,
			Color:      e.TextColor,
			Align:      "center",
			LineHeight: 1,
		}
		if e.HoverBackground != "" || e.HoverTextColor != "" {
			n.Hover = &Hover{Background: e.HoverBackground, Color: e.HoverTextColor}
		}
	case *canvas.Link:
		n.Text = &TextStyle{
			Content:    e.Label,
			FontFamily: e.FontFamily,
			FontSize:   e.FontSize * c.ScaleY,
			FontWeight: e.FontWeight,
			Color:      e.Color,
			LineHeight: 1,
			Underline:  e.Underline,
		}
		if e.HoverColor != "" {
			n.Hover = &Hover{Color: e.HoverColor}
		}
	case *canvas.SocialIcon:
		n.Fill = e.Fill
		n.Image = &ImageRef{Src: e.Src, SVG: e.SVG, Fit: "contain"}
	case *canvas.Group:
		for _, k := range e.Children {
			if !k.Base().Visible && !opts.IncludeHidden {
				continue
			}
			kid := nodeOf(k, layout.Child(k, e), opts)
			if kid.finite() {
				n.Children = append(n.Children, kid)
			}
		}
	}
	return n
}

// segmentOf maps line endpoints onto the box so the stroke runs corner to
// corner in the direction the endpoints describe.
func segmentOf(s *canvas.Shape, box layout.Box) *Segment {
	seg := &Segment{X2: box.Width, Y2: box.Height}
	if s.X2 < s.X1 {
		seg.X1, seg.X2 = box.Width, 0
	}
	if s.Y2 < s.Y1 {
		seg.Y1, seg.Y2 = box.Height, 0
	}
	return seg
}
