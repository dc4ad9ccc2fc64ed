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
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"canvasqr/internal/canvas"
	"canvasqr/internal/layout"
)

// PDFOptions controls PDF export. One canvas pixel maps to one point.
type PDFOptions struct {
	Title  string
	Author string
	// Fetch loads remote images; nil draws a placeholder.
	Fetch ImageFetcher
}

// PDF renders the scene as a single-page PDF with clickable link areas.
func PDF(sc *Scene) ([]byte, error) { return PDFWith(sc, PDFOptions{}) }

type pdfWriter struct {
	pdf    *gofpdf.Fpdf
	tr     func(string) string
	opts   PDFOptions
	images int
}

// PDFWith renders the scene with explicit options.
func PDFWith(sc *Scene, opts PDFOptions) ([]byte, error) {
	if sc.Width <= 0 || sc.Height <= 0 {
		return nil, ErrEmptyCanvas
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: sc.Width, Ht: sc.Height},
	})
	title := opts.Title
	if title == "" {
		title = "Design"
	}
	pdf.SetTitle(title, true)
	if opts.Author != "" {
		pdf.SetAuthor(opts.Author, true)
	}
	pdf.SetCreator("canvasqr", true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetCellMargin(0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 12)

	w := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), opts: opts}
	w.background(sc)
	for i := range sc.Nodes {
		w.node(&sc.Nodes[i], layout.Pt{}, 1)
	}
	// Link areas go last so they sit above all content.
	for i := range sc.Nodes {
		w.links(&sc.Nodes[i], layout.Pt{})
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *pdfWriter) background(sc *Scene) {
	switch {
	case sc.Background.Gradient != nil && len(sc.Background.Gradient.Stops) > 0:
		g := sc.Background.Gradient
		c1 := canvas.ColorOr(stopColor(g.Stops[0]), color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		c2 := canvas.ColorOr(stopColor(g.Stops[len(g.Stops)-1]), c1)
		if g.Type == "radial" {
			w.pdf.RadialGradient(0, 0, sc.Width, sc.Height,
				int(c1.R), int(c1.G), int(c1.B), int(c2.R), int(c2.G), int(c2.B), 0.5, 0.5, 0.5, 0.5, 0.5)
			return
		}
		x1, y1, x2, y2 := unit(g.Coords.X1, sc.Width), unit(g.Coords.Y1, sc.Height), unit(g.Coords.X2, sc.Width), unit(g.Coords.Y2, sc.Height)
		if x1 == x2 && y1 == y2 {
			y1, y2 = 0, 1
		}
		// gofpdf gradient vectors run bottom-up
		w.pdf.LinearGradient(0, 0, sc.Width, sc.Height,
			int(c1.R), int(c1.G), int(c1.B), int(c2.R), int(c2.G), int(c2.B), x1, 1-y1, x2, 1-y2)
	case sc.Background.Color != "":
		if c, ok := canvas.ParseColor(sc.Background.Color); ok && c.A > 0 {
			w.withAlpha(float64(c.A)/255, func() {
				w.pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
				w.pdf.Rect(0, 0, sc.Width, sc.Height, "F")
			})
		}
	}
}

func unit(v, extent float64) float64 {
	if extent <= 0 {
		return 0
	}
	u := v / extent
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}

func (w *pdfWriter) withAlpha(a float64, fn func()) {
	if a >= 1 {
		fn()
		return
	}
	w.pdf.SetAlpha(a, "Normal")
	fn()
	w.pdf.SetAlpha(1, "Normal")
}

// rotated applies the box rotation about its centre. gofpdf rotates
// counter-clockwise, canvas angles are clockwise.
func (w *pdfWriter) rotated(b layout.Box, off layout.Pt, fn func()) {
	if b.Angle == 0 {
		fn()
		return
	}
	c := b.Center()
	w.pdf.TransformBegin()
	w.pdf.TransformRotate(-b.Angle, off.X+c.X, off.Y+c.Y)
	fn()
	w.pdf.TransformEnd()
}

// style picks the gofpdf draw style and sets colours. ok is false when
// nothing would be painted.
func (w *pdfWriter) style(fill, stroke string, strokeWidth float64) (string, bool) {
	s := ""
	if c, ok := canvas.ParseColor(fill); ok && c.A > 0 {
		w.pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
		s += "F"
	}
	if stroke != "" && strokeWidth > 0 {
		if c, ok := canvas.ParseColor(stroke); ok && c.A > 0 {
			w.pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
			w.pdf.SetLineWidth(strokeWidth)
			s += "D"
		}
	}
	return s, s != ""
}

func colorAlpha(s string) float64 {
	if c, ok := canvas.ParseColor(s); ok {
		return float64(c.A) / 255
	}
	return 1
}

func (w *pdfWriter) node(n *Node, off layout.Pt, opacity float64) {
	opacity *= n.Box.Opacity
	b := n.Box
	x, y := off.X+b.Left, off.Y+b.Top
	if n.Kind == canvas.KindGroup {
		w.rotated(b, off, func() {
			for i := range n.Children {
				w.node(&n.Children[i], layout.Pt{X: x, Y: y}, opacity)
			}
		})
		return
	}
	w.rotated(b, off, func() {
		switch n.Kind {
		case canvas.KindShape:
			w.shape(n, x, y, opacity)
		case canvas.KindButton:
			w.withAlpha(opacity*colorAlpha(n.Fill), func() {
				if st, ok := w.style(n.Fill, n.Stroke, n.StrokeWidth); ok {
					w.roundedRect(x, y, b.Width, b.Height, n.Radius, st)
				}
			})
			w.text(n, x, y, opacity)
		case canvas.KindText, canvas.KindLink:
			if n.Text.Background != "" {
				w.withAlpha(opacity*colorAlpha(n.Text.Background), func() {
					if st, ok := w.style(n.Text.Background, "", 0); ok {
						w.pdf.Rect(x, y, b.Width, b.Height, st)
					}
				})
			}
			w.text(n, x, y, opacity)
		case canvas.KindImage, canvas.KindSocialIcon:
			w.image(n, x, y, opacity)
		}
	})
}

func (w *pdfWriter) shape(n *Node, x, y, opacity float64) {
	b := n.Box
	w.withAlpha(opacity*colorAlpha(n.Fill), func() {
		if n.Shape == canvas.ShapeLine {
			if n.Line == nil {
				return
			}
			c, ok := canvas.ParseColor(n.Stroke)
			if !ok {
				return
			}
			w.pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
			w.pdf.SetLineWidth(n.StrokeWidth)
			w.pdf.Line(x+n.Line.X1, y+n.Line.Y1, x+n.Line.X2, y+n.Line.Y2)
			return
		}
		st, ok := w.style(n.Fill, n.Stroke, n.StrokeWidth)
		if !ok {
			return
		}
		switch n.Shape {
		case canvas.ShapeCircle:
			w.pdf.Ellipse(x+b.Width/2, y+b.Height/2, b.Width/2, b.Height/2, 0, st)
		case canvas.ShapeTriangle:
			w.pdf.Polygon([]gofpdf.PointType{
				{X: x, Y: y + b.Height},
				{X: x + b.Width/2, Y: y},
				{X: x + b.Width, Y: y + b.Height},
			}, st)
		default:
			w.roundedRect(x, y, b.Width, b.Height, n.Radius, st)
		}
	})
}

// roundedRect draws a rectangle with circular corners of radius r.
func (w *pdfWriter) roundedRect(x, y, width, height, r float64, st string) {
	if r <= 0 {
		w.pdf.Rect(x, y, width, height, st)
		return
	}
	r = min(r, width/2, height/2)
	k := 0.5523 * r // cubic approximation of a quarter circle
	p := w.pdf
	p.MoveTo(x+r, y)
	p.LineTo(x+width-r, y)
	p.CurveBezierCubicTo(x+width-r+k, y, x+width, y+r-k, x+width, y+r)
	p.LineTo(x+width, y+height-r)
	p.CurveBezierCubicTo(x+width, y+height-r+k, x+width-r+k, y+height, x+width-r, y+height)
	p.LineTo(x+r, y+height)
	p.CurveBezierCubicTo(x+r-k, y+height, x, y+height-r+k, x, y+height-r)
	p.LineTo(x, y+r)
	p.CurveBezierCubicTo(x, y+r-k, x+r-k, y, x+r, y)
	p.ClosePath()
	p.DrawPath(st)
}

// pdfFamily maps CSS families onto the PDF core fonts.
func pdfFamily(family string) string {
	f := strings.ToLower(family)
	switch {
	case strings.Contains(f, "courier"), strings.Contains(f, "mono"):
		return "Courier"
	case strings.Contains(f, "times"), strings.Contains(f, "georgia"), strings.Contains(f, "garamond"),
		f == "serif", strings.HasSuffix(f, " serif") && !strings.Contains(f, "sans"):
		return "Times"
	}
	return "Helvetica"
}

func (w *pdfWriter) text(n *Node, x, y, opacity float64) {
	t := n.Text
	if t == nil || t.Content == "" {
		return
	}
	c := canvas.ColorOr(t.Color, color.NRGBA{A: 255})
	style := ""
	if fontWeightNumber(t.FontWeight) >= 600 {
		style += "B"
	}
	if t.FontStyle == "italic" || t.FontStyle == "oblique" {
		style += "I"
	}
	if t.Underline {
		style += "U"
	}
	size := t.FontSize
	if size <= 0 {
		size = canvas.DefaultFontSize
	}
	lh := t.LineHeight
	if lh <= 0 {
		lh = canvas.DefaultLineHeight
	}
	w.pdf.SetFont(pdfFamily(t.FontFamily), style, size)
	w.pdf.SetTextColor(int(c.R), int(c.G), int(c.B))
	align := "L"
	switch t.Align {
	case "center":
		align = "C"
	case "right":
		align = "R"
	}
	width := n.Box.Width
	content := w.tr(t.Content)
	if width <= 0 {
		width = w.pdf.GetStringWidth(content) + 1
	}
	lines := w.pdf.SplitLines([]byte(content), width)
	top := y
	if n.Kind == canvas.KindButton {
		top = y + (n.Box.Height-float64(len(lines))*size*lh)/2
	}
	w.withAlpha(opacity*float64(c.A)/255, func() {
		for i, ln := range lines {
			w.pdf.SetXY(x, top+float64(i)*size*lh)
			w.pdf.CellFormat(width, size*lh, string(ln), "", 0, align, false, 0, "")
		}
	})
}

func (w *pdfWriter) image(n *Node, x, y, opacity float64) {
	b := n.Box
	if b.Width <= 0 || b.Height <= 0 {
		return
	}
	var img image.Image
	switch {
	case n.Image.SVG != "":
		img = svgImage(n.Image.SVG, int(b.Width*2), int(b.Height*2))
	case strings.HasPrefix(n.Image.Src, "data:"):
		img, _ = DecodeDataURI(n.Image.Src)
	case n.Image.Src != "" && w.opts.Fetch != nil:
		img, _ = w.opts.Fetch(n.Image.Src)
	}
	if img == nil {
		w.withAlpha(opacity, func() {
			w.pdf.SetFillColor(0xee, 0xee, 0xee)
			w.pdf.Rect(x, y, b.Width, b.Height, "F")
		})
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return
	}
	w.images++
	name := fmt.Sprintf("img%d", w.images)
	opt := gofpdf.ImageOptions{ImageType: "PNG"}
	w.pdf.RegisterImageOptionsReader(name, opt, &buf)
	dst := image.Rect(0, 0, int(b.Width*100), int(b.Height*100))
	fit, _ := fitRects(dst, img.Bounds(), n.Image.Fit)
	if n.Image.Fit == "cover" {
		fit = dst
	}
	w.withAlpha(opacity, func() {
		w.pdf.ImageOptions(name,
			x+float64(fit.Min.X)/100, y+float64(fit.Min.Y)/100,
			float64(fit.Dx())/100, float64(fit.Dy())/100,
			false, opt, 0, "")
	})
}

func (w *pdfWriter) links(n *Node, off layout.Pt) {
	b := n.Box
	if n.Link != nil && n.Link.Href != "" {
		r := b.Bounds()
		w.pdf.LinkString(off.X+r.X, off.Y+r.Y, r.W, r.H, n.Link.Href)
	}
	for i := range n.Children {
		w.links(&n.Children[i], layout.Pt{X: off.X + b.Left, Y: off.Y + b.Top})
	}
}
