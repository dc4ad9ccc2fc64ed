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
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder for data URIs
	"image/jpeg"
	"image/png"
	"math"
	"net/url"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"

	"canvasqr/internal/canvas"
	"canvasqr/internal/layout"
	"canvasqr/internal/textlayout"
)

// ErrEmptyCanvas is returned when the scene has no drawable area.
var ErrEmptyCanvas = errors.New("canvas has no area")

// ImageFetcher loads non-inline image sources for rasterization.
type ImageFetcher func(src string) (image.Image, error)

// RasterOptions controls PNG/JPEG export.
type RasterOptions struct {
	// Scale multiplies canvas pixels; 0 means 1.
	Scale float64
	// Format is "png" (default) or "jpeg".
	Format  string
	Quality int
	// Fonts resolves faces; nil uses the bundled Go fonts.
	Fonts textlayout.Provider
	// Fetch loads remote images; nil draws a placeholder.
	Fetch ImageFetcher
	// MaxPixels bounds the output size; 0 means 40 megapixels.
	MaxPixels int
}

var defaultFonts = &textlayout.OTProvider{}

// PNG rasterizes the scene at the given scale.
func PNG(sc *Scene, scale float64) ([]byte, error) {
	return Raster(sc, RasterOptions{Scale: scale})
}

// Raster rasterizes and encodes the scene.
func Raster(sc *Scene, opts RasterOptions) ([]byte, error) {
	img, err := Rasterize(sc, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch strings.ToLower(opts.Format) {
	case "jpeg", "jpg":
		q := opts.Quality
		if q <= 0 {
			q = 90
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", opts.Format, err)
	}
	return buf.Bytes(), nil
}

type rasterizer struct {
	img   *image.RGBA
	scale float64
	sc    *Scene
	opts  RasterOptions
}

// Rasterize paints the scene onto a new RGBA image. Vector parts go through
// the SVG rasterizer so strokes, radii and rotation match the SVG export.
// Text and images are drawn axis-aligned.
func Rasterize(sc *Scene, opts RasterOptions) (*image.RGBA, error) {
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	maxPx := opts.MaxPixels
	if maxPx <= 0 {
		maxPx = 40_000_000
	}
	fw, fh := math.Ceil(sc.Width*scale), math.Ceil(sc.Height*scale)
	if math.IsNaN(fw) || math.IsNaN(fh) || fw <= 0 || fh <= 0 {
		return nil, ErrEmptyCanvas
	}
	// Bound each side before converting so the product cannot overflow.
	if fw > float64(maxPx) || fh > float64(maxPx) {
		return nil, fmt.Errorf("raster %gx%g exceeds %d pixels", fw, fh, maxPx)
	}
	w, h := int(fw), int(fh)
	if w > maxPx/h {
		return nil, fmt.Errorf("raster %dx%d exceeds %d pixels", w, h, maxPx)
	}
	if opts.Fonts == nil {
		opts.Fonts = defaultFonts
	}
	r := &rasterizer{img: image.NewRGBA(image.Rect(0, 0, w, h)), scale: scale, sc: sc, opts: opts}
	// White background, like the other raster exports.
	xdraw.Draw(r.img, r.img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, xdraw.Src)
	if err := r.background(); err != nil {
		return nil, err
	}
	for i := range sc.Nodes {
		if err := r.node(&sc.Nodes[i]); err != nil {
			return nil, err
		}
	}
	return r.img, nil
}

func (r *rasterizer) background() error {
	switch {
	case r.sc.Background.Gradient != nil:
		w := &svgWriter{shapesOnly: true}
		w.wf("<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"%s\" height=\"%s\" viewBox=\"0 0 %s %s\">\n",
			num(r.sc.Width), num(r.sc.Height), num(r.sc.Width), num(r.sc.Height))
		w.background(r.sc)
		w.wf("</svg>\n")
		return r.drawSVG(w.buf.Bytes())
	case r.sc.Background.Color != "":
		if c, ok := canvas.ParseColor(r.sc.Background.Color); ok {
			xdraw.Draw(r.img, r.img.Bounds(), &image.Uniform{C: c}, image.Point{}, xdraw.Over)
		}
	}
	return nil
}

func (r *rasterizer) drawSVG(data []byte) error {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return fmt.Errorf("rasterize svg: %w", err)
	}
	b := r.img.Bounds()
	icon.SetTarget(0, 0, float64(b.Dx()), float64(b.Dy()))
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), r.img, b)
	icon.Draw(rasterx.NewDasher(b.Dx(), b.Dy(), scanner), 1)
	return nil
}

func (r *rasterizer) node(n *Node) error {
	if err := r.drawSVG(shapeSVG(n, r.sc.Width, r.sc.Height)); err != nil {
		return err
	}
	r.overlay(n, layout.Pt{}, 1)
	return nil
}

// overlay draws the non-vector parts of n. Group members are offset by
// their group's position.
func (r *rasterizer) overlay(n *Node, off layout.Pt, opacity float64) {
	opacity *= n.Box.Opacity
	b := n.Box
	rect := image.Rect(
		int(math.Round((off.X+b.Left)*r.scale)), int(math.Round((off.Y+b.Top)*r.scale)),
		int(math.Round((off.X+b.Left+b.Width)*r.scale)), int(math.Round((off.Y+b.Top+b.Height)*r.scale)),
	)
	switch n.Kind {
	case canvas.KindText, canvas.KindButton, canvas.KindLink:
		r.text(n, rect, opacity)
	case canvas.KindImage, canvas.KindSocialIcon:
		r.image(n, rect, opacity)
	case canvas.KindGroup:
		for i := range n.Children {
			r.overlay(&n.Children[i], layout.Pt{X: off.X + b.Left, Y: off.Y + b.Top}, opacity)
		}
	}
}

func (r *rasterizer) text(n *Node, rect image.Rectangle, opacity float64) {
	t := n.Text
	if t == nil || t.Content == "" {
		return
	}
	spec := textlayout.FontSpec{
		Family: t.FontFamily,
		SizePx: t.FontSize * r.scale,
		Weight: fontWeightNumber(t.FontWeight),
		Italic: t.FontStyle == "italic" || t.FontStyle == "oblique",
	}
	maxW := 0.0
	if n.Kind == canvas.KindText && rect.Dx() > 0 {
		maxW = float64(rect.Dx())
	}
	box := textlayout.Wrap(r.opts.Fonts, spec, t.Content, maxW, t.LineHeight)
	col := canvas.ColorOr(t.Color, color.NRGBA{A: 255})
	col.A = uint8(math.Round(float64(col.A) * opacity))
	textlayout.Draw(r.img, r.opts.Fonts, spec, box, textlayout.DrawOptions{
		Rect:      rect,
		Align:     t.Align,
		VCenter:   n.Kind == canvas.KindButton,
		Color:     col,
		Underline: t.Underline,
		Strike:    t.Linethrough,
	})
}

func (r *rasterizer) image(n *Node, rect image.Rectangle, opacity float64) {
	if rect.Empty() || n.Image == nil {
		return
	}
	var src image.Image
	if n.Image.SVG != "" {
		src = svgImage(n.Image.SVG, rect.Dx(), rect.Dy())
	} else if n.Image.Src != "" {
		src = r.load(n.Image.Src)
	}
	if src == nil {
		// placeholder for sources that cannot be loaded offline
		xdraw.Draw(r.img, rect, &image.Uniform{C: color.NRGBA{R: 0xee, G: 0xee, B: 0xee, A: uint8(255 * opacity)}}, image.Point{}, xdraw.Over)
		return
	}
	dst, sr := fitRects(rect, src.Bounds(), n.Image.Fit)
	if opacity >= 1 {
		xdraw.CatmullRom.Scale(r.img, dst, src, sr, xdraw.Over, nil)
		return
	}
	tmp := image.NewRGBA(dst)
	xdraw.CatmullRom.Scale(tmp, dst, src, sr, xdraw.Src, nil)
	mask := &image.Uniform{C: color.Alpha{A: uint8(255 * opacity)}}
	xdraw.DrawMask(r.img, dst, tmp, dst.Min, mask, image.Point{}, xdraw.Over)
}

func (r *rasterizer) load(src string) image.Image {
	if strings.HasPrefix(src, "data:") {
		img, err := DecodeDataURI(src)
		if err != nil {
			return nil
		}
		return img
	}
	if r.opts.Fetch == nil {
		return nil
	}
	img, err := r.opts.Fetch(src)
	if err != nil {
		return nil
	}
	return img
}

// DecodeDataURI decodes base64 or percent-encoded image data URIs. SVG
// payloads are rasterized at 256x256.
func DecodeDataURI(uri string) (image.Image, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data uri")
	}
	meta, payload := uri[len("data:"):comma], uri[comma+1:]
	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data uri: %w", err)
		}
		data = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data uri: %w", err)
		}
		data = []byte(s)
	}
	if strings.HasPrefix(meta, "image/svg") {
		return svgImage(string(data), 256, 256), nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func svgImage(markup string, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return nil
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(markup), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	icon.SetTarget(0, 0, float64(w), float64(h))
	icon.Draw(rasterx.NewDasher(w, h, rasterx.NewScannerGV(w, h, img, img.Bounds())), 1)
	return img
}

// fitRects places src inside box according to CSS object-fit and returns
// the destination and source rectangles.
func fitRects(box, src image.Rectangle, fit string) (image.Rectangle, image.Rectangle) {
	if src.Dx() == 0 || src.Dy() == 0 {
		return box, src
	}
	sx := float64(box.Dx()) / float64(src.Dx())
	sy := float64(box.Dy()) / float64(src.Dy())
	switch fit {
	case "contain":
		s := math.Min(sx, sy)
		w := int(math.Round(float64(src.Dx()) * s))
		h := int(math.Round(float64(src.Dy()) * s))
		x := box.Min.X + (box.Dx()-w)/2
		y := box.Min.Y + (box.Dy()-h)/2
		return image.Rect(x, y, x+w, y+h), src
	case "cover":
		s := math.Max(sx, sy)
		cw := int(math.Round(float64(box.Dx()) / s))
		ch := int(math.Round(float64(box.Dy()) / s))
		x := src.Min.X + (src.Dx()-cw)/2
		y := src.Min.Y + (src.Dy()-ch)/2
		return box, image.Rect(x, y, x+cw, y+ch)
	}
	return box, src
}
