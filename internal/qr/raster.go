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
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"

	"canvasqr/internal/canvas"
	"canvasqr/internal/render"
	"canvasqr/internal/textlayout"
)

// MaxResolution bounds raster output width.
const MaxResolution = 4096

var labelFonts = &textlayout.OTProvider{}

// Raster renders the code as "png" or "jpeg". resolution is the output
// width in pixels; 0 keeps the natural size.
func (c *Code) Raster(format string, resolution int) ([]byte, error) {
	img, err := c.Image(resolution)
	if err != nil {
		return nil, err
	}
	return encode(img, format)
}

// Image rasterizes the code onto a white canvas. Vector parts go through
// the SVG rasterizer; the caption and logo are composited afterwards.
func (c *Code) Image(resolution int) (*image.RGBA, error) {
	size := c.codeSize()
	f := frameFor(c.opts.Style, size)
	if resolution == 0 {
		resolution = int(math.Round(f.W))
	}
	if resolution < 16 || resolution > MaxResolution {
		return nil, fmt.Errorf("%w: resolution %d", ErrInvalid, resolution)
	}
	scale := float64(resolution) / f.W
	w, h := resolution, int(math.Round(f.H*scale))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, xdraw.Src)

	if err := drawSVG(img, c.svg(svgParts{})); err != nil {
		return nil, err
	}
	if f.Label != nil {
		c.drawLabel(img, f, scale)
	}
	if ls := c.logoSize(); ls > 0 {
		logo, err := render.DecodeDataURI(c.opts.Logo)
		if err != nil || logo == nil {
			return nil, fmt.Errorf("%w: logo: %v", ErrRaster, err)
		}
		x := (f.QX + (size-ls)/2) * scale
		y := (f.QY + (size-ls)/2) * scale
		box := image.Rect(int(math.Round(x)), int(math.Round(y)), int(math.Round(x+ls*scale)), int(math.Round(y+ls*scale)))
		dst := containRect(box, logo.Bounds())
		xdraw.CatmullRom.Scale(img, dst, logo, logo.Bounds(), xdraw.Over, nil)
	}
	return img, nil
}

func (c *Code) drawLabel(img *image.RGBA, f frame, scale float64) {
	l := f.Label
	col := c.opts.Foreground
	if f.LabelOnFg {
		col = c.opts.Background
	}
	spec := textlayout.FontSpec{Family: "Go", SizePx: labelFontSize(l) * scale, Weight: 700}
	box := textlayout.Wrap(labelFonts, spec, c.opts.Label, 0, 1)
	r := image.Rect(int(l.X*scale), int(l.Y*scale), int((l.X+l.W)*scale), int((l.Y+l.H)*scale))
	textlayout.Draw(img, labelFonts, spec, box, textlayout.DrawOptions{
		Rect:    r,
		Align:   "center",
		VCenter: true,
		Color:   canvas.ColorOr(col, color.NRGBA{A: 255}),
	})
}

func containRect(box, src image.Rectangle) image.Rectangle {
	if src.Dx() == 0 || src.Dy() == 0 {
		return box
	}
	s := math.Min(float64(box.Dx())/float64(src.Dx()), float64(box.Dy())/float64(src.Dy()))
	w := int(math.Round(float64(src.Dx()) * s))
	h := int(math.Round(float64(src.Dy()) * s))
	x := box.Min.X + (box.Dx()-w)/2
	y := box.Min.Y + (box.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// RasterSVG rasterizes stored QR markup at the given width. Malformed
// markup fails with ErrRaster and no output.
func RasterSVG(markup []byte, format string, width int) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(markup), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRaster, err)
	}
	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		return nil, fmt.Errorf("%w: svg has no viewBox", ErrRaster)
	}
	if width <= 0 {
		width = int(math.Round(vw))
	}
	if width > MaxResolution {
		return nil, fmt.Errorf("%w: resolution %d", ErrInvalid, width)
	}
	h := int(math.Round(vh * float64(width) / vw))
	img := image.NewRGBA(image.Rect(0, 0, width, h))
	xdraw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, xdraw.Src)
	icon.SetTarget(0, 0, float64(width), float64(h))
	icon.Draw(rasterx.NewDasher(width, h, rasterx.NewScannerGV(width, h, img, img.Bounds())), 1)
	return encode(img, format)
}

func drawSVG(img *image.RGBA, markup []byte) error {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(markup), oksvg.IgnoreErrorMode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRaster, err)
	}
	b := img.Bounds()
	icon.SetTarget(0, 0, float64(b.Dx()), float64(b.Dy()))
	icon.Draw(rasterx.NewDasher(b.Dx(), b.Dy(), rasterx.NewScannerGV(b.Dx(), b.Dy(), img, b)), 1)
	return nil
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(format) {
	case "", "png":
		err = png.Encode(&buf, img)
	case "jpeg", "jpg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92})
	default:
		return nil, fmt.Errorf("%w: format %q", ErrInvalid, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrRaster, format, err)
	}
	return buf.Bytes(), nil
}
