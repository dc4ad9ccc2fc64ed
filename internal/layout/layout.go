/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package layout converts normalized canvas elements into absolute boxes.
// Every output target (preview tree, HTML, SVG, raster, PDF) and the editor's
// hit-testing go through Object, so they cannot drift apart.
package layout

import (
	"math"

	"canvasqr/internal/canvas"
)

// Options tunes compatibility behaviour.
type Options struct {
	// LegacyCenterText treats text without an explicit origin whose position
	// lies in the centre third of the canvas (both axes) as centre-anchored.
	LegacyCenterText bool
}

// Triangle describes the border construction of a triangle: transparent
// side borders of width Side and a bottom border of height Base.
type Triangle struct {
	Side float64 `json:"side"`
	Base float64 `json:"base"`
}

// Box is an element's absolute placement. Angle rotates about the box centre.
type Box struct {
	Left     float64   `json:"left"`
	Top      float64   `json:"top"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Angle    float64   `json:"angle"`
	Opacity  float64   `json:"opacity"`
	Triangle *Triangle `json:"triangle,omitempty"`
}

// Rect is the unrotated rectangle.
func (b Box) Rect() Rect { return Rect{X: b.Left, Y: b.Top, W: b.Width, H: b.Height} }

// Center is the rotation centre.
func (b Box) Center() Pt { return b.Rect().Center() }

// Transform maps unrotated box coordinates to canvas coordinates.
func (b Box) Transform() Affine {
	if b.Angle == 0 {
		return Identity
	}
	return RotateAround(b.Angle, b.Center())
}

// Bounds returns the axis-aligned bounds of the rotated box.
func (b Box) Bounds() Rect {
	r := b.Rect()
	if b.Angle == 0 {
		return r
	}
	m := b.Transform()
	corners := [4]Pt{{r.X, r.Y}, {r.X + r.W, r.Y}, {r.X, r.Y + r.H}, {r.X + r.W, r.Y + r.H}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		p := m.Apply(c)
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Contains hit-tests a canvas point against the rotated box.
func (b Box) Contains(p Pt) bool {
	return b.Rect().Contains(b.Transform().Invert().Apply(p))
}

// BaselineOffset is the vertical correction for baseline-anchored text.
func BaselineOffset(baseline string, fontSize float64) float64 {
	switch baseline {
	case "alphabetic", "baseline":
		return -0.2 * fontSize
	case "middle":
		return -0.1 * fontSize
	}
	return 0
}

// Object lays out el on a canvas of the given size.
func Object(el canvas.Element, canvasSize Size, opts Options) Box {
	c := el.Base()
	effW, effH := c.EffectiveSize()
	ox, oy := c.OriginX, c.OriginY
	if _, isText := el.(*canvas.Text); isText && opts.LegacyCenterText && !c.OriginSet &&
		inCenterThird(c.Left, c.Top, canvasSize) {
		ox, oy = "center", "center"
	}

	left, top := c.Left, c.Top
	switch ox {
	case "center":
		left -= effW / 2
	case "right":
		left -= effW
	}
	switch oy {
	case "center":
		top -= effH / 2
	case "bottom":
		top -= effH
	}

	box := Box{Left: left, Top: top, Width: effW, Height: effH, Angle: c.Angle, Opacity: c.Opacity}
	switch e := el.(type) {
	case *canvas.Text:
		box.Top += BaselineOffset(e.TextBaseline, e.FontSize)
	case *canvas.Shape:
		switch e.Shape {
		case canvas.ShapeTriangle:
			box.Triangle = &Triangle{Side: effW / 2, Base: effH}
		case canvas.ShapeDiamond:
			box.Angle += 45
		}
	}
	return box
}

// Child lays out a group member relative to the group's box. Members are
// stored relative to the group centre and inherit the group scale.
func Child(el canvas.Element, g *canvas.Group) Box {
	b := Object(el, Size{W: g.Width, H: g.Height}, Options{})
	sx, sy := g.ScaleX, g.ScaleY
	b.Left = (b.Left + g.Width/2) * sx
	b.Top = (b.Top + g.Height/2) * sy
	b.Width *= sx
	b.Height *= sy
	if b.Triangle != nil {
		b.Triangle = &Triangle{Side: b.Width / 2, Base: b.Height}
	}
	return b
}

func inCenterThird(x, y float64, s Size) bool {
	if s.W <= 0 || s.H <= 0 {
		return false
	}
	return x >= s.W/3 && x <= 2*s.W/3 && y >= s.H/3 && y <= 2*s.H/3
}
