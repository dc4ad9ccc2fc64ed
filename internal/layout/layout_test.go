/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package layout

import (
	"math"
	"testing"

	"canvasqr/internal/canvas"
)

func el(t *testing.T, m map[string]any) canvas.Element {
	t.Helper()
	o, err := canvas.ObjectFromMap(m)
	if err != nil {
		t.Fatal(err)
	}
	e := canvas.Normalize(o)
	if e == nil {
		t.Fatalf("object %v normalized to nil", m)
	}
	return e
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

var canvas800 = Size{W: 800, H: 600}

func TestOriginAnchoringCenter(t *testing.T) {
	b := Object(el(t, map[string]any{
		"type": "rect", "left": 100, "top": 100, "width": 50, "height": 20,
		"scaleX": 2, "scaleY": 1, "originX": "center", "originY": "center",
	}), canvas800, Options{})
	if b.Left != 50 || b.Top != 90 || b.Width != 100 || b.Height != 20 {
		t.Fatalf("box = %+v, want left 50 top 90 100x20", b)
	}
}

func TestOriginAnchoringRightBottom(t *testing.T) {
	b := Object(el(t, map[string]any{
		"type": "rect", "left": 200, "top": 150, "width": 40, "height": 10,
		"scaleY": 3, "originX": "right", "originY": "bottom",
	}), canvas800, Options{})
	if b.Left != 160 || b.Top != 120 {
		t.Fatalf("box = %+v, want left 160 top 120", b)
	}
}

func TestAbsentFieldsDefault(t *testing.T) {
	b := Object(el(t, map[string]any{"type": "rect"}), canvas800, Options{})
	if b != (Box{Opacity: 1}) {
		t.Fatalf("box = %+v", b)
	}
}

func TestTextBaselineOffsets(t *testing.T) {
	cases := map[string]float64{"alphabetic": -4, "baseline": -4, "middle": -2, "top": 0, "": 0}
	for baseline, want := range cases {
		m := map[string]any{"type": "text", "left": 10, "top": 10, "fontSize": 20, "originX": "left"}
		if baseline != "" {
			m["textBaseline"] = baseline
		}
		b := Object(el(t, m), canvas800, Options{})
		if !near(b.Top, 10+want) {
			t.Fatalf("baseline %q: top = %v, want %v", baseline, b.Top, 10+want)
		}
	}
}

func TestLegacyCenterHeuristic(t *testing.T) {
	m := map[string]any{"type": "textbox", "left": 400, "top": 300, "width": 100, "height": 40}
	on := Object(el(t, m), canvas800, Options{LegacyCenterText: true})
	if on.Left != 350 || on.Top != 280 {
		t.Fatalf("heuristic on: %+v", on)
	}
	off := Object(el(t, m), canvas800, Options{})
	if off.Left != 400 || off.Top != 300 {
		t.Fatalf("heuristic off: %+v", off)
	}
	m["originX"] = "left"
	explicit := Object(el(t, m), canvas800, Options{LegacyCenterText: true})
	if explicit.Left != 400 {
		t.Fatalf("explicit origin must win: %+v", explicit)
	}
	corner := map[string]any{"type": "textbox", "left": 10, "top": 300, "width": 100}
	if b := Object(el(t, corner), canvas800, Options{LegacyCenterText: true}); b.Left != 10 {
		t.Fatalf("outside centre third must not be adjusted: %+v", b)
	}
	rect := map[string]any{"type": "rect", "left": 400, "top": 300, "width": 100}
	if b := Object(el(t, rect), canvas800, Options{LegacyCenterText: true}); b.Left != 400 {
		t.Fatalf("heuristic applies to text only: %+v", b)
	}
}

func TestTriangleAndDiamond(t *testing.T) {
	tri := Object(el(t, map[string]any{"type": "triangle", "width": 60, "height": 30, "scaleX": 2}), canvas800, Options{})
	if tri.Triangle == nil || tri.Triangle.Side != 60 || tri.Triangle.Base != 30 {
		t.Fatalf("triangle = %+v", tri.Triangle)
	}
	dia := Object(el(t, map[string]any{"type": "polygon", "shapeType": "diamond", "angle": 10}), canvas800, Options{})
	if dia.Angle != 55 {
		t.Fatalf("diamond angle = %v, want 55", dia.Angle)
	}
}

func TestGroupChildLayout(t *testing.T) {
	g := el(t, map[string]any{
		"type": "group", "width": 100, "height": 50, "scaleX": 2, "scaleY": 2,
		"objects": []any{map[string]any{"type": "rect", "left": -50, "top": -25, "width": 20, "height": 10}},
	}).(*canvas.Group)
	b := Child(g.Children[0], g)
	if b.Left != 0 || b.Top != 0 || b.Width != 40 || b.Height != 20 {
		t.Fatalf("child box = %+v", b)
	}
}

func TestBoxContainsAndBounds(t *testing.T) {
	b := Box{Left: 0, Top: 0, Width: 100, Height: 10, Angle: 90}
	// rotated 90° about (50,5): now spans x 45..55, y -45..55
	if !b.Contains(Pt{50, 40}) {
		t.Fatalf("rotated box should contain (50,40)")
	}
	if b.Contains(Pt{90, 5}) {
		t.Fatalf("rotated box should not contain (90,5)")
	}
	r := b.Bounds()
	if !near(Round(r.W, 6), 10) || !near(Round(r.H, 6), 100) {
		t.Fatalf("bounds = %+v", r)
	}
}

func TestAffineInvert(t *testing.T) {
	m := Translate(3, 4).Mul(RotateDeg(30)).Mul(Scale(2, 0.5))
	p := Pt{7, -2}
	q := m.Invert().Apply(m.Apply(p))
	if !near(Round(q.X, 9), p.X) || !near(Round(q.Y, 9), p.Y) {
		t.Fatalf("invert round trip = %+v", q)
	}
}

func TestSnapToCanvasEdgesAndCenters(t *testing.T) {
	surface := Rect{W: 200, H: 100}
	snapped, guides := Snap(Rect{X: 3, Y: 4, W: 80, H: 40}, []Rect{surface}, SnapOptions{Threshold: 6, SnapToEdges: true})
	if snapped.X != 0 || snapped.Y != 0 || len(guides) != 2 {
		t.Fatalf("edge snap = %+v guides %d", snapped, len(guides))
	}
	snapped, guides = Snap(Rect{X: 48, Y: 17, W: 100, H: 60}, []Rect{surface}, SnapOptions{Threshold: 5, SnapToCenters: true})
	if snapped.X != 50 || snapped.Y != 20 {
		t.Fatalf("center snap = %+v", snapped)
	}
	for _, g := range guides {
		if g.Kind != "center" {
			t.Fatalf("unexpected guide %+v", g)
		}
	}
	far, guides := Snap(Rect{X: 30, Y: 30, W: 10, H: 10}, []Rect{surface}, SnapOptions{Threshold: 2, SnapToEdges: true})
	if far.X != 30 || far.Y != 30 || len(guides) != 0 {
		t.Fatalf("no snap expected, got %+v %v", far, guides)
	}
}
