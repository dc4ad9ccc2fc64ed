/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package layout

// Smart guides used when the editor moves an object: the moving bounds snap
// to edges and centres of the canvas and of sibling objects.

import "math"

// SnapOptions controls which guide candidates are considered and the threshold.
type SnapOptions struct {
	// Threshold is the maximum distance in pixels at which snapping occurs.
	Threshold     float64
	SnapToEdges   bool
	SnapToCenters bool
}

// Guide describes an alignment line produced by a snap.
// Orientation is "vertical" or "horizontal", Kind is "edge" or "center".
type Guide struct {
	Orientation string  `json:"orientation"`
	Kind        string  `json:"kind"`
	Position    float64 `json:"position"`
	From        Pt      `json:"from"`
	To          Pt      `json:"to"`
}

type snapCandidate struct {
	delta, dist float64
	guide       Guide
}

// Snap moves r onto the closest anchor edge/centre within the threshold,
// independently per axis, and returns the guides to display.
func Snap(r Rect, anchors []Rect, opts SnapOptions) (Rect, []Guide) {
	if opts.Threshold <= 0 {
		opts.Threshold = 6
	}
	bestX := snapCandidate{dist: math.Inf(1)}
	bestY := snapCandidate{dist: math.Inf(1)}

	consider := func(best *snapCandidate, delta float64, g Guide) {
		d := math.Abs(delta)
		if d <= opts.Threshold && d < best.dist {
			*best = snapCandidate{delta: delta, dist: d, guide: g}
		}
	}

	for _, a := range anchors {
		if opts.SnapToEdges {
			for _, mx := range []float64{r.X, r.X + r.W} {
				for _, ax := range []float64{a.X, a.X + a.W} {
					consider(&bestX, mx-ax, vertical(ax, r, a, "edge"))
				}
			}
			for _, my := range []float64{r.Y, r.Y + r.H} {
				for _, ay := range []float64{a.Y, a.Y + a.H} {
					consider(&bestY, my-ay, horizontal(ay, r, a, "edge"))
				}
			}
		}
		if opts.SnapToCenters {
			rc, ac := r.Center(), a.Center()
			consider(&bestX, rc.X-ac.X, vertical(ac.X, r, a, "center"))
			consider(&bestY, rc.Y-ac.Y, horizontal(ac.Y, r, a, "center"))
		}
	}

	var guides []Guide
	if !math.IsInf(bestX.dist, 1) {
		r.X = Round(r.X-bestX.delta, 3)
		guides = append(guides, bestX.guide)
	}
	if !math.IsInf(bestY.dist, 1) {
		r.Y = Round(r.Y-bestY.delta, 3)
		guides = append(guides, bestY.guide)
	}
	return r, guides
}

func vertical(x float64, a, b Rect, kind string) Guide {
	x = Round(x, 3)
	return Guide{
		Orientation: "vertical",
		Kind:        kind,
		Position:    x,
		From:        Pt{x, math.Min(a.Y, b.Y)},
		To:          Pt{x, math.Max(a.Y+a.H, b.Y+b.H)},
	}
}

func horizontal(y float64, a, b Rect, kind string) Guide {
	y = Round(y, 3)
	return Guide{
		Orientation: "horizontal",
		Kind:        kind,
		Position:    y,
		From:        Pt{math.Min(a.X, b.X), y},
		To:          Pt{math.Max(a.X+a.W, b.X+b.W), y},
	}
}
