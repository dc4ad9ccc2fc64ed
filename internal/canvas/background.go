/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"encoding/json"
	"math"
	"strings"
)

// BackgroundKind enumerates canvas backgrounds.
type BackgroundKind int

const (
	BackgroundTransparent BackgroundKind = iota
	BackgroundSolid
	BackgroundGradient
)

// Background is the canvas fill.
type Background struct {
	Kind     BackgroundKind
	Color    string
	Gradient *Gradient
}

// Gradient is a linear or radial gradient as stored by the editor.
type Gradient struct {
	Type   string      `json:"type"`
	Coords Coords      `json:"coords"`
	Stops  []ColorStop `json:"colorStops"`
}

type Coords struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
	R1 float64 `json:"r1"`
	R2 float64 `json:"r2"`
}

type ColorStop struct {
	Offset  float64  `json:"offset"`
	Color   string   `json:"color"`
	Opacity *float64 `json:"opacity,omitempty"`
}

// Background decodes "background" (or the legacy "backgroundColor").
func (d *Document) Background() Background {
	raw, ok := d.fields["background"]
	if !ok {
		raw, ok = d.fields["backgroundColor"]
	}
	if !ok {
		return Background{Kind: BackgroundTransparent}
	}
	return decodeBackground(raw)
}

// ParseBackground decodes a background value: a colour string,
// "transparent" or a gradient object.
func ParseBackground(raw json.RawMessage) Background { return decodeBackground(raw) }

func decodeBackground(raw json.RawMessage) Background {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "transparent") {
			return Background{Kind: BackgroundTransparent}
		}
		return Background{Kind: BackgroundSolid, Color: s}
	}
	var g Gradient
	if err := json.Unmarshal(raw, &g); err == nil && len(g.Stops) > 0 {
		if g.Type == "" {
			g.Type = "linear"
		}
		return Background{Kind: BackgroundGradient, Gradient: &g}
	}
	return Background{Kind: BackgroundTransparent}
}

// SetBackground stores a solid colour, "transparent" or a gradient.
func (d *Document) SetBackground(bg Background) error {
	switch bg.Kind {
	case BackgroundSolid:
		return d.SetField("background", bg.Color)
	case BackgroundGradient:
		return d.SetField("background", bg.Gradient)
	default:
		return d.SetField("background", "transparent")
	}
}

// AngleDegrees returns the CSS angle of a linear gradient (0deg points up).
func (g *Gradient) AngleDegrees() float64 {
	dx := g.Coords.X2 - g.Coords.X1
	dy := g.Coords.Y2 - g.Coords.Y1
	if dx == 0 && dy == 0 {
		return 180
	}
	deg := math.Atan2(dy, dx)*180/math.Pi + 90
	if deg < 0 {
		deg += 360
	}
	return deg
}
