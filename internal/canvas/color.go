/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"image/color"
	"strconv"
	"strings"
)

var namedColors = map[string]color.NRGBA{
	"black":   {0, 0, 0, 255},
	"white":   {255, 255, 255, 255},
	"red":     {255, 0, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"yellow":  {255, 255, 0, 255},
	"orange":  {255, 165, 0, 255},
	"purple":  {128, 0, 128, 255},
	"gray":    {128, 128, 128, 255},
	"grey":    {128, 128, 128, 255},
	"silver":  {192, 192, 192, 255},
	"navy":    {0, 0, 128, 255},
	"teal":    {0, 128, 128, 255},
	"maroon":  {128, 0, 0, 255},
	"lime":    {0, 255, 0, 255},
	"aqua":    {0, 255, 255, 255},
	"cyan":    {0, 255, 255, 255},
	"magenta": {255, 0, 255, 255},
	"fuchsia": {255, 0, 255, 255},
	"pink":    {255, 192, 203, 255},
}

// ParseColor understands #rgb, #rgba, #rrggbb, #rrggbbaa, rgb(), rgba(),
// "transparent" and a small set of named colours.
func ParseColor(s string) (color.NRGBA, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return color.NRGBA{}, false
	case s == "transparent" || s == "none":
		return color.NRGBA{}, true
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:])
	case strings.HasPrefix(s, "rgb"):
		return parseRGBFunc(s)
	}
	c, ok := namedColors[s]
	return c, ok
}

func parseHex(h string) (color.NRGBA, bool) {
	expand := func(c byte) string { return string([]byte{c, c}) }
	switch len(h) {
	case 3:
		h = expand(h[0]) + expand(h[1]) + expand(h[2]) + "ff"
	case 4:
		h = expand(h[0]) + expand(h[1]) + expand(h[2]) + expand(h[3])
	case 6:
		h += "ff"
	case 8:
	default:
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, true
}

func parseRGBFunc(s string) (color.NRGBA, bool) {
	open := strings.IndexByte(s, '(')
	end := strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return color.NRGBA{}, false
	}
	parts := strings.FieldsFunc(s[open+1:end], func(r rune) bool { return r == ',' || r == ' ' || r == '/' })
	if len(parts) < 3 {
		return color.NRGBA{}, false
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		p := parts[i]
		pct := strings.HasSuffix(p, "%")
		f, err := strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
		if err != nil {
			return color.NRGBA{}, false
		}
		if pct {
			f = f * 255 / 100
		}
		ch[i] = clampByte(f)
	}
	a := uint8(255)
	if len(parts) >= 4 {
		p := parts[3]
		f, err := strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
		if err != nil {
			return color.NRGBA{}, false
		}
		if strings.HasSuffix(p, "%") {
			f /= 100
		}
		a = clampByte(f * 255)
	}
	return color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: a}, true
}

func clampByte(f float64) uint8 {
	switch {
	case f <= 0:
		return 0
	case f >= 255:
		return 255
	default:
		return uint8(f + 0.5)
	}
}

// ColorOr parses s and falls back to def.
func ColorOr(s string, def color.NRGBA) color.NRGBA {
	if c, ok := ParseColor(s); ok {
		return c
	}
	return def
}
