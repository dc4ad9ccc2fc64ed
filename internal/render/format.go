/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"fmt"
	"strconv"
	"strings"

	"canvasqr/internal/canvas"
)

// num formats a coordinate with at most three decimals and no trailing zeros.
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func px(v float64) string { return num(v) + "px" }

var cssStrip = strings.NewReplacer(";", "", "{", "", "}", "", "<", "", ">", "", "\"", "", "\\", "", "\n", "", "\r", "")

// cssValue removes characters that could end a declaration or the style attribute.
func cssValue(s string) string { return strings.TrimSpace(cssStrip.Replace(s)) }

// fontFamily quotes a single family name for CSS.
func fontFamily(s string) string {
	s = strings.ReplaceAll(cssValue(s), "'", "")
	if s == "" {
		s = canvas.DefaultFontFamily
	}
	if strings.Contains(s, ",") {
		return s
	}
	return "'" + s + "'"
}

// safeHref keeps only navigable schemes.
func safeHref(h string) string {
	lower := strings.ToLower(strings.TrimSpace(h))
	for _, p := range []string{"https://", "http://", "mailto:", "tel:", "sms:", "/"} {
		if strings.HasPrefix(lower, p) {
			return h
		}
	}
	return "#"
}

// safeSrc keeps image sources that cannot execute script.
func safeSrc(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(lower, "data:image/") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "/") || strings.HasPrefix(lower, "blob:") {
		return s
	}
	return ""
}

// gradientCSS renders a stored gradient as a CSS image.
func gradientCSS(g *canvas.Gradient) string {
	stops := make([]string, 0, len(g.Stops))
	for _, st := range g.Stops {
		stops = append(stops, fmt.Sprintf("%s %s%%", cssValue(stopColor(st)), num(st.Offset*100)))
	}
	if g.Type == "radial" {
		return "radial-gradient(circle, " + strings.Join(stops, ", ") + ")"
	}
	return fmt.Sprintf("linear-gradient(%sdeg, %s)", num(g.AngleDegrees()), strings.Join(stops, ", "))
}

// stopColor folds a stop's opacity into an rgba() colour.
func stopColor(st canvas.ColorStop) string {
	if st.Opacity == nil {
		return st.Color
	}
	c, ok := canvas.ParseColor(st.Color)
	if !ok {
		return st.Color
	}
	return fmt.Sprintf("rgba(%d,%d,%d,%s)", c.R, c.G, c.B, num(*st.Opacity*float64(c.A)/255))
}

// fontWeightNumber maps CSS weights onto 100..900.
func fontWeightNumber(w string) int {
	switch strings.ToLower(strings.TrimSpace(w)) {
	case "bold", "bolder":
		return 700
	case "", "normal":
		return 400
	case "lighter":
		return 300
	}
	if n, err := strconv.Atoi(w); err == nil && n >= 100 && n <= 900 {
		return n
	}
	return 400
}
