/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"encoding/base64"
	"fmt"
	"html"
	"strconv"
	"strings"

	"canvasqr/internal/canvas"
)

// HTMLOptions tunes the exported page.
type HTMLOptions struct {
	Title string
	Lang  string
	// Fragment emits only the canvas element, without the page shell.
	Fragment bool
}

const pageScript = `function cqrCopy(a){var t=a.getAttribute('data-copy');` +
	`if(t&&navigator.clipboard){navigator.clipboard.writeText(t).catch(function(){});}return true;}` +
	`function cqrCustom(a){document.dispatchEvent(new CustomEvent('cqr:action',{detail:a.getAttribute('data-value')}));return false;}`

// NodeID is the DOM id of the node at the given index path.
func NodeID(path ...int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return "cqr-n" + strings.Join(parts, "-")
}

type htmlWriter struct {
	b     strings.Builder
	hover []string
	// inLink is set while writing inside an anchor; nested links are
	// dropped so the outermost action wins.
	inLink bool
}

func (w *htmlWriter) wf(format string, args ...any) { fmt.Fprintf(&w.b, format, args...) }

// HTML renders the scene as a standalone page. Every node is absolutely
// positioned from its layout box; interactive nodes are wrapped in anchors.
func HTML(sc *Scene, opts HTMLOptions) string {
	w := &htmlWriter{}
	bg := "transparent"
	if sc.Background.Gradient != nil {
		bg = gradientCSS(sc.Background.Gradient)
	} else if sc.Background.Color != "" {
		bg = cssValue(sc.Background.Color)
	}
	w.wf(`<div class="cqr-canvas" style="%s">`, esc(fmt.Sprintf("width:%s;height:%s;background:%s", px(sc.Width), px(sc.Height), bg)))
	for i := range sc.Nodes {
		w.node(&sc.Nodes[i], NodeID(i))
	}
	w.wf(`</div>`)
	body := w.b.String()
	if opts.Fragment {
		return body
	}

	title := opts.Title
	if title == "" {
		title = "Design"
	}
	lang := opts.Lang
	if lang == "" {
		lang = "en"
	}
	var page strings.Builder
	pf := func(format string, args ...any) { fmt.Fprintf(&page, format, args...) }
	pf("<!DOCTYPE html>\n<html lang=\"%s\">\n<head>\n", esc(lang))
	pf("<meta charset=\"utf-8\">\n<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	pf("<title>%s</title>\n<style>\n", esc(title))
	pf("body{margin:0}\n")
	pf(".cqr-canvas{position:relative;overflow:hidden;margin:0 auto}\n")
	pf(".cqr-node{position:absolute;box-sizing:border-box;margin:0}\n")
	pf(".cqr-link{color:inherit;text-decoration:none;cursor:pointer}\n")
	for _, rule := range w.hover {
		pf("%s\n", rule)
	}
	pf("</style>\n</head>\n<body>\n%s\n<script>%s</script>\n</body>\n</html>\n", body, pageScript)
	return page.String()
}

func esc(s string) string { return html.EscapeString(s) }

func (w *htmlWriter) node(n *Node, id string) {
	linked := n.Link != nil && !w.inLink
	if linked {
		w.openAnchor(n.Link)
		w.inLink = true
	}
	w.wf(`<div id="%s" class="cqr-node cqr-%s" data-kind="%s"`, id, n.Kind, n.Kind)
	if n.ID != "" {
		w.wf(` data-id="%s"`, esc(n.ID))
	}
	w.wf(` style="%s">`, esc(strings.Join(w.style(n), ";")))
	w.content(n, id)
	w.wf(`</div>`)
	if linked {
		w.wf(`</a>`)
		w.inLink = false
	}
	if n.Hover != nil {
		var decl []string
		if n.Hover.Background != "" {
			decl = append(decl, "background:"+cssValue(n.Hover.Background)+" !important")
		}
		if n.Hover.Color != "" {
			decl = append(decl, "color:"+cssValue(n.Hover.Color)+" !important")
		}
		if len(decl) > 0 {
			w.hover = append(w.hover, "#"+id+":hover{"+strings.Join(decl, ";")+"}")
		}
	}
}

func (w *htmlWriter) openAnchor(d *canvas.Dispatch) {
	switch {
	case d.Custom != "" && d.Href == "":
		w.wf(`<a class="cqr-link" href="#" data-action="custom" data-value="%s" onclick="return cqrCustom(this)">`, esc(d.Custom))
	case d.CopyText != "":
		w.wf(`<a class="cqr-link" href="%s" data-copy="%s" onclick="return cqrCopy(this)">`, esc(safeHref(d.Href)), esc(d.CopyText))
	case d.NewWindow:
		w.wf(`<a class="cqr-link" href="%s" target="_blank" rel="noopener noreferrer">`, esc(safeHref(d.Href)))
	default:
		w.wf(`<a class="cqr-link" href="%s">`, esc(safeHref(d.Href)))
	}
}

// style returns the CSS declarations of a node: geometry first, then paint.
func (w *htmlWriter) style(n *Node) []string {
	b := n.Box
	decl := []string{"left:" + px(b.Left), "top:" + px(b.Top)}
	if b.Triangle != nil {
		fill := cssValue(n.Fill)
		decl = append(decl,
			"width:0px", "height:0px",
			"border-left:"+px(b.Triangle.Side)+" solid transparent",
			"border-right:"+px(b.Triangle.Side)+" solid transparent",
			"border-bottom:"+px(b.Triangle.Base)+" solid "+fill)
	} else {
		decl = append(decl, "width:"+px(b.Width), "height:"+px(b.Height))
	}
	if b.Angle != 0 {
		decl = append(decl, "transform:rotate("+num(b.Angle)+"deg)")
	}
	if b.Opacity != 1 {
		decl = append(decl, "opacity:"+num(b.Opacity))
	}

	switch n.Kind {
	case canvas.KindShape:
		switch n.Shape {
		case canvas.ShapeRect, canvas.ShapeDiamond:
			decl = append(decl, "background:"+cssValue(n.Fill))
			if n.Radius > 0 {
				decl = append(decl, "border-radius:"+px(n.Radius))
			}
		case canvas.ShapeCircle:
			decl = append(decl, "background:"+cssValue(n.Fill), "border-radius:50%")
		}
		if n.Shape != canvas.ShapeLine && n.Shape != canvas.ShapeTriangle && n.Stroke != "" && n.StrokeWidth > 0 {
			decl = append(decl, "border:"+px(n.StrokeWidth)+" solid "+cssValue(n.Stroke))
		}
	case canvas.KindText:
		decl = append(decl, textCSS(n.Text)...)
		decl = append(decl, "white-space:pre-wrap")
		if n.Text.Background != "" {
			decl = append(decl, "background-color:"+cssValue(n.Text.Background))
		}
	case canvas.KindButton:
		decl = append(decl, "background:"+cssValue(n.Fill),
			"display:flex", "align-items:center", "justify-content:center", "cursor:pointer")
		if n.Radius > 0 {
			decl = append(decl, "border-radius:"+px(n.Radius))
		}
		if n.Stroke != "" && n.StrokeWidth > 0 {
			decl = append(decl, "border:"+px(n.StrokeWidth)+" solid "+cssValue(n.Stroke))
		}
		decl = append(decl, textCSS(n.Text)...)
	case canvas.KindLink:
		decl = append(decl, textCSS(n.Text)...)
		decl = append(decl, "cursor:pointer", "white-space:nowrap")
	case canvas.KindImage, canvas.KindSocialIcon:
		decl = append(decl, "overflow:hidden")
	}
	return decl
}

func textCSS(t *TextStyle) []string {
	decl := []string{
		"font-family:" + fontFamily(t.FontFamily),
		"font-size:" + px(t.FontSize),
		"color:" + cssValue(t.Color),
	}
	if t.FontWeight != "" && t.FontWeight != "normal" {
		decl = append(decl, "font-weight:"+cssValue(t.FontWeight))
	}
	if t.FontStyle != "" && t.FontStyle != "normal" {
		decl = append(decl, "font-style:"+cssValue(t.FontStyle))
	}
	if t.Align != "" && t.Align != "left" {
		decl = append(decl, "text-align:"+cssValue(t.Align))
	}
	if t.LineHeight > 0 {
		decl = append(decl, "line-height:"+num(t.LineHeight))
	}
	var deco []string
	if t.Underline {
		deco = append(deco, "underline")
	}
	if t.Linethrough {
		deco = append(deco, "line-through")
	}
	if len(deco) > 0 {
		decl = append(decl, "text-decoration:"+strings.Join(deco, " "))
	}
	return decl
}

func (w *htmlWriter) content(n *Node, id string) {
	switch n.Kind {
	case canvas.KindText, canvas.KindButton, canvas.KindLink:
		w.wf("%s", esc(n.Text.Content))
	case canvas.KindShape:
		if n.Line != nil {
			w.wf(`<svg width="%s" height="%s" style="overflow:visible;display:block"><line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="%s"/></svg>`,
				num(n.Box.Width), num(n.Box.Height),
				num(n.Line.X1), num(n.Line.Y1), num(n.Line.X2), num(n.Line.Y2),
				esc(n.Stroke), num(n.StrokeWidth))
		}
	case canvas.KindImage, canvas.KindSocialIcon:
		src := ""
		if n.Image.SVG != "" {
			src = "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(n.Image.SVG))
		} else {
			src = safeSrc(n.Image.Src)
		}
		if src == "" {
			return
		}
		fit := cssValue(n.Image.Fit)
		if fit == "" {
			fit = "fill"
		}
		w.wf(`<img src="%s" alt="" draggable="false" style="width:100%%;height:100%%;object-fit:%s;display:block">`, esc(src), esc(fit))
	case canvas.KindGroup:
		for i := range n.Children {
			w.node(&n.Children[i], id+"-"+strconv.Itoa(i))
		}
	}
}
