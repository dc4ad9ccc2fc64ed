/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"canvasqr/internal/canvas"
	"canvasqr/internal/layout"
)

// domNode is an exported element carrying a node id.
type domNode struct {
	id    string
	style map[string]string
	attrs map[string]string
	// anchor holds the attributes of the wrapping <a>, if any.
	anchor map[string]string
}

func parseStyle(s string) map[string]string {
	out := map[string]string{}
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func attrMap(n *html.Node) map[string]string {
	m := map[string]string{}
	for _, a := range n.Attr {
		m[a.Key] = a.Val
	}
	return m
}

func exportedNodes(t *testing.T, page string) map[string]domNode {
	t.Helper()
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	out := map[string]domNode{}
	var walk func(n *html.Node, anchor map[string]string)
	walk = func(n *html.Node, anchor map[string]string) {
		if n.Type == html.ElementNode {
			attrs := attrMap(n)
			if n.Data == "a" {
				anchor = attrs
			}
			if id := attrs["id"]; strings.HasPrefix(id, "cqr-n") {
				out[id] = domNode{id: id, style: parseStyle(attrs["style"]), attrs: attrs, anchor: anchor}
				anchor = nil
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, anchor)
		}
	}
	walk(root, nil)
	return out
}

func pxValue(t *testing.T, s string) float64 {
	t.Helper()
	f := strings.Fields(s)
	if len(f) == 0 {
		t.Fatalf("empty css length")
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(f[0], "px"), 64)
	if err != nil {
		t.Fatalf("bad css length %q: %v", s, err)
	}
	return v
}

func closeTo(a, b float64) bool { return math.Abs(a-b) <= 0.0011 }

func checkBox(t *testing.T, id string, box layout.Box, d domNode) {
	t.Helper()
	if !closeTo(pxValue(t, d.style["left"]), box.Left) || !closeTo(pxValue(t, d.style["top"]), box.Top) {
		t.Fatalf("%s: html position %s,%s != tree %v,%v", id, d.style["left"], d.style["top"], box.Left, box.Top)
	}
	if box.Triangle != nil {
		if d.style["width"] != "0px" || d.style["height"] != "0px" {
			t.Fatalf("%s: triangle must have zero content size: %v", id, d.style)
		}
		if !closeTo(pxValue(t, d.style["border-left"]), box.Triangle.Side) ||
			!closeTo(pxValue(t, d.style["border-right"]), box.Triangle.Side) ||
			!closeTo(pxValue(t, d.style["border-bottom"]), box.Triangle.Base) {
			t.Fatalf("%s: triangle borders %v != %+v", id, d.style, box.Triangle)
		}
	} else if !closeTo(pxValue(t, d.style["width"]), box.Width) || !closeTo(pxValue(t, d.style["height"]), box.Height) {
		t.Fatalf("%s: html size %s x %s != tree %v x %v", id, d.style["width"], d.style["height"], box.Width, box.Height)
	}
	if box.Angle != 0 {
		want := "rotate(" + num(box.Angle) + "deg)"
		if d.style["transform"] != want {
			t.Fatalf("%s: transform %q, want %q", id, d.style["transform"], want)
		}
	}
}

var randomTypes = []string{"rect", "circle", "triangle", "textbox", "text", "image", "line", "group", "button", "link"}

func randomObject(r *rand.Rand, depth int) map[string]any {
	typ := randomTypes[r.Intn(len(randomTypes))]
	if depth > 0 && typ == "group" {
		typ = "rect"
	}
	o := map[string]any{
		"type":   typ,
		"left":   math.Round(r.Float64()*8000) / 10,
		"top":    math.Round(r.Float64()*6000) / 10,
		"width":  math.Round(r.Float64()*3000) / 10,
		"height": math.Round(r.Float64()*2000) / 10,
		"scaleX": 0.25 + math.Round(r.Float64()*300)/100,
		"scaleY": 0.25 + math.Round(r.Float64()*300)/100,
	}
	if r.Intn(3) == 0 {
		o["angle"] = float64(r.Intn(360))
	}
	if r.Intn(2) == 0 {
		o["originX"] = []string{"left", "center", "right"}[r.Intn(3)]
		o["originY"] = []string{"top", "center", "bottom"}[r.Intn(3)]
	}
	switch typ {
	case "textbox", "text":
		o["text"] = "Lorem ipsum"
		o["fontSize"] = float64(8 + r.Intn(60))
		if r.Intn(2) == 0 {
			o["textBaseline"] = "alphabetic"
		}
	case "button":
		o["type"] = "group"
		o["elementType"] = "button"
		o["action"] = map[string]any{"type": "url", "value": "example.com"}
	case "link":
		o["type"] = "text"
		o["elementType"] = "link"
		o["text"] = "call"
		o["linkData"] = map[string]any{"linkType": "phone", "url": "+49 170 1234567"}
	case "group":
		var kids []any
		for i := 0; i < 1+r.Intn(3); i++ {
			kids = append(kids, randomObject(r, depth+1))
		}
		o["objects"] = kids
	}
	return o
}

func TestHTMLMatchesPreviewTree(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		var objs []any
		for i := 0; i < 1+r.Intn(12); i++ {
			objs = append(objs, randomObject(r, 0))
		}
		raw, _ := json.Marshal(map[string]any{"width": 800, "height": 600, "objects": objs})
		d, err := canvas.Parse(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		sc := Build(d, Options{Layout: layout.Options{LegacyCenterText: iter%2 == 0}})
		dom := exportedNodes(t, HTML(sc, HTMLOptions{}))
		count := 0
		var check func(ns []Node, path []int)
		check = func(ns []Node, path []int) {
			for i := range ns {
				p := append(append([]int(nil), path...), i)
				id := NodeID(p...)
				dn, ok := dom[id]
				if !ok {
					t.Fatalf("iter %d: %s missing from html", iter, id)
				}
				checkBox(t, id, ns[i].Box, dn)
				count++
				check(ns[i].Children, p)
			}
		}
		check(sc.Nodes, nil)
		if count != len(dom) {
			t.Fatalf("iter %d: html has %d nodes, tree %d", iter, len(dom), count)
		}
	}
}

func TestHTMLAnchorsDispatchByType(t *testing.T) {
	page := HTML(Build(parseDoc(t, sampleDoc), Options{}), HTMLOptions{Title: "Menu"})
	dom := exportedNodes(t, page)
	btn := dom[NodeID(2)]
	if btn.anchor == nil || btn.anchor["href"] != "tel:+15551234567" || btn.anchor["data-copy"] == "" {
		t.Fatalf("phone anchor = %v", btn.anchor)
	}
	if _, ok := btn.anchor["target"]; ok {
		t.Fatalf("phone links must open in place: %v", btn.anchor)
	}
	link := dom[NodeID(4)]
	if link.anchor["href"] != "https://example.com" || link.anchor["target"] != "_blank" || link.anchor["rel"] != "noopener noreferrer" {
		t.Fatalf("url anchor = %v", link.anchor)
	}
	if dom[NodeID(0)].anchor != nil {
		t.Fatalf("plain rect should not be wrapped")
	}
	if !strings.Contains(page, "#"+NodeID(2)+":hover{background:#000000 !important}") {
		t.Fatalf("hover css missing:\n%s", page)
	}
	if !strings.Contains(page, "<title>Menu</title>") || !strings.Contains(page, "function cqrCopy") {
		t.Fatalf("page shell incomplete")
	}
}

func TestHTMLEscapesUserContent(t *testing.T) {
	d := parseDoc(t, `{"objects":[
	  {"type":"textbox","text":"<script>alert(1)</script>","fill":"red;background:url(x)","fontFamily":"x'</style>"},
	  {"type":"image","src":"javascript:alert(1)","width":10,"height":10},
	  {"type":"rect","width":10,"height":10,"url":"data:text/html,<b>x</b>","urlType":"url"}]}`)
	page := HTML(Build(d, Options{}), HTMLOptions{Fragment: true})
	if strings.Contains(page, "<script>alert") || strings.Contains(page, "</style>") {
		t.Fatalf("unescaped content: %s", page)
	}
	if strings.Contains(page, "javascript:") {
		t.Fatalf("unsafe image src kept: %s", page)
	}
	if strings.Contains(page, `href="data:`) {
		t.Fatalf("unsafe href kept: %s", page)
	}
	dom := exportedNodes(t, page)
	if c := dom[NodeID(0)].style["color"]; c != "redbackground:url(x)" {
		t.Fatalf("colour not sanitized: %q", c)
	}
}

func TestHTMLGradientBackground(t *testing.T) {
	d := parseDoc(t, `{"width":100,"height":100,"background":{"type":"linear","coords":{"x1":0,"y1":0,"x2":0,"y2":100},
	  "colorStops":[{"offset":0,"color":"#ff0000"},{"offset":1,"color":"#0000ff"}]}}`)
	page := HTML(Build(d, Options{}), HTMLOptions{Fragment: true})
	if !strings.Contains(page, "linear-gradient(180deg, #ff0000 0%, #0000ff 100%)") {
		t.Fatalf("gradient css missing: %s", page)
	}
}

func TestHTMLNestedLinksKeepOuterAction(t *testing.T) {
	d := parseDoc(t, `{"objects":[
	  {"type":"group","left":100,"top":100,"width":100,"height":50,"url":"https://outer.example","urlType":"url",
	   "objects":[{"type":"textbox","left":-50,"top":-25,"width":60,"height":20,"text":"in","url":"https://inner.example","urlType":"url"}]},
	  {"type":"textbox","left":10,"top":10,"width":60,"height":20,"text":"after","url":"https://after.example","urlType":"url"}]}`)
	page := HTML(Build(d, Options{}), HTMLOptions{Fragment: true})
	if n := strings.Count(page, "<a "); n != 2 {
		t.Fatalf("anchors = %d, want 2: %s", n, page)
	}
	if strings.Contains(page, "inner.example") {
		t.Fatalf("inner link kept: %s", page)
	}
	dom := exportedNodes(t, page)
	if a := dom[NodeID(0)].anchor; a == nil || a["href"] != "https://outer.example" {
		t.Fatalf("group anchor = %v", a)
	}
	if _, ok := dom[NodeID(0, 0)]; !ok {
		t.Fatalf("child node missing")
	}
	if a := dom[NodeID(1)].anchor; a == nil || a["href"] != "https://after.example" {
		t.Fatalf("sibling anchor = %v", a)
	}
}
