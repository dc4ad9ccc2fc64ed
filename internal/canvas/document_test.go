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
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

func sameJSON(t *testing.T, a, b []byte) {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("unmarshal a: %v", err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("unmarshal b: %v", err)
	}
	if !reflect.DeepEqual(va, vb) {
		t.Fatalf("json differs:\n a=%s\n b=%s", a, b)
	}
}

func TestRoundTripPreservesEverything(t *testing.T) {
	docs := []string{
		`{}`,
		`{"version":"5.3.0","objects":[]}`,
		`{"width":400,"height":300,"background":"#fff","objects":[{"type":"rect","left":1,"customThing":{"a":[1,2]}}]}`,
		`{"objects":[{"type":"textbox","text":"hi","styles":{},"fontSize":"24"},{"no":"type"},null,42,"str"]}`,
		`{"objects":null,"extra":true}`,
		`{"objects":{"not":"an array"}}`,
		`{"background":{"type":"linear","coords":{"x1":0,"y1":0,"x2":100,"y2":0},"colorStops":[{"offset":0,"color":"red"},{"offset":1,"color":"blue"}]},"objects":[{"type":"group","objects":[{"type":"rect"},{"type":"text","text":"x"}]}]}`,
		`{"objects":[{"type":"image","src":"data:image/png;base64,AAAA","scaleX":0.5,"scaleY":0.25,"opacity":0.3}]}`,
	}
	for i, src := range docs {
		d, err := Parse([]byte(src))
		if err != nil {
			t.Fatalf("doc %d: parse: %v", i, err)
		}
		out, err := json.Marshal(d)
		if err != nil {
			t.Fatalf("doc %d: marshal: %v", i, err)
		}
		sameJSON(t, []byte(src), out)
	}
}

func TestRoundTripRandomDocuments(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	types := []string{"rect", "circle", "textbox", "image", "triangle", "polygon", "line", "group", ""}
	for n := 0; n < 50; n++ {
		objs := make([]map[string]any, 0, 8)
		for i := 0; i < rng.Intn(8); i++ {
			o := map[string]any{"id": fmt.Sprintf("o%d", i)}
			if typ := types[rng.Intn(len(types))]; typ != "" {
				o["type"] = typ
			}
			// only some keys are present so absent-key handling is exercised
			for _, k := range []string{"left", "top", "width", "height", "scaleX", "scaleY", "angle"} {
				if rng.Intn(2) == 0 {
					o[k] = float64(rng.Intn(1000)) / 7
				}
			}
			if rng.Intn(3) == 0 {
				o["originX"] = []string{"left", "center", "right"}[rng.Intn(3)]
			}
			objs = append(objs, o)
		}
		src, _ := json.Marshal(map[string]any{"width": 800, "height": 600, "objects": objs})
		d, err := Parse(src)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		sameJSON(t, src, d.Bytes())
	}
}

func TestParseRejectsNonObjects(t *testing.T) {
	for _, src := range []string{`[]`, `null`, `"x"`} {
		if _, err := Parse([]byte(src)); !errors.Is(err, ErrNotObject) {
			t.Fatalf("%s: expected ErrNotObject, got %v", src, err)
		}
	}
	if _, err := Parse([]byte(`{"objects":[`)); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestParseOrNew(t *testing.T) {
	for _, src := range []string{"", "  ", "null"} {
		d, err := ParseOrNew([]byte(src), 320, 240)
		if err != nil {
			t.Fatalf("%q: %v", src, err)
		}
		if w, h := d.Size(0, 0); w != 320 || h != 240 || len(d.Objects) != 0 {
			t.Fatalf("%q: size %vx%v objects %d", src, w, h, len(d.Objects))
		}
	}
	d, err := ParseOrNew([]byte(`{"width":10,"height":20}`), 320, 240)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if w, _ := d.Width(); w != 10 {
		t.Fatalf("stored width ignored: %v", w)
	}
}

func TestObjectReadsDefaultSafely(t *testing.T) {
	d, err := Parse([]byte(`{"objects":[{"type":"rect","left":"12.5","top":true,"visible":"yes"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	o := d.Objects[0]
	if v := o.FloatOr("left", 0); v != 12.5 {
		t.Fatalf("numeric string left = %v", v)
	}
	if v := o.FloatOr("top", 3); v != 3 {
		t.Fatalf("wrongly typed top should default, got %v", v)
	}
	if v := o.BoolOr("visible", true); !v {
		t.Fatalf("wrongly typed visible should default to true")
	}
	if o.FloatOr("scaleX", 1) != 1 {
		t.Fatalf("absent scaleX should default")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d, _ := Parse([]byte(`{"objects":[{"type":"rect","id":"a","left":1}]}`))
	c := d.Clone()
	_ = c.Objects[0].Set("left", 99)
	c.Append(NewObject("circle"))
	if d.Objects[0].FloatOr("left", 0) != 1 || len(d.Objects) != 1 {
		t.Fatalf("clone shares state with original")
	}
}

func TestEnsureIDsAssignsUniqueIDs(t *testing.T) {
	d, _ := Parse([]byte(`{"objects":[{"type":"rect","id":"a"},{"type":"rect","id":"a"},{"type":"rect"},7]}`))
	if n := d.EnsureIDs(); n != 2 {
		t.Fatalf("assigned %d ids, want 2", n)
	}
	seen := map[string]bool{}
	for _, o := range d.Objects[:3] {
		if o.ID() == "" || seen[o.ID()] {
			t.Fatalf("duplicate or empty id %q", o.ID())
		}
		seen[o.ID()] = true
	}
	if d.Objects[0].ID() != "a" {
		t.Fatalf("first occurrence must keep its id")
	}
}

func TestDocumentSizeAndBackground(t *testing.T) {
	d := NewDocument(500, 300)
	w, h := d.Size(1, 1)
	if w != 500 || h != 300 {
		t.Fatalf("size = %v x %v", w, h)
	}
	if bg := d.Background(); bg.Kind != BackgroundTransparent {
		t.Fatalf("absent background should be transparent")
	}
	_ = d.SetBackground(Background{Kind: BackgroundSolid, Color: "#123456"})
	if bg := d.Background(); bg.Kind != BackgroundSolid || bg.Color != "#123456" {
		t.Fatalf("solid background = %+v", bg)
	}
	g, _ := Parse([]byte(`{"background":{"type":"linear","coords":{"x1":0,"y1":0,"x2":0,"y2":10},"colorStops":[{"offset":0,"color":"#000"}]}}`))
	bg := g.Background()
	if bg.Kind != BackgroundGradient || bg.Gradient.AngleDegrees() != 180 {
		t.Fatalf("gradient background = %+v", bg)
	}
	legacy, _ := Parse([]byte(`{"backgroundColor":"red"}`))
	if legacy.Background().Color != "red" {
		t.Fatalf("legacy backgroundColor not read")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]byte(`{"width":10,"objects":[{"type":"rect","left":1,"objects":[{"type":"text"}]}]}`)); err != nil {
		t.Fatalf("valid doc rejected: %v", err)
	}
	bad := []string{
		`{"width":"wide"}`,
		`{"objects":[{"left":"1"}]}`,
		`{"objects":[{"type":"rect","opacity":3}]}`,
		`{"objects":[{"type":"group","objects":[{"visible":"no"}]}]}`,
		`[]`,
	}
	for _, src := range bad {
		if err := Validate([]byte(src)); !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("%s: expected ErrInvalidDocument, got %v", src, err)
		}
	}
}

func TestParseColor(t *testing.T) {
	cases := map[string][4]uint8{
		"#fff":               {255, 255, 255, 255},
		"#10203040":          {0x10, 0x20, 0x30, 0x40},
		"rgb(1, 2, 3)":       {1, 2, 3, 255},
		"rgba(10,20,30,0.5)": {10, 20, 30, 128},
		"transparent":        {0, 0, 0, 0},
		"Navy":               {0, 0, 128, 255},
	}
	for in, want := range cases {
		c, ok := ParseColor(in)
		if !ok || [4]uint8{c.R, c.G, c.B, c.A} != want {
			t.Fatalf("ParseColor(%q) = %v,%v want %v", in, c, ok, want)
		}
	}
	if _, ok := ParseColor("#12"); ok {
		t.Fatalf("short hex should fail")
	}
}

func TestTextsIncludesGroupChildren(t *testing.T) {
	d, err := Parse([]byte(`{"objects":[{"type":"text","text":" Hi "},{"type":"rect"},
	  {"type":"group","objects":[{"type":"textbox","text":"inner"},42]},{"type":"text","text":""}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := strings.Join(d.Texts(), "|"); got != "Hi|inner" {
		t.Fatalf("texts = %q", got)
	}
}
