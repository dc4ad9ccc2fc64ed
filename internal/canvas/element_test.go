/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"errors"
	"testing"
)

func mustObject(t *testing.T, m map[string]any) *Object {
	t.Helper()
	o, err := ObjectFromMap(m)
	if err != nil {
		t.Fatalf("ObjectFromMap: %v", err)
	}
	return o
}

func TestNormalizeSkipsUntypedObjects(t *testing.T) {
	if el := Normalize(mustObject(t, map[string]any{"left": 10, "width": 5})); el != nil {
		t.Fatalf("untyped object should normalize to nil, got %T", el)
	}
	if el := Normalize(mustObject(t, map[string]any{"type": "path"})); el != nil {
		t.Fatalf("unsupported type should normalize to nil, got %T", el)
	}
	d, _ := Parse([]byte(`{"objects":[5,{"type":"rect"},{}]}`))
	if els := NormalizeAll(d); len(els) != 1 {
		t.Fatalf("expected 1 element, got %d", len(els))
	}
}

func TestNormalizePolygons(t *testing.T) {
	four := []map[string]any{{"x": 0, "y": 5}, {"x": 5, "y": 0}, {"x": 10, "y": 5}, {"x": 5, "y": 10}}
	el := Normalize(mustObject(t, map[string]any{"type": "polygon", "points": four}))
	if s, ok := el.(*Shape); !ok || s.Shape != ShapeDiamond || len(s.Points) != 4 {
		t.Fatalf("4-point polygon should be a diamond, got %#v", el)
	}
	tagged := Normalize(mustObject(t, map[string]any{"type": "polygon", "shapeType": "diamond"}))
	if s, ok := tagged.(*Shape); !ok || s.Shape != ShapeDiamond {
		t.Fatalf("shapeType=diamond should be a diamond, got %#v", tagged)
	}
	five := append(four, map[string]any{"x": 1, "y": 1})
	if el := Normalize(mustObject(t, map[string]any{"type": "polygon", "points": five})); el != nil {
		t.Fatalf("5-point polygon is unsupported, got %#v", el)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	el := Normalize(mustObject(t, map[string]any{"type": "textbox", "text": "hello"}))
	tx, ok := el.(*Text)
	if !ok {
		t.Fatalf("expected *Text, got %T", el)
	}
	if tx.ScaleX != 1 || tx.ScaleY != 1 || tx.Opacity != 1 || !tx.Visible {
		t.Fatalf("common defaults wrong: %+v", tx.Common)
	}
	if tx.FontSize != DefaultFontSize || tx.OriginSet || tx.OriginX != "left" {
		t.Fatalf("text defaults wrong: %+v", tx)
	}
	c := Normalize(mustObject(t, map[string]any{"type": "circle", "radius": 15}))
	if s := c.(*Shape); s.Width != 30 || s.Height != 30 {
		t.Fatalf("circle radius not mapped to size: %+v", s)
	}
}

func TestNormalizeButtonFromGroup(t *testing.T) {
	o := mustObject(t, map[string]any{
		"type":        "group",
		"elementType": "button",
		"width":       120,
		"height":      40,
		"action":      map[string]any{"type": "email", "value": "a@b.com"},
		"objects": []map[string]any{
			{"type": "rect", "fill": "#ff0000", "rx": 8},
			{"type": "text", "text": "Mail us", "fill": "#00ff00", "fontSize": 18},
		},
	})
	b, ok := Normalize(o).(*Button)
	if !ok {
		t.Fatalf("expected *Button")
	}
	if b.Label != "Mail us" || b.TextColor != "#00ff00" || b.Background != "#ff0000" || b.FontSize != 18 || b.BorderRadius != 8 {
		t.Fatalf("button not derived from children: %+v", b)
	}
	if got := ClickAction(b).Target(); got != "mailto:a@b.com" {
		t.Fatalf("button target = %q", got)
	}
}

func TestNormalizeLinkAndSocialIcon(t *testing.T) {
	l := Normalize(mustObject(t, map[string]any{
		"type": "text", "elementType": "link",
		"linkData": map[string]any{"linkType": "phone", "url": "+1 555 123 4567"},
	})).(*Link)
	if l.OnClick == nil || l.OnClick.Type != ActionPhone || l.Label != "+1 555 123 4567" {
		t.Fatalf("link action/label wrong: %+v", l)
	}
	s := Normalize(mustObject(t, map[string]any{
		"type": "image", "elementType": "socialIcon", "src": "x.png", "url": "instagram.com/me",
	})).(*SocialIcon)
	if s.Src != "x.png" || ClickAction(s).Target() != "https://instagram.com/me" {
		t.Fatalf("social icon wrong: %+v", s)
	}
}

func TestNormalizeGroupChildren(t *testing.T) {
	g := Normalize(mustObject(t, map[string]any{
		"type": "group",
		"objects": []any{
			map[string]any{"type": "rect"},
			map[string]any{"nothing": true},
			map[string]any{"type": "circle"},
		},
	})).(*Group)
	if len(g.Children) != 2 {
		t.Fatalf("group children = %d, want 2", len(g.Children))
	}
}

func TestActionDispatchTable(t *testing.T) {
	cases := []struct {
		in        Action
		href      string
		newWindow bool
	}{
		{Action{ActionEmail, "a@b.com"}, "mailto:a@b.com", true},
		{Action{ActionPhone, "+15551234567"}, "tel:+15551234567", false},
		{Action{ActionPhone, "+1 (555) 123-4567"}, "tel:+15551234567", false},
		{Action{ActionURL, "example.com"}, "https://example.com", true},
		{Action{ActionURL, "http://example.com/x"}, "http://example.com/x", true},
		{Action{ActionURL, "//cdn.example.com"}, "https://cdn.example.com", true},
		{Action{ActionPDF, "/files/menu.pdf"}, "/files/menu.pdf", true},
		{Action{ActionVCard, "files.example.com/me.vcf"}, "https://files.example.com/me.vcf", true},
	}
	for _, c := range cases {
		d := c.in.Dispatch()
		if d.Href != c.href || d.NewWindow != c.newWindow {
			t.Fatalf("%+v: dispatch = %+v, want href %q newWindow %v", c.in, d, c.href, c.newWindow)
		}
	}
	if d := (Action{ActionPhone, "+15551234567"}).Dispatch(); d.CopyText != "+15551234567" {
		t.Fatalf("phone should copy the number, got %+v", d)
	}
	if d := (Action{ActionCustom, "open-modal"}).Dispatch(); d.Href != "" || d.Custom != "open-modal" {
		t.Fatalf("custom dispatch = %+v", d)
	}
}

func TestActionValidate(t *testing.T) {
	ok := []Action{
		{ActionURL, "example.com"},
		{ActionEmail, "a@b.com"},
		{ActionPhone, "+1 555 123 4567"},
		{ActionPDF, "/files/x.pdf"},
		{ActionCustom, ""},
	}
	for _, a := range ok {
		if err := a.Validate(); err != nil {
			t.Fatalf("%+v should be valid: %v", a, err)
		}
	}
	bad := []Action{
		{ActionURL, ""},
		{ActionURL, "not a url"},
		{ActionURL, "nodot"},
		{ActionEmail, "nope"},
		{ActionPhone, "call me"},
		{ActionVCard, " "},
		{"fax", "123"},
	}
	for _, a := range bad {
		if err := a.Validate(); !errors.Is(err, ErrInvalidAction) {
			t.Fatalf("%+v should be invalid, got %v", a, err)
		}
	}
}
