/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDesignJSONUsesRecordFieldNames(t *testing.T) {
	d := NewDesign("Menu", 800, 600)
	d.CanvasData = json.RawMessage(`{"objects":[]}`)
	d.QRMetadata = &QRMetadata{QRSize: 256, QRColor: "#000000", BgColor: "#ffffff", SelectedQrSampleID: "none"}

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"canvas_data":{"objects":[]}`, `"design_qr_metadata":{`, `"qrSize":256`, `"is_template":false`, `"created_at"`} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("missing %s in %s", key, b)
		}
	}
	var got Design
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != d.ID || got.QRMetadata == nil || got.QRMetadata.QRSize != 256 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestDesignValidate(t *testing.T) {
	d := NewDesign("x", 10, 10)
	if err := d.Validate(); err != nil {
		t.Fatalf("valid design rejected: %v", err)
	}
	bad := []func(*Design){
		func(d *Design) { d.ID = "" },
		func(d *Design) { d.Width = -1 },
		func(d *Design) { d.CanvasData = json.RawMessage(`{`) },
		func(d *Design) { d.Slug = "Not A Slug" },
	}
	for i, mut := range bad {
		c := *d
		mut(&c)
		if err := c.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestAsTemplateIsIndependent(t *testing.T) {
	d := NewDesign("Flyer", 400, 300)
	d.CanvasData = json.RawMessage(`{"objects":[1]}`)
	tpl := d.AsTemplate("")
	if tpl.ID == d.ID || tpl.Name != "Flyer" || tpl.Width != 400 {
		t.Fatalf("template = %+v", tpl)
	}
	d.CanvasData[len(d.CanvasData)-3] = '2'
	if string(tpl.CanvasData) != `{"objects":[1]}` {
		t.Fatalf("template shares canvas bytes: %s", tpl.CanvasData)
	}
	if err := tpl.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"  Summer Menu 2025 ": "summer-menu-2025",
		"Café & Bar!":         "caf-bar",
		"---":                 "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
