/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package qr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogoScaling(t *testing.T) {
	if got := RescaleLogo(40, 256, 512); got != 80 {
		t.Fatalf("RescaleLogo(40,256,512) = %d, want 80", got)
	}
	if got := RescaleLogo(100, 256, 512); got != 170 {
		t.Fatalf("clamped rescale = %d, want 170", got)
	}
	if got := ClampLogo(300, 120); got != 100 {
		t.Fatalf("ClampLogo = %d", got)
	}
	o := Options{Size: 256, LogoSize: 40}.Resize(512)
	if o.Size != 512 || o.LogoSize != 80 {
		t.Fatalf("Resize = %+v", o)
	}
	// scaling back and forth keeps the ratio
	if back := o.Resize(256); back.LogoSize != 40 {
		t.Fatalf("round trip logo = %d", back.LogoSize)
	}
}

func TestGenerateValidates(t *testing.T) {
	cases := []Options{
		{},
		{Content: "x", Size: 10},
		{Content: "x", Foreground: "nope"},
		{Content: "x", Style: "fancy"},
		{Content: "x", Logo: "https://example.com/logo.png"},
	}
	for i, o := range cases {
		if _, err := Generate(o); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestMarginAddsQuietZone(t *testing.T) {
	bare, err := Generate(Options{Content: "https://example.com/en/menu"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	framed, _ := Generate(Options{Content: "https://example.com/en/menu", IncludeMargin: true})
	if framed.Modules() != bare.Modules()+8 {
		t.Fatalf("modules %d vs %d", framed.Modules(), bare.Modules())
	}
	// finder pattern corner is dark without the quiet zone
	if !bare.Dark(0, 0) || framed.Dark(0, 0) {
		t.Fatalf("unexpected corner modules")
	}
}

func TestSVGStylesUseInnerSize(t *testing.T) {
	plain, _ := Generate(Options{Content: "hello", Size: 300})
	if s := string(plain.SVG()); !strings.Contains(s, `width="300" height="300"`) {
		t.Fatalf("plain svg size wrong:\n%s", s)
	}
	banner, _ := Generate(Options{Content: "hello", Size: 300, Style: StyleBanner, Label: "Menu <3"})
	s := string(banner.SVG())
	if !strings.Contains(s, `width="240" height="300"`) || !strings.Contains(s, `width="200" height="200"`) {
		t.Fatalf("banner geometry wrong:\n%s", s)
	}
	if !strings.Contains(s, "Menu &lt;3") {
		t.Fatalf("label not escaped:\n%s", s)
	}
}

func logoURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 255, 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestRasterCompositesLogo(t *testing.T) {
	c, err := Generate(Options{Content: "https://example.com", Size: 256, Logo: logoURI(t), LogoSize: 60})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	data, err := c.Raster("png", 512)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 512 || b.Dy() != 512 {
		t.Fatalf("bounds = %v", b)
	}
	r, g, bl, _ := img.At(256, 256).RGBA()
	if r>>8 < 200 || g>>8 > 50 || bl>>8 > 50 {
		t.Fatalf("centre is not the red logo: %d,%d,%d", r>>8, g>>8, bl>>8)
	}
	// top-left finder module is dark
	r, _, _, _ = img.At(3, 3).RGBA()
	if r>>8 > 60 {
		t.Fatalf("finder pattern missing: %d", r>>8)
	}
}

func TestRasterJPEGAndBadFormat(t *testing.T) {
	c, _ := Generate(Options{Content: "x", Style: StyleBadge})
	data, err := c.Raster("jpeg", 0)
	if err != nil || len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatalf("jpeg raster failed: %v", err)
	}
	if _, err := c.Raster("gif", 0); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
	if _, err := c.Raster("png", MaxResolution+1); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestRasterSVGRejectsMalformedMarkup(t *testing.T) {
	if out, err := RasterSVG([]byte(`<svg viewBox="0 0 10 10"><rect`), "png", 100); !errors.Is(err, ErrRaster) || out != nil {
		t.Fatalf("malformed svg: out=%d bytes err=%v", len(out), err)
	}
	c, _ := Generate(Options{Content: "stored"})
	data, err := RasterSVG(c.SVG(), "png", 128)
	if err != nil {
		t.Fatalf("raster stored svg: %v", err)
	}
	img, _ := png.Decode(bytes.NewReader(data))
	if img.Bounds().Dx() != 128 {
		t.Fatalf("width = %d", img.Bounds().Dx())
	}
	if c := color.RGBAModel.Convert(img.At(1, 1)).(color.RGBA); c.R > 60 {
		t.Fatalf("expected dark finder module, got %v", c)
	}
}

func TestArtifactName(t *testing.T) {
	cases := []struct {
		format string
		res    int
		style  Style
		want   string
	}{
		{"png", 512, StyleNone, "qr-code-d1-512px.png"},
		{"jpeg", 1024, StyleBanner, "qr-code-d1-1024px-banner.jpg"},
		{"svg", 512, StyleRounded, "qr-code-d1-rounded.svg"},
		{"png", 0, "", "qr-code-d1.png"},
	}
	for _, c := range cases {
		got, err := ArtifactName("d1", c.format, c.res, c.style)
		if err != nil || got != c.want {
			t.Fatalf("ArtifactName(%s,%d,%s) = %q, %v; want %q", c.format, c.res, c.style, got, err, c.want)
		}
	}
	if _, err := ArtifactName("d1", "bmp", 0, ""); err == nil {
		t.Fatalf("expected error for bmp")
	}
}

func TestWriteArtifactReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "qr-code-d1.svg")
	if err := WriteArtifact(path, []byte("one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteArtifact(path, []byte("two")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "two" {
		t.Fatalf("content = %q", b)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestMetadataRegeneratesSameCode(t *testing.T) {
	c, _ := Generate(Options{Content: "https://x.test/en/menu", Size: 320, Foreground: "#112233", Style: StyleClassic, IncludeMargin: true})
	m := c.Metadata()
	if m.QRSize != 320 || m.QRColor != "#112233" || m.SelectedQrSampleID != "classic" || m.Version != MetadataVersion {
		t.Fatalf("metadata = %+v", m)
	}
	again, err := Generate(FromMetadata("https://x.test/en/menu", m))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if !bytes.Equal(again.SVG(), c.SVG()) {
		t.Fatalf("regenerated svg differs")
	}
}

func TestViewerURLs(t *testing.T) {
	if got := ViewerURL("https://app.test/", "en", "summer-menu"); got != "https://app.test/en/summer-menu" {
		t.Fatalf("ViewerURL = %q", got)
	}
	if got := QRScreenURL("https://app.test", "de", "d 1"); got != "https://app.test/de/design/d%201/qr-code" {
		t.Fatalf("QRScreenURL = %q", got)
	}
}
