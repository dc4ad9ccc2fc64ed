/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// FontLibrary stores loaded OpenType fonts keyed by family, weight and style.
// Lookups fall back to any face of the same family.
type FontLibrary struct {
	mu    sync.RWMutex
	fonts map[fontKey]*opentype.Font
}

type fontKey struct {
	family string
	bold   bool
	italic bool
}

func NewFontLibrary() *FontLibrary { return &FontLibrary{fonts: make(map[fontKey]*opentype.Font)} }

// LoadTTF loads a font file under the given family and style.
func (fl *FontLibrary) LoadTTF(family string, weight int, italic bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font %s: %w", path, err)
	}
	return fl.Add(family, weight, italic, data)
}

// Add parses font data into the library.
func (fl *FontLibrary) Add(family string, weight int, italic bool, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s: %w", family, err)
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.fonts == nil {
		fl.fonts = make(map[fontKey]*opentype.Font)
	}
	fl.fonts[fontKey{family: strings.ToLower(family), bold: weight >= 600, italic: italic}] = f
	return nil
}

// LoadDir loads every .ttf/.otf in dir. File names follow Family[-Bold][-Italic].ttf.
func (fl *FontLibrary) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read font dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".ttf" && ext != ".otf") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		weight, italic := 400, false
		lower := strings.ToLower(stem)
		if strings.Contains(lower, "-bold") {
			weight = 700
		}
		if strings.Contains(lower, "-italic") {
			italic = true
		}
		family := stem
		if i := strings.Index(stem, "-"); i > 0 {
			family = stem[:i]
		}
		if err := fl.LoadTTF(family, weight, italic, filepath.Join(dir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (fl *FontLibrary) find(spec FontSpec) *opentype.Font {
	if fl == nil {
		return nil
	}
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	fam := strings.ToLower(strings.Trim(spec.Family, `'" `))
	if f, ok := fl.fonts[fontKey{family: fam, bold: spec.Weight >= 600, italic: spec.Italic}]; ok {
		return f
	}
	for k, f := range fl.fonts {
		if k.family == fam {
			return f
		}
	}
	return nil
}

// OTProvider resolves faces from a FontLibrary and falls back to the Go fonts.
type OTProvider struct {
	Lib *FontLibrary

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

type faceKey struct {
	font *opentype.Font
	size float64
}

var (
	goFontsOnce sync.Once
	goFonts     map[fontKey]*opentype.Font
)

// goFont returns the bundled Go font closest to spec.
func goFont(spec FontSpec) *opentype.Font {
	goFontsOnce.Do(func() {
		goFonts = map[fontKey]*opentype.Font{}
		for k, data := range map[fontKey][]byte{
			{}:                         goregular.TTF,
			{bold: true}:               gobold.TTF,
			{italic: true}:             goitalic.TTF,
			{bold: true, italic: true}: gobolditalic.TTF,
		} {
			if f, err := opentype.Parse(data); err == nil {
				goFonts[k] = f
			}
		}
	})
	return goFonts[fontKey{bold: spec.Weight >= 600, italic: spec.Italic}]
}

func (p *OTProvider) Resolve(spec FontSpec) (font.Face, Metrics) {
	if spec.SizePx <= 0 {
		spec.SizePx = 12
	}
	f := p.Lib.find(spec)
	if f == nil {
		f = goFont(spec)
	}
	if f == nil {
		return BasicProvider{}.Resolve(spec)
	}
	key := faceKey{font: f, size: math.Round(spec.SizePx*4) / 4}
	p.mu.Lock()
	defer p.mu.Unlock()
	if face, ok := p.faces[key]; ok {
		return face, metricsOf(face)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: key.size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return BasicProvider{}.Resolve(spec)
	}
	if p.faces == nil {
		p.faces = make(map[faceKey]font.Face)
	}
	p.faces[key] = face
	return face, metricsOf(face)
}
