/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"strconv"
	"strings"
)

// Kind is the closed set of renderable element kinds.
type Kind string

const (
	KindText       Kind = "text"
	KindShape      Kind = "shape"
	KindImage      Kind = "image"
	KindButton     Kind = "button"
	KindLink       Kind = "link"
	KindSocialIcon Kind = "socialIcon"
	KindGroup      Kind = "group"
)

// ShapeKind distinguishes primitive shapes.
type ShapeKind string

const (
	ShapeRect     ShapeKind = "rect"
	ShapeCircle   ShapeKind = "circle"
	ShapeTriangle ShapeKind = "triangle"
	ShapeDiamond  ShapeKind = "diamond"
	ShapeLine     ShapeKind = "line"
)

// Library defaults for absent attributes.
const (
	DefaultFontSize   = 40.0
	DefaultFontFamily = "Times New Roman"
	DefaultLineHeight = 1.16
	DefaultFill       = "rgb(0,0,0)"
)

// Common holds attributes shared by all elements.
type Common struct {
	ID      string
	Name    string
	Left    float64
	Top     float64
	Width   float64
	Height  float64
	ScaleX  float64
	ScaleY  float64
	Angle   float64
	Opacity float64
	Visible bool
	OriginX string
	OriginY string
	// OriginSet is true when the source stored an explicit originX or originY.
	OriginSet bool
	// Action is the url/urlType click metadata of plain objects.
	Action *Action
}

// EffectiveSize is width×scaleX by height×scaleY.
func (c *Common) EffectiveSize() (float64, float64) {
	return c.Width * c.ScaleX, c.Height * c.ScaleY
}

// Element is a normalized canvas object. The set of implementations is
// closed: *Text, *Shape, *Image, *Button, *Link, *SocialIcon and *Group.
type Element interface {
	Base() *Common
	Kind() Kind
	sealed()
}

type Text struct {
	Common
	Text         string
	FontFamily   string
	FontSize     float64
	FontWeight   string
	FontStyle    string
	Fill         string
	TextAlign    string
	LineHeight   float64
	Underline    bool
	Linethrough  bool
	TextBaseline string
	Background   string
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Shape struct {
	Common
	Shape       ShapeKind
	Fill        string
	Stroke      string
	StrokeWidth float64
	Rx, Ry      float64
	Points      []Point
	// Line endpoints in object-local coordinates.
	X1, Y1, X2, Y2 float64
}

type Image struct {
	Common
	Src       string
	ObjectFit string
}

type Button struct {
	Common
	Label           string
	FontFamily      string
	FontSize        float64
	FontWeight      string
	TextColor       string
	Background      string
	BorderColor     string
	BorderWidth     float64
	BorderRadius    float64
	HoverBackground string
	HoverTextColor  string
	OnClick         *Action
}

type Link struct {
	Common
	Label      string
	FontFamily string
	FontSize   float64
	FontWeight string
	Color      string
	HoverColor string
	Underline  bool
	OnClick    *Action
}

type SocialIcon struct {
	Common
	Platform string
	Src      string
	SVG      string
	Fill     string
}

type Group struct {
	Common
	Children []Element
}

func (e *Text) Base() *Common       { return &e.Common }
func (e *Shape) Base() *Common      { return &e.Common }
func (e *Image) Base() *Common      { return &e.Common }
func (e *Button) Base() *Common     { return &e.Common }
func (e *Link) Base() *Common       { return &e.Common }
func (e *SocialIcon) Base() *Common { return &e.Common }
func (e *Group) Base() *Common      { return &e.Common }

func (*Text) Kind() Kind       { return KindText }
func (*Shape) Kind() Kind      { return KindShape }
func (*Image) Kind() Kind      { return KindImage }
func (*Button) Kind() Kind     { return KindButton }
func (*Link) Kind() Kind       { return KindLink }
func (*SocialIcon) Kind() Kind { return KindSocialIcon }
func (*Group) Kind() Kind      { return KindGroup }

func (*Text) sealed()       {}
func (*Shape) sealed()      {}
func (*Image) sealed()      {}
func (*Button) sealed()     {}
func (*Link) sealed()       {}
func (*SocialIcon) sealed() {}
func (*Group) sealed()      {}

// Normalize maps an object onto the closed element set. Objects with
// neither type nor elementType, non-object entries, unknown types and
// polygons that are not diamonds yield nil.
func Normalize(o *Object) Element {
	if o == nil || o.opaque != nil {
		return nil
	}
	typ := strings.ToLower(o.Type())
	et := strings.ToLower(o.ElementType())
	if typ == "" && et == "" {
		return nil
	}
	c := commonFrom(o)
	switch et {
	case "button":
		return buttonFrom(o, c)
	case "link":
		return linkFrom(o, c)
	case "socialicon", "social-icon", "social":
		return socialFrom(o, c)
	case "shape":
		if s := customShapeFrom(o, c); s != nil {
			return s
		}
	}
	switch typ {
	case "text", "i-text", "itext", "textbox":
		return textFrom(o, c)
	case "rect":
		return shapeFrom(o, c, ShapeRect)
	case "circle", "ellipse":
		return shapeFrom(o, c, ShapeCircle)
	case "triangle":
		return shapeFrom(o, c, ShapeTriangle)
	case "polygon":
		if isDiamond(o) {
			return shapeFrom(o, c, ShapeDiamond)
		}
		return nil
	case "line":
		return lineFrom(o, c)
	case "image":
		return imageFrom(o, c)
	case "group":
		return groupFrom(o, c)
	}
	return nil
}

// ClickAction returns the action dispatched when el is clicked, if any.
func ClickAction(el Element) *Action {
	switch e := el.(type) {
	case *Button:
		return e.OnClick
	case *Link:
		return e.OnClick
	}
	return el.Base().Action
}

// NormalizeAll normalizes a document's objects in paint order, dropping unsupported ones.
func NormalizeAll(d *Document) []Element {
	out := make([]Element, 0, len(d.Objects))
	for _, o := range d.Objects {
		if el := Normalize(o); el != nil {
			out = append(out, el)
		}
	}
	return out
}

func commonFrom(o *Object) Common {
	c := Common{
		ID:      o.ID(),
		Name:    o.StringOr("name", ""),
		Left:    o.FloatOr("left", 0),
		Top:     o.FloatOr("top", 0),
		Width:   o.FloatOr("width", 0),
		Height:  o.FloatOr("height", 0),
		ScaleX:  o.FloatOr("scaleX", 1),
		ScaleY:  o.FloatOr("scaleY", 1),
		Angle:   o.FloatOr("angle", 0),
		Opacity: o.FloatOr("opacity", 1),
		Visible: o.BoolOr("visible", true),
		OriginX: strings.ToLower(o.StringOr("originX", "left")),
		OriginY: strings.ToLower(o.StringOr("originY", "top")),
		Action:  urlAction(o),
	}
	c.OriginSet = o.Has("originX") || o.Has("originY")
	if c.Opacity < 0 {
		c.Opacity = 0
	} else if c.Opacity > 1 {
		c.Opacity = 1
	}
	return c
}

func textFrom(o *Object, c Common) *Text {
	t := &Text{
		Common:       c,
		Text:         o.StringOr("text", ""),
		FontFamily:   o.StringOr("fontFamily", DefaultFontFamily),
		FontSize:     o.FloatOr("fontSize", DefaultFontSize),
		FontWeight:   o.StringOr("fontWeight", "normal"),
		FontStyle:    o.StringOr("fontStyle", "normal"),
		Fill:         o.StringOr("fill", DefaultFill),
		TextAlign:    o.StringOr("textAlign", "left"),
		LineHeight:   o.FloatOr("lineHeight", DefaultLineHeight),
		Underline:    o.BoolOr("underline", false),
		Linethrough:  o.BoolOr("linethrough", false),
		TextBaseline: strings.ToLower(o.StringOr("textBaseline", "")),
		Background:   o.StringOr("textBackgroundColor", ""),
	}
	if w, ok := o.Float("fontWeight"); ok {
		t.FontWeight = strconv.FormatFloat(w, 'f', -1, 64)
	}
	return t
}

func shapeFrom(o *Object, c Common, kind ShapeKind) *Shape {
	s := &Shape{
		Common:      c,
		Shape:       kind,
		Fill:        o.StringOr("fill", DefaultFill),
		Stroke:      o.StringOr("stroke", ""),
		StrokeWidth: o.FloatOr("strokeWidth", 0),
	}
	switch kind {
	case ShapeRect:
		s.Rx = o.FloatOr("rx", 0)
		s.Ry = o.FloatOr("ry", s.Rx)
	case ShapeCircle:
		if !o.Has("width") {
			if r, ok := o.Float("radius"); ok {
				s.Width = 2 * r
			} else if rx, ok := o.Float("rx"); ok {
				s.Width = 2 * rx
			}
		}
		if !o.Has("height") {
			if r, ok := o.Float("radius"); ok {
				s.Height = 2 * r
			} else if ry, ok := o.Float("ry"); ok {
				s.Height = 2 * ry
			}
		}
	case ShapeDiamond:
		_ = o.Decode("points", &s.Points)
	}
	return s
}

func lineFrom(o *Object, c Common) *Shape {
	s := shapeFrom(o, c, ShapeLine)
	s.X1 = o.FloatOr("x1", 0)
	s.Y1 = o.FloatOr("y1", 0)
	s.X2 = o.FloatOr("x2", s.Width)
	s.Y2 = o.FloatOr("y2", s.Height)
	if s.Stroke == "" {
		s.Stroke = s.Fill
	}
	if s.StrokeWidth == 0 {
		s.StrokeWidth = 1
	}
	return s
}

func customShapeFrom(o *Object, c Common) *Shape {
	var kind ShapeKind
	switch strings.ToLower(o.StringOr("shapeType", "")) {
	case "rect", "rectangle", "square":
		kind = ShapeRect
	case "circle", "ellipse":
		kind = ShapeCircle
	case "triangle":
		kind = ShapeTriangle
	case "diamond":
		kind = ShapeDiamond
	case "line":
		return lineFrom(o, c)
	default:
		return nil
	}
	s := shapeFrom(o, c, kind)
	if !o.Has("fill") {
		// grouped shapes keep their paint on the first child
		if kids := o.Children(); len(kids) > 0 {
			s.Fill = kids[0].StringOr("fill", s.Fill)
			s.Stroke = kids[0].StringOr("stroke", s.Stroke)
			s.StrokeWidth = kids[0].FloatOr("strokeWidth", s.StrokeWidth)
		}
	}
	return s
}

func isDiamond(o *Object) bool {
	if strings.EqualFold(o.StringOr("shapeType", ""), "diamond") {
		return true
	}
	var pts []Point
	if err := o.Decode("points", &pts); err != nil {
		return false
	}
	return len(pts) == 4
}

func imageFrom(o *Object, c Common) *Image {
	return &Image{
		Common:    c,
		Src:       o.StringOr("src", ""),
		ObjectFit: o.StringOr("objectFit", "fill"),
	}
}

// firstChildText returns the content of the first text child of a group.
func firstChildText(o *Object) (*Object, bool) {
	for _, k := range o.Children() {
		switch strings.ToLower(k.Type()) {
		case "text", "i-text", "itext", "textbox":
			return k, true
		}
	}
	return nil, false
}

func buttonFrom(o *Object, c Common) *Button {
	b := &Button{
		Common:          c,
		Label:           o.StringOr("text", ""),
		FontFamily:      o.StringOr("fontFamily", "Arial"),
		FontSize:        o.FloatOr("fontSize", 16),
		FontWeight:      o.StringOr("fontWeight", "normal"),
		TextColor:       o.StringOr("textColor", ""),
		Background:      o.StringOr("backgroundColor", ""),
		BorderColor:     o.StringOr("borderColor", ""),
		BorderWidth:     o.FloatOr("borderWidth", 0),
		BorderRadius:    o.FloatOr("borderRadius", 4),
		HoverBackground: o.StringOr("hoverBackgroundColor", ""),
		HoverTextColor:  o.StringOr("hoverTextColor", ""),
		OnClick:         actionFrom(o),
	}
	if kid, ok := firstChildText(o); ok {
		if b.Label == "" {
			b.Label = kid.StringOr("text", "")
		}
		if b.TextColor == "" {
			b.TextColor = kid.StringOr("fill", "")
		}
		if !o.Has("fontSize") {
			b.FontSize = kid.FloatOr("fontSize", b.FontSize)
		}
		if !o.Has("fontFamily") {
			b.FontFamily = kid.StringOr("fontFamily", b.FontFamily)
		}
	}
	if b.Background == "" {
		if kids := o.Children(); len(kids) > 0 && strings.EqualFold(kids[0].Type(), "rect") {
			b.Background = kids[0].StringOr("fill", "")
			if b.BorderRadius == 4 && !o.Has("borderRadius") {
				b.BorderRadius = kids[0].FloatOr("rx", b.BorderRadius)
			}
		}
	}
	if b.Background == "" {
		b.Background = o.StringOr("fill", "#007bff")
	}
	if b.TextColor == "" {
		b.TextColor = "#ffffff"
	}
	if b.Label == "" {
		b.Label = "Button"
	}
	return b
}

func linkFrom(o *Object, c Common) *Link {
	l := &Link{
		Common:     c,
		Label:      o.StringOr("text", ""),
		FontFamily: o.StringOr("fontFamily", "Arial"),
		FontSize:   o.FloatOr("fontSize", 16),
		FontWeight: o.StringOr("fontWeight", "normal"),
		Color:      o.StringOr("textColor", o.StringOr("fill", "#0066cc")),
		HoverColor: o.StringOr("hoverTextColor", o.StringOr("hoverColor", "")),
		Underline:  o.BoolOr("underline", true),
		OnClick:    actionFrom(o),
	}
	if l.Label == "" {
		if kid, ok := firstChildText(o); ok {
			l.Label = kid.StringOr("text", "")
		}
	}
	if l.Label == "" && l.OnClick != nil {
		l.Label = l.OnClick.Value
	}
	return l
}

func socialFrom(o *Object, c Common) *SocialIcon {
	s := &SocialIcon{
		Common:   c,
		Platform: o.StringOr("platform", o.StringOr("iconType", "")),
		Src:      o.StringOr("src", ""),
		SVG:      o.StringOr("svg", o.StringOr("svgContent", "")),
		Fill:     o.StringOr("fill", o.StringOr("iconColor", "")),
	}
	if s.Src == "" && s.SVG == "" {
		for _, k := range o.Children() {
			if strings.EqualFold(k.Type(), "image") {
				s.Src = k.StringOr("src", "")
				break
			}
		}
	}
	return s
}

func groupFrom(o *Object, c Common) *Group {
	g := &Group{Common: c}
	for _, k := range o.Children() {
		if el := Normalize(k); el != nil {
			g.Children = append(g.Children, el)
		}
	}
	return g
}
