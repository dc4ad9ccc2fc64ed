/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package canvas models the canvas state JSON exchanged with the browser
// editor. Documents keep every key they were loaded with so that a
// load/save cycle never loses, reorders or invents data; typed views are
// produced on demand by Normalize.
package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrNotObject is returned when a document is valid JSON but not an object.
var ErrNotObject = errors.New("canvas: document is not a JSON object")

// Document is a canvas state: surface size, background and an ordered list of objects.
// Object order is paint order (later is on top).
type Document struct {
	fields map[string]json.RawMessage
	// Objects is nil when the source had no "objects" array.
	Objects    []*Object
	hasObjects bool
}

// NewDocument returns an empty document of the given size.
func NewDocument(width, height float64) *Document {
	d := &Document{fields: map[string]json.RawMessage{}, hasObjects: true, Objects: []*Object{}}
	d.SetSize(width, height)
	return d
}

// Parse decodes an untrusted canvas state. Only malformed JSON fails;
// absent or oddly typed fields are tolerated and preserved.
func Parse(data []byte) (*Document, error) {
	d := &Document{}
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseOrNew parses data, or returns an empty document of the given size
// when data is blank.
func ParseOrNew(data []byte, width, height float64) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return NewDocument(width, height), nil
	}
	return Parse(data)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return ErrNotObject
		}
		return fmt.Errorf("canvas: parse document: %w", err)
	}
	if raw == nil {
		return ErrNotObject
	}
	d.fields = raw
	d.Objects = nil
	d.hasObjects = false
	if rawObjs, ok := raw["objects"]; ok {
		objs, isArray, err := parseObjectList(rawObjs)
		if err != nil {
			return err
		}
		// non-array "objects" values stay verbatim in fields
		if isArray {
			d.Objects = objs
			d.hasObjects = true
			delete(d.fields, "objects")
		}
	}
	return nil
}

func parseObjectList(raw json.RawMessage) ([]*Object, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false, fmt.Errorf("canvas: parse objects: %w", err)
	}
	out := make([]*Object, 0, len(items))
	for _, it := range items {
		o := &Object{}
		if err := o.UnmarshalJSON(it); err != nil {
			return nil, false, err
		}
		out = append(out, o)
	}
	return out, true, nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}
	if d.hasObjects || len(d.Objects) > 0 {
		objs := d.Objects
		if objs == nil {
			objs = []*Object{}
		}
		b, err := json.Marshal(objs)
		if err != nil {
			return nil, err
		}
		out["objects"] = b
	}
	return json.Marshal(out)
}

// Bytes marshals the document; it panics only on programmer error.
func (d *Document) Bytes() []byte {
	b, err := d.MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("canvas: marshal document: %v", err))
	}
	return b
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := &Document{fields: cloneFields(d.fields), hasObjects: d.hasObjects}
	if d.Objects != nil {
		c.Objects = make([]*Object, len(d.Objects))
		for i, o := range d.Objects {
			c.Objects[i] = o.Clone()
		}
	}
	return c
}

// Width returns the stored canvas width.
func (d *Document) Width() (float64, bool) { return rawFloat(d.fields["width"]) }

// Height returns the stored canvas height.
func (d *Document) Height() (float64, bool) { return rawFloat(d.fields["height"]) }

// Size returns width and height, falling back to def when absent.
func (d *Document) Size(defW, defH float64) (float64, float64) {
	w, ok := d.Width()
	if !ok || w <= 0 {
		w = defW
	}
	h, ok := d.Height()
	if !ok || h <= 0 {
		h = defH
	}
	return w, h
}

// SetSize stores width and height.
func (d *Document) SetSize(w, h float64) {
	d.ensure()
	d.fields["width"] = mustRaw(w)
	d.fields["height"] = mustRaw(h)
}

// Field returns a raw top-level value other than "objects".
func (d *Document) Field(key string) (json.RawMessage, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// SetField stores a top-level value.
func (d *Document) SetField(key string, v any) error {
	if key == "objects" {
		return errors.New("canvas: objects are set through Document.Objects")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d.ensure()
	d.fields[key] = b
	return nil
}

func (d *Document) ensure() {
	if d.fields == nil {
		d.fields = map[string]json.RawMessage{}
	}
}

// Index returns the position of the object with id, or -1.
func (d *Document) Index(id string) int {
	if id == "" {
		return -1
	}
	for i, o := range d.Objects {
		if o.ID() == id {
			return i
		}
	}
	return -1
}

// Find returns the object with id.
func (d *Document) Find(id string) (*Object, bool) {
	if i := d.Index(id); i >= 0 {
		return d.Objects[i], true
	}
	return nil, false
}

// Append adds objects on top of the stack.
func (d *Document) Append(objs ...*Object) {
	d.hasObjects = true
	d.Objects = append(d.Objects, objs...)
}

// Remove deletes the object with id and reports whether it existed.
func (d *Document) Remove(id string) bool {
	i := d.Index(id)
	if i < 0 {
		return false
	}
	d.Objects = append(d.Objects[:i], d.Objects[i+1:]...)
	return true
}

// EnsureIDs gives every object a unique id, generating UUIDs for missing or
// duplicated ones. It returns how many ids were assigned.
func (d *Document) EnsureIDs() int {
	seen := make(map[string]bool, len(d.Objects))
	n := 0
	for _, o := range d.Objects {
		if o.opaque != nil {
			continue
		}
		id := o.ID()
		if id == "" || seen[id] {
			id = uuid.NewString()
			o.SetID(id)
			n++
		}
		seen[id] = true
	}
	return n
}

// Texts returns the non-empty text of every object in stacking order,
// group children included.
func (d *Document) Texts() []string {
	var out []string
	var walk func(objs []*Object)
	walk = func(objs []*Object) {
		for _, o := range objs {
			if o.opaque != nil {
				continue
			}
			if s := strings.TrimSpace(o.StringOr("text", "")); s != "" {
				out = append(out, s)
			}
			walk(o.Children())
		}
	}
	walk(d.Objects)
	return out
}

// Object is one canvas object. All keys are retained as raw JSON; typed
// reads default safely when a key is absent or has the wrong type.
type Object struct {
	fields map[string]json.RawMessage
	// opaque holds array entries that are not JSON objects.
	opaque json.RawMessage
}

// NewObject returns an object with the given type.
func NewObject(typ string) *Object {
	o := &Object{fields: map[string]json.RawMessage{}}
	if typ != "" {
		o.fields["type"] = mustRaw(typ)
	}
	return o
}

// ObjectFromMap builds an object from decoded JSON values.
func ObjectFromMap(m map[string]any) (*Object, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	o := &Object{}
	if err := o.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Object) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return fmt.Errorf("canvas: parse object: %w", err)
		}
		o.fields = m
		o.opaque = nil
		return nil
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("canvas: parse object: invalid JSON")
	}
	o.fields = nil
	o.opaque = append(json.RawMessage(nil), trimmed...)
	return nil
}

func (o *Object) MarshalJSON() ([]byte, error) {
	if o.opaque != nil {
		return o.opaque, nil
	}
	if o.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o.fields)
}

// Opaque reports whether the entry was not a JSON object.
func (o *Object) Opaque() bool { return o.opaque != nil }

// Clone returns a deep copy that shares no memory with o.
func (o *Object) Clone() *Object {
	c := &Object{fields: cloneFields(o.fields)}
	if o.opaque != nil {
		c.opaque = append(json.RawMessage(nil), o.opaque...)
	}
	return c
}

// Type is the library object type ("rect", "textbox", ...).
func (o *Object) Type() string { return o.StringOr("type", "") }

// ElementType is the application wrapper tag ("button", "link", ...).
func (o *Object) ElementType() string { return o.StringOr("elementType", "") }

// ID returns the object id; numeric ids are rendered as strings.
func (o *Object) ID() string {
	if s, ok := o.String("id"); ok {
		return s
	}
	if f, ok := o.Float("id"); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// SetID stores id.
func (o *Object) SetID(id string) { _ = o.Set("id", id) }

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.fields[key]
	return ok
}

// Keys lists the present keys in sorted order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns the raw JSON for key.
func (o *Object) Raw(key string) (json.RawMessage, bool) {
	v, ok := o.fields[key]
	return v, ok
}

// Decode unmarshals the value for key into v.
func (o *Object) Decode(key string, v any) error {
	raw, ok := o.fields[key]
	if !ok {
		return fmt.Errorf("canvas: key %q not present", key)
	}
	return json.Unmarshal(raw, v)
}

// Float reads a number; numeric strings are accepted.
func (o *Object) Float(key string) (float64, bool) { return rawFloat(o.fields[key]) }

// FloatOr reads a number or returns def.
func (o *Object) FloatOr(key string, def float64) float64 {
	if v, ok := o.Float(key); ok {
		return v
	}
	return def
}

// String reads a string value.
func (o *Object) String(key string) (string, bool) {
	raw, ok := o.fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// StringOr reads a non-empty string or returns def.
func (o *Object) StringOr(key, def string) string {
	if s, ok := o.String(key); ok && s != "" {
		return s
	}
	return def
}

// Bool reads a boolean value.
func (o *Object) Bool(key string) (bool, bool) {
	raw, ok := o.fields[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// BoolOr reads a boolean or returns def.
func (o *Object) BoolOr(key string, def bool) bool {
	if b, ok := o.Bool(key); ok {
		return b
	}
	return def
}

// Set stores v under key.
func (o *Object) Set(key string, v any) error {
	if o.opaque != nil {
		return errors.New("canvas: cannot set fields on a non-object entry")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canvas: set %q: %w", key, err)
	}
	if o.fields == nil {
		o.fields = map[string]json.RawMessage{}
	}
	o.fields[key] = b
	return nil
}

// Delete removes key.
func (o *Object) Delete(key string) { delete(o.fields, key) }

// Children parses the nested "objects" array of a group.
func (o *Object) Children() []*Object {
	raw, ok := o.fields["objects"]
	if !ok {
		return nil
	}
	objs, _, err := parseObjectList(raw)
	if err != nil {
		return nil
	}
	return objs
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func cloneFields(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
