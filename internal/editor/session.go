/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package editor holds live editing sessions. A Session owns one design's
// document, its undo history, its autosaver and its own clipboard; nothing
// is shared between sessions except the history memory budget.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"canvasqr/internal/autosave"
	"canvasqr/internal/canvas"
	"canvasqr/internal/history"
	"canvasqr/internal/layout"
	applog "canvasqr/internal/log"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrEmptyClipboard = errors.New("clipboard is empty")
	ErrInvalidInput   = errors.New("invalid input")
)

// Options configures sessions.
type Options struct {
	Layout layout.Options
	// PasteOffset shifts pasted objects right and down; default 10.
	PasteOffset float64
	// SnapThreshold enables smart-guide snapping in Move when > 0.
	SnapThreshold float64
	Autosave      autosave.Options
	DefaultWidth  float64
	DefaultHeight float64
}

func (o Options) withDefaults() Options {
	if o.PasteOffset == 0 {
		o.PasteOffset = 10
	}
	if o.DefaultWidth <= 0 {
		o.DefaultWidth = 800
	}
	if o.DefaultHeight <= 0 {
		o.DefaultHeight = 600
	}
	return o
}

// Session is the editing context of one design. It is safe for concurrent use.
type Session struct {
	id    string
	opts  Options
	hist  *history.Manager
	saver *autosave.Autosaver
	notes *autosave.ChannelNotifier
	l     *slog.Logger

	mu       sync.Mutex
	doc      *canvas.Document
	clip     *canvas.Object
	lastUsed time.Time
}

// NewSession starts a session on doc. The initial state becomes the bottom
// of the undo history.
func NewSession(id string, doc *canvas.Document, hist *history.Manager, saver autosave.Saver, opts Options) *Session {
	opts = opts.withDefaults()
	if doc == nil {
		doc = canvas.NewDocument(opts.DefaultWidth, opts.DefaultHeight)
	}
	if hist == nil {
		hist = history.NewManager(history.Config{})
	}
	notes := autosave.NewChannelNotifier(64)
	aopts := opts.Autosave
	outer := aopts.Notifier
	aopts.Notifier = autosave.NotifierFunc(func(e autosave.Event) {
		notes.Notify(e)
		if outer != nil {
			outer.Notify(e)
		}
	})
	s := &Session{
		id:       id,
		opts:     opts,
		hist:     hist,
		notes:    notes,
		doc:      doc.Clone(),
		lastUsed: time.Now(),
		l:        applog.WithDesign(applog.WithComponent("editor"), id),
	}
	if saver != nil {
		s.saver = autosave.New(saver, aopts)
	}
	hist.Reset(id, history.Snapshot{Blob: s.doc.Bytes()})
	return s
}

func (s *Session) ID() string { return s.id }

// Document returns a copy of the current document.
func (s *Session) Document() *canvas.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	return s.doc.Clone()
}

// Snapshot returns the serialized current document.
func (s *Session) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Bytes()
}

// LastUsed reports when the session was last touched.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// mutate applies fn to a copy of the document and commits it only when fn
// succeeds. Every commit is recorded in history and scheduled for autosave.
func (s *Session) mutate(op string, fn func(d *canvas.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.commitLocked(op, next, true)
	return nil
}

func (s *Session) commitLocked(op string, next *canvas.Document, record bool) {
	s.doc = next
	s.lastUsed = time.Now()
	blob := next.Bytes()
	if record {
		s.hist.Record(s.id, history.Snapshot{Blob: blob})
	}
	s.schedule(blob)
	s.l.Debug("canvas changed", slog.String("op", op), slog.Int("objects", len(next.Objects)))
}

func (s *Session) schedule(blob []byte) {
	if s.saver == nil {
		return
	}
	if err := s.saver.Schedule(autosave.Snapshot{DesignID: s.id, Canvas: blob}); err != nil {
		s.l.Warn("autosave schedule failed", slog.Any("err", err))
	}
}

// Replace swaps in a whole new document.
func (s *Session) Replace(doc *canvas.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidInput)
	}
	return s.mutate("replace", func(d *canvas.Document) error {
		*d = *doc.Clone()
		d.EnsureIDs()
		return nil
	})
}

// ApplyTemplate overwrites the canvas with a template's canvas data.
func (s *Session) ApplyTemplate(canvasData []byte) error {
	doc, err := canvas.Parse(canvasData)
	if err != nil {
		return fmt.Errorf("%w: template canvas: %v", ErrInvalidInput, err)
	}
	return s.mutate("apply-template", func(d *canvas.Document) error {
		*d = *doc
		d.EnsureIDs()
		return nil
	})
}

// Add appends obj on top of the stack and returns its id.
func (s *Session) Add(obj *canvas.Object) (string, error) {
	if obj == nil || obj.Opaque() {
		return "", fmt.Errorf("%w: object must be a JSON object", ErrInvalidInput)
	}
	if a := canvas.ObjectAction(obj); a != nil {
		if err := a.Validate(); err != nil {
			return "", err
		}
	}
	var id string
	err := s.mutate("add", func(d *canvas.Document) error {
		o := obj.Clone()
		if o.ID() == "" || d.Index(o.ID()) >= 0 {
			o.SetID(uuid.NewString())
		}
		id = o.ID()
		d.Append(o)
		return nil
	})
	return id, err
}

// Remove deletes the object with id.
func (s *Session) Remove(id string) error {
	return s.mutate("remove", func(d *canvas.Document) error {
		if !d.Remove(id) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		return nil
	})
}

// Update merges patch into the object. A nil value deletes the key. Click
// actions in the result are validated before anything changes.
func (s *Session) Update(id string, patch map[string]any) error {
	return s.mutate("update", func(d *canvas.Document) error {
		o, ok := d.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		for k, v := range patch {
			if k == "id" {
				continue
			}
			if v == nil {
				o.Delete(k)
				continue
			}
			if err := o.Set(k, v); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidInput, k, err)
			}
		}
		if !touchesAction(patch) {
			return nil
		}
		if a := canvas.ObjectAction(o); a != nil {
			if err := a.Validate(); err != nil {
				return err
			}
		}
		return nil
	})
}

func touchesAction(patch map[string]any) bool {
	for _, k := range []string{"action", "linkData", "url", "urlType", "elementType"} {
		if _, ok := patch[k]; ok {
			return true
		}
	}
	return false
}

// Move translates the object. With snapping enabled the result aligns to
// the canvas and sibling edges and centres; the guides used are returned.
func (s *Session) Move(id string, dx, dy float64) ([]layout.Guide, error) {
	var guides []layout.Guide
	err := s.mutate("move", func(d *canvas.Document) error {
		o, ok := d.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		if s.opts.SnapThreshold > 0 {
			dx, dy, guides = s.snap(d, o, dx, dy)
		}
		_ = o.Set("left", o.FloatOr("left", 0)+dx)
		_ = o.Set("top", o.FloatOr("top", 0)+dy)
		return nil
	})
	return guides, err
}

func (s *Session) snap(d *canvas.Document, o *canvas.Object, dx, dy float64) (float64, float64, []layout.Guide) {
	el := canvas.Normalize(o)
	if el == nil {
		return dx, dy, nil
	}
	w, h := d.Size(s.opts.DefaultWidth, s.opts.DefaultHeight)
	size := layout.Size{W: w, H: h}
	r := layout.Object(el, size, s.opts.Layout).Bounds()
	r.X += dx
	r.Y += dy
	anchors := []layout.Rect{{W: w, H: h}}
	for _, other := range d.Objects {
		if other == o {
			continue
		}
		if oe := canvas.Normalize(other); oe != nil && oe.Base().Visible {
			anchors = append(anchors, layout.Object(oe, size, s.opts.Layout).Bounds())
		}
	}
	snapped, guides := layout.Snap(r, anchors, layout.SnapOptions{Threshold: s.opts.SnapThreshold, SnapToEdges: true, SnapToCenters: true})
	return dx + snapped.X - r.X, dy + snapped.Y - r.Y, guides
}

// Resize sets the object's scale factors.
func (s *Session) Resize(id string, scaleX, scaleY float64) error {
	if !(scaleX > 0) || !(scaleY > 0) || math.IsInf(scaleX, 0) || math.IsInf(scaleY, 0) {
		return fmt.Errorf("%w: scale must be positive", ErrInvalidInput)
	}
	return s.mutate("resize", func(d *canvas.Document) error {
		o, ok := d.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		_ = o.Set("scaleX", scaleX)
		_ = o.Set("scaleY", scaleY)
		return nil
	})
}

// Rotate sets the object's angle, normalized to [0, 360).
func (s *Session) Rotate(id string, angle float64) error {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return fmt.Errorf("%w: angle", ErrInvalidInput)
	}
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	return s.mutate("rotate", func(d *canvas.Document) error {
		o, ok := d.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		_ = o.Set("angle", angle)
		return nil
	})
}

// SetBackground stores a solid colour, gradient or transparent background.
func (s *Session) SetBackground(bg canvas.Background) error {
	if bg.Kind == canvas.BackgroundSolid {
		if _, ok := canvas.ParseColor(bg.Color); !ok {
			return fmt.Errorf("%w: colour %q", ErrInvalidInput, bg.Color)
		}
	}
	if bg.Kind == canvas.BackgroundGradient && (bg.Gradient == nil || len(bg.Gradient.Stops) == 0) {
		return fmt.Errorf("%w: gradient needs colour stops", ErrInvalidInput)
	}
	return s.mutate("background", func(d *canvas.Document) error { return d.SetBackground(bg) })
}

// BringForward swaps the object with the one above it.
func (s *Session) BringForward(id string) error { return s.restack(id, 1) }

// SendBackward swaps the object with the one below it.
func (s *Session) SendBackward(id string) error { return s.restack(id, -1) }

func (s *Session) restack(id string, delta int) error {
	return s.mutate("restack", func(d *canvas.Document) error {
		i := d.Index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		j := i + delta
		if j < 0 || j >= len(d.Objects) {
			return nil
		}
		d.Objects[i], d.Objects[j] = d.Objects[j], d.Objects[i]
		return nil
	})
}

// SetAction validates and stores the click action of an object. A nil
// action clears it.
func (s *Session) SetAction(id string, a *canvas.Action) error {
	if a != nil {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return s.mutate("set-action", func(d *canvas.Document) error {
		o, ok := d.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		canvas.SetObjectAction(o, a)
		return nil
	})
}

// Copy puts a copy of the object into this session's clipboard.
func (s *Session) Copy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.doc.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	s.clip = o.Clone()
	return nil
}

// Paste inserts the clipboard object with a fresh id, offset from the
// original. Repeated pastes cascade.
func (s *Session) Paste() (string, error) {
	s.mu.Lock()
	if s.clip == nil {
		s.mu.Unlock()
		return "", ErrEmptyClipboard
	}
	off := s.opts.PasteOffset
	_ = s.clip.Set("left", s.clip.FloatOr("left", 0)+off)
	_ = s.clip.Set("top", s.clip.FloatOr("top", 0)+off)
	o := s.clip.Clone()
	s.mu.Unlock()

	o.SetID(uuid.NewString())
	id := o.ID()
	err := s.mutate("paste", func(d *canvas.Document) error {
		d.Append(o)
		return nil
	})
	return id, err
}

// ObjectAt returns the id of the topmost visible object under the point.
func (s *Session) ObjectAt(x, y float64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, h := s.doc.Size(s.opts.DefaultWidth, s.opts.DefaultHeight)
	size := layout.Size{W: w, H: h}
	for i := len(s.doc.Objects) - 1; i >= 0; i-- {
		el := canvas.Normalize(s.doc.Objects[i])
		if el == nil || !el.Base().Visible {
			continue
		}
		if layout.Object(el, size, s.opts.Layout).Contains(layout.Pt{X: x, Y: y}) {
			return s.doc.Objects[i].ID(), true
		}
	}
	return "", false
}

// Undo restores the previous state. It reports false when there is none.
// The restored state is scheduled for autosave; persistence errors never
// fail the undo.
func (s *Session) Undo() (bool, error) { return s.step(s.hist.Undo) }

// Redo re-applies the most recently undone state.
func (s *Session) Redo() (bool, error) { return s.step(s.hist.Redo) }

func (s *Session) step(fn func(string) (history.Snapshot, bool)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := fn(s.id)
	if !ok {
		return false, nil
	}
	doc, err := canvas.Parse(snap.Blob)
	if err != nil {
		return false, fmt.Errorf("restore history: %w", err)
	}
	s.commitLocked("history", doc, false)
	return true, nil
}

func (s *Session) CanUndo() bool { return s.hist.CanUndo(s.id) }
func (s *Session) CanRedo() bool { return s.hist.CanRedo(s.id) }

// SaveNow persists the current state immediately.
func (s *Session) SaveNow(ctx context.Context) error {
	if s.saver == nil {
		return nil
	}
	blob := s.Snapshot()
	return s.saver.SaveNow(ctx, autosave.Snapshot{DesignID: s.id, Canvas: blob})
}

// Flush writes any pending autosave.
func (s *Session) Flush(ctx context.Context) error {
	if s.saver == nil {
		return nil
	}
	return s.saver.Flush(ctx)
}

// Dirty reports whether an autosave is pending.
func (s *Session) Dirty() bool { return s.saver != nil && s.saver.Pending() }

// Notifications drains the save outcomes reported since the last call.
func (s *Session) Notifications() []autosave.Event { return s.notes.Drain() }

// Close flushes, stops autosaving and drops the history.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if s.saver != nil {
		err = s.saver.Close(ctx)
	}
	s.hist.Clear(s.id)
	return err
}
