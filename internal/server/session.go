/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"canvasqr/internal/canvas"
	"canvasqr/internal/editor"
	"canvasqr/internal/layout"
)

// sessionState is returned by every editing call.
type sessionState struct {
	ID      string          `json:"id,omitempty"`
	CanUndo bool            `json:"canUndo"`
	CanRedo bool            `json:"canRedo"`
	Dirty   bool            `json:"dirty"`
	Changed *bool           `json:"changed,omitempty"`
	Guides  []layout.Guide  `json:"guides,omitempty"`
	Canvas  json.RawMessage `json:"canvas,omitempty"`
}

func stateOf(sess *editor.Session) sessionState {
	return sessionState{CanUndo: sess.CanUndo(), CanRedo: sess.CanRedo(), Dirty: sess.Dirty()}
}

// edit opens the session and runs fn, replying with the session state.
func (s *Server) edit(w http.ResponseWriter, r *http.Request, fn func(sess *editor.Session, st *sessionState) error) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var st sessionState
	if err := fn(sess, &st); err != nil {
		writeError(w, r, err)
		return
	}
	id, guides, changed, canvasData := st.ID, st.Guides, st.Changed, st.Canvas
	st = stateOf(sess)
	st.ID, st.Guides, st.Changed, st.Canvas = id, guides, changed, canvasData
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := s.currentDocument(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(doc.Bytes())
}

func (s *Server) handlePutCanvas(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := canvas.Validate(body); err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := canvas.Parse(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.edit(w, r, func(sess *editor.Session, _ *sessionState) error {
		return sess.Replace(doc)
	})
}

func (s *Server) handleAddObject(w http.ResponseWriter, r *http.Request) {
	var obj canvas.Object
	if err := decodeJSON(w, r, &obj); err != nil {
		writeError(w, r, err)
		return
	}
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		id, err := sess.Add(&obj)
		st.ID = id
		return err
	})
}

func (s *Server) handleUpdateObject(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	oid := mux.Vars(r)["oid"]
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		st.ID = oid
		return sess.Update(oid, patch)
	})
}

func (s *Server) handleRemoveObject(w http.ResponseWriter, r *http.Request) {
	oid := mux.Vars(r)["oid"]
	s.edit(w, r, func(sess *editor.Session, _ *sessionState) error {
		return sess.Remove(oid)
	})
}

func (s *Server) handleMoveObject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	oid := mux.Vars(r)["oid"]
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		guides, err := sess.Move(oid, in.DX, in.DY)
		st.ID, st.Guides = oid, guides
		return err
	})
}

func (s *Server) handleResizeObject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ScaleX float64 `json:"scaleX"`
		ScaleY float64 `json:"scaleY"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	oid := mux.Vars(r)["oid"]
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		st.ID = oid
		return sess.Resize(oid, in.ScaleX, in.ScaleY)
	})
}

func (s *Server) handleRotateObject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Angle float64 `json:"angle"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	oid := mux.Vars(r)["oid"]
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		st.ID = oid
		return sess.Rotate(oid, in.Angle)
	})
}

func (s *Server) handleRestackObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	oid := vars["oid"]
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		st.ID = oid
		if vars["dir"] == "forward" {
			return sess.BringForward(oid)
		}
		return sess.SendBackward(oid)
	})
}

// handleSetAction stores a click action; a JSON null clears it.
func (s *Server) handleSetAction(w http.ResponseWriter, r *http.Request) {
	var a *canvas.Action
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, r, err)
		return
	}
	oid := mux.Vars(r)["oid"]
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		st.ID = oid
		return sess.SetAction(oid, a)
	})
}

func (s *Server) handleSetBackground(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Background json.RawMessage `json:"background"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if len(in.Background) == 0 {
		writeError(w, r, fmt.Errorf("%w: background is required", errBadRequest))
		return
	}
	bg := canvas.ParseBackground(in.Background)
	s.edit(w, r, func(sess *editor.Session, _ *sessionState) error {
		return sess.SetBackground(bg)
	})
}

func (s *Server) handleHitTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		writeError(w, r, fmt.Errorf("%w: x and y must be numbers", errBadRequest))
		return
	}
	sess, err := s.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, ok := sess.ObjectAt(x, y)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "hit": ok})
}

func (s *Server) handleCopyObject(w http.ResponseWriter, r *http.Request) {
	oid := mux.Vars(r)["oid"]
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		st.ID = oid
		return sess.Copy(oid)
	})
}

func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		id, err := sess.Paste()
		st.ID = id
		return err
	})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		ok, err := sess.Undo()
		st.Changed = &ok
		st.Canvas = sess.Snapshot()
		return err
	})
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(sess *editor.Session, st *sessionState) error {
		ok, err := sess.Redo()
		st.Changed = &ok
		st.Canvas = sess.Snapshot()
		return err
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, func(sess *editor.Session, _ *sessionState) error {
		return sess.SaveNow(r.Context())
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	d, err := s.design(r, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, ok := s.sessions.Get(d.ID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	events := sess.Notifications()
	if events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
