/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package autosave debounces canvas snapshots into a persistence backend.
// It only knows the Saver interface; local and remote stores plug in there.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	applog "canvasqr/internal/log"
)

var (
	// ErrNotFound is returned by loaders when no snapshot exists for a design.
	ErrNotFound = errors.New("snapshot not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("autosaver closed")
)

// Snapshot is one persisted canvas state.
type Snapshot struct {
	DesignID string          `json:"designId"`
	Canvas   json.RawMessage `json:"canvas"`
	// Seq increases with every state handed to the autosaver.
	Seq     uint64    `json:"seq,omitempty"`
	SavedAt time.Time `json:"savedAt,omitempty"`
}

// Saver persists snapshots.
type Saver interface {
	Save(ctx context.Context, s Snapshot) error
}

// Loader reads the latest snapshot of a design.
type Loader interface {
	Load(ctx context.Context, designID string) (Snapshot, error)
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, s Snapshot) error

func (f SaverFunc) Save(ctx context.Context, s Snapshot) error { return f(ctx, s) }

// Status is the outcome of a save attempt.
type Status string

const (
	StatusSaved  Status = "saved"
	StatusFailed Status = "failed"
	// StatusGaveUp means retries are exhausted; the snapshot stays pending
	// until the next Schedule or SaveNow.
	StatusGaveUp Status = "gave_up"
)

// Event reports a save attempt.
type Event struct {
	DesignID string    `json:"designId"`
	Status   Status    `json:"status"`
	Seq      uint64    `json:"seq"`
	Attempt  int       `json:"attempt"`
	Err      string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier receives save outcomes. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// ChannelNotifier delivers events on a buffered channel and drops them when
// the buffer is full.
type ChannelNotifier struct{ C chan Event }

func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{C: make(chan Event, buffer)}
}

func (n *ChannelNotifier) Notify(e Event) {
	select {
	case n.C <- e:
	default:
	}
}

// Drain returns the events currently buffered.
func (n *ChannelNotifier) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-n.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Options tunes the autosaver.
type Options struct {
	// Debounce is the quiet period before a scheduled save; default 2s.
	Debounce time.Duration
	// MaxRetries bounds automatic retries after a failure; default 3.
	MaxRetries int
	// RetryDelay is the wait between retries; defaults to Debounce.
	RetryDelay time.Duration
	// Timeout bounds each background save; default 30s.
	Timeout  time.Duration
	Notifier Notifier
}

// Autosaver coalesces snapshots of one design and writes the latest one.
type Autosaver struct {
	saver Saver
	opts  Options
	l     *slog.Logger

	mu       sync.Mutex
	pending  *Snapshot
	seq      uint64
	timer    *time.Timer
	attempts int
	closed   bool

	// saveMu serializes calls into the Saver; savedSeq is guarded by it.
	saveMu   sync.Mutex
	savedSeq uint64
}

func New(saver Saver, opts Options) *Autosaver {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = opts.Debounce
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Autosaver{saver: saver, opts: opts, l: applog.WithComponent("autosave")}
}

// Schedule records s as the latest state and (re)starts the debounce timer.
func (a *Autosaver) Schedule(s Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.setPendingLocked(s)
	a.armLocked(a.opts.Debounce)
	return nil
}

// SaveNow bypasses the debounce and persists s immediately. A concurrent
// background save of an older state never overwrites it.
func (a *Autosaver) SaveNow(ctx context.Context, s Snapshot) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.setPendingLocked(s)
	a.stopLocked()
	a.mu.Unlock()
	return a.flush(ctx)
}

// Flush persists the pending snapshot, if any.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	a.stopLocked()
	a.mu.Unlock()
	return a.flush(ctx)
}

// Pending reports whether a snapshot is waiting to be saved.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// Close flushes and stops the autosaver.
func (a *Autosaver) Close(ctx context.Context) error {
	err := a.Flush(ctx)
	a.mu.Lock()
	a.closed = true
	a.stopLocked()
	a.mu.Unlock()
	return err
}

func (a *Autosaver) setPendingLocked(s Snapshot) {
	a.seq++
	s.Seq = a.seq
	a.pending = &s
	a.attempts = 0
}

func (a *Autosaver) armLocked(d time.Duration) {
	a.stopLocked()
	a.timer = time.AfterFunc(d, a.fire)
}

func (a *Autosaver) stopLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Autosaver) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
	defer cancel()
	if err := a.flush(ctx); err != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed || a.pending == nil {
			return
		}
		if a.attempts < a.opts.MaxRetries {
			a.armLocked(a.opts.RetryDelay)
			return
		}
		a.notify(Event{DesignID: a.pending.DesignID, Status: StatusGaveUp, Seq: a.pending.Seq, Attempt: a.attempts, Err: err.Error()})
		a.l.Warn("autosave retries exhausted", slog.String("design", a.pending.DesignID), slog.Int("attempts", a.attempts))
	}
}

func (a *Autosaver) flush(ctx context.Context) error {
	a.mu.Lock()
	p := a.pending
	a.mu.Unlock()
	if p == nil {
		return nil
	}

	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if p.Seq <= a.savedSeq {
		return nil
	}
	snap := *p
	snap.SavedAt = time.Now().UTC()
	err := a.saver.Save(ctx, snap)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if a.pending != nil && a.pending.Seq == p.Seq {
			a.attempts++
		}
		a.l.Error("autosave failed", slog.String("design", p.DesignID), slog.Uint64("seq", p.Seq), slog.Any("err", err))
		a.notify(Event{DesignID: p.DesignID, Status: StatusFailed, Seq: p.Seq, Attempt: a.attempts, Err: err.Error()})
		return err
	}
	a.savedSeq = p.Seq
	if a.pending != nil && a.pending.Seq <= p.Seq {
		a.pending = nil
		a.attempts = 0
	}
	a.l.Debug("autosaved", slog.String("design", p.DesignID), slog.Uint64("seq", p.Seq))
	a.notify(Event{DesignID: p.DesignID, Status: StatusSaved, Seq: p.Seq})
	return nil
}

func (a *Autosaver) notify(e Event) {
	if a.opts.Notifier == nil {
		return
	}
	e.At = time.Now().UTC()
	a.opts.Notifier.Notify(e)
}
