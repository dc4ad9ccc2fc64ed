/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log is canvasqr's slog setup: a console or JSON handler on
// stderr, an optional rotated JSON file, and request-scoped attributes
// (request id, route, design) carried on the context.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"canvasqr/internal/version"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger initialization. FromEnv fills it from
// CQR_LOG_LEVEL, CQR_LOG_FORMAT, CQR_LOG_FILE and CQR_LOG_SOURCE.
type Options struct {
	Level     string
	Format    string // "console" or "json"
	AddSource bool
	File      string // rotated JSON log; empty disables
	Rotate    Rotation
}

// Rotation bounds the log file. Zero fields take the defaults below.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 28
)

func (r Rotation) writer(path string) *lj.Logger {
	w := &lj.Logger{Filename: path, MaxSize: r.MaxSizeMB, MaxBackups: r.MaxBackups, MaxAge: r.MaxAgeDays, Compress: true}
	if w.MaxSize <= 0 {
		w.MaxSize = defaultMaxSizeMB
	}
	if w.MaxBackups <= 0 {
		w.MaxBackups = defaultMaxBackups
	}
	if w.MaxAge <= 0 {
		w.MaxAge = defaultMaxAgeDays
	}
	return w
}

// AppName is attached to every record as the "app" attribute.
const AppName = "canvasqr"

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	fileSink io.Closer
)

// L returns the application logger, initializing it from the environment
// on first use.
func L() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(FromEnv())
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the application logger and slog.Default. A previously
// opened log file is closed.
func Init(opts Options) {
	lvl := parseLevel(opts.Level)
	var out []slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		out = append(out, slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource}))
	} else {
		out = append(out, newConsoleHandler(os.Stderr, lvl, opts.AddSource))
	}
	var file *lj.Logger
	if path := strings.TrimSpace(opts.File); path != "" {
		file = opts.Rotate.writer(path)
		out = append(out, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource}))
	}
	var h slog.Handler = &contextHandler{next: out[0]}
	if len(out) > 1 {
		h = &contextHandler{next: fanout(out)}
	}
	l := slog.New(h).With(
		slog.String("app", AppName),
		slog.String("ver", version.Version),
	)

	mu.Lock()
	prev := fileSink
	logger = l
	fileSink = nil
	if file != nil {
		fileSink = file
	}
	mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	slog.SetDefault(l)
}

// FromEnv builds Options from environment variables.
func FromEnv() Options {
	return Options{
		Level:     getenv("CQR_LOG_LEVEL", "info"),
		Format:    getenv("CQR_LOG_FORMAT", "console"),
		AddSource: strings.EqualFold(getenv("CQR_LOG_SOURCE", "false"), "true"),
		File:      os.Getenv("CQR_LOG_FILE"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// WithComponent returns a logger with the component attribute pre-set.
// The console handler prints it as a [component] prefix.
func WithComponent(name string) *slog.Logger { return L().With(slog.String(KeyComponent, name)) }

// WithOperation annotates the logger with an operation name.
func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

// WithDesign annotates the logger with the design being worked on.
func WithDesign(l *slog.Logger, designID string) *slog.Logger {
	return l.With(slog.String(KeyDesign, designID))
}

// Attribute keys shared by the helpers below.
const (
	KeyComponent = "component"
	KeyDesign    = "design"
	KeyRequest   = "request_id"
	KeyRoute     = "route"
)

type ctxKey struct{}

// ContextWith returns a context whose log records (emitted through the
// *Context logging methods) carry the given attributes. A later attribute
// replaces an earlier one with the same key.
func ContextWith(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	prev := AttrsFrom(ctx)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	for _, a := range prev {
		if !hasKey(attrs, a.Key) {
			merged = append(merged, a)
		}
	}
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

func hasKey(attrs []slog.Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// AttrsFrom returns the attributes stored by ContextWith.
func AttrsFrom(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	return attrs
}

// ContextWithRequest tags records logged under ctx with the request id.
func ContextWithRequest(ctx context.Context, requestID string) context.Context {
	return ContextWith(ctx, slog.String(KeyRequest, requestID))
}

// ContextWithDesign tags records logged under ctx with the design id.
func ContextWithDesign(ctx context.Context, designID string) context.Context {
	return ContextWith(ctx, slog.String(KeyDesign, designID))
}

// RequestID returns the request id stored by ContextWithRequest.
func RequestID(ctx context.Context) string {
	for _, a := range AttrsFrom(ctx) {
		if a.Key == KeyRequest {
			return a.Value.String()
		}
	}
	return ""
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type fanoutHandler []slog.Handler

func fanout(hs []slog.Handler) slog.Handler { return fanoutHandler(hs) }

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// contextHandler appends the ContextWith attributes of the record's
// context before passing it on.
type contextHandler struct{ next slog.Handler }

func (c *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return c.next.Enabled(ctx, level)
}

func (c *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := AttrsFrom(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return c.next.Handle(ctx, r)
}

func (c *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: c.next.WithAttrs(attrs)}
}

func (c *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: c.next.WithGroup(name)}
}

// consoleHandler writes one line per record:
//
//	15:04:05.000 INF [editor] session opened design=42 took=3ms
//
// The component attribute becomes the bracketed prefix, app and ver are
// left to the JSON outputs, and values with spaces are quoted.
type consoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	source bool
	comp   string
	attrs  []slog.Attr
	prefix string // group prefix for keys
}

func newConsoleHandler(w io.Writer, level slog.Level, source bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(ts.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	comp := h.comp
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == KeyComponent && h.prefix == "" {
			comp = a.Value.String()
			return true
		}
		attrs = append(attrs, a)
		return true
	})
	if comp != "" {
		b.WriteString(" [")
		b.WriteString(comp)
		b.WriteByte(']')
	}
	if r.Message != "" {
		b.WriteByte(' ')
		b.WriteString(r.Message)
	}
	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	for _, a := range attrs {
		writeAttr(&b, h.prefix, a)
	}
	if h.source && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if f.File != "" {
			b.WriteString(" src=")
			b.WriteString(shortPath(f.File))
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(f.Line))
		}
	}
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := h.clone()
	for _, a := range attrs {
		if a.Key == KeyComponent && h.prefix == "" {
			n.comp = a.Value.String()
			continue
		}
		if a.Key == "app" || a.Key == "ver" {
			continue
		}
		a.Key = h.prefix + a.Key
		n.attrs = append(n.attrs, a)
	}
	return n
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := h.clone()
	n.prefix = h.prefix + name + "."
	return n
}

func (h *consoleHandler) clone() *consoleHandler {
	n := *h
	n.attrs = append([]slog.Attr(nil), h.attrs...)
	return &n
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, g := range v.Group() {
			writeAttr(b, prefix+a.Key+".", g)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(valueString(v))
}

func valueString(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindFloat64:
		s = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		s = v.Duration().Round(time.Microsecond).String()
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func shortPath(file string) string {
	if i := strings.LastIndex(file, "/internal/"); i >= 0 {
		return file[i+1:]
	}
	if i := strings.LastIndex(file, "/cmd/"); i >= 0 {
		return file[i+1:]
	}
	return file
}

func levelTag(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DBG"
	case l < slog.LevelWarn:
		return "INF"
	case l < slog.LevelError:
		return "WRN"
	}
	return "ERR"
}
