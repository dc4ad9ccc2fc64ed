/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a crash report after flushing the
// pending autosaves of open editor sessions.
package crash

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "canvasqr/internal/log"
	"canvasqr/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Flusher writes pending work; editor.Registry implements it.
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// Uploader copies the report somewhere durable; artifacts.Store implements it.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Options says where reports go and what to save before exiting.
type Options struct {
	// Dir receives crash-<stamp>.log; empty means the temp dir.
	Dir      string
	Sessions Flusher
	Uploader Uploader
	// Timeout bounds the flush and upload; default 10s.
	Timeout time.Duration
}

// Recover captures a panic, logs it with the stack, flushes open sessions,
// writes a report and exits with code 2. opts is read at panic time, so
// collaborators created after the defer are still seen.
//
// Usage: defer crash.Recover(&opts)
func Recover(opts *Options) {
	r := recover()
	if r == nil {
		return
	}
	if opts == nil {
		opts = &Options{}
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	flushErr := error(nil)
	if opts.Sessions != nil {
		if flushErr = opts.Sessions.FlushAll(ctx); flushErr != nil {
			l.Error("flush sessions failed", slog.Any("err", flushErr))
		} else {
			l.Info("pending sessions flushed")
		}
	}

	report := buildReport(r, stack, flushErr)
	reportPath, err := writeReport(opts.Dir, report)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if opts.Uploader != nil {
		key := "crash/" + filepath.Base(reportPath)
		if _, err := opts.Uploader.Put(ctx, key, report, "text/plain; charset=utf-8"); err != nil {
			l.Error("upload crash report failed", slog.Any("err", err))
		}
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

func buildReport(panicVal any, stack []byte, flushErr error) []byte {
	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "canvasqr Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if flushErr != nil {
		_, _ = fmt.Fprintf(&buf, "SessionFlush: %v\n", flushErr)
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))
	return buf.Bytes()
}

func writeReport(dir string, report []byte) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	_ = os.MkdirAll(dir, 0o755)
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(report); err != nil {
		return path, err
	}
	return path, f.Sync()
}
