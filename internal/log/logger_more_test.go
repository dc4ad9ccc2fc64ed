/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package log

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lastJSONLine(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	scanner := bufio.NewScanner(strings.NewReader(string(b)))
	var last string
	for scanner.Scan() {
		if s := strings.TrimSpace(scanner.Text()); s != "" {
			last = s
		}
	}
	if last == "" {
		t.Fatalf("no log lines found")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("unmarshal json log: %v", err)
	}
	return m
}

// TestInitWritesRotatedJSONFile checks the file sink carries static,
// logger and context attributes.
func TestInitWritesRotatedJSONFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "cqr.json")
	Init(Options{Level: "debug", Format: "json", File: fpath, Rotate: Rotation{MaxSizeMB: 1}})
	t.Cleanup(func() { Init(Options{Level: "error"}) })

	l := WithOperation(WithComponent("render"), "export")
	l = WithDesign(l, "d-1")
	ctx := ContextWithRequest(context.Background(), "req-9")
	l.InfoContext(ctx, "exported", slog.String("format", "png"))

	m := lastJSONLine(t, fpath)
	if m["app"] != AppName {
		t.Fatalf("missing app attr: %v", m["app"])
	}
	if _, ok := m["ver"].(string); !ok {
		t.Fatalf("missing ver attr")
	}
	if m[KeyComponent] != "render" || m["op"] != "export" || m[KeyDesign] != "d-1" || m[KeyRequest] != "req-9" {
		t.Fatalf("attrs mismatch: %v", m)
	}
	if m["msg"] != "exported" || m["format"] != "png" {
		t.Fatalf("record mismatch: %v", m)
	}
}

func TestRotationDefaults(t *testing.T) {
	w := Rotation{}.writer("x.log")
	if w.MaxSize != defaultMaxSizeMB || w.MaxBackups != defaultMaxBackups || w.MaxAge != defaultMaxAgeDays || !w.Compress {
		t.Fatalf("defaults = %+v", w)
	}
	w = Rotation{MaxSizeMB: 5, MaxBackups: 1, MaxAgeDays: 2}.writer("x.log")
	if w.MaxSize != 5 || w.MaxBackups != 1 || w.MaxAge != 2 {
		t.Fatalf("explicit = %+v", w)
	}
}

func TestLevelFiltersFileSink(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "warn.json")
	Init(Options{Level: "warn", Format: "json", File: fpath})
	t.Cleanup(func() { Init(Options{Level: "error"}) })
	L().Info("dropped")
	L().Warn("kept")
	if m := lastJSONLine(t, fpath); m["msg"] != "kept" {
		t.Fatalf("last record = %v", m)
	}
}
