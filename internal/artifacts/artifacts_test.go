/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"canvasqr/internal/config"
)

func TestCleanKey(t *testing.T) {
	good := map[string]string{
		"qr/a.png":       "qr/a.png",
		` uploads\x.pdf`: "uploads/x.pdf",
	}
	for in, want := range good {
		got, err := CleanKey(in)
		if err != nil || got != want {
			t.Fatalf("CleanKey(%q) = %q, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "/etc/passwd", "../x", "a/../../b", "a//b", ".hidden", "a/./b"} {
		if _, err := CleanKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("CleanKey(%q) err = %v", bad, err)
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir, "http://localhost:8080/files/")
	url, err := s.Put(ctx, "qr/qr-code-d1-512px.png", []byte("png"), "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "http://localhost:8080/files/qr/qr-code-d1-512px.png" {
		t.Fatalf("url = %s", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "qr", "qr-code-d1-512px.png")); err != nil {
		t.Fatalf("file missing: %v", err)
	}
	b, err := s.Get(ctx, "qr/qr-code-d1-512px.png")
	if err != nil || string(b) != "png" {
		t.Fatalf("get = %q, %v", b, err)
	}
	if _, err := s.Put(ctx, "qr/qr-code-d1-512px.png", []byte("png2"), "image/png"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if b, _ := s.Get(ctx, "qr/qr-code-d1-512px.png"); string(b) != "png2" {
		t.Fatalf("overwrite not visible: %q", b)
	}
	if err := s.Delete(ctx, "qr/qr-code-d1-512px.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "qr/qr-code-d1-512px.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
	if err := s.Delete(ctx, "qr/qr-code-d1-512px.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if _, err := s.Put(ctx, "../escape", []byte("x"), ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("escape err = %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	s, err := Open(ctx, config.ArtifactsConfig{}, config.Secrets{}, dataDir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fs, ok := s.(*FileStore)
	if !ok || fs.Dir != filepath.Join(dataDir, "artifacts") {
		t.Fatalf("default store = %#v", s)
	}
	if _, err := Open(ctx, config.ArtifactsConfig{Driver: "ftp"}, config.Secrets{}, dataDir); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, config.ArtifactsConfig{Driver: "minio"}, config.Secrets{}, dataDir); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
}

func TestMinioURL(t *testing.T) {
	s, err := NewMinioStore(MinioConfig{Endpoint: "minio:9000", Bucket: "cqr", AccessKey: "k", SecretKey: "s"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.URL("qr/a.png"); got != "http://minio:9000/cqr/qr/a.png" {
		t.Fatalf("url = %s", got)
	}
	s.cfg.PublicURL = "https://cdn.example.com"
	if got := s.URL("qr/a.png"); got != "https://cdn.example.com/qr/a.png" {
		t.Fatalf("public url = %s", got)
	}
}
