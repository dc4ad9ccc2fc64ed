/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"canvasqr/internal/config"
)

type memKeyring map[string]string

func (m memKeyring) Get(service, key string) (string, error) { return m[service+"/"+key], nil }
func (m memKeyring) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}
func (m memKeyring) Delete(service, key string) error {
	delete(m, service+"/"+key)
	return nil
}

// run executes the CLI against a config file in dir and returns stdout.
func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml"), "--env-file", ""}, args...))
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("canvasqr %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func setupCLI(t *testing.T) (string, memKeyring) {
	t.Helper()
	kr := memKeyring{}
	t.Cleanup(config.SetTokenStore(kr))
	dir := t.TempDir()
	t.Setenv(config.EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(config.EnvAuthSecret, "")
	t.Setenv(config.EnvBackendToken, "")
	return dir, kr
}

const cliCanvas = `{"version":"5.3.0","width":320,"height":200,"background":"#ffffff",
  "objects":[{"type":"rect","id":"r1","left":10,"top":10,"width":100,"height":60,"fill":"#ff0000"}]}`

func TestInitWritesConfig(t *testing.T) {
	dir, _ := setupCLI(t)
	out := run(t, dir, "init")
	if !strings.Contains(out, "config written") {
		t.Fatalf("init output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(dir, "config.yaml"), "--env-file", "", "init"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("second init without --force should fail")
	}
}

func TestImportRenderAndQR(t *testing.T) {
	dir, _ := setupCLI(t)
	src := filepath.Join(dir, "menu.json")
	if err := os.WriteFile(src, []byte(cliCanvas), 0o644); err != nil {
		t.Fatal(err)
	}

	out := run(t, dir, "import", src)
	id, name, ok := strings.Cut(strings.TrimSpace(out), "\t")
	if !ok || id == "" || name != "menu" {
		t.Fatalf("import output = %q", out)
	}

	svg := run(t, dir, "render", src, "-f", "svg")
	if !strings.Contains(svg, `viewBox="0 0 320 200"`) {
		t.Fatalf("svg = %s", svg)
	}
	pngPath := filepath.Join(dir, "out", "menu.png")
	run(t, dir, "render", src, "-o", pngPath, "--scale", "0.5")
	if b, err := os.ReadFile(pngPath); err != nil || !bytes.HasPrefix(b, []byte("\x89PNG")) {
		t.Fatalf("png export: %v", err)
	}

	qrDir := filepath.Join(dir, "qr")
	out = run(t, dir, "qr", id, "-o", qrDir, "-r", "512", "--style", "classic")
	want := filepath.Join(qrDir, "qr-code-"+id+"-512px-classic.png")
	if strings.TrimSpace(out) != want {
		t.Fatalf("qr path = %q, want %q", out, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("qr file: %v", err)
	}
	out = run(t, dir, "qr", id, "-o", qrDir, "-f", "svg", "-r", "512")
	if !strings.HasSuffix(strings.TrimSpace(out), "qr-code-"+id+".svg") {
		t.Fatalf("svg qr path = %q", out)
	}
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	dir, _ := setupCLI(t)
	src := filepath.Join(dir, "c.json")
	if err := os.WriteFile(src, []byte(cliCanvas), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(dir, "config.yaml"), "--env-file", "", "render", src, "-f", "gif"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Fatalf("err = %v", err)
	}
}

func TestTokenCommands(t *testing.T) {
	dir, kr := setupCLI(t)
	run(t, dir, "token", "set", " abc123 ")
	if kr["canvasqr/backend_token"] != "abc123" {
		t.Fatalf("keyring = %v", kr)
	}
	run(t, dir, "secret", "set", "0123456789abcdef-secret")
	tok := strings.TrimSpace(run(t, dir, "token", "issue", "alice", "--ttl", "1h"))
	if tok == "" {
		t.Fatalf("empty token")
	}
	run(t, dir, "token", "clear")
	if _, ok := kr["canvasqr/backend_token"]; ok {
		t.Fatalf("token not cleared")
	}
}

func TestTemplatesExportInstall(t *testing.T) {
	dir, _ := setupCLI(t)
	src := filepath.Join(dir, "card.json")
	if err := os.WriteFile(src, []byte(cliCanvas), 0o644); err != nil {
		t.Fatal(err)
	}
	id, _, _ := strings.Cut(strings.TrimSpace(run(t, dir, "import", src)), "\t")
	tplID, tplName, _ := strings.Cut(strings.TrimSpace(run(t, dir, "templates", "from-design", id, "--name", "Card")), "\t")
	if tplID == "" || tplName != "Card" {
		t.Fatalf("from-design = %q %q", tplID, tplName)
	}
	if out := run(t, dir, "templates", "list"); !strings.Contains(out, tplID+"\tCard\t320x200") {
		t.Fatalf("list = %q", out)
	}
	pack := filepath.Join(dir, "pack.zip")
	if out := run(t, dir, "templates", "export", pack); !strings.HasPrefix(out, "1 templates") {
		t.Fatalf("export = %q", out)
	}
	if out := run(t, dir, "templates", "install", pack); !strings.Contains(out, "installed 0, skipped 1") {
		t.Fatalf("install = %q", out)
	}
	if out := run(t, dir, "templates", "install", pack, "--overwrite"); !strings.Contains(out, "installed 1, skipped 0") {
		t.Fatalf("overwrite install = %q", out)
	}
}
