/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type memTokens map[string]string

func (m memTokens) Get(service, key string) (string, error) { return m[service+"/"+key], nil }
func (m memTokens) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}
func (m memTokens) Delete(service, key string) error {
	delete(m, service+"/"+key)
	return nil
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(SetTokenStore(memTokens{}))
	cfg, _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Editor.AutosaveDebounce() != 2*time.Second {
		t.Fatalf("debounce = %v, want 2s", cfg.Editor.AutosaveDebounce())
	}
	if cfg.QR.DefaultSize != 256 || !cfg.General.LegacyCenterText {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFromPartialFileKeepsDefaults(t *testing.T) {
	t.Cleanup(SetTokenStore(memTokens{}))
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  addr: \":9999\"\nqr:\n  default_size: 512\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.QR.DefaultSize != 512 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !cfg.General.LegacyCenterText || !cfg.QR.IncludeMargin || !cfg.Server.EnableMetrics {
		t.Fatalf("boolean defaults lost on partial file: %+v", cfg)
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	t.Cleanup(SetTokenStore(memTokens{}))
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadFrom(path); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Cleanup(SetTokenStore(memTokens{}))
	t.Setenv(EnvBackendURL, "https://example.test:8443")
	t.Setenv(EnvPublicOrigin, "https://qr.example.test/")
	t.Setenv(EnvAutosaveMs, "500")
	t.Setenv(EnvLegacyCenter, "off")
	t.Setenv(EnvLogLevel, "ERROR")
	cfg, _, err := LoadFrom(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Backend.BaseURL != "https://example.test:8443" {
		t.Fatalf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.General.PublicOrigin != "https://qr.example.test" {
		t.Fatalf("PublicOrigin = %q", cfg.General.PublicOrigin)
	}
	if cfg.Editor.AutosaveDebounce() != 500*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.Editor.AutosaveDebounce())
	}
	if cfg.General.LegacyCenterText {
		t.Fatalf("legacy centre heuristic should be disabled by env")
	}
	if cfg.Logging.Level != "error" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if env, ok := EnvOverrideFor("editor.autosave_debounce_ms"); !ok || env != EnvAutosaveMs {
		t.Fatalf("EnvOverrideFor = %q,%v", env, ok)
	}
	if _, ok := EnvOverrideFor("qr.default_size"); ok {
		t.Fatalf("qr.default_size has no env override")
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Logging.Level = "debug"
	src.Logging.Format = "json"
	src.Logging.Source = true
	src.Logging.File = "/tmp/cqr.log"
	src.Logging.MaxSizeMB = 50
	src.Logging.MaxBackups = 0
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "/tmp/cqr.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
	if dst.Logging.MaxSizeMB != 50 || dst.Logging.MaxBackups != 3 || dst.Logging.MaxAgeDays != 28 {
		t.Fatalf("rotation fields not merged correctly: %#v", dst.Logging)
	}
}

func TestSecretsFromKeyringAndEnv(t *testing.T) {
	store := memTokens{}
	t.Cleanup(SetTokenStore(store))
	if err := SaveToken("tok-keyring"); err != nil {
		t.Fatal(err)
	}
	if err := SaveAuthSecret("sekrit"); err != nil {
		t.Fatal(err)
	}
	_, sec, err := LoadFrom(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if sec.BackendToken != "tok-keyring" || sec.AuthSecret != "sekrit" {
		t.Fatalf("keyring secrets not loaded: %+v", sec)
	}

	t.Setenv(EnvBackendToken, "tok-env")
	_, sec, _ = LoadFrom(filepath.Join(t.TempDir(), "none.yaml"))
	if sec.BackendToken != "tok-env" {
		t.Fatalf("env token should win, got %q", sec.BackendToken)
	}

	if err := DeleteToken(); err != nil {
		t.Fatal(err)
	}
	if _, ok := store["canvasqr/backend_token"]; ok {
		t.Fatalf("token not deleted")
	}
}

func TestSaveWritesYAML(t *testing.T) {
	t.Cleanup(SetTokenStore(memTokens{}))
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Defaults()
	cfg.Server.Addr = ":7070"
	if err := Save(path, cfg, ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, _, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Server.Addr != ":7070" {
		t.Fatalf("round trip addr = %q", back.Server.Addr)
	}
}
