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
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the operator-editable configuration persisted as YAML.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Secrets (backend token, auth secret, object store keys) are never written to the file.

type GeneralConfig struct {
	// DataDir is the local workspace root (design manifests, sqlite index, exports).
	DataDir string `yaml:"data_dir"`
	// PublicOrigin is the scheme+host used to build viewer URLs encoded into QR codes.
	PublicOrigin  string `yaml:"public_origin"`
	DefaultLocale string `yaml:"default_locale"`
	// LegacyCenterText keeps the centre-third origin heuristic for unanchored text.
	LegacyCenterText bool `yaml:"legacy_center_text"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeoutMs   int      `yaml:"read_timeout_ms"`
	WriteTimeoutMs  int      `yaml:"write_timeout_ms"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	RateLimitRPS    float64  `yaml:"rate_limit_rps"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
	TrustOwnerHdr   bool     `yaml:"trust_owner_header"`
	EnableMetrics   bool     `yaml:"enable_metrics"`
	ShutdownGraceMs int      `yaml:"shutdown_grace_ms"`
	// AuthSecret is not stored on disk; it comes from CQR_AUTH_SECRET or the keyring.
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "local" | "postgres"
	// PostgresDSN may also be given via CQR_DATABASE_URL.
	PostgresDSN     string `yaml:"postgres_dsn"`
	PreviewMaxBytes int64  `yaml:"preview_max_bytes"`
	SnapshotKeep    int    `yaml:"snapshot_keep"`
}

type ArtifactsConfig struct {
	Driver        string `yaml:"driver"` // "file" | "minio" | "gcs"
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	Bucket        string `yaml:"bucket"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	UseSSL        bool   `yaml:"use_ssl"`
	// Access keys and GCP credentials are env-only (CQR_S3_ACCESS_KEY, CQR_S3_SECRET_KEY, CQR_GCS_CREDENTIALS).
}

type EditorConfig struct {
	AutosaveDebounceMs int   `yaml:"autosave_debounce_ms"`
	SaveRetries        int   `yaml:"save_retries"`
	HistoryMaxBytes    int64 `yaml:"history_max_bytes"`
	HistoryMaxDepth    int   `yaml:"history_max_depth"`
	HistoryCoalesceMs  int   `yaml:"history_coalesce_ms"`
	PasteOffset        int   `yaml:"paste_offset"`
	SnapTolerance      int   `yaml:"snap_tolerance"`
	SessionIdleMinutes int   `yaml:"session_idle_minutes"`
}

type QRConfig struct {
	DefaultSize   int    `yaml:"default_size"`
	Foreground    string `yaml:"foreground"`
	Background    string `yaml:"background"`
	IncludeMargin bool   `yaml:"include_margin"`
	FrameInner    int    `yaml:"frame_inner_size"`
}

type JobsConfig struct {
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	Concurrency  int    `yaml:"concurrency"`
	PreviewWidth int    `yaml:"preview_width"`
	MaxRetry     int    `yaml:"max_retry"`
	// RedisPassword comes from CQR_REDIS_PASSWORD.
}

type BackendConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
	// rotation of File
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

type AppConfig struct {
	ConfigVersion int             `yaml:"config_version"`
	General       GeneralConfig   `yaml:"general"`
	Server        ServerConfig    `yaml:"server"`
	Storage       StorageConfig   `yaml:"storage"`
	Artifacts     ArtifactsConfig `yaml:"artifacts"`
	Editor        EditorConfig    `yaml:"editor"`
	QR            QRConfig        `yaml:"qr"`
	Jobs          JobsConfig      `yaml:"jobs"`
	Backend       BackendConfig   `yaml:"backend"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// Secrets are resolved from env or keyring and never persisted with the YAML.
type Secrets struct {
	BackendToken  string
	AuthSecret    string
	S3AccessKey   string
	S3SecretKey   string
	GCSCredsJSON  string
	RedisPassword string
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General: GeneralConfig{
			DataDir:          defaultDataDir(),
			PublicOrigin:     "http://localhost:8080",
			DefaultLocale:    "en",
			LegacyCenterText: true,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeoutMs:   15000,
			WriteTimeoutMs:  30000,
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			MaxUploadBytes:  10 << 20,
			EnableMetrics:   true,
			ShutdownGraceMs: 10000,
		},
		Storage: StorageConfig{Driver: "local", PreviewMaxBytes: 256 << 20, SnapshotKeep: 50},
		Artifacts: ArtifactsConfig{
			Driver:        "file",
			PublicBaseURL: "http://localhost:8080/artifacts",
			Bucket:        "canvasqr",
		},
		Editor: EditorConfig{
			AutosaveDebounceMs: 2000,
			SaveRetries:        3,
			HistoryMaxBytes:    16 << 20,
			HistoryMaxDepth:    100,
			HistoryCoalesceMs:  0,
			PasteOffset:        10,
			SnapTolerance:      0,
			SessionIdleMinutes: 30,
		},
		QR:      QRConfig{DefaultSize: 256, Foreground: "#000000", Background: "#ffffff", IncludeMargin: true, FrameInner: 200},
		Jobs:    JobsConfig{Concurrency: 4, PreviewWidth: 480, MaxRetry: 5},
		Backend: BackendConfig{BaseURL: "http://localhost:8080", TimeoutMs: 15000, TLSInsecure: false},
		Logging: LoggingConfig{Level: "info", Format: "console", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Env var names used as overrides.
const (
	EnvDataDir          = "CQR_DATA_DIR"
	EnvPublicOrigin     = "CQR_PUBLIC_ORIGIN"
	EnvDefaultLocale    = "CQR_DEFAULT_LOCALE"
	EnvLegacyCenter     = "CQR_LEGACY_CENTER_TEXT"
	EnvServerAddr       = "CQR_ADDR"
	EnvStorageDriver    = "CQR_STORAGE_DRIVER"
	EnvDatabaseURL      = "CQR_DATABASE_URL"
	EnvArtifactsDriver  = "CQR_ARTIFACTS_DRIVER"
	EnvArtifactsBucket  = "CQR_ARTIFACTS_BUCKET"
	EnvS3Endpoint       = "CQR_S3_ENDPOINT"
	EnvAutosaveMs       = "CQR_AUTOSAVE_DEBOUNCE_MS"
	EnvRedisAddr        = "CQR_REDIS_ADDR"
	EnvBackendURL       = "CQR_BACKEND_URL"
	EnvBackendTimeoutMs = "CQR_BACKEND_TIMEOUT_MS"
	EnvBackendTLSInsec  = "CQR_TLS_INSECURE"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "CQR_LOG_LEVEL"
	EnvLogFormat = "CQR_LOG_FORMAT"
	EnvLogSource = "CQR_LOG_SOURCE"
	EnvLogFile   = "CQR_LOG_FILE"
	// secrets
	EnvBackendToken  = "CQR_BACKEND_TOKEN"
	EnvAuthSecret    = "CQR_AUTH_SECRET"
	EnvS3AccessKey   = "CQR_S3_ACCESS_KEY"
	EnvS3SecretKey   = "CQR_S3_SECRET_KEY"
	EnvGCSCreds      = "CQR_GCS_CREDENTIALS"
	EnvRedisPassword = "CQR_REDIS_PASSWORD"
)

// Service/keys for OS keyring.
const (
	keyringService    = "canvasqr"
	keyringToken      = "backend_token"
	keyringAuthSecret = "auth_secret"
)

// ErrNoConfigDir is returned when no per-user config directory can be resolved.
var ErrNoConfigDir = errors.New("cannot resolve config directory")

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", "canvasqr")
	}
	return filepath.Join(os.TempDir(), "canvasqr")
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "canvasqr")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "canvasqr")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "canvasqr")
		} else if home := os.Getenv("HOME"); home != "" {
			base = filepath.Join(home, ".config", "canvasqr")
		}
	}
	if base == "" {
		return "", ErrNoConfigDir
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the per-user config file (if present).
func Load() (AppConfig, Secrets, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Defaults()
		applyEnvOverrides(&cfg)
		return cfg, loadSecrets(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads the given config file (missing is fine), applies defaults,
// merges environment overrides and resolves secrets.
func LoadFrom(path string) (AppConfig, Secrets, error) {
	cfg := Defaults()
	if data, err := os.ReadFile(path); err == nil {
		// absent keys keep their defaults, so booleans survive partial files
		fileCfg := Defaults()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, Secrets{}, err
		}
		mergeInto(&cfg, &fileCfg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, Secrets{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, loadSecrets(), nil
}

func loadSecrets() Secrets {
	s := Secrets{
		BackendToken:  os.Getenv(EnvBackendToken),
		AuthSecret:    os.Getenv(EnvAuthSecret),
		S3AccessKey:   os.Getenv(EnvS3AccessKey),
		S3SecretKey:   os.Getenv(EnvS3SecretKey),
		GCSCredsJSON:  os.Getenv(EnvGCSCreds),
		RedisPassword: os.Getenv(EnvRedisPassword),
	}
	if s.BackendToken == "" {
		s.BackendToken, _ = tokenStore.Get(keyringService, keyringToken)
	}
	if s.AuthSecret == "" {
		s.AuthSecret, _ = tokenStore.Get(keyringService, keyringAuthSecret)
	}
	return s
}

// Save writes the config YAML to path and persists the backend token into the OS keyring (if non-empty).
func Save(path string, cfg AppConfig, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		return SaveToken(token)
	}
	return nil
}

// SaveToken stores the remote backend token in the OS keyring.
func SaveToken(token string) error { return tokenStore.Set(keyringService, keyringToken, token) }

// SaveAuthSecret stores the server's token signing secret in the OS keyring.
func SaveAuthSecret(secret string) error {
	return tokenStore.Set(keyringService, keyringAuthSecret, secret)
}

// DeleteToken removes the stored backend token.
func DeleteToken() error { return tokenStore.Delete(keyringService, keyringToken) }

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// general
	setStr(&dst.General.DataDir, src.General.DataDir)
	setStr(&dst.General.PublicOrigin, strings.TrimRight(src.General.PublicOrigin, "/"))
	setStr(&dst.General.DefaultLocale, src.General.DefaultLocale)
	dst.General.LegacyCenterText = src.General.LegacyCenterText
	// server
	setStr(&dst.Server.Addr, src.Server.Addr)
	setInt(&dst.Server.ReadTimeoutMs, src.Server.ReadTimeoutMs)
	setInt(&dst.Server.WriteTimeoutMs, src.Server.WriteTimeoutMs)
	if len(src.Server.AllowedOrigins) > 0 {
		dst.Server.AllowedOrigins = append([]string(nil), src.Server.AllowedOrigins...)
	}
	if src.Server.RateLimitRPS != 0 {
		dst.Server.RateLimitRPS = src.Server.RateLimitRPS
	}
	setInt(&dst.Server.RateLimitBurst, src.Server.RateLimitBurst)
	if src.Server.MaxUploadBytes != 0 {
		dst.Server.MaxUploadBytes = src.Server.MaxUploadBytes
	}
	dst.Server.TrustOwnerHdr = src.Server.TrustOwnerHdr
	dst.Server.EnableMetrics = src.Server.EnableMetrics
	setInt(&dst.Server.ShutdownGraceMs, src.Server.ShutdownGraceMs)
	// storage
	setStr(&dst.Storage.Driver, strings.ToLower(src.Storage.Driver))
	setStr(&dst.Storage.PostgresDSN, src.Storage.PostgresDSN)
	if src.Storage.PreviewMaxBytes != 0 {
		dst.Storage.PreviewMaxBytes = src.Storage.PreviewMaxBytes
	}
	setInt(&dst.Storage.SnapshotKeep, src.Storage.SnapshotKeep)
	// artifacts
	setStr(&dst.Artifacts.Driver, strings.ToLower(src.Artifacts.Driver))
	setStr(&dst.Artifacts.Dir, src.Artifacts.Dir)
	setStr(&dst.Artifacts.PublicBaseURL, strings.TrimRight(src.Artifacts.PublicBaseURL, "/"))
	setStr(&dst.Artifacts.Bucket, src.Artifacts.Bucket)
	setStr(&dst.Artifacts.Endpoint, src.Artifacts.Endpoint)
	setStr(&dst.Artifacts.Region, src.Artifacts.Region)
	dst.Artifacts.UseSSL = src.Artifacts.UseSSL
	// editor
	setInt(&dst.Editor.AutosaveDebounceMs, src.Editor.AutosaveDebounceMs)
	setInt(&dst.Editor.SaveRetries, src.Editor.SaveRetries)
	if src.Editor.HistoryMaxBytes != 0 {
		dst.Editor.HistoryMaxBytes = src.Editor.HistoryMaxBytes
	}
	setInt(&dst.Editor.HistoryMaxDepth, src.Editor.HistoryMaxDepth)
	setInt(&dst.Editor.HistoryCoalesceMs, src.Editor.HistoryCoalesceMs)
	setInt(&dst.Editor.PasteOffset, src.Editor.PasteOffset)
	setInt(&dst.Editor.SnapTolerance, src.Editor.SnapTolerance)
	setInt(&dst.Editor.SessionIdleMinutes, src.Editor.SessionIdleMinutes)
	// qr
	setInt(&dst.QR.DefaultSize, src.QR.DefaultSize)
	setStr(&dst.QR.Foreground, src.QR.Foreground)
	setStr(&dst.QR.Background, src.QR.Background)
	dst.QR.IncludeMargin = src.QR.IncludeMargin
	setInt(&dst.QR.FrameInner, src.QR.FrameInner)
	// jobs
	setStr(&dst.Jobs.RedisAddr, src.Jobs.RedisAddr)
	setInt(&dst.Jobs.RedisDB, src.Jobs.RedisDB)
	setInt(&dst.Jobs.Concurrency, src.Jobs.Concurrency)
	setInt(&dst.Jobs.PreviewWidth, src.Jobs.PreviewWidth)
	setInt(&dst.Jobs.MaxRetry, src.Jobs.MaxRetry)
	// backend
	setStr(&dst.Backend.BaseURL, src.Backend.BaseURL)
	setInt(&dst.Backend.TimeoutMs, src.Backend.TimeoutMs)
	dst.Backend.TLSInsecure = src.Backend.TLSInsecure
	// logging
	setStr(&dst.Logging.Level, strings.ToLower(strings.TrimSpace(src.Logging.Level)))
	setStr(&dst.Logging.Format, strings.ToLower(strings.TrimSpace(src.Logging.Format)))
	dst.Logging.Source = src.Logging.Source
	setStr(&dst.Logging.File, src.Logging.File)
	setInt(&dst.Logging.MaxSizeMB, src.Logging.MaxSizeMB)
	setInt(&dst.Logging.MaxBackups, src.Logging.MaxBackups)
	setInt(&dst.Logging.MaxAgeDays, src.Logging.MaxAgeDays)
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = envBool(v)
		}
	}
	str(EnvDataDir, &cfg.General.DataDir)
	str(EnvPublicOrigin, &cfg.General.PublicOrigin)
	cfg.General.PublicOrigin = strings.TrimRight(cfg.General.PublicOrigin, "/")
	str(EnvDefaultLocale, &cfg.General.DefaultLocale)
	boolean(EnvLegacyCenter, &cfg.General.LegacyCenterText)
	str(EnvServerAddr, &cfg.Server.Addr)
	str(EnvStorageDriver, &cfg.Storage.Driver)
	str(EnvDatabaseURL, &cfg.Storage.PostgresDSN)
	str(EnvArtifactsDriver, &cfg.Artifacts.Driver)
	str(EnvArtifactsBucket, &cfg.Artifacts.Bucket)
	str(EnvS3Endpoint, &cfg.Artifacts.Endpoint)
	num(EnvAutosaveMs, &cfg.Editor.AutosaveDebounceMs)
	str(EnvRedisAddr, &cfg.Jobs.RedisAddr)
	str(EnvBackendURL, &cfg.Backend.BaseURL)
	num(EnvBackendTimeoutMs, &cfg.Backend.TimeoutMs)
	boolean(EnvBackendTLSInsec, &cfg.Backend.TLSInsecure)
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	boolean(EnvLogSource, &cfg.Logging.Source)
	str(EnvLogFile, &cfg.Logging.File)
}

var overrideKeys = map[string]string{
	"general.data_dir":            EnvDataDir,
	"general.public_origin":       EnvPublicOrigin,
	"general.default_locale":      EnvDefaultLocale,
	"general.legacy_center_text":  EnvLegacyCenter,
	"server.addr":                 EnvServerAddr,
	"storage.driver":              EnvStorageDriver,
	"storage.postgres_dsn":        EnvDatabaseURL,
	"artifacts.driver":            EnvArtifactsDriver,
	"artifacts.bucket":            EnvArtifactsBucket,
	"artifacts.endpoint":          EnvS3Endpoint,
	"editor.autosave_debounce_ms": EnvAutosaveMs,
	"jobs.redis_addr":             EnvRedisAddr,
	"backend.base_url":            EnvBackendURL,
	"backend.timeout_ms":          EnvBackendTimeoutMs,
	"backend.tls_insecure":        EnvBackendTLSInsec,
	"logging.level":               EnvLogLevel,
	"logging.format":              EnvLogFormat,
	"logging.source":              EnvLogSource,
	"logging.file":                EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := overrideKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// AutosaveDebounce is the debounce interval for editor auto-save.
func (e EditorConfig) AutosaveDebounce() time.Duration {
	if e.AutosaveDebounceMs <= 0 {
		return time.Duration(Defaults().Editor.AutosaveDebounceMs) * time.Millisecond
	}
	return time.Duration(e.AutosaveDebounceMs) * time.Millisecond
}

// HistoryCoalesce is the coalescing window for history snapshots (0 disables).
func (e EditorConfig) HistoryCoalesce() time.Duration {
	if e.HistoryCoalesceMs <= 0 {
		return 0
	}
	return time.Duration(e.HistoryCoalesceMs) * time.Millisecond
}

// SessionIdle is how long an unused editor session stays in memory.
func (e EditorConfig) SessionIdle() time.Duration {
	if e.SessionIdleMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(e.SessionIdleMinutes) * time.Minute
}

// EffectiveTimeout returns the backend timeout for http.Client.
func (b BackendConfig) EffectiveTimeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
