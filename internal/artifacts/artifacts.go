/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package artifacts stores generated and uploaded binaries (QR images,
// exports, uploaded logos and documents) behind one interface with a
// local directory, S3-compatible and Google Cloud Storage backends.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"canvasqr/internal/config"
)

var (
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store keeps artifacts under slash-separated keys such as
// "qr/qr-code-<id>-512px.png".
type Store interface {
	// Put stores data and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL is the public address of key; it does not check existence.
	URL(key string) string
}

// CleanKey validates key and returns its canonical form.
func CleanKey(key string) (string, error) {
	k := strings.TrimSpace(strings.ReplaceAll(key, `\`, "/"))
	if k == "" || strings.HasPrefix(k, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(k, "/") {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return path.Clean(k), nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.ArtifactsConfig, sec config.Secrets, dataDir string) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join(dataDir, "artifacts")
		}
		return NewFileStore(dir, cfg.PublicBaseURL), nil
	case "minio", "s3":
		s, err := NewMinioStore(MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: sec.S3AccessKey,
			SecretKey: sec.S3SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			PublicURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "gcs":
		return NewGCSStore(ctx, GCSConfig{Bucket: cfg.Bucket, CredentialsB64: sec.GCSCredsJSON, PublicURL: cfg.PublicBaseURL})
	}
	return nil, fmt.Errorf("unknown artifacts driver %q", cfg.Driver)
}
