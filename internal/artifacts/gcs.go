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
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig addresses a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket string
	// CredentialsB64 is a base64-encoded service account JSON; empty uses
	// application default credentials.
	CredentialsB64 string
	PublicURL      string
}

// GCSStore keeps artifacts in a GCS bucket.
type GCSStore struct {
	client *storage.Client
	cfg    GCSConfig
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(cfg.CredentialsB64)
		if err != nil {
			return nil, fmt.Errorf("decode service account json: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(decoded))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCSStore{client: client, cfg: cfg}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	w := s.client.Bucket(s.cfg.Bucket).Object(k).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object: %w", err)
	}
	return s.URL(k), nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.cfg.Bucket).Object(k).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.cfg.Bucket).Object(k).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}

func (s *GCSStore) URL(key string) string {
	base := s.cfg.PublicURL
	if base == "" {
		base = "https://storage.googleapis.com/" + s.cfg.Bucket
	}
	return joinURL(base, key)
}
