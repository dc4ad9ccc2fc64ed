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
	"fmt"
	"os"
	"path/filepath"

	"canvasqr/internal/qr"
)

// FileStore keeps artifacts in a local directory served under BaseURL.
type FileStore struct {
	Dir     string
	BaseURL string
}

func NewFileStore(dir, baseURL string) *FileStore {
	return &FileStore{Dir: dir, BaseURL: baseURL}
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, filepath.FromSlash(k)), nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	p, err := s.Path(key)
	if err != nil {
		return "", err
	}
	if err := qr.WriteArtifact(p, data); err != nil {
		return "", err
	}
	return s.URL(key), nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return b, err
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *FileStore) URL(key string) string {
	k, err := CleanKey(key)
	if err != nil {
		return ""
	}
	return joinURL(s.BaseURL, k)
}
