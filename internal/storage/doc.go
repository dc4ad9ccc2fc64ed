/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage implements the local design store.
// Designs and templates live as JSON manifests (designs/<id>.json,
// templates/<id>.json) written transactionally with timestamped backups.
// The embedded SQLite index at <root>/.cqr/index.sqlite holds list
// metadata, slugs, full-text search, autosave snapshots and the preview
// cache. It is derived from the manifests and rebuilt when lost.
package storage
