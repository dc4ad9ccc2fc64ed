/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import "context"

// Store persists designs, their QR codes and templates. The local
// workspace and the Postgres store both implement it.
type Store interface {
	// SaveDesign inserts or replaces a design.
	SaveDesign(ctx context.Context, d *Design) error
	LoadDesign(ctx context.Context, id string) (*Design, error)
	FindDesignBySlug(ctx context.Context, slug string) (*Design, error)
	// ListDesigns returns designs without their canvas_data, newest first.
	ListDesigns(ctx context.Context, f ListFilter) ([]Design, error)
	DeleteDesign(ctx context.Context, id string) error

	// SaveQRCode stores the generated code and, when meta is non-nil, its
	// styling metadata.
	SaveQRCode(ctx context.Context, designID string, code QRCode, meta *QRMetadata) error
	LoadQRCode(ctx context.Context, designID string) (QRCode, error)

	SaveTemplate(ctx context.Context, t *Template) error
	LoadTemplate(ctx context.Context, id string) (*Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	SearchDesigns(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Close() error
}
