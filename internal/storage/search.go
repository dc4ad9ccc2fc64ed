/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"canvasqr/internal/domain"
)

// SearchQuery describes a search over design names, descriptions and
// canvas text. Text uses SQLite FTS5 syntax (terms, quoted phrases,
// AND/OR/NOT). An empty Text lists designs by name match on Name instead.
type SearchQuery struct {
	Text            string
	Name            string
	OwnerID         string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Search runs q against the index. FTS results are ordered by relevance.
func (w *Workspace) Search(ctx context.Context, q SearchQuery) ([]domain.SearchHit, error) {
	var args []any
	var sb strings.Builder
	useFTS := strings.TrimSpace(q.Text) != ""
	if useFTS {
		sb.WriteString("SELECT d.id, d.name, snippet(fts_documents, -1, '[', ']', '…', 10), -bm25(fts_documents)\n")
		sb.WriteString("FROM fts_documents JOIN documents x ON fts_documents.rowid = x.doc_id\n")
		sb.WriteString("JOIN designs d ON d.id = x.design_id\n")
		sb.WriteString("WHERE fts_documents MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT d.id, d.name, '', 0\nFROM designs d\nWHERE 1=1\n")
	}
	if s := strings.TrimSpace(q.Name); s != "" {
		sb.WriteString(" AND lower(d.name) LIKE ?\n")
		args = append(args, likeContains(strings.ToLower(s)))
	}
	if q.OwnerID != "" {
		sb.WriteString(" AND d.owner_id = ?\n")
		args = append(args, q.OwnerID)
	}
	if !q.IncludeArchived {
		sb.WriteString(" AND d.is_archived = 0\n")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if useFTS {
		sb.WriteString("ORDER BY bm25(fts_documents), d.updated_at DESC\n")
	} else {
		sb.WriteString("ORDER BY d.updated_at DESC, d.id\n")
	}
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, q.Offset)

	rows, err := w.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	out := []domain.SearchHit{}
	for rows.Next() {
		var h domain.SearchHit
		if err := rows.Scan(&h.DesignID, &h.Name, &h.Snippet, &h.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SearchDesigns treats q as plain user input: every word becomes a quoted
// prefix term so FTS operators in the text have no effect.
func (w *Workspace) SearchDesigns(ctx context.Context, q string, limit int) ([]domain.SearchHit, error) {
	text := MatchExpr(q)
	if text == "" {
		return []domain.SearchHit{}, nil
	}
	return w.Search(ctx, SearchQuery{Text: text, Limit: limit})
}

// MatchExpr turns free text into an FTS5 expression of quoted prefix terms.
func MatchExpr(q string) string {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, wd := range words {
		terms = append(terms, `"`+wd+`"*`)
	}
	return strings.Join(terms, " ")
}

func likeContains(s string) string { return "%" + s + "%" }
