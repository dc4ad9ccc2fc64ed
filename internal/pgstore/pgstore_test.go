/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"canvasqr/internal/domain/storetest"
)

func openPGForTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CQR_PG_TEST_DSN")
	if dsn == "" {
		t.Skip("CQR_PG_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn, Options{MaxConns: 4})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, openPGForTest(t))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openPGForTest(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var n int
	if err := s.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n < 2 {
		t.Fatalf("recorded migrations = %d", n)
	}
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var prev int64
	for _, e := range entries {
		v, err := parseVersion(e.Name())
		if err != nil {
			t.Fatalf("%s: %v", e.Name(), err)
		}
		if v <= prev {
			t.Fatalf("migration %s out of order", e.Name())
		}
		prev = v
	}
	if prev < 2 {
		t.Fatalf("expected at least two migrations")
	}
	if _, err := parseVersion("init.sql"); err == nil {
		t.Fatalf("expected error for unnumbered file")
	}
}

func TestTSQuery(t *testing.T) {
	cases := map[string]string{
		"Cafe Menu":        "cafe:* & menu:*",
		`"espresso" & (x)`: "espresso:* & x:*",
		"  ":               "",
		"née's":            "née:* & s:*",
	}
	for in, want := range cases {
		if got := tsQuery(in); got != want {
			t.Fatalf("tsQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearchText(t *testing.T) {
	got := searchText([]byte(`{"objects":[{"type":"text","text":"a"},{"type":"group","objects":[{"type":"text","text":"b"}]}]}`))
	if got != "a\nb" {
		t.Fatalf("searchText = %q", got)
	}
	if searchText([]byte(`{`)) != "" || searchText(nil) != "" {
		t.Fatalf("bad input should yield no text")
	}
}
