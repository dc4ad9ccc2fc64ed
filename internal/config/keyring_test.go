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
	"testing"

	"github.com/zalando/go-keyring"
)

func TestOSKeyringWithMockProvider(t *testing.T) {
	keyring.MockInit()
	k := osKeyring{}
	if v, err := k.Get("canvasqr-test", "missing"); err != nil || v != "" {
		t.Fatalf("missing key should be empty without error, got %q, %v", v, err)
	}
	if err := k.Set("canvasqr-test", "token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := k.Get("canvasqr-test", "token"); err != nil || v != "abc" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	if err := k.Delete("canvasqr-test", "token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := k.Delete("canvasqr-test", "token"); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
}
