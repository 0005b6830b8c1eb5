// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import "testing"

func TestDeriveAESKeyDeterministic(t *testing.T) {
	password := []byte("correct horse battery staple")
	salt := []byte{1, 2, 3, 4}

	k1 := deriveAESKey(password, salt, 4)
	k2 := deriveAESKey(password, salt, 4)
	if len(k1) != 32 {
		t.Fatalf("key length = %d, want 32", len(k1))
	}
	if string(k1) != string(k2) {
		t.Fatal("deriveAESKey is not deterministic for identical inputs")
	}
}

func TestDeriveAESKeyDivergesOnPassword(t *testing.T) {
	salt := []byte{1, 2, 3, 4}
	k1 := deriveAESKey([]byte("password one"), salt, 4)
	k2 := deriveAESKey([]byte("password two"), salt, 4)
	if string(k1) == string(k2) {
		t.Fatal("different passwords produced the same key")
	}
}

func TestDeriveAESKeyDivergesOnCyclesPower(t *testing.T) {
	password := []byte("same password")
	salt := []byte{5, 6, 7, 8}
	k1 := deriveAESKey(password, salt, 0)
	k2 := deriveAESKey(password, salt, 1)
	if string(k1) == string(k2) {
		t.Fatal("different NumCyclesPower produced the same key")
	}
}

func TestDeriveAESKeyDivergesOnSalt(t *testing.T) {
	password := []byte("same password")
	k1 := deriveAESKey(password, []byte{1}, 2)
	k2 := deriveAESKey(password, []byte{2}, 2)
	if string(k1) == string(k2) {
		t.Fatal("different salts produced the same key")
	}
}
