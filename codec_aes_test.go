// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestAESPropertiesRoundTrip(t *testing.T) {
	cases := []struct {
		name           string
		numCyclesPower int
		salt, iv       []byte
	}{
		{"no salt no iv", 19, nil, nil},
		{"full 16-byte iv", 19, nil, bytes.Repeat([]byte{0xAB}, 16)},
		{"salt and iv", 6, []byte{1, 2, 3, 4}, bytes.Repeat([]byte{0xCD}, 16)},
		{"short iv", 10, nil, []byte{9, 8, 7}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			props := encodeAESProperties(c.numCyclesPower, c.salt, c.iv)
			ncp, salt, iv, err := aesProperties(props)
			if err != nil {
				t.Fatalf("aesProperties: %v", err)
			}
			if ncp != c.numCyclesPower {
				t.Fatalf("NumCyclesPower = %d, want %d", ncp, c.numCyclesPower)
			}
			if !bytes.Equal(salt, c.salt) && !(len(salt) == 0 && len(c.salt) == 0) {
				t.Fatalf("salt = %x, want %x", salt, c.salt)
			}
			if !bytes.Equal(iv, c.iv) && !(len(iv) == 0 && len(c.iv) == 0) {
				t.Fatalf("iv = %x, want %x", iv, c.iv)
			}
		})
	}
}

// TestAESPropertiesRejectsExcessiveCyclesPower guards the key-derivation
// loop: the property byte can claim up to 2^63 SHA-256 rounds, and an
// archive is untrusted input, so anything past the supported maximum must
// be rejected before derivation starts rather than ground through.
func TestAESPropertiesRejectsExcessiveCyclesPower(t *testing.T) {
	for _, ncp := range []byte{25, 0x3F} {
		_, _, _, err := aesProperties([]byte{ncp})
		if !errors.Is(err, ErrUnsupportedMethod) {
			t.Fatalf("NumCyclesPower %d: error = %v, want ErrUnsupportedMethod", ncp, err)
		}
	}
	if _, _, _, err := aesProperties([]byte{24}); err != nil {
		t.Fatalf("NumCyclesPower 24 should be accepted, got %v", err)
	}
}

func TestAESPropertiesRejectsTruncated(t *testing.T) {
	if _, _, _, err := aesProperties(nil); !errors.Is(err, ErrInvalidCoderGraph) {
		t.Fatalf("empty props: error = %v, want ErrInvalidCoderGraph", err)
	}
	if _, _, _, err := aesProperties([]byte{0x80 | 19}); !errors.Is(err, ErrInvalidCoderGraph) {
		t.Fatalf("missing size byte: error = %v, want ErrInvalidCoderGraph", err)
	}
	// Claims a 16-byte IV but carries none of it.
	if _, _, _, err := aesProperties([]byte{0x40 | 19, 0x0F}); !errors.Is(err, ErrInvalidCoderGraph) {
		t.Fatalf("truncated iv: error = %v, want ErrInvalidCoderGraph", err)
	}
}

func TestAESEncryptDecryptRoundTrip(t *testing.T) {
	password := []byte("round trip me")
	plain := bytes.Repeat([]byte("sixteen byte blocks are the unit of CBC. "), 40)

	info, err := lookupByMethod(MethodAES256SHA256)
	if err != nil {
		t.Fatalf("lookupByMethod: %v", err)
	}

	var ciphertext bytes.Buffer
	wc, props, err := info.encode(&ciphertext, EncoderConfiguration{Method: MethodAES256SHA256, Password: password, IterationsPower: 4})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := wc.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ciphertext.Len()%16 != 0 {
		t.Fatalf("ciphertext length %d is not block-aligned", ciphertext.Len())
	}

	r, err := info.decode([]io.Reader{bytes.NewReader(ciphertext.Bytes())}, props, uint64(len(plain)), password)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
	}
}

func TestAESDecodeRequiresPassword(t *testing.T) {
	info, err := lookupByMethod(MethodAES256SHA256)
	if err != nil {
		t.Fatalf("lookupByMethod: %v", err)
	}
	_, err = info.decode([]io.Reader{bytes.NewReader(nil)}, []byte{19}, 0, nil)
	if !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("error = %v, want ErrPasswordRequired", err)
	}
}
