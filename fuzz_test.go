// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bufio"
	"bytes"
	"testing"
)

// FuzzReadNumber exercises the variable-length integer decoder directly
// against arbitrary byte strings; it must never panic, and any value it
// does accept must round trip through writeNumber.
func FuzzReadNumber(f *testing.F) {
	seeds := [][]byte{
		{0x00},
		{0x7F},
		{0x80, 0x80},
		{0xFF, 1, 2, 3, 4, 5, 6, 7, 8},
		{0xFF},
		{},
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := readNumber(bufio.NewReader(bytes.NewReader(data)))
		if err != nil {
			return
		}
		var buf bytes.Buffer
		if err := writeNumber(&buf, v); err != nil {
			t.Fatalf("writeNumber(%d) after successful decode: %v", v, err)
		}
		got, err := readNumber(bufio.NewReader(bytes.NewReader(buf.Bytes())))
		if err != nil {
			t.Fatalf("re-decode of re-encoded value %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("re-decode mismatch: got %d, want %d", got, v)
		}
	})
}

// FuzzReadHeaderOrEncodedHeader exercises the header parser's top-level
// entry point against arbitrary bytes, since this is the first parser to
// see bytes from an untrusted archive. It checks only that no input makes
// the parser panic. It does not check the kind of error returned: some
// truncated inputs surface as plain I/O errors rather than one of this
// package's sentinel errors.
func FuzzReadHeaderOrEncodedHeader(f *testing.F) {
	f.Add([]byte{byte(idHeader), byte(idEnd)})
	f.Add([]byte{byte(idEncodedHeader), byte(idEnd)})
	f.Add([]byte{0xFF})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic on input %x: %v", data, r)
			}
		}()
		_, _ = readHeaderOrEncodedHeader(data, data, defaultHeaderSizeLimit, nil)
	})
}
