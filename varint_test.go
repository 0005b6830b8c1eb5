// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bufio"
	"bytes"
	"testing"
)

func TestNumberRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7F, 0x80, 0xFF, 0x100, 0xFFFF, 0x10000,
		0xFFFFFFFF, 0x100000000, 1<<56 - 1, 1 << 56, ^uint64(0),
	}
	for _, v := range values {
		var buf bytes.Buffer
		if err := writeNumber(&buf, v); err != nil {
			t.Fatalf("writeNumber(%d): %v", v, err)
		}
		got, err := readNumber(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("readNumber(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
	}
}

func TestAppendNumberMinimalLength(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 1},
		{0x7F, 1},
		{0x80, 2},
		{0x3FFF, 2},
		{0x4000, 3},
		{0xFFFFFFFF, 5},
	}
	for _, c := range cases {
		got := appendNumber(nil, c.v)
		if len(got) != c.want {
			t.Errorf("appendNumber(%d): length %d, want %d", c.v, len(got), c.want)
		}
	}
}

func TestReadNumberMalformed(t *testing.T) {
	// First byte claims 8 extra bytes follow; buffer has none.
	r := bufio.NewReader(bytes.NewReader([]byte{0xFF}))
	if _, err := readNumber(r); err == nil {
		t.Fatal("expected error on truncated varint")
	}
}
