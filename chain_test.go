// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bytes"
	"io"
	"testing"
)

func TestBuildEncoderThenDecoderChainRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)

	var packed bytes.Buffer
	chain, err := buildEncoderChain(&packed, []EncoderConfiguration{{Method: MethodLZMA2, Preset: 6}})
	if err != nil {
		t.Fatalf("buildEncoderChain: %v", err)
	}
	if _, err := chain.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := chain.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	unpackSizes := chain.UnpackSizes()
	if len(unpackSizes) != 1 || unpackSizes[0] != uint64(len(plain)) {
		t.Fatalf("UnpackSizes = %v, want [%d]", unpackSizes, len(plain))
	}

	block := &Block{
		Coders:        chain.Coders,
		bindPairs:     chain.BindPairs,
		packedIndices: []int{len(chain.Coders) - 1},
		UnpackSizes:   unpackSizes,
	}
	if err := block.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	r, err := buildDecoderChain(block, []io.Reader{bytes.NewReader(packed.Bytes())}, nil)
	if err != nil {
		t.Fatalf("buildDecoderChain: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read decoded: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
	}
}

func TestBuildEncoderChainRejectsEmptyPipeline(t *testing.T) {
	var sink bytes.Buffer
	_, err := buildEncoderChain(&sink, nil)
	if err == nil {
		t.Fatal("expected error for empty encoder pipeline")
	}
}

func TestBuildDecoderChainTwoStage(t *testing.T) {
	// BCJ x86 filter over LZMA2-compressed data: coder 0 (BCJ) consumes
	// coder 1's (LZMA2) output; coder 1 consumes the packed stream.
	plain := bytes.Repeat([]byte{0x90, 0xE8, 0x00, 0x00, 0x00, 0x00}, 64)

	var packed bytes.Buffer
	chain, err := buildEncoderChain(&packed, []EncoderConfiguration{
		{Method: MethodBCJX86},
		{Method: MethodLZMA2, Preset: 6},
	})
	if err != nil {
		t.Fatalf("buildEncoderChain: %v", err)
	}
	if _, err := chain.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := chain.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	unpackSizes := chain.UnpackSizes()
	block := &Block{
		Coders:        chain.Coders,
		bindPairs:     chain.BindPairs,
		packedIndices: []int{len(chain.Coders) - 1},
		UnpackSizes:   unpackSizes,
	}
	r, err := buildDecoderChain(block, []io.Reader{bytes.NewReader(packed.Bytes())}, nil)
	if err != nil {
		t.Fatalf("buildDecoderChain: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read decoded: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("filtered round trip mismatch: got %d bytes, want %d", len(got), len(plain))
	}
}
