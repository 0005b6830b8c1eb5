// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"errors"
	"testing"
)

// simpleCopyBlock is a single-coder block: one packed stream feeds the
// coder's only input directly, with no bind pairs at all.
func simpleCopyBlock() *Block {
	return &Block{
		Coders: []Coder{
			{MethodID: []byte{0x00}, NumInStreams: 1, NumOutStreams: 1},
		},
		packedIndices: []int{0},
		UnpackSizes:   []uint64{10},
	}
}

func TestBlockValidateSimpleCopy(t *testing.T) {
	b := simpleCopyBlock()
	if err := b.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	out, err := b.primaryOutStream()
	if err != nil {
		t.Fatalf("primaryOutStream: %v", err)
	}
	if out != 0 {
		t.Fatalf("primaryOutStream = %d, want 0", out)
	}
	size, err := b.unpackSize()
	if err != nil {
		t.Fatalf("unpackSize: %v", err)
	}
	if size != 10 {
		t.Fatalf("unpackSize = %d, want 10", size)
	}
}

// TestBlockValidateChain builds a two-coder chain (e.g. BCJ -> LZMA2) where
// coder 1's output feeds coder 0's input, and coder 1's input is packed.
func TestBlockValidateChain(t *testing.T) {
	b := &Block{
		Coders: []Coder{
			{MethodID: []byte{0x03}, NumInStreams: 1, NumOutStreams: 1}, // BCJ, out stream 0
			{MethodID: []byte{0x21}, NumInStreams: 1, NumOutStreams: 1}, // LZMA2, out stream 1
		},
		bindPairs:     []bindPair{{InIndex: 0, OutIndex: 1}},
		packedIndices: []int{1},
		UnpackSizes:   []uint64{100, 200},
	}
	if err := b.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	out, err := b.primaryOutStream()
	if err != nil {
		t.Fatalf("primaryOutStream: %v", err)
	}
	if out != 0 {
		t.Fatalf("primaryOutStream = %d, want 0", out)
	}
}

func TestBlockValidateRejectsCycle(t *testing.T) {
	b := &Block{
		Coders: []Coder{
			{MethodID: []byte{0x01}, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: []byte{0x02}, NumInStreams: 1, NumOutStreams: 1},
		},
		bindPairs: []bindPair{
			{InIndex: 0, OutIndex: 1},
			{InIndex: 1, OutIndex: 0},
		},
		UnpackSizes: []uint64{1, 1},
	}
	err := b.validate()
	if err == nil {
		t.Fatal("expected cycle detection error")
	}
	if !errors.Is(err, ErrInvalidCoderGraph) {
		t.Fatalf("error = %v, want wrapping ErrInvalidCoderGraph", err)
	}
}

func TestBlockValidateRejectsDanglingInput(t *testing.T) {
	b := &Block{
		Coders: []Coder{
			{MethodID: []byte{0x01}, NumInStreams: 1, NumOutStreams: 1},
		},
		UnpackSizes: []uint64{1},
		// No bind pair and no packed index for the single input stream.
	}
	err := b.validate()
	if err == nil {
		t.Fatal("expected dangling input error")
	}
	if !errors.Is(err, ErrInvalidCoderGraph) {
		t.Fatalf("error = %v, want wrapping ErrInvalidCoderGraph", err)
	}
}

func TestBlockValidateRejectsMultiplePrimaryOutputs(t *testing.T) {
	b := &Block{
		Coders: []Coder{
			{MethodID: []byte{0x01}, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: []byte{0x02}, NumInStreams: 1, NumOutStreams: 1},
		},
		packedIndices: []int{0, 1},
		UnpackSizes:   []uint64{1, 1},
	}
	_, err := b.primaryOutStream()
	if err == nil {
		t.Fatal("expected error for two unbound outputs")
	}
	if !errors.Is(err, ErrInvalidCoderGraph) {
		t.Fatalf("error = %v, want wrapping ErrInvalidCoderGraph", err)
	}
}
