// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import "fmt"

// Coder is one codec or filter stage inside a Block ("folder" in the 7z
// specification, renamed here to avoid clashing with filesystem folders).
type Coder struct {
	// MethodID identifies the codec (1-15 bytes, e.g. 03 01 01 for LZMA).
	MethodID []byte

	// NumInStreams and NumOutStreams are this coder's input/output stream
	// counts. Most coders have exactly one of each; BCJ2 has four inputs
	// and one output, LZMA2 can take an auxiliary dictionary-reset stream.
	NumInStreams  int
	NumOutStreams int

	// Properties are opaque, method-specific bytes (e.g. LZMA's lc/lp/pb
	// and dictionary size, AES's salt/IV/cycles power).
	Properties []byte
}

// bindPair connects one coder's input stream to another coder's output
// stream inside the same Block. Indices are flat: they count streams
// across all coders in declaration order, not per-coder.
type bindPair struct {
	InIndex  int
	OutIndex int
}

// Block is one unit of coder chaining ("folder"), containing one or more
// files' worth of data multiplexed through an ordered list of coders.
type Block struct {
	Coders    []Coder
	bindPairs []bindPair

	// packedIndices maps packed-stream position (the i-th pack stream
	// consumed by this block) to the flat input-stream index it feeds.
	packedIndices []int

	// UnpackSizes holds the declared unpacked size of every flat output
	// stream, indexed the same way as OutStreamCoder.
	UnpackSizes []uint64

	HasCRC bool
	CRC    uint32
}

// NumInStreams returns the total number of input streams across all coders.
func (b *Block) NumInStreams() int {
	n := 0
	for _, c := range b.Coders {
		n += c.NumInStreams
	}
	return n
}

// NumOutStreams returns the total number of output streams across all coders.
func (b *Block) NumOutStreams() int {
	n := 0
	for _, c := range b.Coders {
		n += c.NumOutStreams
	}
	return n
}

// InStreamCoder returns the coder index owning flat input stream i and the
// stream's position within that coder's own inputs.
func (b *Block) InStreamCoder(i int) (coderIndex, localIndex int) {
	for ci, c := range b.Coders {
		if i < c.NumInStreams {
			return ci, i
		}
		i -= c.NumInStreams
	}
	return -1, -1
}

// OutStreamCoder returns the coder index owning flat output stream i and
// the stream's position within that coder's own outputs.
func (b *Block) OutStreamCoder(i int) (coderIndex, localIndex int) {
	for ci, c := range b.Coders {
		if i < c.NumOutStreams {
			return ci, i
		}
		i -= c.NumOutStreams
	}
	return -1, -1
}

// coderFirstOutStream returns the flat index of a coder's first output
// stream.
func (b *Block) coderFirstOutStream(coderIndex int) int {
	n := 0
	for i := 0; i < coderIndex; i++ {
		n += b.Coders[i].NumOutStreams
	}
	return n
}

// coderFirstInStream returns the flat index of a coder's first input
// stream.
func (b *Block) coderFirstInStream(coderIndex int) int {
	n := 0
	for i := 0; i < coderIndex; i++ {
		n += b.Coders[i].NumInStreams
	}
	return n
}

// bindPairForInStream returns the bindPair feeding flat input stream i, or
// nil if that input stream is fed directly by a packed stream instead.
func (b *Block) bindPairForInStream(i int) *bindPair {
	for idx := range b.bindPairs {
		if b.bindPairs[idx].InIndex == i {
			return &b.bindPairs[idx]
		}
	}
	return nil
}

// bindPairForOutStream returns the bindPair consuming flat output stream i,
// or nil if that output stream is the block's primary (unbound) output.
func (b *Block) bindPairForOutStream(i int) *bindPair {
	for idx := range b.bindPairs {
		if b.bindPairs[idx].OutIndex == i {
			return &b.bindPairs[idx]
		}
	}
	return nil
}

// packedStreamInIndex returns the flat input-stream index fed by the i-th
// packed stream consumed by this block.
func (b *Block) packedStreamInIndex(i int) int {
	return b.packedIndices[i]
}

// primaryOutStream returns the flat index of the block's single unbound
// output stream: the terminal coder's output, the root of the decode
// traversal.
func (b *Block) primaryOutStream() (int, error) {
	found := -1
	for i := 0; i < b.NumOutStreams(); i++ {
		if b.bindPairForOutStream(i) == nil {
			if found != -1 {
				return -1, fmt.Errorf("%w: block has more than one unbound output stream", ErrInvalidCoderGraph)
			}
			found = i
		}
	}
	if found == -1 {
		return -1, fmt.Errorf("%w: block has no unbound output stream", ErrInvalidCoderGraph)
	}
	return found, nil
}

// unpackSize returns the declared unpacked size of the block's primary
// output stream.
func (b *Block) unpackSize() (uint64, error) {
	i, err := b.primaryOutStream()
	if err != nil {
		return 0, err
	}
	if i >= len(b.UnpackSizes) {
		return 0, fmt.Errorf("%w: missing unpack size for stream %d", ErrInvalidCoderGraph, i)
	}
	return b.UnpackSizes[i], nil
}

// validate checks the block's graph topology: every packed-stream index
// refers to a distinct, existing input stream, every bound input resolves
// to an existing output, and the graph rooted at the primary output stream
// is acyclic and fully connected (no dangling bindings).
func (b *Block) validate() error {
	numIn := b.NumInStreams()
	numOut := b.NumOutStreams()

	seenPacked := make(map[int]bool, len(b.packedIndices))
	for _, idx := range b.packedIndices {
		if idx < 0 || idx >= numIn {
			return fmt.Errorf("%w: packed-stream index %d out of range", ErrInvalidCoderGraph, idx)
		}
		if seenPacked[idx] {
			return fmt.Errorf("%w: packed-stream index %d used twice", ErrInvalidCoderGraph, idx)
		}
		seenPacked[idx] = true
	}

	for _, bp := range b.bindPairs {
		if bp.InIndex < 0 || bp.InIndex >= numIn {
			return fmt.Errorf("%w: bind pair input index %d out of range", ErrInvalidCoderGraph, bp.InIndex)
		}
		if bp.OutIndex < 0 || bp.OutIndex >= numOut {
			return fmt.Errorf("%w: bind pair output index %d out of range", ErrInvalidCoderGraph, bp.OutIndex)
		}
	}

	// Every input stream must be resolved by exactly one of: a bind pair,
	// or a packed-stream index. None may be left dangling.
	for i := 0; i < numIn; i++ {
		bp := b.bindPairForInStream(i)
		if bp != nil && seenPacked[i] {
			return fmt.Errorf("%w: input stream %d is both bound and packed", ErrInvalidCoderGraph, i)
		}
		if bp == nil && !seenPacked[i] {
			return fmt.Errorf("%w: input stream %d has no source", ErrInvalidCoderGraph, i)
		}
	}

	if _, err := b.primaryOutStream(); err != nil {
		return err
	}

	return b.detectCycle()
}

// detectCycle walks the graph from every coder and rejects any path that
// revisits a coder, defending against adversarial archives that encode a
// loop in their bind pairs.
func (b *Block) detectCycle() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make([]int, len(b.Coders))

	var visit func(coderIndex int) error
	visit = func(coderIndex int) error {
		if state[coderIndex] == gray {
			return fmt.Errorf("%w: cycle detected at coder %d", ErrInvalidCoderGraph, coderIndex)
		}
		if state[coderIndex] == black {
			return nil
		}
		state[coderIndex] = gray
		first := b.coderFirstInStream(coderIndex)
		for i := 0; i < b.Coders[coderIndex].NumInStreams; i++ {
			bp := b.bindPairForInStream(first + i)
			if bp == nil {
				continue
			}
			upstream, _ := b.OutStreamCoder(bp.OutIndex)
			if upstream == -1 {
				return fmt.Errorf("%w: bind pair references unknown coder", ErrInvalidCoderGraph)
			}
			if err := visit(upstream); err != nil {
				return err
			}
		}
		state[coderIndex] = black
		return nil
	}

	for i := range b.Coders {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}
