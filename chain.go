// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"fmt"
	"io"
)

// buildDecoderChain wires a Block's coder graph into a single io.Reader
// producing the block's primary (unpacked) output stream. packedStreams
// holds one reader per packed stream the block consumes, in declaration
// order, already sliced to their on-disk extents.
//
// Construction walks the graph backwards from the primary output stream,
// recursively resolving each coder's inputs to either another coder's
// output (via a bind pair) or a packed stream, matching the way imports.go
// resolves a bound import's thunk chain back to its owning module.
func buildDecoderChain(block *Block, packedStreams []io.Reader, password []byte) (io.Reader, error) {
	if err := block.validate(); err != nil {
		return nil, err
	}
	primary, err := block.primaryOutStream()
	if err != nil {
		return nil, err
	}

	built := make([]io.Reader, block.NumOutStreams())
	building := make([]bool, len(block.Coders))

	var resolveOut func(outIdx int) (io.Reader, error)
	resolveOut = func(outIdx int) (io.Reader, error) {
		if r := built[outIdx]; r != nil {
			return r, nil
		}
		coderIdx, _ := block.OutStreamCoder(outIdx)
		if coderIdx < 0 {
			return nil, fmt.Errorf("%w: output stream %d has no owning coder", ErrInvalidCoderGraph, outIdx)
		}
		if building[coderIdx] {
			return nil, fmt.Errorf("%w: cycle building coder %d", ErrInvalidCoderGraph, coderIdx)
		}
		building[coderIdx] = true
		defer func() { building[coderIdx] = false }()

		coder := block.Coders[coderIdx]
		ins := make([]io.Reader, coder.NumInStreams)
		firstIn := block.coderFirstInStream(coderIdx)
		for j := 0; j < coder.NumInStreams; j++ {
			flatIn := firstIn + j
			if bp := block.bindPairForInStream(flatIn); bp != nil {
				r, err := resolveOut(bp.OutIndex)
				if err != nil {
					return nil, err
				}
				ins[j] = r
				continue
			}
			packedPos := -1
			for i, idx := range block.packedIndices {
				if idx == flatIn {
					packedPos = i
					break
				}
			}
			if packedPos == -1 || packedPos >= len(packedStreams) {
				return nil, fmt.Errorf("%w: input stream %d has no packed source", ErrInvalidCoderGraph, flatIn)
			}
			ins[j] = packedStreams[packedPos]
		}

		info, err := lookupByID(coder.MethodID)
		if err != nil {
			return nil, err
		}
		firstOut := block.coderFirstOutStream(coderIdx)
		unpackedSize := uint64(0)
		if firstOut < len(block.UnpackSizes) {
			unpackedSize = block.UnpackSizes[firstOut]
		}
		r, err := info.decode(ins, coder.Properties, unpackedSize, password)
		if err != nil {
			return nil, fmt.Errorf("coder %x: %w", coder.MethodID, err)
		}

		for k := 0; k < coder.NumOutStreams; k++ {
			built[firstOut+k] = r
		}
		return r, nil
	}

	return resolveOut(primary)
}

// countingWriter tees writes through to an underlying writer while
// tallying the total byte count, so the block metadata can record each
// stream's exact size once the chain is closed.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// encoderChain is the built output of buildEncoderChain: the writer a
// caller streams plaintext into, plus the Coder/bindPair metadata the
// header codec needs to describe the resulting block.
type encoderChain struct {
	entry        io.Writer
	closeInOrder []io.WriteCloser
	Coders       []Coder
	BindPairs    []bindPair

	// counters[i] sits in front of encode stage i, so counters[i].n is the
	// byte count flowing into that stage. Read back, that same count is
	// coder i's decoded output size, which is what CodersUnpackSize
	// records.
	counters    []*countingWriter
	packCounter *countingWriter
}

// UnpackSizes returns each coder's decoded-direction output size (the
// bytes that entered its encode stage), valid only after Close has fully
// flushed the chain. Indices match the flat output-stream order
// buildDecoderChain resolves.
func (c *encoderChain) UnpackSizes() []uint64 {
	sizes := make([]uint64, len(c.counters))
	for i, cw := range c.counters {
		sizes[i] = cw.n
	}
	return sizes
}

// PackSize returns the total byte count the chain's innermost stage wrote
// to the pack-stream sink, valid only after Close.
func (c *encoderChain) PackSize() uint64 {
	return c.packCounter.n
}

func (c *encoderChain) Write(p []byte) (int, error) { return c.entry.Write(p) }

// Close flushes every stage in data-flow order: the outermost (first)
// encoder must finish writing its trailing bytes into the next stage
// before that stage is closed in turn, down to the one writing directly
// to the pack-stream sink.
func (c *encoderChain) Close() error {
	for _, w := range c.closeInOrder {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// buildEncoderChain assembles a linear pipeline from an ordered list of
// EncoderConfiguration stages into a single Block description plus the
// io.WriteCloser the caller writes plaintext into. configs[0] is the
// outermost stage (closest to the plaintext); configs[len-1] writes
// directly to sink. This mirrors defaultContentMethods' single-coder case
// and generalises it to an arbitrary filter/compress/encrypt pipeline.
//
// The returned Coders/BindPairs describe the graph in the same direction
// buildDecoderChain expects to walk it: coder 0's output is the block's
// unbound primary (decoded) output, and coder len-1's input is the
// unbound stream a reader resolves from the packed area. The caller
// (typically the writer assembling a full Block) still has to fill in
// packedIndices with that unbound input's flat index.
func buildEncoderChain(sink io.Writer, configs []EncoderConfiguration) (*encoderChain, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: empty encoder pipeline", ErrInvalidCoderGraph)
	}

	writers := make([]io.WriteCloser, len(configs))
	coders := make([]Coder, len(configs))
	counters := make([]*countingWriter, len(configs))
	packCounter := &countingWriter{w: sink}
	current := io.Writer(packCounter)
	for i := len(configs) - 1; i >= 0; i-- {
		info, err := lookupByMethod(configs[i].Method)
		if err != nil {
			return nil, err
		}
		wc, props, err := info.encode(current, configs[i])
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", configs[i].Method, err)
		}
		writers[i] = wc
		counters[i] = &countingWriter{w: wc}
		coders[i] = Coder{MethodID: append([]byte(nil), info.id...), NumInStreams: 1, NumOutStreams: 1, Properties: props}
		current = counters[i]
	}

	bindPairs := make([]bindPair, 0, len(configs)-1)
	for i := 0; i < len(configs)-1; i++ {
		// Decoding runs in the opposite order from writing: coder i+1 must
		// be undone before coder i, so coder i+1's output feeds coder i's
		// input. Flat indices coincide with coder position since every
		// stage here has exactly one input and one output.
		bindPairs = append(bindPairs, bindPair{InIndex: i, OutIndex: i + 1})
	}

	return &encoderChain{
		entry:        counters[0],
		closeInOrder: writers,
		Coders:       coders,
		BindPairs:    bindPairs,
		counters:     counters,
		packCounter:  packCounter,
	}, nil
}
