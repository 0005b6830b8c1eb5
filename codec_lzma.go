// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// lzma2DictSize decodes LZMA2's single-byte dictionary-size property using
// the standard 7z/xz formula.
func lzma2DictSize(p []byte) (uint32, error) {
	if len(p) < 1 {
		return 0, fmt.Errorf("%w: LZMA2 properties empty", ErrInvalidCoderGraph)
	}
	prop := p[0]
	if prop > 40 {
		return 0, fmt.Errorf("%w: LZMA2 dictionary-size byte %d out of range", ErrInvalidCoderGraph, prop)
	}
	if prop == 40 {
		return 0xFFFFFFFF, nil
	}
	return (uint32(2) | uint32(prop&1)) << (uint(prop)/2 + 11), nil
}

// classicLZMAHeaderSize is the 13-byte header of the standalone .lzma
// format: 1 properties byte, 4 bytes of little-endian dictionary size,
// and 8 bytes of little-endian uncompressed size. 7z stores the first
// five of those as coder properties and the size in its own tables, so
// the raw stream on disk carries no header at all; bridging to a library
// that speaks the standalone format means synthesising the header on the
// way in and discarding it on the way out.
const classicLZMAHeaderSize = 13

// headerDiscardWriter swallows the first skip bytes written through it,
// stripping the classic header the lzma encoder emits before the raw
// stream 7z actually stores.
type headerDiscardWriter struct {
	w    io.Writer
	skip int
}

func (h *headerDiscardWriter) Write(p []byte) (int, error) {
	total := len(p)
	if h.skip > 0 {
		n := h.skip
		if n > len(p) {
			n = len(p)
		}
		h.skip -= n
		p = p[n:]
	}
	if len(p) == 0 {
		return total, nil
	}
	if _, err := h.w.Write(p); err != nil {
		return 0, err
	}
	return total, nil
}

func registerLZMACodecs() {
	registerMethod([]byte{0x03, 0x01, 0x01}, MethodLZMA,
		func(ins []io.Reader, props []byte, size uint64, _ []byte) (io.Reader, error) {
			if len(props) < 5 {
				return nil, fmt.Errorf("%w: LZMA properties too short", ErrInvalidCoderGraph)
			}
			// Synthesise the classic header from the 7z-side properties
			// and declared size, then hand the library a stream that looks
			// like a standalone .lzma file.
			hdr := make([]byte, classicLZMAHeaderSize)
			copy(hdr[:5], props[:5])
			binary.LittleEndian.PutUint64(hdr[5:13], size)
			return lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), ins[0]))
		},
		func(w io.Writer, cfg EncoderConfiguration) (io.WriteCloser, []byte, error) {
			dictSize := lzmaDictSizeForPreset(cfg)
			lc, pb := orDefault(cfg.LC, 3), orDefault(cfg.PB, 2)
			wc := lzma.WriterConfig{
				Properties: &lzma.Properties{LC: lc, LP: cfg.LP, PB: pb},
				DictCap:    int(dictSize),
			}
			w2, err := wc.NewWriter(&headerDiscardWriter{w: w, skip: classicLZMAHeaderSize})
			if err != nil {
				return nil, nil, err
			}
			return w2, encodeLZMAProperties(lc, cfg.LP, pb, dictSize), nil
		},
	)

	registerMethod([]byte{0x21}, MethodLZMA2,
		func(ins []io.Reader, props []byte, size uint64, _ []byte) (io.Reader, error) {
			dictSize, err := lzma2DictSize(props)
			if err != nil {
				return nil, err
			}
			cfg := lzma.Reader2Config{DictCap: int(dictSize)}
			return cfg.NewReader2(ins[0])
		},
		func(w io.Writer, cfg EncoderConfiguration) (io.WriteCloser, []byte, error) {
			dictSize := lzmaDictSizeForPreset(cfg)
			wc := lzma.Writer2Config{DictCap: int(dictSize)}
			w2, err := wc.NewWriter2(w)
			if err != nil {
				return nil, nil, err
			}
			return w2, []byte{encodeLZMA2DictByte(dictSize)}, nil
		},
	)
}

// encodeLZMAProperties packs lc/lp/pb into a single byte followed by the
// little-endian dictionary size, the layout readers expect back.
func encodeLZMAProperties(lc, lp, pb int, dictSize uint32) []byte {
	out := make([]byte, 5)
	out[0] = byte((pb*5+lp)*9 + lc)
	binary.LittleEndian.PutUint32(out[1:5], dictSize)
	return out
}

// encodeLZMA2DictByte is the inverse of lzma2DictSize: the smallest 7z
// dictionary-size byte whose decoded size is >= dictSize.
func encodeLZMA2DictByte(dictSize uint32) byte {
	if dictSize >= 0xFFFFFFFF {
		return 40
	}
	for prop := 0; prop < 40; prop++ {
		size := (uint32(2) | uint32(prop&1)) << (uint(prop)/2 + 11)
		if size >= dictSize {
			return byte(prop)
		}
	}
	return 40
}

// lzmaDictSizeForPreset maps a 0-9 preset to a dictionary size when the
// caller hasn't set one explicitly, following 7-Zip's conventional preset
// table (1 MiB at preset 0 up to 64 MiB at preset 9).
func lzmaDictSizeForPreset(cfg EncoderConfiguration) uint32 {
	if cfg.DictSize != 0 {
		return cfg.DictSize
	}
	presets := [...]uint32{
		1 << 20, 1 << 20, 1 << 21, 1 << 22, 1 << 23,
		1 << 24, 1 << 25, 1 << 25, 1 << 26, 1 << 26,
	}
	p := cfg.Preset
	if p < 0 || p >= len(presets) {
		p = 6
	}
	return presets[p]
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
