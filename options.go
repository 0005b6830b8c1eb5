// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"github.com/go-kratos/kratos/v2/log"
)

// defaultHeaderSizeLimit bounds the decoded size of an encoded header to
// defeat zip-bomb-style headers. 1 GiB is a conservative sane default.
const defaultHeaderSizeLimit = 1 << 30

// ReaderOptions configures Open/OpenWithPassword. The zero value is a
// working, conservative default.
type ReaderOptions struct {
	// Password decrypts an AES-coded header or block. Raw bytes, not a text
	// decoding: callers choose whether to encode a passphrase as UTF-16LE.
	Password []byte

	// HeaderSizeLimit caps the decoded size of an encoded header. Zero
	// means defaultHeaderSizeLimit.
	HeaderSizeLimit int64

	// BlockCacheSize bounds how many decoder chains the reader keeps warm
	// for solid-block sequential extraction. Zero means 2.
	BlockCacheSize int

	// Logger receives debug/info/error traces. Nil means a kratos
	// std-logger filtered to error level.
	Logger log.Logger
}

func (o *ReaderOptions) headerLimit() int64 {
	if o == nil || o.HeaderSizeLimit <= 0 {
		return defaultHeaderSizeLimit
	}
	return o.HeaderSizeLimit
}

func (o *ReaderOptions) blockCacheSize() int {
	if o == nil || o.BlockCacheSize <= 0 {
		return 2
	}
	return o.BlockCacheSize
}

func (o *ReaderOptions) password() []byte {
	if o == nil {
		return nil
	}
	return o.Password
}

func (o *ReaderOptions) logger() log.Logger {
	if o == nil || o.Logger == nil {
		return defaultLogger()
	}
	return o.Logger
}

// Method names an encoder/decoder the codec registry can build. These
// mirror the on-disk method-id table.
type Method int

const (
	MethodCopy Method = iota
	MethodLZMA
	MethodLZMA2
	MethodBZIP2
	MethodDeflate
	MethodZSTD
	MethodBrotli
	MethodLZ4
	MethodPPMd
	MethodDelta
	MethodBCJX86
	MethodBCJARM
	MethodBCJARM64
	MethodBCJARMT
	MethodBCJPPC
	MethodBCJSPARC
	MethodBCJIA64
	MethodBCJRISCV
	MethodBCJ2
	MethodAES256SHA256
)

// EncoderConfiguration is one stage of a Writer's content pipeline. Most
// fields apply only to their matching Method and are ignored otherwise.
type EncoderConfiguration struct {
	Method Method

	// LZMA/LZMA2
	Preset     int // 0-9, used when DictSize is zero
	DictSize   uint32
	LC, LP, PB int

	// PPMd7
	Order     int
	MemSizeMB int

	// BZIP2
	BZIP2Level int

	// DEFLATE
	DeflateLevel int

	// ZSTD
	ZSTDLevel int

	// BROTLI
	BrotliQuality int
	BrotliWindow  int

	// LZ4
	SkippableFrameSize int

	// DELTA
	DeltaDistance int

	// BCJ variants
	StartOffset uint32

	// AES-256-SHA-256
	Password        []byte
	IterationsPower int
}

// defaultContentMethods is the writer's default pipeline absent any
// SetContentMethods call: LZMA2 at preset 6.
func defaultContentMethods() []EncoderConfiguration {
	return []EncoderConfiguration{{Method: MethodLZMA2, Preset: 6}}
}

// WriterOptions configures Create. The zero value is solid mode, LZMA2
// preset 6, no encryption.
type WriterOptions struct {
	// Solid selects the writer's solid policy. Defaults to true.
	Solid *bool

	// ContentMethods is the default encoder pipeline new blocks are built
	// with. Empty means defaultContentMethods().
	ContentMethods []EncoderConfiguration

	// Password, if non-empty, appends an AES-256-SHA-256 stage after every
	// block's content methods, so the already-encoded bytes are encrypted,
	// and encodes the header with a single AES coder.
	Password []byte

	Logger log.Logger
}

func (o *WriterOptions) solid() bool {
	if o == nil || o.Solid == nil {
		return true
	}
	return *o.Solid
}

func (o *WriterOptions) contentMethods() []EncoderConfiguration {
	if o == nil || len(o.ContentMethods) == 0 {
		return defaultContentMethods()
	}
	return append([]EncoderConfiguration(nil), o.ContentMethods...)
}

func (o *WriterOptions) password() []byte {
	if o == nil {
		return nil
	}
	return o.Password
}

func (o *WriterOptions) logger() log.Logger {
	if o == nil || o.Logger == nil {
		return defaultLogger()
	}
	return o.Logger
}
