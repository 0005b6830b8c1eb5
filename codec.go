// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"encoding/hex"
	"fmt"
	"io"
)

// decoderFactory builds a reader that decodes one coder's output stream
// given its already-resolved input streams (ins[0] is primary; BCJ2 and
// similar multi-input coders use ins[1:] for their auxiliary streams),
// its opaque properties, and the coder's declared unpacked size.
type decoderFactory func(ins []io.Reader, props []byte, unpackedSize uint64, password []byte) (io.Reader, error)

// encoderFactory builds a writer that encodes bytes written to it into w,
// according to cfg. Close must be called to flush trailing codec state.
// properties are the coder's opaque on-disk property bytes (e.g. LZMA's
// lc/lp/pb and dictionary size, or AES's freshly generated salt/IV); the
// block/header layer stores them verbatim so a reader can reconstruct the
// exact same decoder.
type encoderFactory func(w io.Writer, cfg EncoderConfiguration) (wc io.WriteCloser, properties []byte, err error)

// methodInfo is one codec registry entry: a method-id byte sequence paired
// with the factories that build its decoder and encoder.
type methodInfo struct {
	id     []byte
	method Method
	decode decoderFactory
	encode encoderFactory
}

// registry is the constant table built at package init with zero runtime
// mutation, one entry per recognised on-disk method-id.
var registry []methodInfo

var (
	registryByHex    map[string]*methodInfo
	registryByMethod map[Method]*methodInfo
)

func registerMethod(id []byte, method Method, decode decoderFactory, encode encoderFactory) {
	registry = append(registry, methodInfo{id: id, method: method, decode: decode, encode: encode})
}

func init() {
	registerCopyCodec()
	registerLZMACodecs()
	registerDeflateCodec()
	registerBZIP2Codec()
	registerZSTDCodec()
	registerBrotliCodec()
	registerLZ4Codec()
	registerPPMdCodec()
	registerFilterCodecs()
	registerBCJ2Filter()
	registerAESCodec()

	registryByHex = make(map[string]*methodInfo, len(registry))
	registryByMethod = make(map[Method]*methodInfo, len(registry))
	for i := range registry {
		registryByHex[hex.EncodeToString(registry[i].id)] = &registry[i]
		registryByMethod[registry[i].method] = &registry[i]
	}
}

// lookupByID resolves a coder's on-disk method-id bytes to its registry
// entry. An unrecognised identifier is a hard error on read.
func lookupByID(id []byte) (*methodInfo, error) {
	info, ok := registryByHex[hex.EncodeToString(id)]
	if !ok {
		return nil, fmt.Errorf("%w: method-id %x", ErrUnsupportedMethod, id)
	}
	return info, nil
}

// lookupByMethod resolves an EncoderConfiguration's Method to its registry
// entry. Unrecognised by construction: Method is a closed enum the writer
// can only ever populate with a value this package defines.
func lookupByMethod(m Method) (*methodInfo, error) {
	info, ok := registryByMethod[m]
	if !ok {
		return nil, fmt.Errorf("%w: method %d", ErrInternal, m)
	}
	return info, nil
}
