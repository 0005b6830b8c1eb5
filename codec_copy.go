// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import "io"

// nopWriteCloser adapts an io.Writer with no flush/trailer state into an
// io.WriteCloser, for codecs (COPY, and any encoder wrapping one that
// never needs Close to do work) the chain builder can still Close
// uniformly.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func registerCopyCodec() {
	registerMethod([]byte{0x00}, MethodCopy,
		func(ins []io.Reader, _ []byte, _ uint64, _ []byte) (io.Reader, error) {
			return ins[0], nil
		},
		func(w io.Writer, _ EncoderConfiguration) (io.WriteCloser, []byte, error) {
			return nopWriteCloser{w}, nil, nil
		},
	)
}
