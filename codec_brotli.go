// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"io"

	"github.com/andybalholm/brotli"
)

func registerBrotliCodec() {
	registerMethod([]byte{0x04, 0xF7, 0x11, 0x02}, MethodBrotli,
		func(ins []io.Reader, _ []byte, _ uint64, _ []byte) (io.Reader, error) {
			return brotli.NewReader(ins[0]), nil
		},
		func(w io.Writer, cfg EncoderConfiguration) (io.WriteCloser, []byte, error) {
			quality := cfg.BrotliQuality
			if quality == 0 {
				quality = brotli.DefaultCompression
			}
			window := cfg.BrotliWindow
			if window == 0 {
				window = 22
			}
			bw := brotli.NewWriterOptions(w, brotli.WriterOptions{Quality: quality, LGWin: window})
			return bw, nil, nil
		},
	)
}
