// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"io"

	"github.com/klauspost/compress/flate"
)

func registerDeflateCodec() {
	registerMethod([]byte{0x04, 0x01, 0x08}, MethodDeflate,
		func(ins []io.Reader, _ []byte, _ uint64, _ []byte) (io.Reader, error) {
			return flate.NewReader(ins[0]), nil
		},
		func(w io.Writer, cfg EncoderConfiguration) (io.WriteCloser, []byte, error) {
			level := cfg.DeflateLevel
			if level == 0 {
				level = flate.DefaultCompression
			}
			fw, err := flate.NewWriter(w, level)
			return fw, nil, err
		},
	)
}
