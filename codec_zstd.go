// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

func registerZSTDCodec() {
	registerMethod([]byte{0x04, 0xF7, 0x11, 0x01}, MethodZSTD,
		func(ins []io.Reader, _ []byte, _ uint64, _ []byte) (io.Reader, error) {
			dec, err := zstd.NewReader(ins[0])
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
		func(w io.Writer, cfg EncoderConfiguration) (io.WriteCloser, []byte, error) {
			level := zstd.SpeedDefault
			if cfg.ZSTDLevel != 0 {
				level = zstd.EncoderLevelFromZstd(cfg.ZSTDLevel)
			}
			zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
			return zw, nil, err
		},
	)
}
