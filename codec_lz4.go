// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

func registerLZ4Codec() {
	registerMethod([]byte{0x04, 0xF7, 0x11, 0x04}, MethodLZ4,
		func(ins []io.Reader, _ []byte, _ uint64, _ []byte) (io.Reader, error) {
			return lz4.NewReader(ins[0]), nil
		},
		func(w io.Writer, _ EncoderConfiguration) (io.WriteCloser, []byte, error) {
			return lz4.NewWriter(w), nil, nil
		},
	)
}
