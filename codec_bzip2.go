// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"io"

	"github.com/dsnet/compress/bzip2"
)

// registerBZIP2Codec wires BZIP2 through dsnet/compress/bzip2, which
// offers a pure-Go BZIP2 encoder (stdlib compress/bzip2 only decodes).
func registerBZIP2Codec() {
	registerMethod([]byte{0x04, 0x02, 0x02}, MethodBZIP2,
		func(ins []io.Reader, _ []byte, _ uint64, _ []byte) (io.Reader, error) {
			return bzip2.NewReader(ins[0], nil)
		},
		func(w io.Writer, cfg EncoderConfiguration) (io.WriteCloser, []byte, error) {
			level := cfg.BZIP2Level
			if level == 0 {
				level = 6
			}
			bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
			return bw, nil, err
		},
	)
}
