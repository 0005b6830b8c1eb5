// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"fmt"
	"io"
)

// registerPPMdCodec recognises the PPMd7 method-id so archives naming it
// are not rejected at the identifier-matching layer, but its factories
// always fail: no pure-Go PPMd7 implementation exists in this module's
// dependency set or, to this author's knowledge, the wider ecosystem. A
// future release can register a real coder here without touching the
// registry, graph or chain layers.
func registerPPMdCodec() {
	registerMethod([]byte{0x03, 0x04, 0x01}, MethodPPMd,
		func(_ []io.Reader, _ []byte, _ uint64, _ []byte) (io.Reader, error) {
			return nil, fmt.Errorf("%w: PPMd7 (no implementation available)", ErrUnsupportedMethod)
		},
		func(_ io.Writer, _ EncoderConfiguration) (io.WriteCloser, []byte, error) {
			return nil, nil, fmt.Errorf("%w: PPMd7 (no implementation available)", ErrUnsupportedMethod)
		},
	)
}
