// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"hash"
	"hash/crc32"
	"io"
)

// crcTable is the standard IEEE-802.3 CRC-32 polynomial table (0xEDB88320,
// reflected), the same checksum the 7z format uses for the start header,
// the next header, and optionally every pack stream, block and file.
var crcTable = crc32.MakeTable(crc32.IEEE)

// newCRC returns a fresh, incremental CRC-32/IEEE hash.
func newCRC() hash.Hash32 {
	return crc32.New(crcTable)
}

// checksum is a one-shot CRC-32/IEEE over a byte span.
func checksum(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}

// crcWriter tees writes through an incremental CRC-32, used to compute a
// block's or file's checksum while its decoded bytes stream past.
type crcWriter struct {
	h hash.Hash32
}

func newCRCWriter() *crcWriter {
	return &crcWriter{h: newCRC()}
}

func (c *crcWriter) Write(p []byte) (int, error) {
	return c.h.Write(p)
}

func (c *crcWriter) Sum32() uint32 {
	return c.h.Sum32()
}

// crcReader wraps an io.Reader, accumulating a CRC-32 over every byte read
// so a caller can verify the stream's checksum once EOF is reached.
type crcReader struct {
	r io.Reader
	h hash.Hash32
}

func newCRCReader(r io.Reader) *crcReader {
	return &crcReader{r: r, h: newCRC()}
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
	}
	return n, err
}

func (c *crcReader) Sum32() uint32 {
	return c.h.Sum32()
}
