// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"encoding/binary"
	"fmt"
	"time"
)

// signature is the fixed 6-byte magic every 7z file begins with.
var signature = [6]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// startHeaderSize is the fixed size of the region at the front of every
// archive: the 6-byte signature, 2-byte version, 4-byte StartHeader CRC,
// and the 20-byte StartHeader payload that CRC covers.
const startHeaderSize = 32

// startHeader is the fixed 32-byte region at the front of every 7z file.
type startHeader struct {
	VersionMajor     byte
	VersionMinor     byte
	NextHeaderOffset int64
	NextHeaderSize   int64
	NextHeaderCRC    uint32
}

// parseStartHeader validates the signature and StartHeader CRC over the
// first 32 bytes of an archive.
func parseStartHeader(data []byte) (*startHeader, error) {
	if len(data) < startHeaderSize {
		return nil, fmt.Errorf("%w: file shorter than start header", ErrBadSignature)
	}
	if [6]byte(data[:6]) != signature {
		return nil, ErrBadSignature
	}

	sh := &startHeader{
		VersionMajor: data[6],
		VersionMinor: data[7],
	}
	if sh.VersionMajor != 0 {
		return nil, ErrUnsupportedVersion
	}

	storedCRC := binary.LittleEndian.Uint32(data[8:12])
	if checksum(data[12:32]) != storedCRC {
		return nil, ErrBadStartHeaderCRC
	}

	sh.NextHeaderOffset = int64(binary.LittleEndian.Uint64(data[12:20]))
	sh.NextHeaderSize = int64(binary.LittleEndian.Uint64(data[20:28]))
	sh.NextHeaderCRC = binary.LittleEndian.Uint32(data[28:32])
	if sh.NextHeaderOffset < 0 || sh.NextHeaderSize < 0 {
		return nil, fmt.Errorf("%w: negative next-header offset or size", ErrHeaderCorrupted)
	}
	return sh, nil
}

// encodeStartHeader serialises sh back into its 32-byte on-disk form,
// computing the StartHeader CRC over the trailing 20 bytes.
func encodeStartHeader(sh *startHeader) []byte {
	out := make([]byte, startHeaderSize)
	copy(out[:6], signature[:])
	out[6] = sh.VersionMajor
	out[7] = sh.VersionMinor
	binary.LittleEndian.PutUint64(out[12:20], uint64(sh.NextHeaderOffset))
	binary.LittleEndian.PutUint64(out[20:28], uint64(sh.NextHeaderSize))
	binary.LittleEndian.PutUint32(out[28:32], sh.NextHeaderCRC)
	binary.LittleEndian.PutUint32(out[8:12], checksum(out[12:32]))
	return out
}

// Entry describes one archived path: a file, directory, empty file, or
// anti-item (a deletion marker used by incremental/differencing
// archives).
type Entry struct {
	Name       string
	IsDir      bool
	IsAnti     bool
	Attributes uint32
	HasCTime   bool
	CTime      time.Time
	HasATime   bool
	ATime      time.Time
	HasMTime   bool
	MTime      time.Time
	Size       uint64
	HasCRC     bool
	CRC        uint32

	index      int
	hasContent bool
}

// IsEmpty reports whether the entry has no content stream at all (an
// empty file, or a directory).
func (e *Entry) IsEmpty() bool { return !e.hasContent }
