// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// header is the parsed next-header metadata database: which bytes are
// packed where, how they chain through coders, and what filenames and
// attributes they carry.
type header struct {
	MainStreamsInfo *streamsInfo
	FilesInfo       *filesInfo
}

// readHeaderOrEncodedHeader reads the single top-level tag (Header or
// EncodedHeader) that follows the start header, resolving an encoded
// header by decoding it through its own one-block coder chain and
// re-entering this same parser on the result. file is the whole archive:
// an EncodedHeader's pack streams live in the archive's pack area, not
// inside the header bytes themselves, so the recursion needs both.
func readHeaderOrEncodedHeader(file, hdr []byte, limit int64, password []byte) (*header, error) {
	br := bufio.NewReader(bytes.NewReader(hdr))
	tagByte, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
	}

	switch propertyID(tagByte) {
	case idHeader:
		return readHeader(br)
	case idEncodedHeader:
		si, err := readStreamsInfo(br, br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
		}
		decoded, err := decodeHeaderStreamsInfo(file, si, limit, password)
		if err != nil {
			return nil, err
		}
		return readHeaderOrEncodedHeader(file, decoded, limit, password)
	default:
		return nil, fmt.Errorf("%w: tag %d at header root", ErrUnknownHeaderTag, tagByte)
	}
}

// decodeHeaderStreamsInfo runs the single block described by si (an
// EncodedHeader's StreamsInfo references exactly one block and one pack
// stream, by construction of every known encoder) and returns its decoded
// bytes, capped at limit to defeat an adversarial header claiming an
// enormous unpacked size.
func decodeHeaderStreamsInfo(file []byte, si *streamsInfo, limit int64, password []byte) ([]byte, error) {
	if si.PackInfo == nil || si.UnpackInfo == nil || len(si.UnpackInfo.Blocks) != 1 {
		return nil, fmt.Errorf("%w: EncodedHeader must describe exactly one block", ErrHeaderCorrupted)
	}
	block := si.UnpackInfo.Blocks[0]
	unpackedSize, err := block.unpackSize()
	if err != nil {
		return nil, err
	}
	if int64(unpackedSize) > limit {
		return nil, fmt.Errorf("%w: encoded header unpacked size %d exceeds limit %d", ErrEntryTooLarge, unpackedSize, limit)
	}

	packStart := int64(32) + int64(si.PackInfo.PackPos)
	offsets := make([]int64, len(si.PackInfo.PackSizes))
	off := packStart
	for i, sz := range si.PackInfo.PackSizes {
		offsets[i] = off
		off += int64(sz)
	}

	packedStreams := make([]io.Reader, len(si.PackInfo.PackSizes))
	for i := range packedStreams {
		if offsets[i] < 0 || offsets[i]+int64(si.PackInfo.PackSizes[i]) > int64(len(file)) {
			return nil, fmt.Errorf("%w: pack stream %d out of bounds", ErrHeaderCorrupted, i)
		}
		packedStreams[i] = bytes.NewReader(file[offsets[i] : offsets[i]+int64(si.PackInfo.PackSizes[i])])
	}

	r, err := buildDecoderChain(block, packedStreams, password)
	if err != nil {
		if errors.Is(err, ErrPasswordRequired) {
			return nil, err
		}
		if len(password) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
	}

	out := make([]byte, unpackedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		if len(password) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
	}
	if block.HasCRC && checksum(out) != block.CRC {
		if len(password) > 0 {
			return nil, ErrWrongPassword
		}
		return nil, ErrHeaderCorrupted
	}
	return out, nil
}

func readHeader(br *bufio.Reader) (*header, error) {
	h := &header{}
	for {
		tagByte, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
		}
		switch propertyID(tagByte) {
		case idArchiveProperties:
			if err := skipArchiveProperties(br); err != nil {
				return nil, err
			}
		case idAdditionalStreamsInfo:
			// Only ever used for external folder/name data, which this
			// module does not support producing or consuming.
			if _, err := readStreamsInfo(br, br); err != nil {
				return nil, err
			}
		case idMainStreamsInfo:
			si, err := readStreamsInfo(br, br)
			if err != nil {
				return nil, err
			}
			h.MainStreamsInfo = si
		case idFilesInfo:
			fi, err := readFilesInfo(br, br)
			if err != nil {
				return nil, err
			}
			h.FilesInfo = fi
		case idEnd:
			return h, nil
		default:
			return nil, fmt.Errorf("%w: tag %d in Header", ErrUnknownHeaderTag, tagByte)
		}
	}
}

func skipArchiveProperties(br *bufio.Reader) error {
	for {
		propType, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
		}
		if propertyID(propType) == idEnd {
			return nil
		}
		size, err := readNumber(br)
		if err != nil {
			return err
		}
		if _, err := io.CopyN(io.Discard, br, int64(size)); err != nil {
			return fmt.Errorf("%w: %v", ErrHeaderCorrupted, err)
		}
	}
}
