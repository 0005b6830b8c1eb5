// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"fmt"
	"io"
)

// crcEntry is one optional CRC-32 slot: 7z records digests with a
// "defined" bit vector since not every stream is checksummed (an already
// verified block's substreams, for instance, don't need their own digest).
type crcEntry struct {
	Defined bool
	CRC     uint32
}

// packInfo describes the archive's packed (on-disk, possibly compressed)
// byte ranges.
type packInfo struct {
	PackPos   uint64
	PackSizes []uint64
	Digests   []crcEntry
}

// unpackInfo describes the coder graphs ("folders") that turn packed
// streams back into unpacked content.
type unpackInfo struct {
	Blocks []*Block
}

// subStreamsInfo splits each block's single unpacked stream into the
// individual file contents it is solid-packed from.
type subStreamsInfo struct {
	NumUnpackStreamsInFolders []int
	Sizes                     []uint64 // per substream, flattened across all folders
	Digests                   []crcEntry
}

// streamsInfo is the combined PackInfo/UnpackInfo/SubStreamsInfo trio that
// appears under both idMainStreamsInfo and idEncodedHeader.
type streamsInfo struct {
	PackInfo       *packInfo
	UnpackInfo     *unpackInfo
	SubStreamsInfo *subStreamsInfo
}

// Sanity bounds on header-declared counts, enforced before any allocation
// sized by them. An adversarial header can claim billions of streams or
// folders in a handful of bytes; rejecting early keeps malformed input an
// error instead of an allocation bomb. The coder limits mirror the
// reference implementation's own per-folder maxima.
const (
	maxHeaderItems     = 1 << 24
	maxCodersPerBlock  = 64
	maxStreamsPerCoder = 64
	maxCoderPropsSize  = 1 << 20
)

func readDigests(r io.ByteReader, rd io.Reader, n int) ([]crcEntry, error) {
	if n < 0 || n > maxHeaderItems {
		return nil, fmt.Errorf("%w: digest count %d out of range", ErrHeaderCorrupted, n)
	}
	bv, err := readAllOrBitVector(r, rd, n)
	if err != nil {
		return nil, err
	}
	out := make([]crcEntry, n)
	for i := 0; i < n; i++ {
		if !bv.get(i) {
			continue
		}
		var b [4]byte
		if _, err := io.ReadFull(rd, b[:]); err != nil {
			return nil, err
		}
		out[i] = crcEntry{Defined: true, CRC: uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24}
	}
	return out, nil
}

func readPackInfo(r io.ByteReader, rd io.Reader) (*packInfo, error) {
	pos, err := readNumber(r)
	if err != nil {
		return nil, err
	}
	numStreams, err := readNumberAsUint32(r)
	if err != nil {
		return nil, err
	}
	if numStreams > maxHeaderItems {
		return nil, fmt.Errorf("%w: %d pack streams", ErrHeaderCorrupted, numStreams)
	}
	pi := &packInfo{PackPos: pos, PackSizes: make([]uint64, numStreams)}

	for {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch propertyID(tagByte) {
		case idSize:
			for i := range pi.PackSizes {
				v, err := readNumber(r)
				if err != nil {
					return nil, err
				}
				pi.PackSizes[i] = v
			}
		case idCRC:
			digests, err := readDigests(r, rd, int(numStreams))
			if err != nil {
				return nil, err
			}
			pi.Digests = digests
		case idEnd:
			return pi, nil
		default:
			return nil, fmt.Errorf("%w: tag %d in PackInfo", ErrUnknownHeaderTag, tagByte)
		}
	}
}

// readBlock parses one coder graph ("Folder" on disk).
func readBlock(r io.ByteReader) (*Block, error) {
	numCoders, err := readNumberAsUint32(r)
	if err != nil {
		return nil, err
	}
	if numCoders == 0 || numCoders > maxCodersPerBlock {
		return nil, fmt.Errorf("%w: %d coders in block", ErrInvalidCoderGraph, numCoders)
	}
	b := &Block{Coders: make([]Coder, numCoders)}
	totalIn, totalOut := 0, 0

	for i := range b.Coders {
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		idSize := int(flags & 0x0F)
		isComplex := flags&0x10 != 0
		hasAttrs := flags&0x20 != 0

		id := make([]byte, idSize)
		for j := range id {
			id[j], err = r.ReadByte()
			if err != nil {
				return nil, err
			}
		}

		numIn, numOut := 1, 1
		if isComplex {
			n, err := readNumberAsUint32(r)
			if err != nil {
				return nil, err
			}
			numIn = int(n)
			n, err = readNumberAsUint32(r)
			if err != nil {
				return nil, err
			}
			numOut = int(n)
			if numIn == 0 || numIn > maxStreamsPerCoder || numOut == 0 || numOut > maxStreamsPerCoder {
				return nil, fmt.Errorf("%w: coder declares %d in / %d out streams", ErrInvalidCoderGraph, numIn, numOut)
			}
		}

		var props []byte
		if hasAttrs {
			propSize, err := readNumberAsUint32(r)
			if err != nil {
				return nil, err
			}
			if propSize > maxCoderPropsSize {
				return nil, fmt.Errorf("%w: coder properties of %d bytes", ErrHeaderCorrupted, propSize)
			}
			props = make([]byte, propSize)
			for j := range props {
				props[j], err = r.ReadByte()
				if err != nil {
					return nil, err
				}
			}
		}

		b.Coders[i] = Coder{MethodID: id, NumInStreams: numIn, NumOutStreams: numOut, Properties: props}
		totalIn += numIn
		totalOut += numOut
	}

	numBindPairs := totalOut - 1
	if numBindPairs < 0 || numBindPairs > totalIn {
		return nil, fmt.Errorf("%w: %d bind pairs for %d input streams", ErrInvalidCoderGraph, numBindPairs, totalIn)
	}
	b.bindPairs = make([]bindPair, numBindPairs)
	for i := 0; i < numBindPairs; i++ {
		in, err := readNumberAsUint32(r)
		if err != nil {
			return nil, err
		}
		out, err := readNumberAsUint32(r)
		if err != nil {
			return nil, err
		}
		b.bindPairs[i] = bindPair{InIndex: int(in), OutIndex: int(out)}
	}

	numPackedStreams := totalIn - numBindPairs
	if numPackedStreams < 1 {
		return nil, fmt.Errorf("%w: block consumes no packed stream", ErrInvalidCoderGraph)
	}
	if numPackedStreams == 1 {
		for i := 0; i < totalIn; i++ {
			if b.bindPairForInStream(i) == nil {
				b.packedIndices = []int{i}
				break
			}
		}
	} else {
		b.packedIndices = make([]int, numPackedStreams)
		for i := 0; i < numPackedStreams; i++ {
			idx, err := readNumberAsUint32(r)
			if err != nil {
				return nil, err
			}
			b.packedIndices[i] = int(idx)
		}
	}

	return b, nil
}

func readUnpackInfo(r io.ByteReader, rd io.Reader) (*unpackInfo, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if propertyID(tagByte) != idFolder {
		return nil, fmt.Errorf("%w: expected Folder tag in UnpackInfo", ErrUnknownHeaderTag)
	}

	numFolders, err := readNumberAsUint32(r)
	if err != nil {
		return nil, err
	}
	if numFolders > maxHeaderItems {
		return nil, fmt.Errorf("%w: %d folders", ErrHeaderCorrupted, numFolders)
	}
	external, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if external != 0 {
		return nil, fmt.Errorf("%w: external folder definitions are not supported", ErrUnsupportedMethod)
	}

	ui := &unpackInfo{Blocks: make([]*Block, numFolders)}
	for i := range ui.Blocks {
		b, err := readBlock(r)
		if err != nil {
			return nil, err
		}
		ui.Blocks[i] = b
	}

	for {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch propertyID(tagByte) {
		case idCodersUnpackSize:
			for _, b := range ui.Blocks {
				b.UnpackSizes = make([]uint64, b.NumOutStreams())
				for i := range b.UnpackSizes {
					v, err := readNumber(r)
					if err != nil {
						return nil, err
					}
					b.UnpackSizes[i] = v
				}
			}
		case idCRC:
			digests, err := readDigests(r, rd, len(ui.Blocks))
			if err != nil {
				return nil, err
			}
			for i, b := range ui.Blocks {
				b.HasCRC = digests[i].Defined
				b.CRC = digests[i].CRC
			}
		case idEnd:
			for _, b := range ui.Blocks {
				if err := b.validate(); err != nil {
					return nil, err
				}
			}
			return ui, nil
		default:
			return nil, fmt.Errorf("%w: tag %d in UnpackInfo", ErrUnknownHeaderTag, tagByte)
		}
	}
}

func readSubStreamsInfo(r io.ByteReader, rd io.Reader, ui *unpackInfo) (*subStreamsInfo, error) {
	ssi := &subStreamsInfo{NumUnpackStreamsInFolders: make([]int, len(ui.Blocks))}
	for i := range ssi.NumUnpackStreamsInFolders {
		ssi.NumUnpackStreamsInFolders[i] = 1
	}

	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	if propertyID(tagByte) == idNumUnpackStream {
		for i := range ssi.NumUnpackStreamsInFolders {
			n, err := readNumberAsUint32(r)
			if err != nil {
				return nil, err
			}
			ssi.NumUnpackStreamsInFolders[i] = int(n)
		}
		tagByte, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
	}

	if propertyID(tagByte) == idSize {
		for bi, b := range ui.Blocks {
			n := ssi.NumUnpackStreamsInFolders[bi]
			if n == 0 {
				continue
			}
			total, err := b.unpackSize()
			if err != nil {
				return nil, err
			}
			var sum uint64
			for i := 0; i < n-1; i++ {
				v, err := readNumber(r)
				if err != nil {
					return nil, err
				}
				ssi.Sizes = append(ssi.Sizes, v)
				sum += v
			}
			if sum > total {
				return nil, fmt.Errorf("%w: substream sizes exceed block unpack size", ErrHeaderCorrupted)
			}
			ssi.Sizes = append(ssi.Sizes, total-sum)
		}
		tagByte, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
	} else {
		// No explicit per-substream sizes: every non-empty folder is
		// exactly one substream spanning its whole unpacked size.
		for bi, b := range ui.Blocks {
			if ssi.NumUnpackStreamsInFolders[bi] != 1 {
				continue
			}
			total, err := b.unpackSize()
			if err != nil {
				return nil, err
			}
			ssi.Sizes = append(ssi.Sizes, total)
		}
	}

	if propertyID(tagByte) == idCRC {
		// Digests are needed for every substream except a lone substream
		// in a folder that already carries its own block-level CRC.
		numNeedDigest := 0
		for bi := range ui.Blocks {
			n := ssi.NumUnpackStreamsInFolders[bi]
			if n == 1 && ui.Blocks[bi].HasCRC {
				continue
			}
			numNeedDigest += n
		}
		digests, err := readDigests(r, rd, numNeedDigest)
		if err != nil {
			return nil, err
		}
		di := 0
		for bi := range ui.Blocks {
			n := ssi.NumUnpackStreamsInFolders[bi]
			if n == 1 && ui.Blocks[bi].HasCRC {
				ssi.Digests = append(ssi.Digests, crcEntry{Defined: true, CRC: ui.Blocks[bi].CRC})
				continue
			}
			for i := 0; i < n; i++ {
				ssi.Digests = append(ssi.Digests, digests[di])
				di++
			}
		}
		tagByte, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
	} else {
		for bi := range ui.Blocks {
			n := ssi.NumUnpackStreamsInFolders[bi]
			if n == 1 && ui.Blocks[bi].HasCRC {
				ssi.Digests = append(ssi.Digests, crcEntry{Defined: true, CRC: ui.Blocks[bi].CRC})
				continue
			}
			for i := 0; i < n; i++ {
				ssi.Digests = append(ssi.Digests, crcEntry{})
			}
		}
	}

	if propertyID(tagByte) != idEnd {
		return nil, fmt.Errorf("%w: tag %d in SubStreamsInfo", ErrUnknownHeaderTag, tagByte)
	}
	return ssi, nil
}

func readStreamsInfo(r io.ByteReader, rd io.Reader) (*streamsInfo, error) {
	si := &streamsInfo{}
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	if propertyID(tagByte) == idPackInfo {
		si.PackInfo, err = readPackInfo(r, rd)
		if err != nil {
			return nil, err
		}
		tagByte, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
	}

	if propertyID(tagByte) == idUnpackInfo {
		si.UnpackInfo, err = readUnpackInfo(r, rd)
		if err != nil {
			return nil, err
		}
		tagByte, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
	}

	if propertyID(tagByte) == idSubStreamsInfo {
		if si.UnpackInfo == nil {
			return nil, fmt.Errorf("%w: SubStreamsInfo without UnpackInfo", ErrHeaderCorrupted)
		}
		si.SubStreamsInfo, err = readSubStreamsInfo(r, rd, si.UnpackInfo)
		if err != nil {
			return nil, err
		}
		tagByte, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
	} else if si.UnpackInfo != nil {
		// Default substream layout: one substream per folder, sizes equal
		// to the folder's unpack size, digests inherited where present.
		ssi := &subStreamsInfo{NumUnpackStreamsInFolders: make([]int, len(si.UnpackInfo.Blocks))}
		for i, b := range si.UnpackInfo.Blocks {
			ssi.NumUnpackStreamsInFolders[i] = 1
			total, err := b.unpackSize()
			if err != nil {
				return nil, err
			}
			ssi.Sizes = append(ssi.Sizes, total)
			ssi.Digests = append(ssi.Digests, crcEntry{Defined: b.HasCRC, CRC: b.CRC})
		}
		si.SubStreamsInfo = ssi
	}

	if propertyID(tagByte) != idEnd {
		return nil, fmt.Errorf("%w: tag %d in StreamsInfo", ErrUnknownHeaderTag, tagByte)
	}
	return si, nil
}
