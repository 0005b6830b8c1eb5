// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// writePackInfo serialises a PackInfo section (tag byte excluded; the
// caller has already written idPackInfo).
func writePackInfo(w io.Writer, pi *packInfo) error {
	if err := writeNumber(w, pi.PackPos); err != nil {
		return err
	}
	if err := writeNumber(w, uint64(len(pi.PackSizes))); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(idSize)}); err != nil {
		return err
	}
	for _, sz := range pi.PackSizes {
		if err := writeNumber(w, sz); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{byte(idEnd)})
	return err
}

// writeCoder serialises one Coder's flags/id/stream-counts/properties.
func writeCoder(w io.Writer, c Coder) error {
	flags := byte(len(c.MethodID))
	isComplex := c.NumInStreams != 1 || c.NumOutStreams != 1
	hasAttrs := len(c.Properties) > 0
	if isComplex {
		flags |= 0x10
	}
	if hasAttrs {
		flags |= 0x20
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}
	if _, err := w.Write(c.MethodID); err != nil {
		return err
	}
	if isComplex {
		if err := writeNumber(w, uint64(c.NumInStreams)); err != nil {
			return err
		}
		if err := writeNumber(w, uint64(c.NumOutStreams)); err != nil {
			return err
		}
	}
	if hasAttrs {
		if err := writeNumber(w, uint64(len(c.Properties))); err != nil {
			return err
		}
		if _, err := w.Write(c.Properties); err != nil {
			return err
		}
	}
	return nil
}

// writeBlock serialises one Block ("Folder"): its coders, bind pairs, and
// packed-stream indices (omitted when there's exactly one, matching the
// inferred-index shortcut readBlock takes on the way in).
func writeBlock(w io.Writer, b *Block) error {
	if err := writeNumber(w, uint64(len(b.Coders))); err != nil {
		return err
	}
	for _, c := range b.Coders {
		if err := writeCoder(w, c); err != nil {
			return err
		}
	}
	for _, bp := range b.bindPairs {
		if err := writeNumber(w, uint64(bp.InIndex)); err != nil {
			return err
		}
		if err := writeNumber(w, uint64(bp.OutIndex)); err != nil {
			return err
		}
	}
	if len(b.packedIndices) > 1 {
		for _, idx := range b.packedIndices {
			if err := writeNumber(w, uint64(idx)); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeUnpackInfo serialises an UnpackInfo section (tag byte excluded).
func writeUnpackInfo(w io.Writer, blocks []*Block) error {
	if _, err := w.Write([]byte{byte(idFolder)}); err != nil {
		return err
	}
	if err := writeNumber(w, uint64(len(blocks))); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil { // external = false
		return err
	}
	for _, b := range blocks {
		if err := writeBlock(w, b); err != nil {
			return err
		}
	}

	if _, err := w.Write([]byte{byte(idCodersUnpackSize)}); err != nil {
		return err
	}
	for _, b := range blocks {
		for _, sz := range b.UnpackSizes {
			if err := writeNumber(w, sz); err != nil {
				return err
			}
		}
	}

	haveCRC := false
	for _, b := range blocks {
		if b.HasCRC {
			haveCRC = true
			break
		}
	}
	if haveCRC {
		if _, err := w.Write([]byte{byte(idCRC)}); err != nil {
			return err
		}
		bv := newBitVector(len(blocks))
		for i, b := range blocks {
			bv.set(i, b.HasCRC)
		}
		if err := writeAllOrBitVector(w, bv); err != nil {
			return err
		}
		for _, b := range blocks {
			if !b.HasCRC {
				continue
			}
			crc := [4]byte{byte(b.CRC), byte(b.CRC >> 8), byte(b.CRC >> 16), byte(b.CRC >> 24)}
			if _, err := w.Write(crc[:]); err != nil {
				return err
			}
		}
	}

	_, err := w.Write([]byte{byte(idEnd)})
	return err
}

// writeSubStreamsInfo serialises a SubStreamsInfo section (tag byte
// excluded) describing how each block's decoded stream splits into its
// files' contents.
func writeSubStreamsInfo(w io.Writer, numUnpackStreams []int, sizes [][]uint64, crcs [][]uint32) error {
	if _, err := w.Write([]byte{byte(idNumUnpackStream)}); err != nil {
		return err
	}
	for _, n := range numUnpackStreams {
		if err := writeNumber(w, uint64(n)); err != nil {
			return err
		}
	}

	if _, err := w.Write([]byte{byte(idSize)}); err != nil {
		return err
	}
	for _, blockSizes := range sizes {
		for i := 0; i < len(blockSizes)-1; i++ {
			if err := writeNumber(w, blockSizes[i]); err != nil {
				return err
			}
		}
	}

	total := 0
	for _, n := range numUnpackStreams {
		total += n
	}
	bv := newBitVector(total)
	for i := 0; i < total; i++ {
		bv.set(i, true)
	}
	if _, err := w.Write([]byte{byte(idCRC)}); err != nil {
		return err
	}
	if err := writeAllOrBitVector(w, bv); err != nil {
		return err
	}
	for _, blockCRCs := range crcs {
		for _, crc := range blockCRCs {
			var b [4]byte
			b[0] = byte(crc)
			b[1] = byte(crc >> 8)
			b[2] = byte(crc >> 16)
			b[3] = byte(crc >> 24)
			if _, err := w.Write(b[:]); err != nil {
				return err
			}
		}
	}

	_, err := w.Write([]byte{byte(idEnd)})
	return err
}

// writeFilesInfo serialises a FilesInfo section (tag byte excluded).
func writeFilesInfo(w io.Writer, files []fileEntry) error {
	if err := writeNumber(w, uint64(len(files))); err != nil {
		return err
	}

	numEmptyStreams := 0
	emptyStream := newBitVector(len(files))
	for i, fe := range files {
		if fe.IsEmptyStream {
			emptyStream.set(i, true)
			numEmptyStreams++
		}
	}
	if numEmptyStreams > 0 {
		if err := writeBoundedTag(w, idEmptyStream, emptyStream.bits); err != nil {
			return err
		}

		emptyFile := newBitVector(numEmptyStreams)
		anti := newBitVector(numEmptyStreams)
		haveAnti := false
		ei := 0
		for _, fe := range files {
			if !fe.IsEmptyStream {
				continue
			}
			emptyFile.set(ei, fe.IsEmptyFile)
			if fe.IsAnti {
				anti.set(ei, true)
				haveAnti = true
			}
			ei++
		}
		if err := writeBoundedTag(w, idEmptyFile, emptyFile.bits); err != nil {
			return err
		}
		if haveAnti {
			if err := writeBoundedTag(w, idAnti, anti.bits); err != nil {
				return err
			}
		}
	}

	var names bytes.Buffer
	names.WriteByte(0) // external = false
	for _, fe := range files {
		encoded, err := utf16LE.NewEncoder().Bytes([]byte(fe.Name))
		if err != nil {
			return fmt.Errorf("%w: encode name %q: %v", ErrInternal, fe.Name, err)
		}
		names.Write(encoded)
		names.Write([]byte{0, 0})
	}
	if err := writeBoundedTag(w, idName, names.Bytes()); err != nil {
		return err
	}

	if err := writeTimestampTag(w, idCTime, files, func(fe fileEntry) (bool, time.Time) { return fe.HasCreationTime, fe.CreationTime }); err != nil {
		return err
	}
	if err := writeTimestampTag(w, idATime, files, func(fe fileEntry) (bool, time.Time) { return fe.HasAccessTime, fe.AccessTime }); err != nil {
		return err
	}
	if err := writeTimestampTag(w, idMTime, files, func(fe fileEntry) (bool, time.Time) { return fe.HasModTime, fe.ModTime }); err != nil {
		return err
	}

	haveAttrs := false
	for _, fe := range files {
		if fe.HasAttributes {
			haveAttrs = true
			break
		}
	}
	if haveAttrs {
		var buf bytes.Buffer
		bv := newBitVector(len(files))
		for i, fe := range files {
			bv.set(i, fe.HasAttributes)
		}
		if err := writeAllOrBitVector(&buf, bv); err != nil {
			return err
		}
		buf.WriteByte(0) // external = false
		for _, fe := range files {
			if !fe.HasAttributes {
				continue
			}
			var b [4]byte
			b[0] = byte(fe.Attributes)
			b[1] = byte(fe.Attributes >> 8)
			b[2] = byte(fe.Attributes >> 16)
			b[3] = byte(fe.Attributes >> 24)
			buf.Write(b[:])
		}
		if err := writeBoundedTag(w, idWinAttributes, buf.Bytes()); err != nil {
			return err
		}
	}

	_, err := w.Write([]byte{byte(idEnd)})
	return err
}

// writeBoundedTag writes a tag byte, its payload's size as a varint, then
// the payload itself, matching the size-prefixed property layout the
// reader bounds with io.LimitReader.
func writeBoundedTag(w io.Writer, tag propertyID, payload []byte) error {
	if _, err := w.Write([]byte{byte(tag)}); err != nil {
		return err
	}
	if err := writeNumber(w, uint64(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func writeTimestampTag(w io.Writer, tag propertyID, files []fileEntry, get func(fileEntry) (bool, time.Time)) error {
	have := false
	for _, fe := range files {
		if has, _ := get(fe); has {
			have = true
			break
		}
	}
	if !have {
		return nil
	}

	var buf bytes.Buffer
	bv := newBitVector(len(files))
	for i, fe := range files {
		has, _ := get(fe)
		bv.set(i, has)
	}
	if err := writeAllOrBitVector(&buf, bv); err != nil {
		return err
	}
	buf.WriteByte(0) // external = false
	for _, fe := range files {
		has, t := get(fe)
		if !has {
			continue
		}
		ticks, err := timeToFileTime(t)
		if err != nil {
			return err
		}
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(ticks >> (8 * uint(i)))
		}
		buf.Write(b[:])
	}
	return writeBoundedTag(w, tag, buf.Bytes())
}

// writeHeader assembles the plaintext next-header bytes for the files and
// blocks accumulated by a Writer.
func (wtr *Writer) writeHeader(buf *bytes.Buffer) error {
	buf.WriteByte(byte(idHeader))

	if len(wtr.blocks) > 0 {
		buf.WriteByte(byte(idMainStreamsInfo))

		buf.WriteByte(byte(idPackInfo))
		if err := writePackInfo(buf, &packInfo{PackPos: 0, PackSizes: wtr.packSizes}); err != nil {
			return err
		}

		buf.WriteByte(byte(idUnpackInfo))
		if err := writeUnpackInfo(buf, wtr.blocks); err != nil {
			return err
		}

		buf.WriteByte(byte(idSubStreamsInfo))
		if err := writeSubStreamsInfo(buf, wtr.numUnpackStreamsInFolders, wtr.substreamSizes, wtr.substreamCRCs); err != nil {
			return err
		}

		buf.WriteByte(byte(idEnd)) // MainStreamsInfo
	}

	buf.WriteByte(byte(idFilesInfo))
	if err := writeFilesInfo(buf, wtr.files); err != nil {
		return err
	}

	buf.WriteByte(byte(idEnd)) // Header
	return nil
}
