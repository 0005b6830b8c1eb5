// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"fmt"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/go-kratos/kratos/v2/log"
)

// entryBlockInfo records where in the archive's block graph an Entry's
// content lives, so Open can find it without re-walking the header.
type entryBlockInfo struct {
	blockIndex int
	offset     uint64 // byte offset within the block's decoded stream
	size       uint64
}

// Reader is an opened 7z archive: its metadata has been parsed (and, if
// encrypted, decrypted) but file content is decoded lazily, block by
// block, as entries are opened.
type Reader struct {
	f      *os.File
	data   mmap.MMap
	opts   *ReaderOptions
	logger *log.Helper

	header  *header
	entries []Entry
	info    []entryBlockInfo

	packOffsets []int64
	cache       *blockCache
}

// Open parses name's start header, decodes (and decrypts, if needed) the
// next header, and returns a Reader ready to enumerate and extract
// entries. The whole file is memory-mapped rather than read into memory,
// so opening a multi-gigabyte archive is cheap.
func Open(name string, opts *ReaderOptions) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &Reader{f: f, data: data, opts: opts, logger: log.NewHelper(opts.logger())}
	if err := r.parse(); err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parse() error {
	sh, err := parseStartHeader(r.data)
	if err != nil {
		return err
	}

	if sh.NextHeaderSize == 0 {
		// An archive with no files at all still carries a valid, empty
		// header section.
		r.header = &header{}
		return r.buildEntries()
	}

	start := startHeaderSize + sh.NextHeaderOffset
	end := start + sh.NextHeaderSize
	if start < 0 || end > int64(len(r.data)) {
		return fmt.Errorf("%w: next header out of bounds", ErrHeaderCorrupted)
	}
	raw := r.data[start:end]
	if checksum(raw) != sh.NextHeaderCRC {
		return ErrBadNextHeaderCRC
	}

	h, err := readHeaderOrEncodedHeader(r.data, raw, r.opts.headerLimit(), r.opts.password())
	if err != nil {
		r.logger.Errorf("decoding next header: %v", err)
		return err
	}
	r.header = h
	if h.MainStreamsInfo != nil && h.MainStreamsInfo.UnpackInfo != nil {
		r.logger.Debugf("parsed header: %d block(s)", len(h.MainStreamsInfo.UnpackInfo.Blocks))
	} else {
		r.logger.Debugf("parsed header: no content blocks")
	}

	cache, err := newBlockCache(r, r.opts.blockCacheSize())
	if err != nil {
		return err
	}
	r.cache = cache

	if h.MainStreamsInfo != nil && h.MainStreamsInfo.PackInfo != nil {
		off := startHeaderSize + int64(h.MainStreamsInfo.PackInfo.PackPos)
		r.packOffsets = make([]int64, len(h.MainStreamsInfo.PackInfo.PackSizes))
		for i, sz := range h.MainStreamsInfo.PackInfo.PackSizes {
			r.packOffsets[i] = off
			off += int64(sz)
		}
	}

	return r.buildEntries()
}

// buildEntries merges FilesInfo's per-path metadata with
// MainStreamsInfo's substream layout, assigning each non-empty entry the
// block and byte range its content lives in.
func (r *Reader) buildEntries() error {
	if r.header.FilesInfo == nil {
		return nil
	}
	files := r.header.FilesInfo.Files
	r.entries = make([]Entry, len(files))
	r.info = make([]entryBlockInfo, len(files))

	var ssi *subStreamsInfo
	var blocks []*Block
	if r.header.MainStreamsInfo != nil {
		ssi = r.header.MainStreamsInfo.SubStreamsInfo
		if r.header.MainStreamsInfo.UnpackInfo != nil {
			blocks = r.header.MainStreamsInfo.UnpackInfo.Blocks
		}
	}

	blockIdx, streamInBlock, substreamCursor, blockOffset := 0, 0, 0, uint64(0)
	advance := func() {
		streamInBlock++
		for blockIdx < len(blocks) && ssi != nil && streamInBlock >= ssi.NumUnpackStreamsInFolders[blockIdx] {
			blockIdx++
			streamInBlock = 0
			blockOffset = 0
		}
	}

	for i, fe := range files {
		e := Entry{
			index:      i,
			Name:       fe.Name,
			IsDir:      fe.IsEmptyStream && !fe.IsEmptyFile,
			IsAnti:     fe.IsAnti,
			Attributes: fe.Attributes,
			HasCTime:   fe.HasCreationTime,
			CTime:      fe.CreationTime,
			HasATime:   fe.HasAccessTime,
			ATime:      fe.AccessTime,
			HasMTime:   fe.HasModTime,
			MTime:      fe.ModTime,
		}
		if fe.IsEmptyStream {
			e.hasContent = false
			r.entries[i] = e
			continue
		}

		if ssi == nil || substreamCursor >= len(ssi.Sizes) {
			return fmt.Errorf("%w: file %q has content but no substream entry", ErrHeaderCorrupted, fe.Name)
		}
		e.hasContent = true
		e.Size = ssi.Sizes[substreamCursor]
		if d := ssi.Digests[substreamCursor]; d.Defined {
			e.HasCRC = true
			e.CRC = d.CRC
		}
		r.info[i] = entryBlockInfo{blockIndex: blockIdx, offset: blockOffset, size: e.Size}
		blockOffset += e.Size
		substreamCursor++
		r.entries[i] = e
		advance()
	}
	return nil
}

// Entries returns every path recorded in the archive, in on-disk order.
func (r *Reader) Entries() []Entry {
	return r.entries
}

// openBlock builds the decoder chain for block blockIndex from its pack
// streams, without consuming any bytes yet.
func (r *Reader) openBlock(blockIndex int) (io.Reader, error) {
	if r.header.MainStreamsInfo == nil || r.header.MainStreamsInfo.UnpackInfo == nil {
		return nil, fmt.Errorf("%w: archive has no blocks", ErrInternal)
	}
	blocks := r.header.MainStreamsInfo.UnpackInfo.Blocks
	if blockIndex < 0 || blockIndex >= len(blocks) {
		return nil, fmt.Errorf("%w: block index %d out of range", ErrInternal, blockIndex)
	}
	block := blocks[blockIndex]

	packInfo := r.header.MainStreamsInfo.PackInfo
	packedStreams := make([]io.Reader, len(block.packedIndices))
	packPos := 0
	for bi := 0; bi < blockIndex; bi++ {
		packPos += countPackStreams(blocks[bi])
	}
	for i := range packedStreams {
		idx := packPos + i
		if idx >= len(packInfo.PackSizes) {
			return nil, fmt.Errorf("%w: pack stream index %d out of range", ErrHeaderCorrupted, idx)
		}
		off := r.packOffsets[idx]
		size := int64(packInfo.PackSizes[idx])
		if off < 0 || off+size > int64(len(r.data)) {
			return nil, fmt.Errorf("%w: pack stream %d out of bounds", ErrHeaderCorrupted, idx)
		}
		packedStreams[i] = newMmapReader(r.data[off : off+size])
	}

	dec, err := buildDecoderChain(block, packedStreams, r.opts.password())
	if err != nil {
		r.logger.Errorf("building decoder chain for block %d: %v", blockIndex, err)
		return nil, err
	}
	r.logger.Debugf("opened block %d: %d coder(s), %d packed stream(s)", blockIndex, len(block.Coders), len(packedStreams))
	return dec, nil
}

// countPackStreams returns how many packed streams a block consumes,
// needed to find where the next block's pack streams start.
func countPackStreams(b *Block) int {
	return len(b.packedIndices)
}

// newMmapReader wraps a memory-mapped byte slice as a fresh io.Reader
// with its own cursor, independent of any other reader over the same
// bytes.
func newMmapReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct {
	b   []byte
	pos int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += n
	return n, nil
}

// Open returns a reader that streams entry e's decoded content, verifying
// the stored CRC as the last byte is read (a mismatch surfaces in place of
// io.EOF, as ErrDataCorrupted, or ErrWrongPassword when a password is in
// play). Extraction from a solid block is fastest when entries are opened
// and consumed in on-disk order; reading one out of order forces that
// block's decoder chain to be rebuilt from its start.
func (r *Reader) Open(e *Entry) (io.Reader, error) {
	if !e.hasContent {
		return io.LimitReader(nil, 0), nil
	}
	if e.index < 0 || e.index >= len(r.info) {
		return nil, fmt.Errorf("%w: entry not owned by this reader", ErrInternal)
	}
	info := r.info[e.index]
	return &substreamReader{
		bc:         r.cache,
		blockIndex: info.blockIndex,
		abs:        info.offset,
		remaining:  info.size,
		h:          newCRC(),
		wantCRC:    e.CRC,
		checkCRC:   e.HasCRC,
		password:   len(r.opts.password()) > 0,
	}, nil
}

// OpenWithPassword is a convenience wrapper around Open for the common case
// of an archive protected by a password and no other reader tuning.
func OpenWithPassword(name string, password []byte) (*Reader, error) {
	return Open(name, &ReaderOptions{Password: password})
}

// NumBlocks returns the number of blocks ("folders") the archive's main
// streams info describes. Zero for an empty archive.
func (r *Reader) NumBlocks() int {
	if r.header.MainStreamsInfo == nil || r.header.MainStreamsInfo.UnpackInfo == nil {
		return 0
	}
	return len(r.header.MainStreamsInfo.UnpackInfo.Blocks)
}

// EntryBlockInfo reports which block owns e's content and e's byte range
// within that block's decoded primary stream. Only meaningful when
// !e.IsEmpty(); external callers use this to dispatch work across
// independently constructed BlockDecoders for multi-threaded extraction.
func (r *Reader) EntryBlockInfo(e *Entry) (blockIndex int, offset, size uint64) {
	info := r.info[e.index]
	return info.blockIndex, info.offset, info.size
}

// Close unmaps the underlying file and releases its descriptor.
func (r *Reader) Close() error {
	if r.data != nil {
		_ = r.data.Unmap()
	}
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}
