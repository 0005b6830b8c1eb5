// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// seekBuffer is an in-memory io.WriteSeeker that the writer falls back to
// when the caller's sink cannot seek. The whole archive accumulates here
// and Create's flush closure copies it out to the real sink once Finish
// has patched the start header, so a pipe or network sink still receives
// a complete, valid archive.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("seekBuffer: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seekBuffer: negative seek position")
	}
	s.pos = int(newPos)
	return newPos, nil
}

// EntryMetadata is the per-path information a caller supplies to PushEntry;
// it mirrors Entry's informational fields without the bookkeeping a reader
// fills in on its own (block/stream location, content size, CRC).
type EntryMetadata struct {
	IsDir         bool
	HasAttributes bool
	Attributes    uint32
	HasCTime      bool
	CTime         time.Time
	HasATime      bool
	ATime         time.Time
	HasMTime      bool
	MTime         time.Time
}

type pendingSubstream struct {
	size uint64
	crc  uint32
}

// Writer assembles a 7z archive: PushEntry streams one file's content (or
// records a directory/empty file) at a time, Finish flushes the metadata
// database and patches the start header once every size is known. The
// 32-byte start header is reserved up front and rewritten once the
// archive's total size is known; when the caller's sink does not support
// Seek, the whole archive is buffered in memory instead and copied out to
// the sink as the last step of Finish.
type Writer struct {
	w     io.WriteSeeker
	flush func() error

	opts   *WriterOptions
	logger *log.Helper

	solid   bool
	methods []EncoderConfiguration

	finished bool
	poisoned bool

	curChain      *encoderChain
	curBlockFiles []pendingSubstream

	blocks                    []*Block
	packSizes                 []uint64
	numUnpackStreamsInFolders []int
	substreamSizes            [][]uint64
	substreamCRCs             [][]uint32

	files []fileEntry
}

// Create reserves the archive's 32-byte start header and returns a Writer
// ready to accept entries. Callers typically pass an *os.File opened
// O_RDWR|O_CREATE|O_TRUNC, but any io.Writer works: when w does not also
// implement io.Seeker, Create transparently buffers the entire archive in
// memory and flushes it to w on Finish.
func Create(w io.Writer, opts *WriterOptions) (*Writer, error) {
	ws, seekable := w.(io.WriteSeeker)
	flush := func() error { return nil }
	if !seekable {
		buf := &seekBuffer{}
		ws = buf
		flush = func() error {
			_, err := w.Write(buf.buf)
			return err
		}
	}

	if _, err := ws.Write(make([]byte, startHeaderSize)); err != nil {
		return nil, err
	}
	return &Writer{
		w:       ws,
		flush:   flush,
		opts:    opts,
		logger:  log.NewHelper(opts.logger()),
		solid:   opts.solid(),
		methods: wrapWithPassword(opts.contentMethods(), opts.password()),
	}, nil
}

// wrapWithPassword appends an AES-256-SHA-256 stage to methods when a
// password is set, encrypting each block's already-compressed bytes.
func wrapWithPassword(methods []EncoderConfiguration, password []byte) []EncoderConfiguration {
	if len(password) == 0 {
		return methods
	}
	out := append([]EncoderConfiguration(nil), methods...)
	out = append(out, EncoderConfiguration{Method: MethodAES256SHA256, Password: password})
	return out
}

// SetContentMethods changes the encoder pipeline for blocks started after
// this call. In solid mode it forces the block currently being written to
// close first, since a block's coder graph is fixed once begun.
func (wtr *Writer) SetContentMethods(methods []EncoderConfiguration) error {
	if wtr.finished {
		return ErrAlreadyFinished
	}
	if wtr.poisoned {
		return ErrPoisoned
	}
	if err := wtr.finalizeCurrentBlock(); err != nil {
		return err
	}
	wtr.methods = wrapWithPassword(methods, wtr.opts.password())
	return nil
}

// SetSolid changes the writer's solid policy for entries pushed after this
// call. A block already in progress is closed first, since grouping is
// fixed once a block has begun.
func (wtr *Writer) SetSolid(solid bool) error {
	if wtr.finished {
		return ErrAlreadyFinished
	}
	if wtr.poisoned {
		return ErrPoisoned
	}
	if err := wtr.finalizeCurrentBlock(); err != nil {
		return err
	}
	wtr.solid = solid
	return nil
}

// PushEntry adds one archive path. r is nil for a directory or a
// zero-length file (meta.IsDir distinguishes the two); otherwise r is
// copied through the current block's encoder chain and its CRC-32 is
// computed on the fly.
func (wtr *Writer) PushEntry(name string, meta EntryMetadata, r io.Reader) error {
	if wtr.finished {
		return ErrAlreadyFinished
	}
	if wtr.poisoned {
		return ErrPoisoned
	}

	fe := fileEntry{
		Name:            name,
		HasAttributes:   meta.HasAttributes,
		Attributes:      meta.Attributes,
		HasCreationTime: meta.HasCTime,
		CreationTime:    meta.CTime,
		HasAccessTime:   meta.HasATime,
		AccessTime:      meta.ATime,
		HasModTime:      meta.HasMTime,
		ModTime:         meta.MTime,
	}

	if r == nil {
		fe.IsEmptyStream = true
		fe.IsEmptyFile = !meta.IsDir
		wtr.files = append(wtr.files, fe)
		wtr.logger.Infof("pushed %q (empty)", name)
		return nil
	}

	if !wtr.solid {
		if err := wtr.finalizeCurrentBlock(); err != nil {
			return err
		}
	}
	if wtr.curChain == nil {
		chain, err := buildEncoderChain(wtr.w, wtr.methods)
		if err != nil {
			wtr.poisoned = true
			wtr.logger.Errorf("building encoder chain: %v", err)
			return err
		}
		wtr.curChain = chain
		wtr.logger.Debugf("opened new block: %d coder(s)", len(chain.Coders))
	}

	cr := newCRCReader(r)
	n, err := io.Copy(wtr.curChain, cr)
	if err != nil {
		wtr.poisoned = true
		wtr.logger.Errorf("writing content for %q: %v", name, err)
		return err
	}
	wtr.curBlockFiles = append(wtr.curBlockFiles, pendingSubstream{size: uint64(n), crc: cr.Sum32()})
	wtr.files = append(wtr.files, fe)
	wtr.logger.Infof("pushed %q (%d bytes, crc=%08x)", name, n, cr.Sum32())

	if !wtr.solid {
		if err := wtr.finalizeCurrentBlock(); err != nil {
			return err
		}
	}
	return nil
}

// finalizeCurrentBlock closes the open encoder chain, if any, and records
// its resulting Block and substream metadata.
func (wtr *Writer) finalizeCurrentBlock() error {
	if wtr.curChain == nil {
		return nil
	}
	if err := wtr.curChain.Close(); err != nil {
		wtr.poisoned = true
		return err
	}
	sizes := wtr.curChain.UnpackSizes()
	packSize := wtr.curChain.PackSize()

	block := &Block{
		Coders:        wtr.curChain.Coders,
		bindPairs:     wtr.curChain.BindPairs,
		packedIndices: []int{len(wtr.curChain.Coders) - 1},
		UnpackSizes:   sizes,
	}
	wtr.blocks = append(wtr.blocks, block)
	wtr.packSizes = append(wtr.packSizes, packSize)
	wtr.numUnpackStreamsInFolders = append(wtr.numUnpackStreamsInFolders, len(wtr.curBlockFiles))

	blockSizes := make([]uint64, len(wtr.curBlockFiles))
	blockCRCs := make([]uint32, len(wtr.curBlockFiles))
	for i, pf := range wtr.curBlockFiles {
		blockSizes[i] = pf.size
		blockCRCs[i] = pf.crc
	}
	wtr.substreamSizes = append(wtr.substreamSizes, blockSizes)
	wtr.substreamCRCs = append(wtr.substreamCRCs, blockCRCs)

	wtr.logger.Debugf("closed block %d: %d coder(s), %d file(s), %d bytes packed",
		len(wtr.blocks)-1, len(block.Coders), len(wtr.curBlockFiles), packSize)

	wtr.curChain = nil
	wtr.curBlockFiles = nil
	return nil
}

// Finish closes the last open block, writes the metadata header (encrypted
// with a single AES coder when a password is set), and patches the start
// header now that the archive's total size is known. Calling any Writer
// method afterwards returns ErrAlreadyFinished.
func (wtr *Writer) Finish() error {
	if wtr.finished {
		return ErrAlreadyFinished
	}
	if wtr.poisoned {
		return ErrPoisoned
	}
	if err := wtr.finalizeCurrentBlock(); err != nil {
		return err
	}

	var headerBuf bytes.Buffer
	if err := wtr.writeHeader(&headerBuf); err != nil {
		wtr.poisoned = true
		return err
	}
	headerBytes := headerBuf.Bytes()

	var totalPack uint64
	for _, sz := range wtr.packSizes {
		totalPack += sz
	}

	finalHeader := headerBytes
	nextHeaderOffset := totalPack
	if len(wtr.opts.password()) > 0 {
		descriptor, ciphertextSize, err := wtr.encodeHeaderBytes(headerBytes, totalPack)
		if err != nil {
			wtr.poisoned = true
			return err
		}
		finalHeader = descriptor
		nextHeaderOffset = totalPack + ciphertextSize
	}

	if _, err := wtr.w.Write(finalHeader); err != nil {
		wtr.poisoned = true
		return err
	}

	sh := &startHeader{
		VersionMajor:     0,
		VersionMinor:     4,
		NextHeaderOffset: int64(nextHeaderOffset),
		NextHeaderSize:   int64(len(finalHeader)),
		NextHeaderCRC:    checksum(finalHeader),
	}
	if _, err := wtr.w.Seek(0, io.SeekStart); err != nil {
		wtr.poisoned = true
		return err
	}
	if _, err := wtr.w.Write(encodeStartHeader(sh)); err != nil {
		wtr.poisoned = true
		return err
	}

	if err := wtr.flush(); err != nil {
		wtr.poisoned = true
		wtr.logger.Errorf("flushing buffered archive to sink: %v", err)
		return err
	}

	wtr.finished = true
	wtr.logger.Debugf("finished archive: %d block(s), %d file(s)", len(wtr.blocks), len(wtr.files))
	return nil
}

// encodeHeaderBytes encrypts the plaintext header through a one-block
// AES-256-SHA-256 chain, writing the ciphertext directly to the archive
// (it becomes just another pack stream, immediately after the main
// content's packAreaSize bytes) and returning the small unencrypted
// EncodedHeader descriptor that points back at it, plus the ciphertext's
// length so the caller can compute where that descriptor itself begins.
func (wtr *Writer) encodeHeaderBytes(plain []byte, packAreaSize uint64) (descriptor []byte, ciphertextSize uint64, err error) {
	chain, err := buildEncoderChain(wtr.w, []EncoderConfiguration{
		{Method: MethodAES256SHA256, Password: wtr.opts.password()},
	})
	if err != nil {
		return nil, 0, err
	}
	if _, err := chain.Write(plain); err != nil {
		return nil, 0, err
	}
	if err := chain.Close(); err != nil {
		return nil, 0, err
	}
	ciphertextSize = chain.PackSize()

	block := &Block{
		Coders:        chain.Coders,
		bindPairs:     chain.BindPairs,
		packedIndices: []int{len(chain.Coders) - 1},
		UnpackSizes:   chain.UnpackSizes(),
		HasCRC:        true,
		CRC:           checksum(plain),
	}

	var out bytes.Buffer
	out.WriteByte(byte(idEncodedHeader))
	out.WriteByte(byte(idPackInfo))
	if err := writePackInfo(&out, &packInfo{PackPos: packAreaSize, PackSizes: []uint64{ciphertextSize}}); err != nil {
		return nil, 0, err
	}
	out.WriteByte(byte(idUnpackInfo))
	if err := writeUnpackInfo(&out, []*Block{block}); err != nil {
		return nil, 0, err
	}
	out.WriteByte(byte(idEnd))
	return out.Bytes(), ciphertextSize, nil
}
