// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// blockState tracks how far a block's decoder chain has been consumed.
// Solid blocks must be read in the order their substreams appear, exactly
// once each, since the underlying coder chain (LZMA2, BCJ, ...) is a
// single forward-only stream; there is no seeking within a block, only
// sequential reads and discards.
type blockState struct {
	mu     sync.Mutex
	reader io.Reader
	pos    uint64
}

// blockCache keeps a bounded number of in-progress block decoder chains
// warm so that reading a solid block's files in order (the fast path)
// doesn't tear the chain down and rebuild it per file.
type blockCache struct {
	archive *Reader
	cache   *lru.Cache[int, *blockState]
}

func newBlockCache(r *Reader, size int) (*blockCache, error) {
	c, err := lru.New[int, *blockState](size)
	if err != nil {
		return nil, err
	}
	return &blockCache{archive: r, cache: c}, nil
}

func (bc *blockCache) stateFor(blockIndex int) (*blockState, error) {
	if st, ok := bc.cache.Get(blockIndex); ok {
		return st, nil
	}
	rd, err := bc.archive.openBlock(blockIndex)
	if err != nil {
		return nil, err
	}
	st := &blockState{reader: rd}
	bc.cache.Add(blockIndex, st)
	return st, nil
}

// invalidate drops a block's cached state, forcing the next read to
// rebuild its decoder chain from the start. Used when a caller needs to
// rewind past bytes already consumed.
func (bc *blockCache) invalidate(blockIndex int) {
	bc.cache.Remove(blockIndex)
}

// BlockDecoder streams one block's entire primary (decoded) output as a
// single forward-only io.Reader, independent of Reader's cached,
// cross-call sequential-extraction path. It exists so an external caller
// can partition work across goroutines: construct one BlockDecoder per
// block, each reading a disjoint slice of the archive file, and slice out
// individual files by skipping to their recorded offsets. Decoding any
// block depends only on the archive's immutable metadata and the bytes in
// that block's pack range, so this is safe without further coordination
// with the owning Reader.
type BlockDecoder struct {
	r   io.Reader
	pos uint64
}

// OpenBlock builds an independent decoder chain for block blockIndex,
// bypassing the Reader's block cache. The returned BlockDecoder does not
// share state with one obtained from Reader.Open or another OpenBlock
// call, so multiple may be used concurrently from different goroutines.
func (r *Reader) OpenBlock(blockIndex int) (*BlockDecoder, error) {
	rd, err := r.openBlock(blockIndex)
	if err != nil {
		return nil, err
	}
	return &BlockDecoder{r: rd}, nil
}

// Read streams the block's decoded bytes in order, starting from byte 0 of
// its primary unpacked stream.
func (d *BlockDecoder) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.pos += uint64(n)
	return n, err
}

// Skip discards n bytes of decoded output, the only way to seek forward in
// a block's single-pass coder chain (7z gives no random access into a
// solid block without decoding its prefix).
func (d *BlockDecoder) Skip(n uint64) error {
	if _, err := io.CopyN(io.Discard, d.r, int64(n)); err != nil {
		return fmt.Errorf("%w: %v", ErrDataCorrupted, err)
	}
	d.pos += n
	return nil
}

// ReadEntry reads exactly size decoded bytes starting at the block-relative
// offset, skipping forward from the decoder's current position. offset
// must be >= the decoder's current position; a BlockDecoder never rewinds.
func (d *BlockDecoder) ReadEntry(offset, size uint64) ([]byte, error) {
	if offset < d.pos {
		return nil, fmt.Errorf("%w: BlockDecoder cannot rewind from %d to %d", ErrInternal, d.pos, offset)
	}
	if gap := offset - d.pos; gap > 0 {
		if err := d.Skip(gap); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataCorrupted, err)
	}
	d.pos += size
	return buf, nil
}

// readAt fills p with decoded bytes starting at absolute offset abs of
// block blockIndex's primary stream. If the cached chain has already read
// past abs it is rebuilt from the block's start (the accepted cost of
// out-of-order access); forward gaps are consumed and discarded. No
// whole-substream buffer is ever allocated, so extraction stays within
// the chain's own fixed-size buffers regardless of entry size.
func (bc *blockCache) readAt(blockIndex int, abs uint64, p []byte) (int, error) {
	st, err := bc.stateFor(blockIndex)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()

	if abs < st.pos {
		// Can't rewind a forward-only coder chain: throw it away and
		// rebuild, then keep going with the fresh state below.
		bc.invalidate(blockIndex)
		st.mu.Unlock()
		st, err = bc.stateFor(blockIndex)
		if err != nil {
			return 0, err
		}
		st.mu.Lock()
	}
	defer st.mu.Unlock()

	if gap := abs - st.pos; gap > 0 {
		if _, err := io.CopyN(io.Discard, st.reader, int64(gap)); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrDataCorrupted, err)
		}
		st.pos += gap
	}

	n, err := st.reader.Read(p)
	st.pos += uint64(n)
	return n, err
}

// substreamReader streams one entry's bytes out of its block's cached
// decoder chain, accumulating the CRC as bytes flow past and verifying it
// against the stored digest once the final byte has been read. Each Read
// repositions the shared chain to this entry's current offset first, so
// interleaved readers over one solid block degrade to prefix re-decodes
// instead of corrupting each other.
type substreamReader struct {
	bc         *blockCache
	blockIndex int
	abs        uint64 // next absolute offset within the block's decoded stream
	remaining  uint64
	h          hash.Hash32
	wantCRC    uint32
	checkCRC   bool
	password   bool
	err        error
}

func (s *substreamReader) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.remaining == 0 {
		s.err = io.EOF
		if s.checkCRC && s.h.Sum32() != s.wantCRC {
			if s.password {
				s.err = ErrWrongPassword
			} else {
				s.err = ErrDataCorrupted
			}
		}
		return 0, s.err
	}

	if uint64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.bc.readAt(s.blockIndex, s.abs, p)
	if n > 0 {
		s.h.Write(p[:n])
		s.abs += uint64(n)
		s.remaining -= uint64(n)
	}
	if err != nil && !(err == io.EOF && s.remaining == 0) {
		switch {
		case s.password:
			s.err = fmt.Errorf("%w: %v", ErrWrongPassword, err)
		case errors.Is(err, ErrDataCorrupted):
			s.err = err
		default:
			s.err = fmt.Errorf("%w: %v", ErrDataCorrupted, err)
		}
		return n, s.err
	}
	return n, nil
}
