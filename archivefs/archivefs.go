// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package archivefs provides the file-system-facing convenience layer the
// core sevenzip package deliberately leaves out: walking a directory into
// a Writer, extracting a Reader's entries to disk, and one-shot
// compress/decompress helpers for a single path. None of this touches the
// container format; it is glue around the exported Reader/Writer surface.
package archivefs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/saferwall/sevenzip"
)

// AddDir walks root and pushes every regular file, directory, and symlink
// it finds into w, using slash-separated paths relative to root as entry
// names (the 7z convention, independent of the host's path separator).
//
// A file that cannot be stat'd or opened (permission denied, broken
// symlink, vanished between readdir and open) does not abort the whole
// walk: AddDir skips it, records the cause, and keeps going, returning
// every such failure together as a single *multierror.Error once the
// walk completes. A failure to push an already-open file into w is
// treated as fatal, since it means the archive itself is broken.
func AddDir(w *sevenzip.Writer, root string) error {
	var failures *multierror.Error

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", name, err))
			return nil
		}
		meta := sevenzip.EntryMetadata{
			IsDir:         d.IsDir(),
			HasMTime:      true,
			MTime:         info.ModTime(),
			HasAttributes: true,
			Attributes:    attributesFor(info),
		}

		if d.IsDir() {
			if err := w.PushEntry(name, meta, nil); err != nil {
				return fmt.Errorf("push %q: %w", name, err)
			}
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", name, err))
			return nil
		}
		defer f.Close()
		if err := w.PushEntry(name, meta, f); err != nil {
			return fmt.Errorf("push %q: %w", name, err)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	return failures.ErrorOrNil()
}

// attributesFor maps a Go FileMode onto the low bits of 7z's WinAttributes
// field that every implementation agrees on: FILE_ATTRIBUTE_DIRECTORY
// (0x10) and FILE_ATTRIBUTE_READONLY (0x1).
func attributesFor(info os.FileInfo) uint32 {
	var attrs uint32
	if info.IsDir() {
		attrs |= 0x10
	}
	if info.Mode()&0o200 == 0 {
		attrs |= 0x1
	}
	return attrs
}

// ExtractAll opens every non-directory, non-anti entry in r and writes its
// decoded bytes under destRoot, recreating directories as needed. Entries
// are extracted in archive order, the fast path for solid blocks.
func ExtractAll(r *sevenzip.Reader, destRoot string) error {
	for i := range r.Entries() {
		e := &r.Entries()[i]
		if e.IsAnti {
			continue
		}
		target := filepath.Join(destRoot, filepath.FromSlash(e.Name))
		if e.IsDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractOne(r, e, target); err != nil {
			return fmt.Errorf("extract %q: %w", e.Name, err)
		}
	}
	return nil
}

func extractOne(r *sevenzip.Reader, e *sevenzip.Entry, target string) error {
	rc, err := r.Open(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, rc)
	return err
}

// ExtractAllParallel extracts with one BlockDecoder per block, each
// consumed by its own goroutine, with
// individual files sliced out of the block's decoded stream by their
// recorded offsets. Safe because block decoding depends only on the
// archive's immutable metadata and that block's own pack-stream bytes.
func ExtractAllParallel(r *sevenzip.Reader, destRoot string, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	type job struct {
		entry *sevenzip.Entry
		block int
	}
	byBlock := make(map[int][]job)
	var order []int
	for i := range r.Entries() {
		e := &r.Entries()[i]
		if e.IsDir || e.IsAnti {
			continue
		}
		if e.IsEmpty() {
			target := filepath.Join(destRoot, filepath.FromSlash(e.Name))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, nil, 0o644); err != nil {
				return err
			}
			continue
		}
		blockIdx, _, _ := r.EntryBlockInfo(e)
		if _, ok := byBlock[blockIdx]; !ok {
			order = append(order, blockIdx)
		}
		byBlock[blockIdx] = append(byBlock[blockIdx], job{entry: e, block: blockIdx})
	}

	for _, e := range r.Entries() {
		if e.IsDir {
			if err := os.MkdirAll(filepath.Join(destRoot, filepath.FromSlash(e.Name)), 0o755); err != nil {
				return err
			}
		}
	}

	sem := make(chan struct{}, workers)
	var g errgroup.Group
	var mu sync.Mutex
	for _, blockIdx := range order {
		blockIdx := blockIdx
		jobs := byBlock[blockIdx]
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			dec, err := r.OpenBlock(blockIdx)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				_, offset, size := r.EntryBlockInfo(j.entry)
				buf, err := dec.ReadEntry(offset, size)
				if err != nil {
					return fmt.Errorf("extract %q: %w", j.entry.Name, err)
				}
				target := filepath.Join(destRoot, filepath.FromSlash(j.entry.Name))
				mu.Lock()
				err = os.MkdirAll(filepath.Dir(target), 0o755)
				mu.Unlock()
				if err != nil {
					return err
				}
				if err := os.WriteFile(target, buf, 0o644); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// DecompressToPath is the one-shot convenience helper: open src and
// extract every entry under destRoot.
func DecompressToPath(src, destRoot string, opts *sevenzip.ReaderOptions) error {
	r, err := sevenzip.Open(src, opts)
	if err != nil {
		return err
	}
	defer r.Close()
	return ExtractAll(r, destRoot)
}

// CompressFromPath is the one-shot convenience helper: create dst and
// archive every file under srcRoot.
func CompressFromPath(dst, srcRoot string, opts *sevenzip.WriterOptions) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := sevenzip.Create(f, opts)
	if err != nil {
		return err
	}
	if err := AddDir(w, srcRoot); err != nil {
		return err
	}
	return w.Finish()
}
