// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func createTempArchive(t *testing.T) (*os.File, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.7z")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatalf("create temp archive: %v", err)
	}
	return f, path
}

func TestEmptyArchiveRoundTrip(t *testing.T) {
	f, path := createTempArchive(t)
	w, err := Create(f, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if len(r.Entries()) != 0 {
		t.Fatalf("expected 0 entries in an empty archive, got %d", len(r.Entries()))
	}
}

func TestSingleFileCopyRoundTrip(t *testing.T) {
	f, path := createTempArchive(t)
	content := []byte("Hello, 7z!")
	wantCRC := crc32.ChecksumIEEE(content)

	opts := &WriterOptions{ContentMethods: []EncoderConfiguration{{Method: MethodCopy}}}
	w, err := Create(f, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.PushEntry("hello.txt", EntryMetadata{}, bytes.NewReader(content)); err != nil {
		t.Fatalf("PushEntry: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f.Close()

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := &entries[0]
	if e.Name != "hello.txt" {
		t.Fatalf("name = %q, want hello.txt", e.Name)
	}
	if !e.HasCRC || e.CRC != wantCRC {
		t.Fatalf("stored CRC = %08x (hasCRC=%v), want %08x", e.CRC, e.HasCRC, wantCRC)
	}

	rc, err := r.Open(e)
	if err != nil {
		t.Fatalf("Open(entry): %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}
	if crc32.ChecksumIEEE(got) != wantCRC {
		t.Fatal("decoded content CRC does not match computed CRC")
	}
}

func TestSolidTwoFileLZMA2RoundTrip(t *testing.T) {
	f, path := createTempArchive(t)
	fileA := bytes.Repeat([]byte("alpha "), 500)
	fileB := bytes.Repeat([]byte("bravo "), 500)

	solid := true
	opts := &WriterOptions{
		Solid:          &solid,
		ContentMethods: []EncoderConfiguration{{Method: MethodLZMA2, Preset: 6}},
	}
	w, err := Create(f, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.PushEntry("a.txt", EntryMetadata{}, bytes.NewReader(fileA)); err != nil {
		t.Fatalf("PushEntry a: %v", err)
	}
	if err := w.PushEntry("b.txt", EntryMetadata{}, bytes.NewReader(fileB)); err != nil {
		t.Fatalf("PushEntry b: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f.Close()

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.NumBlocks() != 1 {
		t.Fatalf("NumBlocks = %d, want 1 (solid)", r.NumBlocks())
	}

	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	want := map[string][]byte{"a.txt": fileA, "b.txt": fileB}
	for i := range entries {
		e := &entries[i]
		rc, err := r.Open(e)
		if err != nil {
			t.Fatalf("Open(%s): %v", e.Name, err)
		}
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read %s: %v", e.Name, err)
		}
		if !bytes.Equal(got, want[e.Name]) {
			t.Fatalf("content of %s mismatch", e.Name)
		}
	}
}

func TestNonSolidAESRoundTripAndWrongPassword(t *testing.T) {
	f, path := createTempArchive(t)
	content := []byte("top secret payload, do not leak")

	solid := false
	opts := &WriterOptions{
		Solid:          &solid,
		ContentMethods: []EncoderConfiguration{{Method: MethodLZMA2, Preset: 6}},
		Password:       []byte("hunter2"),
	}
	w, err := Create(f, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.PushEntry("secret.bin", EntryMetadata{}, bytes.NewReader(content)); err != nil {
		t.Fatalf("PushEntry: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f.Close()

	// Wrong password: either the header itself fails to decode (if the
	// header was encrypted) or an individual block does.
	if _, err := Open(path, &ReaderOptions{Password: []byte("wrong")}); err == nil {
		t.Fatal("expected failure opening an AES-encrypted archive with the wrong password")
	} else if !errors.Is(err, ErrWrongPassword) && !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("error = %v, want ErrWrongPassword or ErrPasswordRequired", err)
	}

	r, err := OpenWithPassword(path, []byte("hunter2"))
	if err != nil {
		t.Fatalf("OpenWithPassword: %v", err)
	}
	defer r.Close()

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	rc, err := r.Open(&entries[0])
	if err != nil {
		t.Fatalf("Open(entry): %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}
}

func TestBCJX86LZMA2FilteredRoundTrip(t *testing.T) {
	f, path := createTempArchive(t)
	// A plausible x86 code stream: alternating CALL opcodes and filler.
	content := bytes.Repeat([]byte{0xE8, 0x12, 0x34, 0x56, 0x00, 0x90, 0x90, 0x90}, 256)

	opts := &WriterOptions{
		ContentMethods: []EncoderConfiguration{
			{Method: MethodBCJX86},
			{Method: MethodLZMA2, Preset: 6},
		},
	}
	w, err := Create(f, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.PushEntry("program.bin", EntryMetadata{}, bytes.NewReader(content)); err != nil {
		t.Fatalf("PushEntry: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f.Close()

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entries := r.Entries()
	rc, err := r.Open(&entries[0])
	if err != nil {
		t.Fatalf("Open(entry): %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("filtered round trip mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestEncodedHeaderRequiresPassword(t *testing.T) {
	f, path := createTempArchive(t)
	content := []byte("encrypted metadata too")
	opts := &WriterOptions{Password: []byte("s3cr3t")}
	w, err := Create(f, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.PushEntry("file.bin", EntryMetadata{}, bytes.NewReader(content)); err != nil {
		t.Fatalf("PushEntry: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f.Close()

	_, err = Open(path, nil)
	if err == nil {
		t.Fatal("expected failure opening a password-protected archive with no password")
	}
	if !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("error = %v, want ErrPasswordRequired", err)
	}
}

// TestWriterNonSeekableSinkBuffers exercises the fallback for a sink that
// cannot Seek: *bytes.Buffer implements io.Writer but not io.Seeker,
// so Create must buffer the whole archive and flush it on Finish rather
// than failing or silently corrupting the start header.
func TestWriterNonSeekableSinkBuffers(t *testing.T) {
	var buf bytes.Buffer
	content := []byte("buffered sink content, never seeked directly")

	opts := &WriterOptions{ContentMethods: []EncoderConfiguration{{Method: MethodCopy}}}
	w, err := Create(&buf, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.PushEntry("f.txt", EntryMetadata{}, bytes.NewReader(content)); err != nil {
		t.Fatalf("PushEntry: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "buffered.7z")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write buffered archive: %v", err)
	}

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	rc, err := r.Open(&entries[0])
	if err != nil {
		t.Fatalf("Open(entry): %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}
}

func TestMultiBlockBlockDecoderReadEntry(t *testing.T) {
	f, path := createTempArchive(t)
	solid := false
	opts := &WriterOptions{Solid: &solid, ContentMethods: []EncoderConfiguration{{Method: MethodCopy}}}
	w, err := Create(f, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	files := map[string][]byte{
		"one.txt":   []byte("one"),
		"two.txt":   []byte("two two"),
		"three.txt": []byte("three three three"),
	}
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		if err := w.PushEntry(name, EntryMetadata{}, bytes.NewReader(files[name])); err != nil {
			t.Fatalf("PushEntry %s: %v", name, err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f.Close()

	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.NumBlocks() != 3 {
		t.Fatalf("NumBlocks = %d, want 3 (non-solid)", r.NumBlocks())
	}
	for i := range r.Entries() {
		e := &r.Entries()[i]
		blockIdx, offset, size := r.EntryBlockInfo(e)
		dec, err := r.OpenBlock(blockIdx)
		if err != nil {
			t.Fatalf("OpenBlock(%d): %v", blockIdx, err)
		}
		buf, err := dec.ReadEntry(offset, size)
		if err != nil {
			t.Fatalf("ReadEntry(%s): %v", e.Name, err)
		}
		if !bytes.Equal(buf, files[e.Name]) {
			t.Fatalf("content of %s mismatch via BlockDecoder", e.Name)
		}
	}
}
