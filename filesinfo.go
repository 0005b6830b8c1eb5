// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// fileEntry is one record from FilesInfo: a name plus the attribute flags
// and timestamps 7z allows per file, independent of where (or whether) its
// content lives in a block.
type fileEntry struct {
	Name            string
	IsEmptyStream   bool
	IsEmptyFile     bool
	IsAnti          bool
	HasAttributes   bool
	Attributes      uint32
	HasCreationTime bool
	CreationTime    time.Time
	HasAccessTime   bool
	AccessTime      time.Time
	HasModTime      bool
	ModTime         time.Time
	StartPos        uint64
	HasStartPos     bool
}

// filesInfo is the parsed FilesInfo section: one fileEntry per archived
// path, directories and empty files included.
type filesInfo struct {
	Files []fileEntry
}

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func readNames(rd io.Reader, n int, size uint32) ([]string, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, fmt.Errorf("%w: read Names payload: %v", ErrHeaderCorrupted, err)
	}
	decoded, err := utf16LE.NewDecoder().Bytes(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: decode UTF-16LE names: %v", ErrHeaderCorrupted, err)
	}

	names := make([]string, 0, n)
	start := 0
	for i := 0; i < len(decoded); i++ {
		if decoded[i] == 0 {
			names = append(names, string(decoded[start:i]))
			start = i + 1
		}
	}
	if len(names) != n {
		return nil, fmt.Errorf("%w: expected %d names, found %d", ErrHeaderCorrupted, n, len(names))
	}
	return names, nil
}

const (
	fileTimeTicksPerSecond = 10_000_000
	fileTimeEpochDelta     = 11_644_473_600 // seconds, 1601-01-01 -> 1970-01-01

	// maxFileTimeTicks is the largest representable FILETIME (a signed
	// 64-bit tick count), which lands on 30828-09-14.
	maxFileTimeTicks = uint64(1)<<63 - 1
)

// fileTimeToTime converts a Windows FILETIME (100ns ticks since
// 1601-01-01) to time.Time, rejecting tick counts past the signed 64-bit
// range the format defines.
func fileTimeToTime(ticks uint64) (time.Time, error) {
	if ticks > maxFileTimeTicks {
		return time.Time{}, ErrInvalidTimestamp
	}
	secs := int64(ticks/fileTimeTicksPerSecond) - fileTimeEpochDelta
	nsecs := int64(ticks%fileTimeTicksPerSecond) * 100
	return time.Unix(secs, nsecs).UTC(), nil
}

// timeToFileTime is the inverse of fileTimeToTime, for the writer. Times
// before 1601-01-01 or after 30828-09-14 have no FILETIME encoding.
func timeToFileTime(t time.Time) (uint64, error) {
	secs := t.Unix() + fileTimeEpochDelta
	if secs < 0 || uint64(secs) > maxFileTimeTicks/fileTimeTicksPerSecond {
		return 0, ErrInvalidTimestamp
	}
	ticks := uint64(secs)*fileTimeTicksPerSecond + uint64(t.Nanosecond()/100)
	if ticks > maxFileTimeTicks {
		return 0, ErrInvalidTimestamp
	}
	return ticks, nil
}

func readTimestamps(r io.ByteReader, rd io.Reader, n int, assign func(i int, defined bool, t time.Time) error) error {
	bv, err := readAllOrBitVector(r, rd, n)
	if err != nil {
		return err
	}
	external, err := r.ReadByte()
	if err != nil {
		return err
	}
	if external != 0 {
		return fmt.Errorf("%w: external timestamp data is not supported", ErrUnsupportedMethod)
	}
	for i := 0; i < n; i++ {
		if !bv.get(i) {
			if err := assign(i, false, time.Time{}); err != nil {
				return err
			}
			continue
		}
		var b [8]byte
		if _, err := io.ReadFull(rd, b[:]); err != nil {
			return err
		}
		ticks := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
			uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
		t, err := fileTimeToTime(ticks)
		if err != nil {
			return err
		}
		if err := assign(i, true, t); err != nil {
			return err
		}
	}
	return nil
}

func readFilesInfo(r io.ByteReader, rd io.Reader) (*filesInfo, error) {
	numFiles, err := readNumberAsUint32(r)
	if err != nil {
		return nil, err
	}
	if numFiles > maxHeaderItems {
		return nil, fmt.Errorf("%w: %d files", ErrHeaderCorrupted, numFiles)
	}
	fi := &filesInfo{Files: make([]fileEntry, numFiles)}

	emptyStream := newBitVector(int(numFiles))
	numEmptyStreams := 0
	haveEmptyFileVector := false
	var emptyFile *bitVector
	var anti *bitVector

	for {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		tag := propertyID(tagByte)
		if tag == idEnd {
			break
		}

		size, err := readNumber(r)
		if err != nil {
			return nil, err
		}
		limited := io.LimitReader(rd, int64(size))
		lr := newByteReader(limited)

		switch tag {
		case idEmptyStream:
			emptyStream, err = readBitVector(lr, int(numFiles))
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(numFiles); i++ {
				if emptyStream.get(i) {
					numEmptyStreams++
				}
			}
		case idEmptyFile:
			emptyFile, err = readBitVector(lr, numEmptyStreams)
			if err != nil {
				return nil, err
			}
			haveEmptyFileVector = true
		case idAnti:
			anti, err = readBitVector(lr, numEmptyStreams)
			if err != nil {
				return nil, err
			}
		case idName:
			if size == 0 || size > defaultHeaderSizeLimit {
				return nil, fmt.Errorf("%w: Names payload of %d bytes", ErrHeaderCorrupted, size)
			}
			external, err := lr.ReadByte()
			if err != nil {
				return nil, err
			}
			if external != 0 {
				return nil, fmt.Errorf("%w: external name data is not supported", ErrUnsupportedMethod)
			}
			names, err := readNames(lr, int(numFiles), uint32(size)-1)
			if err != nil {
				return nil, err
			}
			for i, name := range names {
				fi.Files[i].Name = name
			}
		case idCTime:
			err = readTimestamps(lr, lr, int(numFiles), func(i int, defined bool, t time.Time) error {
				fi.Files[i].HasCreationTime = defined
				fi.Files[i].CreationTime = t
				return nil
			})
		case idATime:
			err = readTimestamps(lr, lr, int(numFiles), func(i int, defined bool, t time.Time) error {
				fi.Files[i].HasAccessTime = defined
				fi.Files[i].AccessTime = t
				return nil
			})
		case idMTime:
			err = readTimestamps(lr, lr, int(numFiles), func(i int, defined bool, t time.Time) error {
				fi.Files[i].HasModTime = defined
				fi.Files[i].ModTime = t
				return nil
			})
		case idWinAttributes:
			bv, err2 := readAllOrBitVector(lr, lr, int(numFiles))
			if err2 != nil {
				return nil, err2
			}
			external, err2 := lr.ReadByte()
			if err2 != nil {
				return nil, err2
			}
			if external != 0 {
				return nil, fmt.Errorf("%w: external attribute data is not supported", ErrUnsupportedMethod)
			}
			for i := 0; i < int(numFiles); i++ {
				if !bv.get(i) {
					continue
				}
				var b [4]byte
				if _, err2 = io.ReadFull(lr, b[:]); err2 != nil {
					return nil, err2
				}
				fi.Files[i].HasAttributes = true
				fi.Files[i].Attributes = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
			}
		case idStartPos:
			bv, err2 := readAllOrBitVector(lr, lr, int(numFiles))
			if err2 != nil {
				return nil, err2
			}
			for i := 0; i < int(numFiles); i++ {
				if !bv.get(i) {
					continue
				}
				v, err2 := readNumber(lr)
				if err2 != nil {
					return nil, err2
				}
				fi.Files[i].HasStartPos = true
				fi.Files[i].StartPos = v
			}
		case idDummy:
			// Padding used by the reference encoder to align the header;
			// the size prefix already tells us how many bytes to skip.
		default:
			return nil, fmt.Errorf("%w: tag %d in FilesInfo", ErrUnknownHeaderTag, tagByte)
		}
		if err != nil {
			return nil, err
		}
		// A handler isn't required to consume its whole bounded region
		// (Dummy padding never does); drain whatever it left so the next
		// tag byte is read from the right offset in the shared stream.
		if _, err := io.Copy(io.Discard, limited); err != nil {
			return nil, err
		}
	}

	emptyIdx := 0
	for i := 0; i < int(numFiles); i++ {
		fi.Files[i].IsEmptyStream = emptyStream.get(i)
		if !fi.Files[i].IsEmptyStream {
			continue
		}
		if haveEmptyFileVector && emptyFile != nil {
			fi.Files[i].IsEmptyFile = emptyFile.get(emptyIdx)
		}
		if anti != nil {
			fi.Files[i].IsAnti = anti.get(emptyIdx)
		}
		emptyIdx++
	}

	return fi, nil
}

// byteReaderAdapter adapts an io.Reader (here, an io.LimitReader over the shared
// header stream) into an io.ByteReader so the varint/bit-vector helpers
// can be reused inside a FilesInfo property's own size-bounded region.
type byteReaderAdapter struct {
	io.Reader
}

func (b byteReaderAdapter) ReadByte() (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(b.Reader, buf[:])
	return buf[0], err
}

func newByteReader(r io.Reader) interface {
	io.Reader
	io.ByteReader
} {
	return byteReaderAdapter{r}
}
