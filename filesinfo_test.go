// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"errors"
	"testing"
	"time"
)

func TestFileTimeRoundTrip(t *testing.T) {
	want := time.Date(2023, time.March, 14, 9, 26, 53, 500, time.UTC)
	ticks, err := timeToFileTime(want)
	if err != nil {
		t.Fatalf("timeToFileTime: %v", err)
	}
	got, err := fileTimeToTime(ticks)
	if err != nil {
		t.Fatalf("fileTimeToTime: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, want)
	}
}

func TestFileTimeEpoch(t *testing.T) {
	// 1601-01-01 00:00:00 UTC is FILETIME tick 0.
	got, err := fileTimeToTime(0)
	if err != nil {
		t.Fatalf("fileTimeToTime(0): %v", err)
	}
	want := time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("tick 0 = %v, want %v", got, want)
	}
}

func TestTimeToFileTimeRejectsOutOfRange(t *testing.T) {
	before := time.Date(1600, time.December, 31, 0, 0, 0, 0, time.UTC)
	if _, err := timeToFileTime(before); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("error = %v, want ErrInvalidTimestamp", err)
	}

	// 30828-09-14 is the last representable FILETIME day; the next day is
	// past the signed 64-bit tick range.
	after := time.Date(30828, time.September, 15, 0, 0, 0, 0, time.UTC)
	if _, err := timeToFileTime(after); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("error = %v, want ErrInvalidTimestamp", err)
	}

	edge := time.Date(30828, time.September, 14, 0, 0, 0, 0, time.UTC)
	if _, err := timeToFileTime(edge); err != nil {
		t.Fatalf("30828-09-14 should still encode, got %v", err)
	}
}

func TestFileTimeToTimeRejectsOverflow(t *testing.T) {
	// A tick count past the signed 64-bit range (after 30828-09-14).
	_, err := fileTimeToTime(^uint64(0))
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("error = %v, want ErrInvalidTimestamp", err)
	}
}
