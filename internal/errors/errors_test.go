// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package errors

import "testing"

func TestErrorString(t *testing.T) {
	err := E(Op("rdb.GetJob"), NotFound, "cannot find job with id=123")
	want := "NOT_FOUND: cannot find job with id=123"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDebugString(t *testing.T) {
	err := E(Op("rdb.Enqueue"), Unknown, New("connection refused"))
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("E returned %T, want *Error", err)
	}
	want := "rdb.Enqueue: UNKNOWN: connection refused"
	if got := e.DebugString(); got != want {
		t.Errorf("DebugString() = %q, want %q", got, want)
	}
}

func TestCanonicalCode(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{E(NotFound, "missing"), NotFound},
		{E(FailedPrecondition, "bad state"), FailedPrecondition},
		{New("plain"), Unspecified},
	}
	for _, tc := range tests {
		if got := CanonicalCode(tc.err); got != tc.want {
			t.Errorf("CanonicalCode(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsJobNotFound(t *testing.T) {
	if !IsJobNotFound(E(Op("rdb.GetJob"), NotFound, "missing")) {
		t.Error("IsJobNotFound = false, want true")
	}
	if IsJobNotFound(New("other")) {
		t.Error("IsJobNotFound = true, want false")
	}
}
