package internal

import (
	"strconv"
	"testing"
)

func TestNewNumericCodeRange(t *testing.T) {
	for i := 0; i < 2000; i++ {
		code, err := NewNumericCode(6)
		if err != nil {
			t.Fatalf("NewNumericCode: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("unexpected length %q", code)
		}
		n, err := strconv.Atoi(code)
		if err != nil || n < 100000 || n > 999999 {
			t.Fatalf("code %q outside [100000, 999999]", code)
		}
	}
	if _, err := NewNumericCode(2); err == nil {
		t.Fatal("expected invalid digits error")
	}
}

func TestRandomIndexBounds(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		n, err := RandomIndex(4)
		if err != nil || n < 0 || n >= 4 {
			t.Fatalf("RandomIndex out of range: n=%d err=%v", n, err)
		}
		seen[n] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected every index to appear, saw %v", seen)
	}
	if _, err := RandomIndex(0); err == nil {
		t.Fatal("expected error for empty range")
	}
}
