package stream

import "testing"

func TestParseRange(t *testing.T) {
	const size = 1000

	cases := []struct {
		header string
		want   Range
	}{
		{"bytes=0-99", Range{0, 99}},
		{"bytes=500-", Range{500, 999}},
		{"bytes=999-999", Range{999, 999}},
		{"bytes=-100", Range{900, 999}},
		{"bytes=-5000", Range{0, 999}},
		{" bytes= 10 - 20 ", Range{10, 20}},
	}
	for _, tc := range cases {
		got, err := ParseRange(tc.header, size)
		if err != nil {
			t.Fatalf("ParseRange(%q) returned error: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRange(%q) = %+v, want %+v", tc.header, got, tc.want)
		}
	}
}

func TestParseRangeRejects(t *testing.T) {
	const size = 1000

	for _, header := range []string{
		"",
		"items=0-10",
		"bytes=",
		"bytes=-",
		"bytes=-0",
		"bytes=1000-1010",
		"bytes=10-5",
		"bytes=0-1000",
		"bytes=abc-def",
		"bytes=+1-5",
		"bytes=0-10,20-30",
		"bytes=5",
	} {
		if _, err := ParseRange(header, size); err != ErrRangeNotSatisfiable {
			t.Fatalf("ParseRange(%q) expected ErrRangeNotSatisfiable, got %v", header, err)
		}
	}
}

func TestParseRangeOnEmptyResource(t *testing.T) {
	if _, err := ParseRange("bytes=0-", 0); err != ErrRangeNotSatisfiable {
		t.Fatalf("expected empty resources to be unsatisfiable, got %v", err)
	}
}

func TestRangeLength(t *testing.T) {
	if got := (Range{Start: 0, End: 99}).Length(); got != 100 {
		t.Fatalf("expected length 100, got %d", got)
	}
}
