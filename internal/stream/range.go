package stream

import (
	"errors"
	"strconv"
	"strings"
)

// ErrRangeNotSatisfiable is returned for any Range header that cannot be served.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// Range is an inclusive byte window.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the window.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange parses a single "bytes=" range against a resource of size bytes.
// Accepted forms are "start-end", "start-" and the suffix form "-n".
// The result always satisfies 0 <= Start <= End < size.
func ParseRange(header string, size int64) (Range, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || size <= 0 || strings.Contains(spec, ",") {
		return Range{}, ErrRangeNotSatisfiable
	}

	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return Range{}, ErrRangeNotSatisfiable
	}
	startRaw, endRaw = strings.TrimSpace(startRaw), strings.TrimSpace(endRaw)

	if startRaw == "" {
		n, err := parseOffset(endRaw)
		if err != nil || n == 0 {
			return Range{}, ErrRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, End: size - 1}, nil
	}

	start, err := parseOffset(startRaw)
	if err != nil {
		return Range{}, ErrRangeNotSatisfiable
	}
	end := size - 1
	if endRaw != "" {
		if end, err = parseOffset(endRaw); err != nil {
			return Range{}, ErrRangeNotSatisfiable
		}
	}

	if start > end || end >= size {
		return Range{}, ErrRangeNotSatisfiable
	}
	return Range{Start: start, End: end}, nil
}

func parseOffset(raw string) (int64, error) {
	if raw == "" || strings.HasPrefix(raw, "+") {
		return 0, ErrRangeNotSatisfiable
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrRangeNotSatisfiable
	}
	return n, nil
}
