package stream

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".webm": "audio/webm",
}

// ContentType derives the MIME type from the file extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Result describes what ServeFile wrote.
type Result struct {
	Status  int
	Written int64
}

// ServeFile answers r with the file at path, honouring a single Range header.
// Every call opens its own read handle. HEAD requests receive headers only.
func ServeFile(w http.ResponseWriter, r *http.Request, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	size := info.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", ContentType(path))

	header := r.Header.Get("Range")
	if header == "" {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return copyBody(w, r, f, size, http.StatusOK)
	}

	window, err := ParseRange(header, size)
	if err != nil {
		h.Del("Content-Type")
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return Result{Status: http.StatusRequestedRangeNotSatisfiable}, nil
	}

	if _, err := f.Seek(window.Start, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("seek %s: %w", path, err)
	}
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", window.Start, window.End, size))
	h.Set("Content-Length", strconv.FormatInt(window.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	return copyBody(w, r, f, window.Length(), http.StatusPartialContent)
}

func copyBody(w io.Writer, r *http.Request, f io.Reader, n int64, status int) (Result, error) {
	if r.Method == http.MethodHead {
		return Result{Status: status}, nil
	}
	written, err := io.CopyN(w, f, n)
	if err != nil && !errors.Is(err, io.EOF) {
		return Result{Status: status, Written: written}, fmt.Errorf("write body: %w", err)
	}
	return Result{Status: status, Written: written}, nil
}
