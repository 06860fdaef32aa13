// Package tags fills missing track descriptors from embedded audio metadata.
package tags

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// Descriptor holds the human-readable fields of a track.
type Descriptor struct {
	Title  string
	Artist string
	Album  string
}

// read extracts ID3/Vorbis/MP4 tags from the file. Files without tags yield
// an empty descriptor and no error.
func read(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close()

	metadata, err := tag.ReadFrom(f)
	if err != nil {
		return Descriptor{}, nil
	}
	return Descriptor{
		Title:  strings.TrimSpace(metadata.Title()),
		Artist: strings.TrimSpace(metadata.Artist()),
		Album:  strings.TrimSpace(metadata.Album()),
	}, nil
}

// Complete returns d with empty fields taken from the file's tags. The title
// finally falls back to the original file name without its extension.
func Complete(d Descriptor, path, originalName string) Descriptor {
	d.Title = strings.TrimSpace(d.Title)
	d.Artist = strings.TrimSpace(d.Artist)
	d.Album = strings.TrimSpace(d.Album)

	if d.Title == "" || d.Artist == "" || d.Album == "" {
		if embedded, err := read(path); err == nil {
			if d.Title == "" {
				d.Title = embedded.Title
			}
			if d.Artist == "" {
				d.Artist = embedded.Artist
			}
			if d.Album == "" {
				d.Album = embedded.Album
			}
		}
	}

	if d.Title == "" {
		base := filepath.Base(originalName)
		d.Title = strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if d.Title == "" || d.Title == "." {
		d.Title = "Untitled"
	}
	return d
}
