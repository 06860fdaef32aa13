package quota

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"syscall"
)

const maxStoredNameLength = 120

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)

// SanitizeFilename keeps ASCII letters, digits and dots; everything else becomes an underscore.
func SanitizeFilename(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > maxStoredNameLength {
		name = name[len(name)-maxStoredNameLength:]
	}
	if name == "" || name == "." || name == ".." {
		return "track"
	}
	return name
}

func moveFile(srcPath, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	// Temp and upload directories may sit on different filesystems.
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(srcPath, destPath); err != nil {
		_ = os.Remove(destPath)
		return err
	}
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := dest.ReadFrom(src); err != nil {
		dest.Close()
		return fmt.Errorf("copy contents: %w", err)
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		return err
	}
	return dest.Close()
}
