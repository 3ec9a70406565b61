package domain

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtension is the marker extension for print-source files.
const DefaultExtension = ".zpl"

// PathFilter decides whether a path names a print-source file.
type PathFilter struct {
	extension string
}

// NewPathFilter creates a filter for the given extension. A missing leading
// dot is added; an empty extension falls back to DefaultExtension.
func NewPathFilter(extension string) PathFilter {
	if extension == "" {
		extension = DefaultExtension
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return PathFilter{extension: extension}
}

// Extension returns the marker extension, including the leading dot.
func (f PathFilter) Extension() string {
	return f.extension
}

// Qualifies reports whether the final extension of path equals the marker.
// The comparison is case-sensitive. Paths ending in a separator are treated
// as directories and never qualify.
func (f PathFilter) Qualifies(path string) bool {
	if path == "" || strings.HasSuffix(path, string(os.PathSeparator)) || strings.HasSuffix(path, "/") {
		return false
	}
	return filepath.Ext(path) == f.extension
}
