package reorder

import (
	"path/filepath"
	"strings"
)

// PageFile is one scanned page image as found in a directory listing.
type PageFile struct {
	Path         string
	BaseName     string
	StablePrefix string // up to and including the last underscore
	Extension    string // from the last dot, including the dot
}

// NewPageFile derives the naming components of path.
func NewPageFile(path string) PageFile {
	base := filepath.Base(path)
	return PageFile{
		Path:         path,
		BaseName:     base,
		StablePrefix: stablePrefix(base),
		Extension:    extension(base),
	}
}

func stablePrefix(name string) string {
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return ""
	}
	return name[:i+1]
}

// extension is empty when there is no dot or the only dot leads the name.
func extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return ""
	}
	return name[i:]
}

func pageFiles(paths []string) []PageFile {
	out := make([]PageFile, 0, len(paths))
	for _, p := range paths {
		out = append(out, NewPageFile(p))
	}
	return out
}
