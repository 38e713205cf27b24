// Package fsops is the local-disk storage used by the reorder engine.
package fsops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Recognised image extensions (lowercase, with leading dot).
var imageExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".jp2":  true,
	".png":  true,
	".gif":  true,
}

// IsImage reports whether name carries a recognised image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Local implements reorder.FileSystem on the OS filesystem.
type Local struct {
	DirMode os.FileMode
}

// NewLocal returns a Local creating directories with mode 0755.
func NewLocal() *Local { return &Local{DirMode: 0o755} }

// ListImageFiles returns regular image files directly inside dir, sorted
// by file name.
func (l *Local) ListImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsImage(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// ListNames returns the names of every entry directly inside dir,
// including directories and non-image files.
func (l *Local) ListNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// Move renames src to dst. It refuses to replace an existing dst.
func (l *Local) Move(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return err
	}
	if err := checkFree(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// Copy writes a copy of src to dst, which must not exist yet.
func (l *Local) Copy(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Sync()
}

// EnsureDir creates path and its parents if needed.
func (l *Local) EnsureDir(path string) error {
	return os.MkdirAll(path, l.dirMode())
}

// RemoveTree deletes path and everything below it. A missing path is fine.
func (l *Local) RemoveTree(path string) error {
	err := os.RemoveAll(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// CopyTree mirrors every directory and regular file below src into dst.
func (l *Local) CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, l.dirMode())
		case d.Type().IsRegular():
			return l.Copy(path, target)
		default:
			// sockets, devices and symlinks are not part of a scan folder
			return nil
		}
	})
}

func (l *Local) dirMode() os.FileMode {
	if l.DirMode == 0 {
		return 0o755
	}
	return l.DirMode
}

// checkFree fails when dst exists or its parent directory is missing.
func checkFree(dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &fs.PathError{Op: "move", Path: dst, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	parent, err := os.Stat(filepath.Dir(dst))
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return &fs.PathError{Op: "move", Path: filepath.Dir(dst), Err: errors.New("not a directory")}
	}
	return nil
}
