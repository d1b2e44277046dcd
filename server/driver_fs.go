package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OSFileSystem implements FileSystem on a local directory.
//
// All operations run through an os.Root handle opened on the base directory,
// so even a symlink planted inside the tree cannot lead an operation outside
// it. Rename is the one exception (os.Root has no rename), so it resolves
// both endpoints with EvalSymlinks and verifies them against the base before
// falling back to os.Rename.
type OSFileSystem struct {
	base string
	root *os.Root
}

// NewOSFileSystem opens a filesystem backend rooted at base. The directory
// must exist.
func NewOSFileSystem(base string) (*OSFileSystem, error) {
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("base path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", base)
	}

	// Canonicalize so the rename containment check compares real paths.
	base, err = filepath.EvalSymlinks(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	root, err := os.OpenRoot(base)
	if err != nil {
		return nil, err
	}
	return &OSFileSystem{base: base, root: root}, nil
}

// Close releases the root directory handle.
func (o *OSFileSystem) Close() error {
	return o.root.Close()
}

// rel converts the server's absolute virtual path to one relative to the
// root handle.
func (o *OSFileSystem) rel(path string) string {
	r := strings.TrimPrefix(path, "/")
	if r == "" {
		return "."
	}
	return r
}

func (o *OSFileSystem) OpenFile(path string, flag int) (File, error) {
	return o.root.OpenFile(o.rel(path), flag, 0644)
}

func (o *OSFileSystem) Stat(path string) (os.FileInfo, error) {
	return o.root.Stat(o.rel(path))
}

func (o *OSFileSystem) ReadDir(path string) ([]os.FileInfo, error) {
	f, err := o.root.Open(o.rel(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err == nil {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (o *OSFileSystem) Mkdir(path string) error {
	return o.root.Mkdir(o.rel(path), 0755)
}

func (o *OSFileSystem) RemoveDir(path string) error {
	return o.root.Remove(o.rel(path))
}

func (o *OSFileSystem) Remove(path string) error {
	return o.root.Remove(o.rel(path))
}

func (o *OSFileSystem) Rename(from, to string) error {
	srcFull := filepath.Join(o.base, o.rel(from))
	dstFull := filepath.Join(o.base, o.rel(to))

	// The source must resolve to a real path inside the base; this blocks
	// renames through a symlink that points elsewhere.
	realSrc, err := filepath.EvalSymlinks(srcFull)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return errors.New("failed to resolve source path")
	}
	if !o.contains(realSrc) {
		return os.ErrPermission
	}

	// The destination may not exist yet; its parent must still resolve
	// inside the base.
	realDstParent, err := filepath.EvalSymlinks(filepath.Dir(dstFull))
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return errors.New("failed to resolve destination path")
	}
	if !o.contains(realDstParent) {
		return os.ErrPermission
	}

	if err := os.Rename(srcFull, dstFull); err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("rename failed")
	}
	return nil
}

func (o *OSFileSystem) contains(p string) bool {
	return p == o.base || strings.HasPrefix(p, o.base+string(filepath.Separator))
}
