// Package repository is the read-only view over the directory of files
// clients may download. Nothing is cached: every call reads the directory as
// it is at that moment.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

var ErrNotFound = errors.New("repository: file not found")

// Entry is one downloadable file.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// File is an open repository file; Size is taken when it was opened.
type File struct {
	io.ReadCloser
	Name string
	Size int64
}

type Repository struct {
	root string
}

func New(root string) *Repository {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = "repo"
	}
	return &Repository{root: resolved}
}

func (r *Repository) Root() string {
	return r.root
}

// List returns regular file names directly under root, sorted. A missing
// directory lists as empty.
func (r *Repository) List() ([]string, error) {
	entries, err := r.Entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

func (r *Repository) Entries() ([]Entry, error) {
	root, err := os.OpenRoot(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("repository: open %s: %w", r.root, err)
	}
	defer root.Close()

	dirents, err := fs.ReadDir(root.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("repository: list %s: %w", r.root, err)
	}
	out := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		// Stat follows symlinks that stay inside root.
		info, err := root.Stat(d.Name())
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, Entry{Name: d.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Contains reports whether name is exactly one of the listed entries.
func (r *Repository) Contains(name string) bool {
	names, err := r.List()
	if err != nil {
		return false
	}
	i := sort.SearchStrings(names, name)
	return i < len(names) && names[i] == name
}

// Open opens a regular file directly inside root. Names that could address
// anything outside root are refused as not found.
func (r *Repository) Open(name string) (*File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(r.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrNotFound, name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("repository: stat %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %q is not a regular file", ErrNotFound, name)
	}
	return &File{ReadCloser: f, Name: name, Size: info.Size()}, nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrNotFound, name)
	case filepath.IsAbs(name), filepath.VolumeName(name) != "":
		return fmt.Errorf("%w: %q is absolute", ErrNotFound, name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains ..", ErrNotFound, name)
	}
	return nil
}

// Watch calls fn with a fresh listing whenever a file under root is created,
// written, removed or renamed, until ctx is done. Listings are still read
// from disk on every call; Watch only observes.
func (r *Repository) Watch(ctx context.Context, fn func([]Entry)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("repository: watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(r.root); err != nil {
		return fmt.Errorf("repository: watch %s: %w", r.root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			entries, err := r.Entries()
			if err != nil {
				continue
			}
			fn(entries)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("repository: watch %s: %w", r.root, err)
		}
	}
}
