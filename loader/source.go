package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Source lists and opens documents. Open returns an error matching
// fs.ErrNotExist for unknown names.
type Source interface {
	// List returns the names of the JSON documents, sorted.
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// skipFile reports package metadata that is not a resource.
func skipFile(name string) bool {
	base := path.Base(filepath.ToSlash(name))
	return base == "package.json" || base == ".index.json" || !strings.HasSuffix(base, ".json")
}

// DirSource reads JSON files below a directory. Names are slash-separated
// paths relative to the root.
type DirSource struct {
	root string
}

// NewDirSource creates a source over root.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// List implements Source.
func (s *DirSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || skipFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}
	sort.Strings(names)
	return names, nil
}

// Open implements Source.
func (s *DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid name %q: %w", name, fs.ErrNotExist)
	}
	return os.Open(filepath.Join(s.root, clean))
}

func (s *DirSource) String() string { return "dir:" + s.root }

// FSSource reads JSON files below dir of an fs.FS, e.g. an embed.FS.
type FSSource struct {
	fsys fs.FS
	dir  string
}

// NewFSSource creates a source over dir of fsys. An empty dir means ".".
func NewFSSource(fsys fs.FS, dir string) *FSSource {
	if dir == "" {
		dir = "."
	}
	return &FSSource{fsys: fsys, dir: dir}
}

// List implements Source.
func (s *FSSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := fs.WalkDir(s.fsys, s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || skipFile(d.Name()) {
			return nil
		}
		if s.dir != "." {
			p = strings.TrimPrefix(p, s.dir+"/")
		}
		names = append(names, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	sort.Strings(names)
	return names, nil
}

// Open implements Source.
func (s *FSSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return s.fsys.Open(path.Join(s.dir, name))
}

func (s *FSSource) String() string { return "fs:" + s.dir }

// readAll opens and reads one document.
func readAll(ctx context.Context, src Source, name string) ([]byte, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// IsNotExist reports whether err means the document does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
