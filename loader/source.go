package loader

import (
	"io/fs"
	"path"
	"sort"
	"strings"
)

// source is where module text comes from. Names are slash-separated and
// relative to the source root.
type source interface {
	readFile(name string) ([]byte, error)
	// subdirs lists the names of the directories directly under dir.
	subdirs(dir string) ([]string, error)
	isFile(name string) bool
}

type fsSource struct {
	fsys fs.FS
}

func (s fsSource) readFile(name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, name)
}

func (s fsSource) subdirs(dir string) ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (s fsSource) isFile(name string) bool {
	info, err := fs.Stat(s.fsys, name)
	return err == nil && !info.IsDir()
}

// mapSource serves module text from memory, keyed by cleaned path.
type mapSource map[string]string

func newMapSource(files map[string]string) mapSource {
	m := make(mapSource, len(files))
	for name, text := range files {
		m[strings.TrimPrefix(path.Clean(name), "/")] = text
	}
	return m
}

func (m mapSource) readFile(name string) ([]byte, error) {
	text, ok := m[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return []byte(text), nil
}

func (m mapSource) subdirs(dir string) ([]string, error) {
	prefix := dir + "/"
	seen := make(map[string]struct{})
	for name := range m {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		if sub, _, nested := strings.Cut(rest, "/"); nested {
			seen[sub] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}
	out := make([]string, 0, len(seen))
	for sub := range seen {
		out = append(out, sub)
	}
	sort.Strings(out)
	return out, nil
}

func (m mapSource) isFile(name string) bool {
	_, ok := m[name]
	return ok
}
