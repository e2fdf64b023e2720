package loader

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/wippyai/js-runtime/errors"
)

var extensions = []string{".js", ".mjs"}

// resolve maps specifier imported by the module at referrer to a source
// path. referrer is "" for entry modules.
func (l *Loader) resolve(specifier, referrer string) (string, error) {
	switch {
	case specifier == "":
		return "", errors.Load("empty specifier", nil)
	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"):
		return l.file(path.Join(path.Dir(referrer), specifier), specifier)
	case strings.HasPrefix(specifier, "/"):
		return l.file(strings.TrimPrefix(path.Clean(specifier), "/"), specifier)
	default:
		return l.bare(specifier)
	}
}

// file resolves a source-relative path, trying extensions and index files.
func (l *Loader) file(name, specifier string) (string, error) {
	if !fs.ValidPath(name) {
		return "", errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Path(specifier).
			Detail("specifier escapes the module root").
			Build()
	}
	if l.src.isFile(name) {
		return name, nil
	}
	if path.Ext(name) == "" {
		for _, ext := range extensions {
			if l.src.isFile(name + ext) {
				return name + ext, nil
			}
		}
	}
	if index := path.Join(name, "index.js"); l.src.isFile(index) {
		return index, nil
	}
	return "", errors.Load(fmt.Sprintf("module %q not found", specifier), fs.ErrNotExist)
}

// splitVersion splits "name@constraint". A leading "@" belongs to a
// scoped name.
func splitVersion(specifier string) (name, constraint string) {
	idx := strings.LastIndex(specifier, "@")
	if idx <= 0 {
		return specifier, ""
	}
	return specifier[:idx], specifier[idx+1:]
}

// bare resolves a package specifier to the index of its best version.
func (l *Loader) bare(specifier string) (string, error) {
	name, constraint := splitVersion(specifier)
	if name == "" || !fs.ValidPath(name) {
		return "", errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Path(specifier).
			Detail("invalid package specifier").
			Build()
	}

	var c *semver.Constraints
	if constraint != "" {
		var err error
		c, err = semver.NewConstraint(constraint)
		if err != nil {
			return "", errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Path(specifier).
				Detail("invalid version constraint %q", constraint).
				Cause(err).
				Build()
		}
	}

	dir := path.Join(l.root, name)
	dirs, err := l.src.subdirs(dir)
	if err != nil {
		return "", errors.Load(fmt.Sprintf("package %q not found", name), err)
	}

	versions := make(semver.Collection, 0, len(dirs))
	for _, d := range dirs {
		v, err := semver.NewVersion(d)
		if err != nil {
			continue
		}
		if c == nil || c.Check(v) {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return "", errors.Load(fmt.Sprintf("no version of %q satisfies %q", name, constraint), fs.ErrNotExist)
	}
	sort.Sort(sort.Reverse(versions))

	for _, v := range versions {
		index := path.Join(dir, v.Original(), "index.js")
		if l.src.isFile(index) {
			return index, nil
		}
	}
	return "", errors.Load(fmt.Sprintf("package %q has no index.js", name), fs.ErrNotExist)
}
