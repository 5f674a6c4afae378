package chunk

import (
	"path"
	"strings"

	globlib "github.com/pachyderm/ohmyglob"

	"github.com/pachyderm/durachunk/src/internal/errors"
)

// Filter decides which files and directories are considered for upload.
// Patterns are globs over slash separated paths; "**" matches across
// directories.  The zero Filter includes everything.
type Filter struct {
	include []*globlib.Glob
	exclude []*globlib.Glob
}

// NewFilter compiles include and exclude patterns.  With no include patterns
// every file is included; an exclude always wins.
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	var err error
	if f.include, err = compile(include); err != nil {
		return nil, err
	}
	if f.exclude, err = compile(exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compile(patterns []string) ([]*globlib.Glob, error) {
	var globs []*globlib.Glob
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := globlib.Compile(p, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "compile pattern %q", p)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func matchAny(globs []*globlib.Glob, p string) bool {
	for _, g := range globs {
		if g.Match(p) || g.Match(path.Base(p)) {
			return true
		}
	}
	return false
}

// IncludeFile reports whether the file at relative path p is considered.
func (f *Filter) IncludeFile(p string) bool {
	p = clean(p)
	if matchAny(f.exclude, p) {
		return false
	}
	return len(f.include) == 0 || matchAny(f.include, p)
}

// IncludeDir reports whether the directory at relative path p is walked.
// Include patterns apply to files only.
func (f *Filter) IncludeDir(p string) bool {
	return !matchAny(f.exclude, clean(p))
}
