// Package project discovers the spiders of a requests project. A spider is
// a python file in the project directory which assigns spider_name.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const ProjectType = "requests"

var ErrSpiderNotFound = errors.New("spider not found")

// ProjectStructureError is returned when the project directory cannot be
// listed.
type ProjectStructureError struct {
	Dir string
	Err error
}

func (e *ProjectStructureError) Error() string {
	return fmt.Sprintf("project structure error in %s: %v", e.Dir, e.Err)
}

func (e *ProjectStructureError) Unwrap() error {
	return e.Err
}

var spiderNameRe = regexp.MustCompile(`spider_name\s*=\s*['"]([^'"]+)['"]`)

// files which are never spiders
var blocked = []string{
	"setup.py",
	"__init__.py",
	"__main__.py",
	"conftest.py",
}

// Spider is a spider name and the file defining it.
type Spider struct {
	Name string
	File string
}

// Spiders yields every spider of the project in fsys in directory order.
// Subdirectories are not searched. A failure to list the directory is
// yielded as *ProjectStructureError and ends the sequence, files which
// cannot be read are yielded as errors and skipped.
func Spiders(fsys fs.FS) iter.Seq2[Spider, error] {
	return func(yield func(Spider, error) bool) {
		entries, err := fs.ReadDir(fsys, ".")
		if err != nil {
			yield(Spider{}, &ProjectStructureError{Dir: ".", Err: err})
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if !entry.Type().IsRegular() || path.Ext(name) != ".py" || slices.Contains(blocked, name) {
				continue
			}
			src, err := fs.ReadFile(fsys, name)
			if err != nil {
				if !yield(Spider{}, fmt.Errorf("reading %s: %w", name, err)) {
					return
				}
				continue
			}
			m := spiderNameRe.FindSubmatch(src)
			if m == nil {
				continue
			}
			if !yield(Spider{Name: string(m[1]), File: name}, nil) {
				return
			}
		}
	}
}

// Finder looks up spiders in a project directory.
type Finder struct {
	Dir string
}

func NewFinder(dir string) Finder {
	return Finder{Dir: dir}
}

// SpiderNames returns the names of all spiders in directory order.
func (f Finder) SpiderNames() ([]string, error) {
	var names []string
	err := f.each(func(s Spider) bool {
		names = append(names, s.Name)
		return true
	})
	return names, err
}

// FileBySpiderName returns the file defining the spider called name. When
// no file defines it, but name is itself a python file of the project, name
// is returned.
func (f Finder) FileBySpiderName(name string) (string, error) {
	var file string
	err := f.each(func(s Spider) bool {
		if s.Name == name {
			file = s.File
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	if file != "" {
		return file, nil
	}

	if strings.HasSuffix(name, ".py") && !strings.ContainsAny(name, `/\`) {
		info, err := os.Stat(filepath.Join(f.dir(), name))
		if err == nil && info.Mode().IsRegular() {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSpiderNotFound, name)
}

// Resolve implements service.Resolver.
func (f Finder) Resolve(spider string) (string, error) {
	return f.FileBySpiderName(spider)
}

func (f Finder) dir() string {
	if f.Dir == "" {
		return "."
	}
	return f.Dir
}

func (f Finder) each(fn func(Spider) bool) error {
	root, err := os.OpenRoot(f.dir())
	if err != nil {
		return &ProjectStructureError{Dir: f.dir(), Err: err}
	}
	defer root.Close()

	for spider, err := range Spiders(root.FS()) {
		if err != nil {
			var structErr *ProjectStructureError
			if errors.As(err, &structErr) {
				return &ProjectStructureError{Dir: f.dir(), Err: structErr.Err}
			}
			continue
		}
		if !fn(spider) {
			break
		}
	}
	return nil
}
