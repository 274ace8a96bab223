// Package fatpath implements a pathlib-flavoured view over a
// fat.FileSystem, resolving components case-insensitively against long or
// short names and re-reading a stale entry from its owning directory
// before trusting its cluster pointer.
package fatpath

import (
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/fat"
)

// Path is an ordinary pointer to a fat.FileSystem (which it keeps
// reachable) plus its resolved components. It does not detect that the
// volume has been closed. The zero value is not useful; construct with Root.
type Path struct {
	fs       *fat.FileSystem
	parts    []string // "" as parts[0] marks an absolute path
	resolved bool
	dir      *fat.Directory // owning directory of entry, nil if entry is the root
	entry    fat.Entry
	exists   bool
}

// Root returns the absolute root path of fs.
func Root(fs *fat.FileSystem) Path {
	return Path{fs: fs, parts: []string{""}}
}

// sameFS panics-free equality check backing Equal/Rename's same-FS rule.
func (p Path) sameFS(other Path) bool { return p.fs == other.fs }

// String renders the path using "/" separators.
func (p Path) String() string {
	if len(p.parts) == 1 && p.parts[0] == "" {
		return "/"
	}
	return strings.Join(p.parts, "/")
}

// Parts returns the path's components (parts[0] == "" for an absolute
// path).
func (p Path) Parts() []string { return append([]string(nil), p.parts...) }

// Equal compares two paths case-insensitively; paths from different file
// systems are never equal, rendered here as simply false rather than a
// panic.
func (p Path) Equal(other Path) bool {
	if !p.sameFS(other) || len(p.parts) != len(other.parts) {
		return false
	}
	for i := range p.parts {
		if !strings.EqualFold(p.parts[i], other.parts[i]) {
			return false
		}
	}
	return true
}

// Join returns the child path formed by appending name.
func (p Path) Join(name string) Path {
	parts := append(append([]string(nil), p.parts...), name)
	return Path{fs: p.fs, parts: parts}
}

// Parent returns the path's parent; the root is its own parent.
func (p Path) Parent() Path {
	if len(p.parts) <= 1 {
		return p
	}
	return Path{fs: p.fs, parts: append([]string(nil), p.parts[:len(p.parts)-1]...)}
}

// Name returns the final path component ("" for the root).
func (p Path) Name() string {
	if len(p.parts) <= 1 {
		return ""
	}
	return p.parts[len(p.parts)-1]
}

// resolve walks from the root, looking up each component case-insensitively
// against the long name (falling back to the short name). It is idempotent
// and memoizes the walk's result.
func (p *Path) resolve() error {
	if p.resolved {
		return nil
	}
	p.resolved = true

	cluster := p.fs.RootCluster()
	dir, err := p.fs.OpenDir(cluster)
	if err != nil {
		return err
	}
	if len(p.parts) == 1 {
		p.dir = nil
		p.exists = true
		return nil
	}

	for i, name := range p.parts[1:] {
		e, ok := dir.Find(name)
		if !ok {
			p.exists = false
			p.dir = dir
			return nil
		}
		last := i == len(p.parts)-2
		if last {
			p.entry = e
			p.dir = dir
			p.exists = true
			return nil
		}
		if !e.IsDir() {
			return errs.Newf(errs.NotADirectory, "%q is not a directory", name)
		}
		dir, err = p.fs.OpenDir(e.FirstCluster)
		if err != nil {
			return err
		}
	}
	return nil
}

// refresh re-reads entry from its owning directory by name: a path's
// cluster pointer may be stale after truncation followed by re-population
// elsewhere.
func (p *Path) refresh() error {
	if p.dir == nil {
		return nil
	}
	e, ok := p.dir.Find(p.Name())
	if !ok {
		p.exists = false
		return errs.Newf(errs.NotFound, "%q no longer exists", p.Name())
	}
	p.entry = e
	return nil
}

// Exists reports whether the path resolves to a live directory entry (or
// is the root).
func (p *Path) Exists() bool {
	if err := p.resolve(); err != nil {
		return false
	}
	return p.exists
}

// IsDir reports whether the path resolves to a directory (the root
// counts).
func (p *Path) IsDir() bool {
	if err := p.resolve(); err != nil {
		return false
	}
	if len(p.parts) == 1 {
		return true
	}
	return p.exists && p.entry.IsDir()
}

// Info is the POSIX-shaped metadata returned by Stat.
type Info struct {
	Mode    uint32
	Size    int64
	Inode   uint32 // first cluster
	Dev     uintptr
	ModTime time.Time
}

const (
	modeFile = 0o444
	modeDir  = 0o40555
)

// Stat returns POSIX-shaped metadata for the path.
func (p *Path) Stat() (Info, error) {
	if err := p.resolve(); err != nil {
		return Info{}, err
	}
	if !p.exists {
		return Info{}, errs.Newf(errs.NotFound, "%q does not exist", p.String())
	}
	dev := fsIdentity(p.fs)
	if len(p.parts) == 1 {
		return Info{Mode: modeDir, Inode: p.fs.RootCluster(), Dev: dev}, nil
	}
	mode := uint32(modeFile)
	if p.entry.IsDir() {
		mode = modeDir
	}
	return Info{
		Mode:    mode,
		Size:    int64(p.entry.Size),
		Inode:   p.entry.FirstCluster,
		Dev:     dev,
		ModTime: p.entry.ModifyTime,
	}, nil
}

// fsIdentity derives a stable per-FileSystem identifier for Stat's dev
// field, since fat.FileSystem carries no natural device number: the
// FileSystem's own address is stable for its lifetime and unique among
// concurrently-mounted volumes.
func fsIdentity(fs *fat.FileSystem) uintptr {
	return reflect.ValueOf(fs).Pointer()
}

// Iterdir lists the path's direct children. The path must resolve to a
// directory.
func (p *Path) Iterdir() ([]Path, error) {
	if err := p.resolve(); err != nil {
		return nil, err
	}
	cluster := p.fs.RootCluster()
	if len(p.parts) > 1 {
		if !p.exists {
			return nil, errs.Newf(errs.NotFound, "%q does not exist", p.String())
		}
		if !p.entry.IsDir() {
			return nil, errs.Newf(errs.NotADirectory, "%q is not a directory", p.String())
		}
		cluster = p.entry.FirstCluster
	}
	dir, err := p.fs.OpenDir(cluster)
	if err != nil {
		return nil, err
	}
	entries, _ := dir.List()
	out := make([]Path, 0, len(entries))
	for _, e := range entries {
		child := p.Join(e.Name)
		child.resolved = true
		child.dir = dir
		child.entry = e
		child.exists = true
		out = append(out, child)
	}
	return out, nil
}

// Glob matches pattern (supporting ?, *, character classes via
// path.Match, and a whole "**" component for recursive descent) against
// this directory's descendants.
func (p *Path) Glob(pattern string) ([]Path, error) {
	return p.globComponents(strings.Split(pattern, "/"))
}

// Rglob is equivalent to Glob("**/" + pattern).
func (p *Path) Rglob(pattern string) ([]Path, error) {
	return p.Glob("**/" + pattern)
}

func (p *Path) globComponents(components []string) ([]Path, error) {
	if len(components) == 0 {
		if p.Exists() {
			return []Path{*p}, nil
		}
		return nil, nil
	}
	head, rest := components[0], components[1:]

	if head == "**" {
		var out []Path
		matches, err := p.globComponents(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
		if p.IsDir() {
			children, err := p.Iterdir()
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if c.IsDir() {
					sub, err := c.globComponents(components)
					if err != nil {
						return nil, err
					}
					out = append(out, sub...)
				}
			}
		}
		return out, nil
	}

	if !p.IsDir() {
		return nil, nil
	}
	children, err := p.Iterdir()
	if err != nil {
		return nil, err
	}
	var out []Path
	for _, c := range children {
		matched, err := path.Match(strings.ToLower(head), strings.ToLower(c.Name()))
		if err != nil {
			return nil, errs.Wrap(errs.InvalidFormat, err, "invalid glob pattern component")
		}
		if !matched {
			continue
		}
		sub, err := c.globComponents(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}
