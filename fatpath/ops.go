package fatpath

import (
	"io"
	"strings"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/fat"
)

// openMode is the parsed form of Open's composable r/w/a/x/+/b flag
// string. Exactly one of r, w, a, x must be present; + and b
// may be combined with any of them.
type openMode struct {
	read, write, append, exclusive, plus, binary bool
}

func parseOpenMode(flags string) (openMode, error) {
	if flags == "" {
		flags = "r"
	}
	var m openMode
	primary := 0
	for _, c := range flags {
		switch c {
		case 'r':
			m.read = true
			primary++
		case 'w':
			m.write = true
			primary++
		case 'a':
			m.append = true
			primary++
		case 'x':
			m.exclusive = true
			primary++
		case '+':
			m.plus = true
		case 'b':
			m.binary = true
		default:
			return openMode{}, errs.Newf(errs.InvalidFormat, "unknown open mode flag %q", string(c))
		}
	}
	if primary != 1 {
		return openMode{}, errs.New(errs.InvalidFormat, "exactly one of r, w, a, x must be given")
	}
	return m, nil
}

// Open resolves and opens the path per flags. The b flag is
// accepted but has no separate effect: a fat.File is always a raw byte
// stream, so the text/binary split the flag marks elsewhere is moot here.
func (p *Path) Open(flags string) (*fat.File, error) {
	mode, err := parseOpenMode(flags)
	if err != nil {
		return nil, err
	}
	if err := p.resolve(); err != nil {
		return nil, err
	}
	if len(p.parts) == 1 {
		return nil, errs.New(errs.IsADirectory, "cannot open the root as a file")
	}

	wantsWrite := mode.write || mode.append || mode.exclusive || mode.plus
	if wantsWrite && p.fs.ReadOnly() {
		return nil, errs.New(errs.PermissionDenied, "file system is read-only")
	}

	switch {
	case mode.exclusive:
		if p.exists {
			return nil, errs.Newf(errs.InvalidFormat, "%q already exists", p.String())
		}
		return p.create()

	case mode.read:
		if !p.exists {
			return nil, errs.Newf(errs.NotFound, "%q does not exist", p.String())
		}
		if p.entry.IsDir() {
			return nil, errs.Newf(errs.IsADirectory, "%q is a directory", p.String())
		}
		return p.fs.OpenEntry(p.dir, p.entry)

	case mode.write:
		if p.exists {
			if p.entry.IsDir() {
				return nil, errs.Newf(errs.IsADirectory, "%q is a directory", p.String())
			}
			f, err := p.fs.OpenEntry(p.dir, p.entry)
			if err != nil {
				return nil, err
			}
			if err := f.Truncate(); err != nil {
				return nil, err
			}
			return f, nil
		}
		return p.create()

	case mode.append:
		var f *fat.File
		if p.exists {
			if p.entry.IsDir() {
				return nil, errs.Newf(errs.IsADirectory, "%q is a directory", p.String())
			}
			f, err = p.fs.OpenEntry(p.dir, p.entry)
		} else {
			f, err = p.create()
		}
		if err != nil {
			return nil, err
		}
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, errs.New(errs.InvalidFormat, "no open mode flag recognized")
}

// create inserts a fresh, empty directory entry for p and opens it.
func (p *Path) create() (*fat.File, error) {
	if p.dir == nil {
		return nil, errs.New(errs.InvalidFormat, "cannot create a file at the root's parent")
	}
	e, err := p.dir.Insert(p.Name(), 0, 0, 0)
	if err != nil {
		return nil, err
	}
	p.entry = e
	p.exists = true
	return p.fs.OpenEntry(p.dir, e)
}

// Unlink removes the path's directory entry and frees its cluster chain.
// missingOk suppresses the NotFound error when the path doesn't exist.
func (p *Path) Unlink(missingOk bool) error {
	if p.fs.ReadOnly() {
		return errs.New(errs.PermissionDenied, "file system is read-only")
	}
	if err := p.resolve(); err != nil {
		return err
	}
	if !p.exists {
		if missingOk {
			return nil
		}
		return errs.Newf(errs.NotFound, "%q does not exist", p.String())
	}
	if p.entry.IsDir() {
		return errs.Newf(errs.IsADirectory, "%q is a directory; use Rmdir", p.String())
	}
	if p.entry.FirstCluster != 0 {
		chain, err := p.fs.Table().Chain(p.entry.FirstCluster)
		if err != nil {
			return err
		}
		if err := p.fs.Table().FreeChain(chain); err != nil {
			return err
		}
	}
	return p.dir.Delete(p.entry)
}

// Rename moves this path to target, which must be on the same file
// system. An existing target file is replaced (its clusters freed) but an
// existing target directory is refused.
func (p *Path) Rename(target *Path) error {
	if !p.sameFS(*target) {
		return errs.New(errs.InvalidFormat, "rename across file systems is not supported")
	}
	if p.fs.ReadOnly() {
		return errs.New(errs.PermissionDenied, "file system is read-only")
	}
	if err := p.resolve(); err != nil {
		return err
	}
	if !p.exists {
		return errs.Newf(errs.NotFound, "%q does not exist", p.String())
	}
	if p.entry.IsDir() {
		return errs.New(errs.InvalidFormat, "renaming directories is not supported")
	}
	if err := target.resolve(); err != nil {
		return err
	}
	if target.exists {
		if target.entry.IsDir() {
			return errs.Newf(errs.IsADirectory, "%q is a directory", target.String())
		}
		if err := target.Unlink(false); err != nil {
			return err
		}
	}
	if target.dir == nil {
		return errs.New(errs.InvalidFormat, "cannot rename to the root")
	}
	if _, err := target.dir.Insert(target.Name(), p.entry.Attr, p.entry.FirstCluster, p.entry.Size); err != nil {
		return err
	}
	return p.dir.Delete(p.entry)
}

// Mkdir creates the path as a directory. parents creates any missing
// ancestor directories; existOk suppresses the error when the path
// already exists as a directory.
func (p *Path) Mkdir(parents, existOk bool) error {
	if p.fs.ReadOnly() {
		return errs.New(errs.PermissionDenied, "file system is read-only")
	}
	if err := p.resolve(); err != nil {
		return err
	}
	if p.exists {
		if p.entry.IsDir() && existOk {
			return nil
		}
		return errs.Newf(errs.InvalidFormat, "%q already exists", p.String())
	}
	if p.dir == nil {
		return errs.New(errs.InvalidFormat, "cannot create a directory at the root's parent")
	}
	if parents && len(p.parts) > 2 {
		parent := p.Parent()
		if err := parent.Mkdir(true, true); err != nil {
			return err
		}
		// The parent's creation may have allocated a new cluster for an
		// ancestor along the path; re-resolve so p.dir points at the
		// freshly created parent directory.
		p.resolved = false
		if err := p.resolve(); err != nil {
			return err
		}
		if p.exists {
			if existOk && p.entry.IsDir() {
				return nil
			}
			return errs.Newf(errs.InvalidFormat, "%q already exists", p.String())
		}
	}
	e, err := p.dir.CreateSubdir(p.Name())
	if err != nil {
		return err
	}
	p.entry = e
	p.exists = true
	return nil
}

// Rmdir removes the path, which must resolve to an empty, non-root
// directory.
func (p *Path) Rmdir() error {
	if p.fs.ReadOnly() {
		return errs.New(errs.PermissionDenied, "file system is read-only")
	}
	if err := p.resolve(); err != nil {
		return err
	}
	if len(p.parts) == 1 {
		return errs.New(errs.InvalidFormat, "cannot remove the root directory")
	}
	if !p.exists {
		return errs.Newf(errs.NotFound, "%q does not exist", p.String())
	}
	if !p.entry.IsDir() {
		return errs.Newf(errs.NotADirectory, "%q is not a directory", p.String())
	}
	dir, err := p.fs.OpenDir(p.entry.FirstCluster)
	if err != nil {
		return err
	}
	entries, _ := dir.List()
	if len(entries) > 0 {
		return errs.Newf(errs.DirectoryNotEmpty, "%q is not empty", p.String())
	}
	if chain := dir.Chain(); len(chain) > 0 {
		if err := p.fs.Table().FreeChain(chain); err != nil {
			return err
		}
	}
	return p.dir.Delete(p.entry)
}

// FromSlash splits a "/"-separated path string into a Path rooted at fs.
// A leading "/" is implied; empty components (from "//" or a trailing
// "/") are dropped.
func FromSlash(fs *fat.FileSystem, s string) Path {
	p := Root(fs)
	for _, part := range strings.Split(s, "/") {
		if part == "" {
			continue
		}
		p = p.Join(part)
	}
	return p
}
