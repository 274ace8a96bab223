package fat

import (
	"io"
	"time"

	"github.com/netbootd/netbootd/errs"
)

// File is a cluster-chain-backed random-access byte stream.
// size == nil means this File is a directory stream, whose effective size
// is len(chain)*clusterSize rather than a stored value.
type File struct {
	fs    *FileSystem
	chain []uint32
	size  *int64
	pos   int64

	dirty bool
	owner *direntRef // set when this File was opened from a directory slot
}

func newFile(fs *FileSystem, chain []uint32, size *int64) *File {
	return &File{fs: fs, chain: chain, size: size}
}

// setOwner records the directory slot this file's metadata is written back
// to on Close.
func (f *File) setOwner(ref *direntRef) { f.owner = ref }

func (f *File) logicalSize() int64 {
	if f.size != nil {
		return *f.size
	}
	return int64(len(f.chain)) * int64(f.fs.clusterSize)
}

// Seek implements io.Seeker with SEEK_SET/CUR/END, rejecting negative
// absolute positions.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = f.logicalSize() + offset
	default:
		return 0, errs.New(errs.InvalidFormat, "bad whence")
	}
	if newPos < 0 {
		return 0, errs.New(errs.InvalidFormat, "negative seek position")
	}
	f.pos = newPos
	return f.pos, nil
}

// Read implements io.Reader: copies from the cluster chain at the current
// position, clamping each chunk to its cluster boundary.
func (f *File) Read(p []byte) (int, error) {
	size := f.logicalSize()
	if f.pos >= size {
		return 0, io.EOF
	}
	cs := int64(f.fs.clusterSize)
	total := 0
	for total < len(p) && f.pos < size {
		index := f.pos / cs
		left := f.pos - index*cs
		right := cs
		if left+int64(len(p)-total) < right {
			right = left + int64(len(p)-total)
		}
		if size-index*cs < right {
			right = size - index*cs
		}
		if int(index) >= len(f.chain) {
			break
		}
		cluster, err := f.fs.region.Cluster(f.chain[index])
		if err != nil {
			return total, err
		}
		n := copy(p[total:], cluster[left:right])
		total += n
		f.pos += int64(n)
		if n == 0 {
			break
		}
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Write implements io.Writer. Writes past the currently allocated extent
// allocate one cluster at a time; on NoSpace, bytes written so
// far are preserved and the error is returned.
func (f *File) Write(p []byte) (int, error) {
	if f.fs.readOnly {
		return 0, errs.New(errs.PermissionDenied, "file system is read-only")
	}
	cs := int64(f.fs.clusterSize)
	total := 0
	for total < len(p) {
		index := f.pos / cs
		left := f.pos - index*cs

		for int64(len(f.chain)) <= index {
			chain, err := f.fs.table.LinkExtend(f.chain)
			f.chain = chain
			if err != nil {
				f.dirty = true
				return total, err
			}
		}

		cluster, err := f.fs.region.Cluster(f.chain[index])
		if err != nil {
			return total, err
		}
		right := cs
		if left+int64(len(p)-total) < right {
			right = left + int64(len(p)-total)
		}
		n := copy(cluster[left:right], p[total:])
		total += n
		f.pos += int64(n)
		if f.size != nil && f.pos > *f.size {
			*f.size = f.pos
		}
	}
	if total > 0 {
		f.dirty = true
	}
	return total, nil
}

// Truncate frees every cluster beyond the first and resets the logical
// size to zero, as used by the "w" open mode. A chain already down to its
// last cluster is freed entirely instead, so a zero-length file ends up
// with no allocated cluster at all, matching OpenEntry's representation of
// a fresh zero-length file.
func (f *File) Truncate() error {
	if f.fs.readOnly {
		return errs.New(errs.PermissionDenied, "file system is read-only")
	}
	switch {
	case len(f.chain) > 1:
		if err := f.fs.table.FreeChain(f.chain[1:]); err != nil {
			return err
		}
		f.chain = f.chain[:1]
		if err := f.fs.table.MarkEnd(f.chain[0]); err != nil {
			return err
		}
	case len(f.chain) == 1:
		if err := f.fs.table.FreeChain(f.chain); err != nil {
			return err
		}
		f.chain = nil
	}
	if f.size != nil {
		*f.size = 0
	}
	f.pos = 0
	f.dirty = true
	return nil
}

// Chain returns the file's cluster list, for callers (e.g. unlink) that
// need to free it directly.
func (f *File) Chain() []uint32 { return f.chain }

// Close flushes the directory-entry metadata (size, mtime, first-cluster
// fields, and adate when atime is enabled) if this File has an owning slot
// and was modified. The creation time is left as it was.
func (f *File) Close() error {
	if f.owner == nil || !f.dirty {
		return nil
	}
	now := time.Now().Truncate(2 * time.Second)
	return f.owner.updateAfterWrite(f, now)
}
