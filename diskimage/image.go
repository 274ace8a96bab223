// Package diskimage maps a raw disk image (regular file or block device)
// into memory and discovers the partition table it carries, without ever
// mounting the image through the host OS.
package diskimage

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/netbootd/netbootd/errs"
)

// Access controls whether the image mapping permits mutation.
type Access int

const (
	// ReadOnly maps the image with PROT_READ/MAP_SHARED, so the mapping is
	// not writable. Partition carries no read-only flag; whether FAT
	// operations reject mutation is decided by fat.Open's readOnly argument.
	ReadOnly Access = iota
	// ReadWrite maps the image PROT_READ|PROT_WRITE/MAP_SHARED, so writes
	// through the mapping are written back to the underlying file.
	ReadWrite
)

// DiskImage owns the file descriptor and the process-wide memory mapping of
// one disk image. Partition views (see Partitions) hold non-owning slices
// into this mapping; closing the image tears the mapping down regardless of
// whether those slices are still referenced by the caller. Releasing every
// partition view and FAT file system before closing the image is a
// discipline the *caller* must observe, not one this type enforces for them.
type DiskImage struct {
	sectorSize int
	access     Access

	file   *os.File
	opened bool // true if this DiskImage opened file (and must close it)
	mem    []byte

	partitions Partitions
}

const defaultSectorSize = 512

// Open maps filename into memory for reading (and, if access is ReadWrite,
// writing). The sector size defaults to 512 and is only used to interpret
// LBA-relative fields in the partition tables; it does not need to match
// the host's notion of a disk sector.
func Open(filename string, access Access) (*DiskImage, error) {
	flags := os.O_RDONLY
	if access == ReadWrite {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(filename, flags, 0)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "open image")
	}
	img, err := newFromFile(f, access, defaultSectorSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	img.opened = true
	return img, nil
}

// OpenFile maps an already-open file (e.g. a block device the caller
// obtained some other way) into memory, using sectorSize to interpret the
// partition table. The DiskImage does not take ownership of f; Close will
// not close it.
func OpenFile(f *os.File, access Access, sectorSize int) (*DiskImage, error) {
	return newFromFile(f, access, sectorSize)
}

func newFromFile(f *os.File, access Access, sectorSize int) (*DiskImage, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.InvalidFormat, err, "stat image")
	}
	size := fi.Size()
	if size <= 0 {
		return nil, errs.New(errs.InvalidFormat, "image is empty")
	}

	prot := unix.PROT_READ
	if access == ReadWrite {
		prot |= unix.PROT_WRITE
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, err, "mmap image")
	}
	return &DiskImage{
		sectorSize: sectorSize,
		access:     access,
		file:       f,
		mem:        mem,
	}, nil
}

// SectorSize returns the sector size (in bytes) used to interpret LBA
// fields in the partition table.
func (d *DiskImage) SectorSize() int { return d.sectorSize }

// Access reports whether the mapping is read-only or read-write.
func (d *DiskImage) Access() Access { return d.access }

// Partitions returns the partition table discovered in the image, probing
// (in order) GPT at LBA 1, GPT at LBA 0 (for 4Kn disks, where LBA 1 lands
// at byte offset sectorSize), then MBR. The result is memoized.
func (d *DiskImage) Partitions() (Partitions, error) {
	if d.partitions != nil {
		return d.partitions, nil
	}
	if d.mem == nil {
		return nil, errs.New(errs.InternalError, "disk image closed")
	}
	p, err := discoverPartitions(d.mem, d.sectorSize)
	if err != nil {
		return nil, err
	}
	d.partitions = p
	return p, nil
}

// Close unmaps the image and, if DiskImage opened the underlying file
// itself (via Open), closes it too. Close is idempotent.
func (d *DiskImage) Close() error {
	if d.mem == nil {
		return nil
	}
	err := unix.Munmap(d.mem)
	d.mem = nil
	d.partitions = nil
	if d.opened {
		if cerr := d.file.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return errs.Wrap(errs.InternalError, err, "close image")
	}
	return nil
}
