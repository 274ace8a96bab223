package fatpath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netbootd/netbootd/fat"
	"github.com/netbootd/netbootd/internal/wire"
)

// newTestFAT12 builds a minimal, valid FAT12 volume in memory: one
// reserved sector, two FAT copies, a 512-byte (16-entry) fixed root, and
// ten data clusters.
func newTestFAT12(t *testing.T) *fat.FileSystem {
	t.Helper()
	const (
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		fatCount          = 2
		sectorsPerFAT     = 1
		maxRootEntries    = 16
		dataSectors       = 10
	)
	rootSectors := maxRootEntries * wire.DirectoryEntrySize / bytesPerSector
	totalSectors := reservedSectors + fatCount*sectorsPerFAT + rootSectors + dataSectors

	image := make([]byte, totalSectors*bytesPerSector)

	bpb := wire.BIOSParameterBlock{
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: sectorsPerCluster,
		ReservedSectors:   reservedSectors,
		FATCount:          fatCount,
		MaxRootEntries:    maxRootEntries,
		FAT16TotalSectors: uint16(totalSectors),
		SectorsPerFAT:     sectorsPerFAT,
	}
	require.NoError(t, wire.PackAt(image, 0, &bpb))

	ebpb := wire.ExtendedBIOSParameterBlock{
		ExtendedBootSig: 0x29,
		FileSystem:      [8]byte{'F', 'A', 'T', '1', '2', ' ', ' ', ' '},
	}
	require.NoError(t, wire.PackAt(image, wire.BIOSParameterBlockSize, &ebpb))

	fs, err := fat.Open(image, false)
	require.NoError(t, err)
	require.Equal(t, fat.FAT12, fs.Type())
	return fs
}

func TestPathMkdirAndIterdir(t *testing.T) {
	fs := newTestFAT12(t)
	root := Root(fs)

	sub := root.Join("BOOT")
	require.NoError(t, sub.Mkdir(false, false))
	require.True(t, sub.IsDir())

	entries, err := root.Iterdir()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "BOOT", entries[0].Name())
}

func TestPathMkdirParents(t *testing.T) {
	fs := newTestFAT12(t)
	p := Root(fs).Join("a").Join("b").Join("c")
	require.NoError(t, p.Mkdir(true, false))
	require.True(t, p.IsDir())
	a := Root(fs).Join("a")
	require.True(t, a.IsDir())
	ab := Root(fs).Join("a").Join("b")
	require.True(t, ab.IsDir())
}

func TestPathOpenWriteReadRoundTrip(t *testing.T) {
	fs := newTestFAT12(t)
	p := Root(fs).Join("hello.txt")

	f, err := p.Open("w")
	require.NoError(t, err)
	n, err := f.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.NoError(t, f.Close())

	p2 := Root(fs).Join("hello.txt")
	f2, err := p2.Open("r")
	require.NoError(t, err)
	buf := make([]byte, 11)
	n, err = f2.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestPathOpenExclusiveRejectsExisting(t *testing.T) {
	fs := newTestFAT12(t)
	p := Root(fs).Join("dup.txt")
	f, err := p.Open("x")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dup := Root(fs).Join("dup.txt")
	_, err = dup.Open("x")
	require.Error(t, err)
}

func TestPathOpenReadMissingIsNotFound(t *testing.T) {
	fs := newTestFAT12(t)
	missing := Root(fs).Join("nope.txt")
	_, err := missing.Open("r")
	require.Error(t, err)
}

func TestPathUnlink(t *testing.T) {
	fs := newTestFAT12(t)
	p := Root(fs).Join("gone.txt")
	f, err := p.Open("w")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	before := Root(fs).Join("gone.txt")
	require.True(t, before.Exists())
	target := Root(fs).Join("gone.txt")
	require.NoError(t, target.Unlink(false))
	after := Root(fs).Join("gone.txt")
	require.False(t, after.Exists())
}

func TestPathRmdirRejectsNonEmpty(t *testing.T) {
	fs := newTestFAT12(t)
	sub := Root(fs).Join("full")
	require.NoError(t, sub.Mkdir(false, false))
	child := Root(fs).Join("full").Join("a.txt")
	f, err := child.Open("w")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	full := Root(fs).Join("full")
	require.Error(t, full.Rmdir())
}

func TestPathGlobMatchesSimplePattern(t *testing.T) {
	fs := newTestFAT12(t)
	for _, name := range []string{"a.txt", "b.txt", "c.img"} {
		p := Root(fs).Join(name)
		f, err := p.Open("w")
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	root := Root(fs)
	matches, err := root.Glob("*.txt")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestPathStatRoot(t *testing.T) {
	fs := newTestFAT12(t)
	root := Root(fs)
	info, err := root.Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(0o40555), info.Mode)
}
