package fat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netbootd/netbootd/internal/wire"
)

func newFixedDirForTest(t *testing.T, slots int) (*Directory, *FileSystem) {
	t.Helper()
	fs := &FileSystem{sfnEncoding: EncodingISO88591, atimeOff: true}
	region := make([]byte, slots*wire.DirectoryEntrySize)
	dir := &Directory{fs: fs, fixed: region}
	return dir, fs
}

func writeShortEntry(t *testing.T, dir *Directory, slot int, name [8]byte, ext [3]byte, attr uint8) {
	t.Helper()
	raw, err := dir.slot(slot)
	require.NoError(t, err)
	e := wire.DirectoryEntry{Name: name, Ext: ext, Attr: attr}
	require.NoError(t, wire.PackAt(raw, 0, &e))
}

func writeLFNFragment(t *testing.T, dir *Directory, slot int, seq uint8, checksum uint8, text string) {
	t.Helper()
	raw, err := dir.slot(slot)
	require.NoError(t, err)
	units := stringToUTF16(text)
	var frag [13]uint16
	copy(frag[:], units)
	for i := len(units); i < 13; i++ {
		if i == len(units) {
			frag[i] = 0
		} else {
			frag[i] = 0xFFFF
		}
	}
	e := wire.LongFilenameEntry{Sequence: seq, Attr: wire.AttrLongName, Checksum: checksum}
	e.SetChars(frag)
	require.NoError(t, wire.PackAt(raw, 0, &e))
}

func TestDirectoryIterationSkipsDeletedAndStopsAtTerminator(t *testing.T) {
	dir, _ := newFixedDirForTest(t, 4)
	writeShortEntry(t, dir, 0, [8]byte{'O', 'N', 'E', ' ', ' ', ' ', ' ', ' '}, [3]byte{'T', 'X', 'T'}, wire.AttrArchive)
	raw, err := dir.slot(1)
	require.NoError(t, err)
	raw[0] = wire.DeletedMarker
	// slot 2 left zeroed -> terminator

	entries, warn := dir.List()
	require.Nil(t, warn.ErrorOrNil())
	require.Len(t, entries, 1)
	require.Equal(t, "ONE.TXT", entries[0].ShortName)
}

func TestDirectoryLFNCorruptionFallsBackToShortName(t *testing.T) {
	dir, _ := newFixedDirForTest(t, 4)
	nameExt := [11]byte{'L', 'O', 'T', 'S', '-', 'O', '~', '1', ' ', ' ', ' '}
	checksum := lfnChecksum(nameExt)
	// Corrupt the checksum so assembly fails and the group falls back.
	writeLFNFragment(t, dir, 0, wire.LastLongEntry|1, checksum+1, "lots-of-zeros")
	writeShortEntry(t, dir, 1, [8]byte{'L', 'O', 'T', 'S', '-', 'O', '~', '1'}, [3]byte{' ', ' ', ' '}, wire.AttrArchive)

	entries, warn := dir.List()
	require.NotNil(t, warn.ErrorOrNil())
	require.Len(t, entries, 1)
	require.Equal(t, "LOTS-O~1", entries[0].Name)
	require.Equal(t, "LOTS-O~1", entries[0].ShortName)
}

func TestDirectoryLFNValidAssemblesLongName(t *testing.T) {
	dir, _ := newFixedDirForTest(t, 4)
	nameExt := [11]byte{'G', 'P', 'L', '3', ' ', ' ', ' ', ' ', 'T', 'X', 'T'}
	checksum := lfnChecksum(nameExt)
	writeLFNFragment(t, dir, 0, wire.LastLongEntry|1, checksum, "gpl3.txt")
	writeShortEntry(t, dir, 1, [8]byte{'G', 'P', 'L', '3', ' ', ' ', ' ', ' '}, [3]byte{'T', 'X', 'T'}, wire.AttrArchive)

	entries, warn := dir.List()
	require.Nil(t, warn.ErrorOrNil())
	require.Len(t, entries, 1)
	require.Equal(t, "gpl3.txt", entries[0].Name)
}

func TestDirectoryInsertAndDelete(t *testing.T) {
	dir, fs := newFixedDirForTest(t, 8)
	_ = fs
	e, err := dir.Insert("gpl3.txt", wire.AttrArchive, 5, 1024)
	require.NoError(t, err)
	require.Equal(t, "gpl3.txt", e.Name)

	entries, _ := dir.List()
	require.Len(t, entries, 1)

	require.NoError(t, dir.Delete(entries[0]))
	entries, _ = dir.List()
	require.Len(t, entries, 0)
}
