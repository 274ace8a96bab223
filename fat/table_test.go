package fat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netbootd/netbootd/internal/wire"
)

func newTestFAT16Table(t *testing.T, entries int) *Table {
	t.Helper()
	bytesPerSector := 512
	sectorsPerFAT := (entries*2 + bytesPerSector - 1) / bytesPerSector
	partition := make([]byte, sectorsPerFAT*bytesPerSector*2)
	tbl, err := newTable(partition, 0, 2, sectorsPerFAT, bytesPerSector, FAT16, entries-2, -1, nil, false)
	require.NoError(t, err)
	return tbl
}

func TestTableMirrorInvariant(t *testing.T) {
	tbl := newTestFAT16Table(t, 16)
	require.NoError(t, tbl.Set(5, 9))
	require.NoError(t, tbl.MarkEnd(9))

	all, err := tbl.GetAll(5)
	require.NoError(t, err)
	for _, v := range all {
		require.Equal(t, uint32(9), v)
	}
}

func TestTableChainTerminatesOnCycle(t *testing.T) {
	tbl := newTestFAT16Table(t, 16)
	require.NoError(t, tbl.Set(2, 3))
	require.NoError(t, tbl.Set(3, 2)) // cycle

	chain, err := tbl.Chain(2)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{2, 3}, chain)
}

func TestTableAllocMarksEndAndRejectsReserved(t *testing.T) {
	tbl := newTestFAT16Table(t, 16)
	k, err := tbl.Alloc()
	require.NoError(t, err)
	require.GreaterOrEqual(t, k, 2)

	v, err := tbl.Get(k)
	require.NoError(t, err)
	require.True(t, v >= tbl.EndMark() || uint32(v) == tbl.EndMark())

	require.Error(t, tbl.Set(0, 5))
	require.Error(t, tbl.Set(1, 5))
}

func TestFAT32FreeCountInvariant(t *testing.T) {
	bytesPerSector := 512
	entries := 16
	sectorsPerFAT := (entries*4 + bytesPerSector - 1) / bytesPerSector
	partition := make([]byte, sectorsPerFAT*bytesPerSector+bytesPerSector)
	fsinfoOffset := sectorsPerFAT * bytesPerSector
	info := &wire.FSInfo{
		LeadSignature:    wire.FSInfoLeadSignature,
		StructSignature:  wire.FSInfoStructSignature,
		TrailSignature:   wire.FSInfoTrailSignature,
		FreeClusterCount: uint32(entries - 2),
		LastAllocated:    1,
	}
	tbl, err := newTable(partition, 0, 1, sectorsPerFAT, bytesPerSector, FAT32, entries-2, fsinfoOffset, info, false)
	require.NoError(t, err)

	before := tbl.FreeClusterCount()
	k, err := tbl.Alloc()
	require.NoError(t, err)
	require.NoError(t, tbl.MarkFree(k))

	require.Equal(t, before, tbl.FreeClusterCount())
	require.Equal(t, uint32(k), info.LastAllocated)
}
