package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryEntryRoundTrip(t *testing.T) {
	in := DirectoryEntry{
		Name: [8]byte{'F', 'O', 'O', ' ', ' ', ' ', ' ', ' '},
		Ext:  [3]byte{'T', 'X', 'T'},
		Attr: AttrArchive,
		Size: 1234,
	}
	in.SetFirstCluster(0x000A_00B1)

	raw, err := Pack(&in)
	require.NoError(t, err)
	require.Len(t, raw, DirectoryEntrySize)

	var out DirectoryEntry
	require.NoError(t, Unpack(raw, &out))
	require.Equal(t, in, out)
	require.Equal(t, uint32(0x000A00B1), out.FirstCluster())
}

func TestMBRPartitionRoundTrip(t *testing.T) {
	in := MBRPartition{
		Status:   0x80,
		PartType: 0x0C,
		FirstLBA: 2048,
		PartSize: 1000000,
	}
	raw, err := Pack(&in)
	require.NoError(t, err)

	var out MBRPartition
	require.NoError(t, Unpack(raw, &out))
	require.Equal(t, in, out)
}

func TestGPTPartitionZeroGUID(t *testing.T) {
	var p GPTPartition
	require.True(t, IsZeroGUID(p.PartGUID))
	p.PartGUID[5] = 1
	require.False(t, IsZeroGUID(p.PartGUID))
}

func TestFSInfoValid(t *testing.T) {
	f := FSInfo{
		LeadSignature:   FSInfoLeadSignature,
		StructSignature: FSInfoStructSignature,
		TrailSignature:  FSInfoTrailSignature,
	}
	require.True(t, f.Valid())
	f.StructSignature = 0
	require.False(t, f.Valid())
}
