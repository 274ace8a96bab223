package fat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netbootd/netbootd/internal/wire"
)

func TestLFNChecksumDeterministic(t *testing.T) {
	nameExt := [11]byte{'G', 'P', 'L', '3', ' ', ' ', ' ', ' ', 'T', 'X', 'T'}
	sum := lfnChecksum(nameExt)
	require.NotZero(t, sum)
	require.Equal(t, sum, lfnChecksum(nameExt))
}

func TestSplitLongNameRoundTrip(t *testing.T) {
	name := "gpl3.txt"
	units := stringToUTF16(name)
	frags := splitLongName(units)
	require.Len(t, frags, 1)

	run := lfnRun{}
	nameExt := [11]byte{'G', 'P', 'L', '3', ' ', ' ', ' ', ' ', 'T', 'X', 'T'}
	checksum := lfnChecksum(nameExt)
	for i := len(frags) - 1; i >= 0; i-- {
		seq := uint8(i + 1)
		if i == len(frags)-1 {
			seq |= wire.LastLongEntry
		}
		var e wire.LongFilenameEntry
		e.Sequence = seq
		e.Checksum = checksum
		e.SetChars(frags[i])
		run.entries = append(run.entries, e)
	}
	got, ok := run.assemble(nameExt)
	require.True(t, ok)
	require.Equal(t, name, got)
}

func TestGenerateSFNExactPassthrough(t *testing.T) {
	short, _, _, needLFN := generateSFN("README.TXT", nil)
	require.False(t, needLFN)
	require.Equal(t, "README.TXT", short)
}

func TestGenerateSFNCollision(t *testing.T) {
	exists := map[string]bool{"LOTS-O~1": true}
	short, _, _, needLFN := generateSFN("lots-of-zeros", exists)
	require.True(t, needLFN)
	require.Equal(t, "LOTS-O~2", short)
}
