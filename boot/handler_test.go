package boot

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netbootd/netbootd/config"
	"github.com/netbootd/netbootd/internal/wire"
)

// writeTestImage builds a one-partition MBR disk image containing a
// minimal valid FAT12 volume, and writes it to dir/name. Returns the full
// path.
func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	const (
		sectorSize        = 512
		partitionLBA      = 1
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		fatCount          = 2
		sectorsPerFAT     = 1
		maxRootEntries    = 16
		dataSectors       = 10
	)
	rootSectors := maxRootEntries * wire.DirectoryEntrySize / bytesPerSector
	partitionSectors := reservedSectors + fatCount*sectorsPerFAT + rootSectors + dataSectors

	image := make([]byte, (partitionLBA+partitionSectors)*sectorSize)

	var mbr wire.MBRHeader
	mbr.BootSig = wire.MBRBootSignature
	part := wire.MBRPartition{
		Status:   0x80,
		PartType: 0x0C, // FAT32 LBA, arbitrary non-empty/non-extended type
		FirstLBA: partitionLBA,
		PartSize: uint32(partitionSectors),
	}
	raw, err := wire.Pack(&part)
	require.NoError(t, err)
	copy(mbr.Partition1[:], raw)
	mbrBytes, err := wire.Pack(&mbr)
	require.NoError(t, err)
	copy(image, mbrBytes)

	partOffset := partitionLBA * sectorSize
	bpb := wire.BIOSParameterBlock{
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: sectorsPerCluster,
		ReservedSectors:   reservedSectors,
		FATCount:          fatCount,
		MaxRootEntries:    maxRootEntries,
		FAT16TotalSectors: uint16(partitionSectors),
		SectorsPerFAT:     sectorsPerFAT,
	}
	require.NoError(t, wire.PackAt(image, partOffset, &bpb))
	ebpb := wire.ExtendedBIOSParameterBlock{
		ExtendedBootSig: 0x29,
		FileSystem:      [8]byte{'F', 'A', 'T', '1', '2', ' ', ' ', ' '},
	}
	require.NoError(t, wire.PackAt(image, partOffset+wire.BIOSParameterBlockSize, &ebpb))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, image, 0o644))
	return path
}

func newTestHandler(t *testing.T, boardCSV string) *Handler {
	t.Helper()
	bm, err := config.LoadFrom(strings.NewReader(boardCSV))
	require.NoError(t, err)
	return NewHandler(bm, nil)
}

func TestResolveUnknownSerialIsNotFound(t *testing.T) {
	h := newTestHandler(t, "serial,image,partition,ip\n")
	_, err := h.Resolve("deadbeef/some/file", nil)
	require.Error(t, err)
}

func TestResolveMissingFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	imgPath := writeTestImage(t, dir, "pi.img")
	csv := "serial,image,partition,ip\n1234abcd," + imgPath + ",1,\n"
	h := newTestHandler(t, csv)

	_, err := h.Resolve("1234abcd/no/such/file", nil)
	require.Error(t, err)
}

func TestResolveChecksIPAllowList(t *testing.T) {
	dir := t.TempDir()
	imgPath := writeTestImage(t, dir, "pi.img")
	csv := "serial,image,partition,ip\n1234abcd," + imgPath + ",1,192.168.1.50\n"
	h := newTestHandler(t, csv)

	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 1234}
	_, err := h.Resolve("1234abcd/kernel.img", addr)
	require.Error(t, err)
}

func TestResolveMemoizesImage(t *testing.T) {
	dir := t.TempDir()
	imgPath := writeTestImage(t, dir, "pi.img")
	csv := "serial,image,partition,ip\n1234abcd," + imgPath + ",1,\n"
	h := newTestHandler(t, csv)

	_, err := h.Resolve("1234abcd/missing1", nil)
	require.Error(t, err)
	h.mu.Lock()
	n := len(h.mounts)
	h.mu.Unlock()
	require.Equal(t, 1, n)

	_, err = h.Resolve("1234abcd/missing2", nil)
	require.Error(t, err)
	h.mu.Lock()
	n = len(h.mounts)
	h.mu.Unlock()
	require.Equal(t, 1, n)

	require.NoError(t, h.Close())
}
