package diskimage

import (
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/internal/utf16x"
	"github.com/netbootd/netbootd/internal/wire"
)

type gptPartitions struct {
	mem        []byte
	hdr        wire.GPTHeader
	sectorSize int
}

func newGPTPartitions(mem []byte, hdr *wire.GPTHeader, sectorSize int) (Partitions, error) {
	if hdr.Revision != wire.GPTRevision1_0 {
		return nil, errs.New(errs.InvalidFormat, "unsupported GPT revision")
	}
	size, err := wire.SizeOf(hdr)
	if err != nil {
		return nil, err
	}
	if int(hdr.HeaderSize) != size {
		return nil, errs.New(errs.InvalidFormat, "bad GPT header size")
	}
	if err := verifyGPTHeaderCRC(hdr); err != nil {
		return nil, err
	}
	g := &gptPartitions{mem: mem, hdr: *hdr, sectorSize: sectorSize}
	table, err := g.table()
	if err != nil {
		return nil, err
	}
	if err := verifyGPTTableCRC(hdr, table); err != nil {
		return nil, err
	}
	return g, nil
}

// verifyGPTHeaderCRC recomputes the header's CRC32 (IEEE polynomial) with
// the stored CRC field zeroed.
func verifyGPTHeaderCRC(hdr *wire.GPTHeader) error {
	raw, err := wire.Pack(hdr)
	if err != nil {
		return err
	}
	// HeaderCRC32 is the 4 bytes immediately after Signature+Revision+
	// HeaderSize (8 + 4 + 4 = 16 bytes in).
	const crcOffset = 16
	zeroed := make([]byte, len(raw))
	copy(zeroed, raw)
	binary.LittleEndian.PutUint32(zeroed[crcOffset:], 0)
	got := crc32.ChecksumIEEE(zeroed)
	if got != hdr.HeaderCRC32 {
		return errs.New(errs.InvalidFormat, "bad GPT header CRC32")
	}
	return nil
}

// verifyGPTTableCRC recomputes the CRC32 (IEEE polynomial) of the partition
// table over exactly PartTableSize*PartEntrySize bytes -- table may be
// padded out to a full sector beyond that, which must not be included.
func verifyGPTTableCRC(hdr *wire.GPTHeader, table []byte) error {
	n := int64(hdr.PartTableSize) * int64(hdr.PartEntrySize)
	if n < 0 || n > int64(len(table)) {
		return errs.New(errs.InvalidFormat, "GPT partition table shorter than declared size")
	}
	got := crc32.ChecksumIEEE(table[:n])
	if got != hdr.PartTableCRC32 {
		return errs.New(errs.InvalidFormat, "bad GPT partition table CRC32")
	}
	return nil
}

func (g *gptPartitions) Style() string { return "gpt" }

func (g *gptPartitions) table() ([]byte, error) {
	ss := int64(g.sectorSize)
	start := int64(g.hdr.PartTableLBA) * ss
	entrySize := int64(g.hdr.PartEntrySize)
	tableBytes := int64(g.hdr.PartTableSize) * entrySize
	sectors := (tableBytes + ss - 1) / ss
	end := start + sectors*ss
	if start < 0 || end > int64(len(g.mem)) {
		return nil, errs.New(errs.InvalidFormat, "GPT partition table out of range")
	}
	return g.mem[start:end], nil
}

func (g *gptPartitions) List() ([]Partition, error) {
	table, err := g.table()
	if err != nil {
		return nil, err
	}
	var out []Partition
	entrySize := int(g.hdr.PartEntrySize)
	for i := 0; i < int(g.hdr.PartTableSize); i++ {
		var entry wire.GPTPartition
		if err := wire.UnpackAt(table, i*entrySize, &entry); err != nil {
			return nil, err
		}
		if wire.IsZeroGUID(entry.PartGUID) {
			continue
		}
		out = append(out, g.partitionFrom(i+1, &entry))
	}
	return out, nil
}

func (g *gptPartitions) Get(n int) (Partition, error) {
	if n < 1 || n > int(g.hdr.PartTableSize) {
		return Partition{}, errs.Newf(errs.NotFound, "no such GPT partition %d", n)
	}
	table, err := g.table()
	if err != nil {
		return Partition{}, err
	}
	var entry wire.GPTPartition
	if err := wire.UnpackAt(table, (n-1)*int(g.hdr.PartEntrySize), &entry); err != nil {
		return Partition{}, err
	}
	if wire.IsZeroGUID(entry.PartGUID) {
		return Partition{}, errs.Newf(errs.NotFound, "no such GPT partition %d", n)
	}
	return g.partitionFrom(n, &entry), nil
}

func (g *gptPartitions) partitionFrom(num int, entry *wire.GPTPartition) Partition {
	ss := int64(g.sectorSize)
	start := int64(entry.FirstLBA) * ss
	end := (int64(entry.LastLBA) + 1) * ss
	if start < 0 {
		start = 0
	}
	if end > int64(len(g.mem)) {
		end = int64(len(g.mem))
	}
	return Partition{
		Number: num,
		Type:   gptTypeGUID(entry.TypeGUID),
		Label:  decodeGPTLabel(entry.PartLabel[:]),
		Data:   g.mem[start:end],
	}
}

// gptTypeGUID formats a mixed-endian GPT GUID (as bytes_le) into the
// canonical hyphenated string form; avoids a dependency purely for 16 bytes
// of formatting.
func gptTypeGUID(b [16]byte) string {
	var le [16]byte
	le[0], le[1], le[2], le[3] = b[3], b[2], b[1], b[0]
	le[4], le[5] = b[5], b[4]
	le[6], le[7] = b[7], b[6]
	copy(le[8:], b[8:])
	return hex.EncodeToString(le[0:4]) + "-" +
		hex.EncodeToString(le[4:6]) + "-" +
		hex.EncodeToString(le[6:8]) + "-" +
		hex.EncodeToString(le[8:10]) + "-" +
		hex.EncodeToString(le[10:16])
}

func decodeGPTLabel(raw []byte) string {
	buf := make([]byte, len(raw)*3)
	n, err := utf16x.ToUTF8(buf, raw, binary.LittleEndian)
	if err != nil {
		n = 0
	}
	s := string(buf[:n])
	// Trim at the first NUL and any trailing NULs decoded from padding.
	for i, r := range s {
		if r == 0 {
			return s[:i]
		}
	}
	return s
}
