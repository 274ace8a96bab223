package diskimage

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/internal/wire"
)

// Partition is a non-owning view of one partition's byte range within a
// DiskImage's mapping.
type Partition struct {
	// Number is the 1-based partition number: 1-4 for MBR primaries, 5+ for
	// MBR logical partitions in EBR walk order, or the GPT table index.
	Number int
	// Type is an int (MBR partition type byte) or, for GPT, a string holding
	// the type GUID in canonical hyphenated form.
	Type interface{}
	// Label is the GPT partition label, or a synthetic "Partition N" for
	// MBR (which has no label field).
	Label string
	// Data is the byte range [firstLBA*ss, (lastLBA+1)*ss) of this
	// partition within the image mapping.
	Data []byte
}

// Stream wraps Data as an io.ReadWriteSeeker, for callers (raw partition
// dump/restore tooling) that want a stream rather than direct slice access;
// fat's own cluster region reads Data directly instead, since it needs
// zero-copy cluster windows rather than a sequential stream.
func (p Partition) Stream() io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(p.Data)
}

// Partitions is the discovered partition table of a disk image. Style
// reports which scheme was recognized ("gpt" or "mbr").
type Partitions interface {
	Style() string
	// List returns every partition in table/walk order.
	List() ([]Partition, error)
	// Get returns the partition numbered n, or a NotFound error.
	Get(n int) (Partition, error)
}

func discoverPartitions(mem []byte, sectorSize int) (Partitions, error) {
	// GPT@LBA1 is the standard location.
	if p, err := tryGPT(mem, sectorSize, sectorSize); err == nil {
		return p, nil
	}
	// GPT@LBA0: some 4Kn-disk images place the header where a 512-sector-size
	// probe would land on LBA 0 instead; calls this out explicitly.
	if p, err := tryGPT(mem, 0, sectorSize); err == nil {
		return p, nil
	}
	if p, err := tryMBR(mem, sectorSize); err == nil {
		return p, nil
	}
	return nil, errs.New(errs.InvalidFormat, "no GPT/MBR partition table found")
}

func tryGPT(mem []byte, offset, sectorSize int) (Partitions, error) {
	var hdr wire.GPTHeader
	if err := wire.UnpackAt(mem, offset, &hdr); err != nil {
		return nil, err
	}
	if hdr.Signature != wire.GPTSignature {
		return nil, errs.New(errs.InvalidFormat, "no GPT signature")
	}
	return newGPTPartitions(mem, &hdr, sectorSize)
}

func tryMBR(mem []byte, sectorSize int) (Partitions, error) {
	var hdr wire.MBRHeader
	if err := wire.UnpackAt(mem, 0, &hdr); err != nil {
		return nil, err
	}
	if hdr.BootSig != wire.MBRBootSignature {
		return nil, errs.New(errs.InvalidFormat, "bad MBR boot signature")
	}
	return newMBRPartitions(mem, &hdr, sectorSize)
}
