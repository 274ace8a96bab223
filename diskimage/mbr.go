package diskimage

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/internal/wire"
)

type mbrPartitions struct {
	mem        []byte
	hdr        wire.MBRHeader
	sectorSize int
	// warnings accumulates non-fatal findings from the EBR walk (e.g. a
	// second extended partition found while walking the chain) -- treated
	// as a warning rather than fatal.
	warnings *multierror.Error
}

func newMBRPartitions(mem []byte, hdr *wire.MBRHeader, sectorSize int) (Partitions, error) {
	return &mbrPartitions{mem: mem, hdr: *hdr, sectorSize: sectorSize}, nil
}

func (m *mbrPartitions) Style() string { return "mbr" }

// Warnings returns any non-fatal issues accumulated discovering the
// partition table (e.g. "multiple extended partitions found").
func (m *mbrPartitions) Warnings() error {
	if m.warnings == nil {
		return nil
	}
	return m.warnings.ErrorOrNil()
}

type numberedPartition struct {
	num  int
	part wire.MBRPartition
}

// walk returns every primary and logical partition in numbering order: 1-4
// for primaries (including the extended container numbered in its slot but
// not itself yielded), 5+ for logicals in EBR walk order.
func (m *mbrPartitions) walk() ([]numberedPartition, error) {
	var out []numberedPartition
	sawExtended := false
	for i, raw := range m.hdr.Partitions() {
		var part wire.MBRPartition
		if err := wire.Unpack(raw[:], &part); err != nil {
			return nil, err
		}
		switch {
		case part.PartType == wire.MBRTypeEmpty:
			continue
		case wire.IsExtended(part.PartType):
			if sawExtended {
				m.warnings = multierror.Append(m.warnings,
					fmt.Errorf("multiple extended partitions found; following only the first"))
				continue
			}
			sawExtended = true
			logicals, err := m.walkLogical(part.FirstLBA)
			if err != nil {
				return nil, err
			}
			for j, lp := range logicals {
				out = append(out, numberedPartition{num: 5 + j, part: lp})
			}
		default:
			out = append(out, numberedPartition{num: i + 1, part: part})
		}
	}
	return out, nil
}

// walkLogical walks the EBR chain starting at extendedLBA (relative to LBA
// 0): each EBR's first entry is the logical partition (offset relative to
// the EBR's own LBA), and the second entry either links to the next EBR or
// terminates the chain.
func (m *mbrPartitions) walkLogical(extendedLBA uint32) ([]wire.MBRPartition, error) {
	var out []wire.MBRPartition
	logicalOffset := extendedLBA
	ss := int64(m.sectorSize)
	for {
		ebrOffset := int64(logicalOffset) * ss
		var ebr wire.MBRHeader
		if err := wire.UnpackAt(m.mem, int(ebrOffset), &ebr); err != nil {
			return nil, err
		}
		if ebr.BootSig != wire.MBRBootSignature {
			return nil, errs.New(errs.InvalidFormat, "bad EBR boot signature")
		}

		var first wire.MBRPartition
		if err := wire.Unpack(ebr.Partition1[:], &first); err != nil {
			return nil, err
		}
		first.FirstLBA += logicalOffset
		out = append(out, first)

		var link wire.MBRPartition
		if err := wire.Unpack(ebr.Partition2[:], &link); err != nil {
			return nil, err
		}
		if link.PartType == wire.MBRTypeEmpty && link.FirstLBA == 0 {
			break
		}
		if !wire.IsExtended(link.PartType) {
			return nil, errs.New(errs.InvalidFormat, "EBR link entry has unexpected type")
		}
		logicalOffset = link.FirstLBA + extendedLBA
	}
	return out, nil
}

func (m *mbrPartitions) List() ([]Partition, error) {
	nps, err := m.walk()
	if err != nil {
		return nil, err
	}
	out := make([]Partition, 0, len(nps))
	for _, np := range nps {
		out = append(out, m.partitionFrom(np))
	}
	return out, nil
}

func (m *mbrPartitions) Get(n int) (Partition, error) {
	nps, err := m.walk()
	if err != nil {
		return Partition{}, err
	}
	for _, np := range nps {
		if np.num == n {
			return m.partitionFrom(np), nil
		}
	}
	return Partition{}, errs.Newf(errs.NotFound, "no such MBR partition %d", n)
}

func (m *mbrPartitions) partitionFrom(np numberedPartition) Partition {
	ss := int64(m.sectorSize)
	start := int64(np.part.FirstLBA) * ss
	end := start + int64(np.part.PartSize)*ss
	if end > int64(len(m.mem)) {
		end = int64(len(m.mem))
	}
	return Partition{
		Number: np.num,
		Type:   int(np.part.PartType),
		Label:  fmt.Sprintf("Partition %d", np.num),
		Data:   m.mem[start:end],
	}
}
