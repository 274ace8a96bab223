package fat

import (
	"github.com/boljen/go-bitmap"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/internal/wire"
)

// width-specific constants.
const (
	fat12EndMarkMin = 0xFF8
	fat12BadMark    = 0xFF7
	fat12MaxValid   = 0xFF6

	fat16EndMarkMin = 0xFFF8
	fat16BadMark    = 0xFFF7
	fat16MaxValid   = 0xFFF6

	fat32EndMarkMin = 0x0FFFFFF8
	fat32BadMark    = 0x0FFFFFF7
	fat32MaxValid   = 0x0FFFFFF6
	fat32Mask       = 0x0FFFFFFF
)

// Table is the allocation table view: a uniform interface over FAT12's
// packed 12-bit entries, FAT16's plain u16 array, and FAT32's masked u32
// array, honoring the mirror count on every mutation.
type Table struct {
	mirrors    [][]byte // fatCount slices, each sectorsPerFAT*bps bytes, aliasing the partition
	width      Type
	length     int // number of entries
	readOnly   bool

	fsinfoOffset int // byte offset of the FSInfo sector, or -1
	fsinfo       *wire.FSInfo
	partition    []byte

	free *bitmap.Bitmap // auxiliary free-cluster index, kept in lock-step
}

func newTable(partition []byte, fatOffset, fatCount, sectorsPerFAT, bytesPerSector int,
	width Type, clusterCount int, fsinfoOffset int, fsinfo *wire.FSInfo, readOnly bool) (*Table, error) {

	fatBytes := sectorsPerFAT * bytesPerSector
	if fatOffset+fatCount*fatBytes > len(partition) {
		return nil, errs.New(errs.InvalidFormat, "allocation table extends past partition")
	}

	mirrors := make([][]byte, fatCount)
	for i := 0; i < fatCount; i++ {
		start := fatOffset + i*fatBytes
		mirrors[i] = partition[start : start+fatBytes]
	}

	length := entryCountForWidth(width, fatBytes)
	if length > clusterCount+2 {
		length = clusterCount + 2
	}

	t := &Table{
		mirrors:      mirrors,
		width:        width,
		length:       length,
		readOnly:     readOnly,
		fsinfoOffset: fsinfoOffset,
		fsinfo:       fsinfo,
		partition:    partition,
	}

	bm := bitmap.New(length)
	for k := 2; k < length; k++ {
		v, err := t.get(mirrors[0], k)
		if err != nil {
			return nil, err
		}
		bm.Set(k, v != 0)
	}
	t.free = &bm
	return t, nil
}

func entryCountForWidth(width Type, fatBytes int) int {
	switch width {
	case FAT12:
		return (fatBytes * 2) / 3
	case FAT16:
		return fatBytes / 2
	default:
		return fatBytes / 4
	}
}

// Width returns the FAT type this table is encoded as.
func (t *Table) Width() Type { return t.width }

// Len returns the number of entries in the table (same for every mirror).
func (t *Table) Len() int { return t.length }

// EndMark, BadMark and MaxValid return this table's width-specific sentinel
// constants.
func (t *Table) EndMark() uint32 {
	switch t.width {
	case FAT12:
		return fat12EndMarkMin
	case FAT16:
		return fat16EndMarkMin
	default:
		return fat32EndMarkMin
	}
}

func (t *Table) BadMark() uint32 {
	switch t.width {
	case FAT12:
		return fat12BadMark
	case FAT16:
		return fat16BadMark
	default:
		return fat32BadMark
	}
}

func (t *Table) MaxValid() uint32 {
	switch t.width {
	case FAT12:
		return fat12MaxValid
	case FAT16:
		return fat16MaxValid
	default:
		return fat32MaxValid
	}
}

func (t *Table) isEnd(v uint32) bool { return v >= t.EndMark() }

func (t *Table) checkIndex(k int) error {
	if k < 0 || k >= t.length {
		return errs.Newf(errs.InvalidFormat, "cluster index %d out of range [0,%d)", k, t.length)
	}
	return nil
}

// get reads entry k from one mirror's raw bytes.
func (t *Table) get(mirror []byte, k int) (uint32, error) {
	if err := t.checkIndex(k); err != nil {
		return 0, err
	}
	switch t.width {
	case FAT12:
		off := k + k/2
		word := uint16(mirror[off]) | uint16(mirror[off+1])<<8
		if k%2 == 0 {
			return uint32(word & 0x0FFF), nil
		}
		return uint32(word >> 4), nil
	case FAT16:
		off := k * 2
		return uint32(uint16(mirror[off]) | uint16(mirror[off+1])<<8), nil
	default:
		off := k * 4
		v := uint32(mirror[off]) | uint32(mirror[off+1])<<8 | uint32(mirror[off+2])<<16 | uint32(mirror[off+3])<<24
		return v & fat32Mask, nil
	}
}

// Get returns the masked value at entry k from the primary mirror.
func (t *Table) Get(k int) (uint32, error) {
	return t.get(t.mirrors[0], k)
}

// GetAll returns the value of entry k from every mirror, for repair
// detection (mirrors that disagree indicate corruption).
func (t *Table) GetAll(k int) ([]uint32, error) {
	out := make([]uint32, len(t.mirrors))
	for i, m := range t.mirrors {
		v, err := t.get(m, k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// put writes v into entry k of one mirror's raw bytes.
func (t *Table) put(mirror []byte, k int, v uint32) {
	switch t.width {
	case FAT12:
		off := k + k/2
		existing := uint16(mirror[off]) | uint16(mirror[off+1])<<8
		var word uint16
		if k%2 == 0 {
			word = (existing & 0xF000) | uint16(v&0x0FFF)
		} else {
			word = (existing & 0x000F) | uint16(v&0x0FFF)<<4
		}
		mirror[off] = byte(word)
		mirror[off+1] = byte(word >> 8)
	case FAT16:
		off := k * 2
		mirror[off] = byte(v)
		mirror[off+1] = byte(v >> 8)
	default:
		off := k * 4
		existing := uint32(mirror[off]) | uint32(mirror[off+1])<<8 | uint32(mirror[off+2])<<16 | uint32(mirror[off+3])<<24
		masked := (existing &^ fat32Mask) | (v & fat32Mask)
		mirror[off] = byte(masked)
		mirror[off+1] = byte(masked >> 8)
		mirror[off+2] = byte(masked >> 16)
		mirror[off+3] = byte(masked >> 24)
	}
}

// Set writes v to entry k in every mirror, keeping them byte-identical, and
// updates the free bitmap and FSInfo.
func (t *Table) Set(k int, v uint32) error {
	if t.readOnly {
		return errs.New(errs.PermissionDenied, "allocation table is read-only")
	}
	if k < 2 {
		return errs.New(errs.InvalidFormat, "cannot write reserved entries 0 or 1")
	}
	if err := t.checkIndex(k); err != nil {
		return err
	}
	if (t.width == FAT12 && v > 0x0FFF) || (t.width == FAT16 && v > 0xFFFF) {
		return errs.Newf(errs.InvalidFormat, "value %#x does not fit FAT%d width", v, widthBits(t.width))
	}

	was, err := t.Get(k)
	if err != nil {
		return err
	}

	for _, m := range t.mirrors {
		t.put(m, k, v)
	}

	wasFree := was == 0
	isFree := v == 0
	t.free.Set(k, !isFree)
	t.updateFSInfo(k, wasFree, isFree)
	return nil
}

func widthBits(w Type) int {
	switch w {
	case FAT12:
		return 12
	case FAT16:
		return 16
	default:
		return 32
	}
}

// updateFSInfo applies FAT32's FSInfo free-count/last-alloc maintenance:
// free->allocated decrements free_clusters and sets last_alloc;
// allocated->free increments free_clusters.
func (t *Table) updateFSInfo(k int, wasFree, isFree bool) {
	if t.width != FAT32 || t.fsinfo == nil || wasFree == isFree {
		return
	}
	if wasFree && !isFree {
		t.fsinfo.FreeClusterCount--
		t.fsinfo.LastAllocated = uint32(k)
	} else {
		t.fsinfo.FreeClusterCount++
	}
	_ = wire.PackAt(t.partition, t.fsinfoOffset, t.fsinfo)
}

// MarkFree sets entry k to 0.
func (t *Table) MarkFree(k int) error { return t.Set(k, 0) }

// MarkEnd sets entry k to this table's end-of-chain sentinel.
func (t *Table) MarkEnd(k int) error { return t.Set(k, t.EndMark()) }

// FreeClusterCount returns the FSInfo free-cluster count if valid, else
// counts zero entries directly.
func (t *Table) FreeClusterCount() int {
	if t.width == FAT32 && t.fsinfo != nil {
		return int(t.fsinfo.FreeClusterCount)
	}
	n := 0
	for k := 2; k < t.length; k++ {
		if !t.free.Get(k) {
			n++
		}
	}
	return n
}

// Free returns, in order, currently free cluster indices >= 2, starting
// from fsinfo.LastAllocated+1 on FAT32 when valid (wrapping once back to 2),
// else from 2.
func (t *Table) Free() []int {
	start := 2
	if t.width == FAT32 && t.fsinfo != nil {
		start = int(t.fsinfo.LastAllocated) + 1
		if start < 2 || start >= t.length {
			start = 2
		}
	}
	var out []int
	for k := start; k < t.length; k++ {
		if !t.free.Get(k) {
			out = append(out, k)
		}
	}
	if start > 2 {
		for k := 2; k < start; k++ {
			if !t.free.Get(k) {
				out = append(out, k)
			}
		}
	}
	return out
}

// Alloc returns the first free cluster and marks it end-of-chain, or
// NoSpace if none remain.
func (t *Table) Alloc() (int, error) {
	free := t.Free()
	if len(free) == 0 {
		return 0, errs.New(errs.NoSpace, "allocation table exhausted")
	}
	k := free[0]
	if err := t.MarkEnd(k); err != nil {
		return 0, err
	}
	return k, nil
}

// Chain returns the lazily-would-be sequence of clusters reachable from
// start via next-cluster links, materialized eagerly since the data region
// lives entirely in memory anyway. Terminates on an end-of-chain sentinel,
// an out-of-range value, or (cyclic-corruption protection) a cluster
// already seen.
func (t *Table) Chain(start uint32) ([]uint32, error) {
	if start == 0 {
		return nil, nil
	}
	seen := make(map[uint32]bool)
	var out []uint32
	k := start
	for {
		if k < 2 || k > t.MaxValid() {
			break
		}
		if seen[k] {
			break
		}
		seen[k] = true
		out = append(out, k)
		v, err := t.Get(int(k))
		if err != nil {
			return nil, err
		}
		if t.isEnd(v) || v == 0 {
			break
		}
		k = v
	}
	return out, nil
}

// LinkExtend appends one newly allocated cluster after the last cluster of
// chain by writing the predecessor's entry, then marks the new cluster
// end-of-chain. Returns the extended chain.
func (t *Table) LinkExtend(chain []uint32) ([]uint32, error) {
	newCluster, err := t.Alloc()
	if err != nil {
		return chain, err
	}
	if len(chain) > 0 {
		if err := t.Set(int(chain[len(chain)-1]), uint32(newCluster)); err != nil {
			return chain, err
		}
	}
	return append(chain, uint32(newCluster)), nil
}

// FreeChain marks every cluster in chain free.
func (t *Table) FreeChain(chain []uint32) error {
	for _, k := range chain {
		if err := t.MarkFree(int(k)); err != nil {
			return err
		}
	}
	return nil
}
